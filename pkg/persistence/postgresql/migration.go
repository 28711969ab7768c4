package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(64) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT false,
				version INTEGER NOT NULL DEFAULT 1,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_trigger_type ON workflows(trigger_type) WHERE deleted_at IS NULL;
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			CREATE TABLE workflow_instances (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(64) NOT NULL,
				status VARCHAR(32) NOT NULL,
				dedupe_key TEXT UNIQUE,
				version INTEGER NOT NULL,
				document JSONB NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_instances_status ON workflow_instances(status);
			CREATE INDEX idx_workflow_instances_workflow_id ON workflow_instances(workflow_id);
			CREATE INDEX idx_workflow_instances_started_at ON workflow_instances(started_at DESC, id DESC);

			CREATE TABLE approvals (
				id VARCHAR(64) PRIMARY KEY,
				workflow_instance_id VARCHAR(64) NOT NULL REFERENCES workflow_instances(id),
				workflow_id VARCHAR(64) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				approver_type VARCHAR(16) NOT NULL,
				approver_ref VARCHAR(255) NOT NULL,
				status VARCHAR(16) NOT NULL,
				comments TEXT NOT NULL DEFAULT '',
				requested_at TIMESTAMP WITH TIME ZONE NOT NULL,
				decided_at TIMESTAMP WITH TIME ZONE,
				decided_by VARCHAR(255) NOT NULL DEFAULT '',
				UNIQUE (workflow_instance_id, step_id)
			);

			CREATE INDEX idx_approvals_pending ON approvals(requested_at) WHERE status = 'PENDING';

			CREATE TABLE audit_events (
				seq BIGSERIAL PRIMARY KEY,
				id VARCHAR(64) NOT NULL UNIQUE,
				workflow_id VARCHAR(64) NOT NULL,
				workflow_instance_id VARCHAR(64) NOT NULL,
				type VARCHAR(64) NOT NULL,
				step_id VARCHAR(255) NOT NULL DEFAULT '',
				approval_id VARCHAR(64) NOT NULL DEFAULT '',
				actor VARCHAR(255) NOT NULL DEFAULT '',
				details JSONB,
				instance_version INTEGER NOT NULL DEFAULT 0,
				occurred_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_audit_events_instance ON audit_events(workflow_instance_id, seq);
		`,
	}
}
