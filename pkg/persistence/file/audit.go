package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// AuditRepository appends audit events to one JSON-lines file per instance.
type AuditRepository struct {
	store *store
}

func (ar *AuditRepository) Append(_ context.Context, event *models.AuditEvent) error {
	if !validID(event.WorkflowInstanceID) {
		return persistence.NewInstanceError("AppendAudit", event.WorkflowInstanceID, errors.New("invalid instance id"))
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event %s: %w", event.ID, err)
	}

	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	dir := ar.store.path("audit")

	err = os.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, event.WorkflowInstanceID+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return persistence.NewInstanceError("AppendAudit", event.WorkflowInstanceID, err)
	}

	_, err = f.Write(append(line, '\n'))

	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		return persistence.NewInstanceError("AppendAudit", event.WorkflowInstanceID, err)
	}

	return nil
}

// ListByInstance returns the events in append order. A torn last line left
// by a crash is skipped.
func (ar *AuditRepository) ListByInstance(_ context.Context, instanceID string) ([]*models.AuditEvent, error) {
	events := make([]*models.AuditEvent, 0)

	if !validID(instanceID) {
		return events, nil
	}

	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	body, err := os.ReadFile(ar.store.path("audit", instanceID+".jsonl"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return events, nil
		}

		return nil, persistence.NewInstanceError("ListAudit", instanceID, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event models.AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		events = append(events, &event)
	}

	if err := scanner.Err(); err != nil {
		return nil, persistence.NewInstanceError("ListAudit", instanceID, err)
	}

	return events, nil
}
