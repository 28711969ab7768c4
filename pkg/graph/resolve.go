package graph

import "github.com/dukex/flowgate/pkg/models"

// Skip is a step that can never run and must be recorded as SKIPPED.
type Skip struct {
	StepID string
	Reason models.SkipReason
}

// Resolution is the outcome of evaluating a step graph against a history.
type Resolution struct {
	// Ready lists steps whose dependencies are all satisfied and that have
	// no execution yet, in definition order.
	Ready []string
	// Skip lists steps whose dependencies all settled but at least one of
	// them blocks the step.
	Skip []Skip
}

type depState int

const (
	depPending depState = iota
	depSatisfied
	depFailed
	depBranchClosed
)

// stateOf classifies a dependency given its step spec and its execution.
func stateOf(step *models.Step, execution *models.StepExecution) depState {
	if execution == nil || !execution.Status.Terminal() {
		return depPending
	}

	switch execution.Status {
	case models.StepStatusCompleted:
		if execution.BranchClosed {
			return depBranchClosed
		}

		return depSatisfied
	case models.StepStatusSkipped:
		switch execution.SkipReason {
		case models.SkipReasonUpstreamFailed:
			return depFailed
		case models.SkipReasonBranchClosed:
			return depBranchClosed
		default:
			return depSatisfied
		}
	case models.StepStatusFailed:
		if step != nil && step.Optional {
			return depSatisfied
		}

		return depFailed
	default:
		return depPending
	}
}

// Resolve evaluates which steps are ready and which must be skipped. A step
// is never ready while any of its dependencies lacks a terminal execution.
func Resolve(steps []*models.Step, history []*models.StepExecution) Resolution {
	byStep := make(map[string]*models.StepExecution, len(history))
	for _, execution := range history {
		byStep[execution.StepID] = execution
	}

	specs := make(map[string]*models.Step, len(steps))
	for _, step := range steps {
		specs[step.StepID] = step
	}

	var resolution Resolution

	for _, step := range steps {
		if _, started := byStep[step.StepID]; started {
			continue
		}

		pending, failed, closed := false, false, false

		for _, dep := range step.Dependencies {
			switch stateOf(specs[dep], byStep[dep]) {
			case depPending:
				pending = true
			case depFailed:
				failed = true
			case depBranchClosed:
				closed = true
			case depSatisfied:
			}
		}

		switch {
		case pending:
			continue
		case closed:
			resolution.Skip = append(resolution.Skip, Skip{StepID: step.StepID, Reason: models.SkipReasonBranchClosed})
		case failed && !step.RunOnFailure:
			resolution.Skip = append(resolution.Skip, Skip{StepID: step.StepID, Reason: models.SkipReasonUpstreamFailed})
		default:
			resolution.Ready = append(resolution.Ready, step.StepID)
		}
	}

	return resolution
}

// Settled reports whether every step has a terminal execution.
func Settled(steps []*models.Step, history []*models.StepExecution) bool {
	byStep := make(map[string]*models.StepExecution, len(history))
	for _, execution := range history {
		byStep[execution.StepID] = execution
	}

	for _, step := range steps {
		execution, ok := byStep[step.StepID]
		if !ok || !execution.Status.Terminal() {
			return false
		}
	}

	return true
}

// Failed returns the first non-optional failed execution, if any.
func Failed(steps []*models.Step, history []*models.StepExecution) (*models.StepExecution, bool) {
	for _, execution := range history {
		if execution.Status != models.StepStatusFailed {
			continue
		}

		step, ok := models.FindStep(steps, execution.StepID)
		if ok && step.Optional {
			continue
		}

		return execution, true
	}

	return nil, false
}
