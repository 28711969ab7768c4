// Package graph resolves the dependency graph of workflow steps: it validates
// definitions at save time and computes which steps are ready to run or must
// be skipped given an instance's step history.
package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/flowgate/pkg/models"
)

var (
	ErrEmptyStepID         = errors.New("step id is required")
	ErrDuplicateStepID     = errors.New("duplicate step id")
	ErrUnknownDependency   = errors.New("dependency does not reference a step of this workflow")
	ErrSelfDependency      = errors.New("step depends on itself")
	ErrCyclicDependency    = errors.New("cyclic dependency")
	ErrUnsupportedStepType = errors.New("unsupported step type")
)

// ValidationError reports which step made a definition invalid.
type ValidationError struct {
	StepID string
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("step %q: %v: %s", e.StepID, e.Err, e.Detail)
	}

	return fmt.Sprintf("step %q: %v", e.StepID, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError reports whether err was produced by Validate.
func IsValidationError(err error) bool {
	var validationErr *ValidationError

	return errors.As(err, &validationErr)
}

// Validate checks the structural invariants of a step list: ids are present
// and unique, dependencies resolve within the list and the graph is acyclic.
func Validate(steps []*models.Step) error {
	ids := make(map[string]struct{}, len(steps))

	for _, step := range steps {
		if strings.TrimSpace(step.StepID) == "" {
			return &ValidationError{StepID: step.StepID, Detail: step.Name, Err: ErrEmptyStepID}
		}

		if _, exists := ids[step.StepID]; exists {
			return &ValidationError{StepID: step.StepID, Err: ErrDuplicateStepID}
		}

		if !step.StepType.Valid() {
			return &ValidationError{StepID: step.StepID, Detail: string(step.StepType), Err: ErrUnsupportedStepType}
		}

		ids[step.StepID] = struct{}{}
	}

	for _, step := range steps {
		for _, dep := range step.Dependencies {
			if dep == step.StepID {
				return &ValidationError{StepID: step.StepID, Err: ErrSelfDependency}
			}

			if _, exists := ids[dep]; !exists {
				return &ValidationError{StepID: step.StepID, Detail: dep, Err: ErrUnknownDependency}
			}
		}
	}

	cycle := findCycle(steps)
	if cycle != nil {
		return &ValidationError{StepID: cycle[0], Detail: strings.Join(cycle, " -> "), Err: ErrCyclicDependency}
	}

	return nil
}

const (
	unvisited = iota
	visiting
	visited
)

// findCycle returns the step ids forming a cycle, first id repeated at the
// end, or nil when the graph is acyclic.
func findCycle(steps []*models.Step) []string {
	deps := make(map[string][]string, len(steps))
	for _, step := range steps {
		deps[step.StepID] = step.Dependencies
	}

	state := make(map[string]int, len(steps))

	var path []string

	var visit func(id string) []string

	visit = func(id string) []string {
		state[id] = visiting

		path = append(path, id)

		for _, dep := range deps[id] {
			switch state[dep] {
			case visiting:
				start := 0

				for i, p := range path {
					if p == dep {
						start = i

						break
					}
				}

				cycle := append([]string{}, path[start:]...)

				return append(cycle, dep)
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		state[id] = visited

		return nil
	}

	for _, step := range steps {
		if state[step.StepID] == unvisited {
			if cycle := visit(step.StepID); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

// TopologicalOrder returns step ids so that every step comes after all of
// its dependencies. Ties keep definition order.
func TopologicalOrder(steps []*models.Step) ([]string, error) {
	err := Validate(steps)
	if err != nil {
		return nil, err
	}

	placed := make(map[string]bool, len(steps))
	order := make([]string, 0, len(steps))

	for len(order) < len(steps) {
		for _, step := range steps {
			if placed[step.StepID] {
				continue
			}

			ready := true

			for _, dep := range step.Dependencies {
				if !placed[dep] {
					ready = false

					break
				}
			}

			if ready {
				placed[step.StepID] = true
				order = append(order, step.StepID)
			}
		}
	}

	return order, nil
}
