// Package registry holds the lookup table from step type to executor factory
// and validates step configurations against the factories' JSON schemas.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrExecutorNotRegistered = errors.New("no executor registered for step type")
	ErrInvalidConfig         = errors.New("invalid step configuration")
)

// ConfigError lists the schema violations of one step configuration.
type ConfigError struct {
	StepID   string
	StepType models.StepType
	Details  []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("step %q (%s): %v: %s", e.StepID, e.StepType, ErrInvalidConfig, strings.Join(e.Details, "; "))
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	factories map[models.StepType]protocol.ExecutorFactory
	schemas   map[models.StepType]*gojsonschema.Schema
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[models.StepType]protocol.ExecutorFactory),
		schemas:   make(map[models.StepType]*gojsonschema.Schema),
	}
}

// Register adds a factory. The factory schema is compiled eagerly so a broken
// schema fails at startup instead of at definition save time.
func (r *Registry) Register(factory protocol.ExecutorFactory) error {
	stepType := factory.StepType()

	if stepType == models.StepTypeApproval {
		return fmt.Errorf("step type %s is handled by the runner and cannot have an executor", stepType)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(factory.Schema()))
	if err != nil {
		return fmt.Errorf("invalid schema for step type %s: %w", stepType, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[stepType] = factory
	r.schemas[stepType] = schema

	r.logger.Debug("Registered executor", "step_type", stepType, "name", factory.Name())

	return nil
}

// Create builds the executor for a step.
//
//nolint:ireturn
func (r *Registry) Create(ctx context.Context, stepType models.StepType, config map[string]any) (protocol.StepExecutor, error) {
	r.mu.RLock()
	factory, ok := r.factories[stepType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutorNotRegistered, stepType)
	}

	return factory.Create(ctx, config)
}

// Factories returns the registered factories ordered by step type.
func (r *Registry) Factories() []protocol.ExecutorFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factories := make([]protocol.ExecutorFactory, 0, len(r.factories))
	for _, factory := range r.factories {
		factories = append(factories, factory)
	}

	slices.SortFunc(factories, func(a, b protocol.ExecutorFactory) int {
		return strings.Compare(string(a.StepType()), string(b.StepType()))
	})

	return factories
}

// ValidateSteps checks that every step has an executor (or is an approval)
// and that its configuration matches the schema.
func (r *Registry) ValidateSteps(steps []*models.Step) error {
	for _, step := range steps {
		err := r.ValidateConfig(step)
		if err != nil {
			return err
		}
	}

	return nil
}

// ValidateConfig validates the configuration of one step.
func (r *Registry) ValidateConfig(step *models.Step) error {
	var schema *gojsonschema.Schema

	if step.IsApproval() {
		schema = approvalSchema
	} else {
		r.mu.RLock()
		s, ok := r.schemas[step.StepType]
		r.mu.RUnlock()

		if !ok {
			return fmt.Errorf("step %q: %w: %s", step.StepID, ErrExecutorNotRegistered, step.StepType)
		}

		schema = s
	}

	config := step.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("step %q: failed to validate configuration: %w", step.StepID, err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return &ConfigError{StepID: step.StepID, StepType: step.StepType, Details: details}
}

// HealthCheck reports whether executors are registered.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.factories) == 0 {
		return "No step executors registered", false
	}

	return fmt.Sprintf("%d step executors registered", len(r.factories)), true
}
