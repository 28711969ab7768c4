package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/flowgate/pkg/audit"
	"github.com/dukex/flowgate/pkg/directory"
	"github.com/dukex/flowgate/pkg/engine"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence/file"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/dukex/flowgate/pkg/registry"
	"github.com/stretchr/testify/require"
)

// Logger returns a logger that only prints errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// InstantFactory builds executors that succeed immediately with the step id
// as result.
type InstantFactory struct {
	Type models.StepType
}

func (f InstantFactory) Create(context.Context, map[string]any) (protocol.StepExecutor, error) {
	return instant{}, nil
}

func (f InstantFactory) StepType() models.StepType { return f.Type }

func (f InstantFactory) Name() string { return "instant" }

func (f InstantFactory) Description() string { return "Completes immediately" }

func (f InstantFactory) Schema() map[string]any { return map[string]any{"type": "object"} }

type instant struct{}

func (instant) Execute(_ context.Context, input protocol.StepInput, _ *slog.Logger) (protocol.StepOutput, error) {
	return protocol.StepOutput{Result: map[string]any{"step": input.StepID}}, nil
}

// Engine bundles a started engine with its collaborators.
type Engine struct {
	*engine.Engine

	Persistence *file.Persistence
	Registry    *registry.Registry
	Directory   *directory.Static
}

// NewTestEngine starts an engine on file persistence under t.TempDir. ACTION
// steps complete instantly. alice is in the cab group and bob has the
// change-manager role.
func NewTestEngine(t *testing.T) *Engine {
	t.Helper()

	logger := Logger()
	store := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	require.NoError(t, reg.Register(InstantFactory{Type: models.StepTypeAction}))

	people := directory.NewStatic(
		models.Actor{ID: "alice", Groups: []string{"cab"}},
		models.Actor{ID: "bob", Roles: []string{"change-manager"}},
	)

	e := engine.New(engine.Config{
		Logger:      logger,
		Persistence: store,
		Registry:    reg,
		Recorder:    audit.NewRecorder(logger, store.AuditRepository(), nil),
		Directory:   people,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		e.Wait()
	})

	require.NoError(t, e.Start(ctx))

	return &Engine{Engine: e, Persistence: store, Registry: reg, Directory: people}
}
