// Package delay provides the DELAY executor, which waits before letting the
// dependent steps run.
package delay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
)

const maxDelay = 7 * 24 * time.Hour

// Factory creates DELAY executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(_ context.Context, config map[string]any) (protocol.StepExecutor, error) {
	d, err := parse(config)
	if err != nil {
		return nil, err
	}

	return &Executor{delay: d}, nil
}

func parse(config map[string]any) (time.Duration, error) {
	if raw, ok := config["duration"].(string); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
		}

		return check(d)
	}

	if minutes, ok := config["delay_minutes"].(float64); ok {
		return check(time.Duration(minutes * float64(time.Minute)))
	}

	return 0, errors.New("one of 'duration' or 'delay_minutes' is required")
}

func check(d time.Duration) (time.Duration, error) {
	if d < 0 || d > maxDelay {
		return 0, fmt.Errorf("delay must be between 0 and %s", maxDelay)
	}

	return d, nil
}

func (f *Factory) StepType() models.StepType { return models.StepTypeDelay }

func (f *Factory) Name() string { return "Delay" }

func (f *Factory) Description() string {
	return "Waits for a fixed time before the dependent steps run"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":        "string",
				"description": "Go duration string",
				"pattern":     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
				"examples":    []string{"30s", "15m", "1h30m"},
			},
			"delay_minutes": map[string]any{
				"type":        "number",
				"description": "Delay in minutes, used when duration is not set",
				"minimum":     0,
				"maximum":     maxDelay.Minutes(),
			},
		},
		"anyOf": []map[string]any{
			{"required": []string{"duration"}},
			{"required": []string{"delay_minutes"}},
		},
	}
}

// Executor waits for delay or until ctx is done. Delays do not survive a
// restart: a re-dispatched delay starts over.
type Executor struct {
	delay time.Duration
}

func (e *Executor) Execute(ctx context.Context, _ protocol.StepInput, logger *slog.Logger) (protocol.StepOutput, error) {
	logger.InfoContext(ctx, "Delaying", "delay", e.delay.String())

	timer := time.NewTimer(e.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return protocol.StepOutput{}, ctx.Err()
	case <-timer.C:
	}

	return protocol.StepOutput{Result: map[string]any{"delayed": e.delay.String()}}, nil
}
