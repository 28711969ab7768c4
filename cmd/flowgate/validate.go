package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/flowgate/pkg/cmd"
	"github.com/dukex/flowgate/pkg/graph"
	"github.com/dukex/flowgate/pkg/log"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/services"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

var ErrInvalidDefinitions = errors.New("invalid workflow definitions found")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate workflow definition files (JSON or YAML)",
		ArgsUsage: "FILE...",
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() == 0 {
				return errors.New("at least one definition file is required")
			}

			registry, err := cmd.NewRegistry(log.WithModule("validate"), "", "", nil)
			if err != nil {
				return err
			}

			return validateFiles(command.Root().Writer, services.NewWorkflow(nil, registry, nil), command.Args().Slice())
		},
	}
}

func validateFiles(out io.Writer, workflowService *services.Workflow, paths []string) error {
	invalid := 0

	for _, path := range paths {
		definition, err := readDefinition(path)
		if err == nil {
			err = workflowService.Validate(definition)
		}

		if err != nil {
			invalid++

			_, _ = fmt.Fprintf(out, "✗ %s: %v\n", path, err)

			continue
		}

		order, err := graph.TopologicalOrder(definition.Steps)
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(out, "✓ %s: %s (%d steps: %s)\n", path, definition.Name, len(definition.Steps), strings.Join(order, " -> "))
	}

	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidDefinitions, invalid, len(paths))
	}

	return nil
}

// readDefinition decodes a definition file. YAML documents are converted to
// JSON first so both formats share the JSON field names.
func readDefinition(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var doc any

		err = yaml.Unmarshal(data, &doc)
		if err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}

		data, err = json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML: %w", err)
		}
	}

	var definition models.WorkflowDefinition

	err = json.Unmarshal(data, &definition)
	if err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}

	return &definition, nil
}
