// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowgate/pkg/executors/itsm"
	"github.com/dukex/flowgate/pkg/expression"
	"github.com/dukex/flowgate/pkg/registry"
)

const executorHTTPTimeout = 30 * time.Second

// NewRegistry registers the built-in executors. ITSM step types call the
// backend at itsmURL.
func NewRegistry(logger *slog.Logger, itsmURL, itsmToken string, evaluator *expression.Evaluator) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)
	httpClient := &http.Client{Timeout: executorHTTPTimeout}

	err := reg.RegisterDefaults(registry.Defaults{
		ITSM:       itsm.NewClient(itsmURL, itsmToken, httpClient),
		HTTPClient: httpClient,
		Evaluator:  evaluator,
	})
	if err != nil {
		return nil, err
	}

	return reg, nil
}
