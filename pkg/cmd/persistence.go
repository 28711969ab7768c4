package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/persistence/file"
	"github.com/dukex/flowgate/pkg/persistence/postgresql"
)

// NewPersistence opens the store named by databaseURL: postgres:// or
// postgresql:// URLs open PostgreSQL, file:// URLs and bare paths a
// directory of JSON documents.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, location := parsePersistenceURL(databaseURL)

	switch provider {
	case "postgres":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres persistence: %w", err)
		}

		return store, nil
	default:
		logger.InfoContext(ctx, "Using file persistence", "root", location)

		return file.NewPersistence(location), nil
	}
}

func parsePersistenceURL(databaseURL string) (string, string) {
	scheme, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgres", databaseURL
	default:
		return "file", rest
	}
}
