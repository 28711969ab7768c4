package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/flowgate/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceURL(t *testing.T) {
	tests := []struct {
		url      string
		provider string
		location string
	}{
		{"file://./data", "file", "./data"},
		{"/var/lib/flowgate", "file", "/var/lib/flowgate"},
		{"postgres://user:pass@db:5432/flowgate", "postgres", "postgres://user:pass@db:5432/flowgate"},
		{"postgresql://db/flowgate", "postgres", "postgresql://db/flowgate"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			provider, location := parsePersistenceURL(tt.url)
			assert.Equal(t, tt.provider, provider)
			assert.Equal(t, tt.location, location)
		})
	}
}

func TestNewPersistence_File(t *testing.T) {
	root := t.TempDir()

	store, err := NewPersistence(context.Background(), slog.Default(), "file://"+root)
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, store)
	require.NoError(t, store.HealthCheck(context.Background()))
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus(slog.Default(), "gochannel", "")
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus(slog.Default(), "kafka", "")
	require.Error(t, err)

	_, err = NewEventBus(slog.Default(), "rabbitmq", "")
	require.ErrorContains(t, err, "unsupported event bus provider")
}

func TestNewDirectory(t *testing.T) {
	empty, err := NewDirectory("")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte("actors:\n  - id: alice\n    groups: [cab]\n"), 0o600))

	loaded, err := NewDirectory(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
}

func TestNewLocker_Local(t *testing.T) {
	locker, closeFn, err := NewLocker(context.Background(), slog.Default(), "")
	require.NoError(t, err)
	require.NoError(t, closeFn())

	release, err := locker.Lock(context.Background(), "instance-1")
	require.NoError(t, err)
	release()
}
