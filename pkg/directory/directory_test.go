package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
actors:
  - id: alice
    roles: [change-manager]
    groups: [network, cab]
  - id: bob
    groups: [service-desk]
`

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	directory, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, directory.Len())

	alice, err := directory.Resolve(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"change-manager"}, alice.Roles)
	assert.True(t, alice.Satisfies(models.ApproverGroup, "cab"))
	assert.True(t, alice.Satisfies(models.ApproverRole, "change-manager"))
	assert.False(t, alice.Satisfies(models.ApproverUser, "bob"))

	unknown, err := directory.Resolve(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, models.Actor{ID: "carol"}, unknown)
	assert.True(t, unknown.Satisfies(models.ApproverUser, "carol"))
	assert.False(t, unknown.Satisfies(models.ApproverGroup, "network"))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "invalid yaml", doc: "actors: [\n"},
		{name: "missing id", doc: "actors:\n  - roles: [x]\n"},
		{name: "duplicate id", doc: "actors:\n  - id: a\n  - id: a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
		})
	}

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestStatic_ResolveReturnsCopies(t *testing.T) {
	directory := NewStatic(models.Actor{ID: "alice", Groups: []string{"network"}})

	actor, err := directory.Resolve(context.Background(), "alice")
	require.NoError(t, err)

	actor.Groups[0] = "changed"

	again, err := directory.Resolve(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"network"}, again.Groups)
}
