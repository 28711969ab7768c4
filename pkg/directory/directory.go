// Package directory resolves actor ids into the roles and groups used to
// authorize approval decisions.
package directory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/flowgate/pkg/models"
	"gopkg.in/yaml.v3"
)

// Directory resolves an actor. Unknown actors resolve to an identity without
// roles or groups, so they can still decide USER approvals addressed to them.
type Directory interface {
	Resolve(ctx context.Context, actorID string) (models.Actor, error)
}

// Static is an in-memory directory.
type Static struct {
	mu     sync.RWMutex
	actors map[string]models.Actor
}

func NewStatic(actors ...models.Actor) *Static {
	s := &Static{actors: make(map[string]models.Actor, len(actors))}

	for _, actor := range actors {
		s.Put(actor)
	}

	return s
}

// Put adds or replaces an actor.
func (s *Static) Put(actor models.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actors[actor.ID] = actor
}

func (s *Static) Resolve(_ context.Context, actorID string) (models.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actor, ok := s.actors[actorID]
	if !ok {
		return models.Actor{ID: actorID}, nil
	}

	actor.Roles = slices.Clone(actor.Roles)
	actor.Groups = slices.Clone(actor.Groups)

	return actor, nil
}

// Len returns the number of known actors.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.actors)
}

type fileFormat struct {
	Actors []models.Actor `yaml:"actors"`
}

// LoadFile reads a YAML directory file:
//
//	actors:
//	  - id: alice
//	    roles: [change-manager]
//	    groups: [network]
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}

	return Parse(data)
}

// Parse decodes a YAML directory document.
func Parse(data []byte) (*Static, error) {
	var doc fileFormat

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse directory file: %w", err)
	}

	directory := NewStatic()

	for i, actor := range doc.Actors {
		actor.ID = strings.TrimSpace(actor.ID)
		if actor.ID == "" {
			return nil, fmt.Errorf("actor %d: id is required", i)
		}

		if _, ok := directory.actors[actor.ID]; ok {
			return nil, fmt.Errorf("actor %q: duplicate id", actor.ID)
		}

		directory.Put(actor)
	}

	return directory, nil
}
