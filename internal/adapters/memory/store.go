package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/ports"
)

type key struct {
	kind, id, property string
}

// Store is an in-process PropertyStore. Values are lost on exit.
type Store struct {
	mu   sync.RWMutex
	data map[key]string
}

var _ ports.PropertyStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{data: make(map[key]string)}
}

func (s *Store) Get(_ context.Context, kind, id, property string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key{kind, id, property}]
	if !ok {
		return "", fmt.Errorf("%s %s property %q: %w", kind, id, property, domain.ErrNotFound)
	}
	return v, nil
}

func (s *Store) Set(_ context.Context, kind, id, property, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key{kind, id, property}] = value
	return nil
}

// Properties returns every stored attribute of an entity.
func (s *Store) Properties(_ context.Context, kind, id string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	props := make(map[string]string)
	for k, v := range s.data {
		if k.kind == kind && k.id == id {
			props[k.property] = v
		}
	}
	return props, nil
}

// Len reports the number of stored attributes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
