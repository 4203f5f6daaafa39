package schema

import (
	"sort"
	"sync"

	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
)

// Manager owns the live schemas by name.
type Manager struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewManager creates an empty schema manager.
func NewManager() *Manager {
	return &Manager{schemas: map[string]*Schema{}}
}

// Create registers a schema; the name must be unused.
func (m *Manager) Create(s *Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.schemas[s.Name]; dup {
		return kverrors.InvalidArgument("index `%s` already exists", s.Name)
	}
	m.schemas[s.Name] = s
	return nil
}

// Get resolves a schema by name.
func (m *Manager) Get(name string) (*Schema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schemas[name]
	if !ok {
		return nil, kverrors.NotFound("index `%s` not found", name)
	}
	return s, nil
}

// Drop removes a schema by name.
func (m *Manager) Drop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schemas[name]; !ok {
		return kverrors.NotFound("index `%s` not found", name)
	}
	delete(m.schemas, name)
	return nil
}

// List returns the schema names sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.schemas))
	for n := range m.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IngestKey routes one mutated key to every schema whose prefixes cover
// it.
func (m *Manager) IngestKey(key string, attrs map[string]string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.schemas {
		if s.MatchesKey(key) {
			if err := s.IndexDocument(key, attrs); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveKey routes one deleted key to every schema tracking it.
func (m *Manager) RemoveKey(key string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.schemas {
		if s.MatchesKey(key) {
			s.RemoveDocument(key)
		}
	}
}
