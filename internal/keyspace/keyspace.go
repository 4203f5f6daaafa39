// Package keyspace is the read-only surface of the underlying key-value
// store the query core runs against, plus an in-memory implementation
// that doubles as the ingestion feed for tests and the demo server.
package keyspace

import (
	"sync"
	"time"

	"github.com/Aman-CERP/kvsearch/internal/schema"
)

// Store is what the query path needs from the host: record fetches by
// identifier and the host clock.
type Store interface {
	// FetchRecord reads the listed identifiers of one key; ok is false
	// when the key does not exist.
	FetchRecord(db int, key string, identifiers []string) (map[string]string, bool)
	// Milliseconds is the host's monotonic millisecond clock.
	Milliseconds() int64
}

// Memory is a hash-shaped in-memory store wired to a schema manager:
// every mutation is ingested into the matching indexes, the way keyspace
// notifications drive ingestion in production.
type Memory struct {
	mu      sync.RWMutex
	dbs     map[int]map[string]map[string]string
	schemas *schema.Manager
}

// NewMemory creates an empty store feeding the given schema manager.
func NewMemory(schemas *schema.Manager) *Memory {
	return &Memory{dbs: map[int]map[string]map[string]string{}, schemas: schemas}
}

func (m *Memory) db(n int) map[string]map[string]string {
	d, ok := m.dbs[n]
	if !ok {
		d = map[string]map[string]string{}
		m.dbs[n] = d
	}
	return d
}

// HSet writes hash fields and ingests the key.
func (m *Memory) HSet(db int, key string, fields map[string]string) error {
	m.mu.Lock()
	rec, ok := m.db(db)[key]
	if !ok {
		rec = map[string]string{}
		m.db(db)[key] = rec
	}
	for k, v := range fields {
		rec[k] = v
	}
	snapshot := make(map[string]string, len(rec))
	for k, v := range rec {
		snapshot[k] = v
	}
	m.mu.Unlock()
	return m.schemas.IngestKey(key, snapshot)
}

// Del removes keys and withdraws them from the indexes.
func (m *Memory) Del(db int, keys ...string) {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.db(db), k)
	}
	m.mu.Unlock()
	for _, k := range keys {
		m.schemas.RemoveKey(k)
	}
}

// FetchRecord implements Store.
func (m *Memory) FetchRecord(db int, key string, identifiers []string) (map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.dbs[db][key]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(identifiers))
	if identifiers == nil {
		for k, v := range rec {
			out[k] = v
		}
		return out, true
	}
	for _, ident := range identifiers {
		if v, ok := rec[ident]; ok {
			out[ident] = v
		}
	}
	return out, true
}

// Milliseconds implements Store.
func (m *Memory) Milliseconds() int64 { return time.Now().UnixMilli() }
