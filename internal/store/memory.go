// ABOUTME: In-memory implementation of the Store interface for tests
// ABOUTME: Mirrors SQLite semantics including not-found and duplicate errors

package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store implementation. It is safe for
// concurrent use and mirrors the error semantics of the SQLite store.
type MemoryStore struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	anomalies   map[string][]*Anomaly
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		connections: make(map[string]*Connection),
		anomalies:   make(map[string][]*Anomaly),
	}
}

func (s *MemoryStore) CreateConnection(ctx context.Context, conn *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connections[conn.ID]; ok {
		return ErrDuplicateConnection
	}
	c := *conn
	s.connections[conn.ID] = &c
	return nil
}

func (s *MemoryStore) GetConnection(ctx context.Context, id string) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.connections[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conn
	return &c, nil
}

func (s *MemoryStore) GetConnectionByProviderID(ctx context.Context, providerConnectionID string) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conn := range s.connections {
		if conn.ProviderConnectionID == providerConnectionID && providerConnectionID != "" {
			c := *conn
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SaveConnection(ctx context.Context, conn *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connections[conn.ID]; !ok {
		return ErrNotFound
	}
	c := *conn
	s.connections[conn.ID] = &c
	return nil
}

func (s *MemoryStore) ListConnections(ctx context.Context, includeArchived bool) ([]*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var conns []*Connection
	for _, conn := range s.connections {
		if !includeArchived && conn.ArchivedAt != nil {
			continue
		}
		c := *conn
		conns = append(conns, &c)
	}
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].CreatedAt.After(conns[j].CreatedAt)
	})
	return conns, nil
}

func (s *MemoryStore) SaveAnomaly(ctx context.Context, a *Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := *a
	s.anomalies[a.ConnectionID] = append(s.anomalies[a.ConnectionID], &entry)
	return nil
}

func (s *MemoryStore) ListAnomalies(ctx context.Context, connectionID string, limit int) ([]*Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	entries := s.anomalies[connectionID]
	var out []*Anomaly
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		a := *entries[i]
		out = append(out, &a)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
