package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory HistoryStore. Used by tests and when no
// database path is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]*HistoryEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]*HistoryEntry)}
}

func (s *MemoryStore) AppendEntry(ctx context.Context, sessionID, xml, svg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.entries[sessionID])
	s.entries[sessionID] = append(s.entries[sessionID], &HistoryEntry{
		SessionID: sessionID,
		Index:     idx,
		XML:       xml,
		SVG:       svg,
		CreatedAt: time.Now().UTC(),
	})
	return idx, nil
}

func (s *MemoryStore) GetEntry(ctx context.Context, sessionID string, index int) (*HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.entries[sessionID]
	if index < 0 || index >= len(log) {
		return nil, entryNotFound(sessionID, index)
	}
	cp := *log[index]
	return &cp, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, sessionID string) ([]*HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.entries[sessionID]
	out := make([]*HistoryEntry, len(log))
	for i, e := range log {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) UpdateLatestSVG(ctx context.Context, sessionID, svg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.entries[sessionID]
	if len(log) == 0 {
		return entryNotFound(sessionID, 0)
	}
	log[len(log)-1].SVG = svg
	return nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
