package summary

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists chunk summaries for one run. Implementations must be safe
// for concurrent use; each chunk index is written by exactly one worker, so
// the only cross-key contention is on counters.
//
// Put rejects any write to a key holding a terminal summary with
// ErrTerminalOverwrite. Counts must be O(1).
type Store interface {
	Put(ctx context.Context, cs *ChunkSummary) error
	Get(ctx context.Context, chunkIndex int) (*ChunkSummary, bool, error)
	Counts(ctx context.Context) (Snapshot, error)
	All(ctx context.Context) ([]*ChunkSummary, error)
}

// MemStore is an in-memory Store for single-run pipelines and tests.
type MemStore struct {
	mu       sync.RWMutex
	byIndex  map[int]*ChunkSummary
	snapshot Snapshot
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{byIndex: make(map[int]*ChunkSummary)}
}

func (m *MemStore) Put(_ context.Context, cs *ChunkSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.byIndex[cs.ChunkIndex]
	if ok && prev.Status.Terminal() {
		return fmt.Errorf("put chunk %d: %w", cs.ChunkIndex, ErrTerminalOverwrite)
	}
	if ok {
		m.snapshot = remove(m.snapshot, prev.Status)
	}
	cp := *cs
	m.byIndex[cs.ChunkIndex] = &cp
	m.snapshot = add(m.snapshot, cs.Status)
	return nil
}

func (m *MemStore) Get(_ context.Context, chunkIndex int) (*ChunkSummary, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.byIndex[chunkIndex]
	if !ok {
		return nil, false, nil
	}
	cp := *cs
	return &cp, true, nil
}

func (m *MemStore) Counts(_ context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot, nil
}

func (m *MemStore) All(_ context.Context) ([]*ChunkSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ChunkSummary, 0, len(m.byIndex))
	for _, cs := range m.byIndex {
		cp := *cs
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func add(s Snapshot, st Status) Snapshot {
	s.Total++
	switch st {
	case StatusSuccess:
		s.Success++
	case StatusFailed:
		s.Failed++
	default:
		s.Pending++
	}
	return s
}

func remove(s Snapshot, st Status) Snapshot {
	s.Total--
	switch st {
	case StatusSuccess:
		s.Success--
	case StatusFailed:
		s.Failed--
	default:
		s.Pending--
	}
	return s
}
