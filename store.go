package affectsdk

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ──────────────────────────────────────────────
// Store — pluggable persistence backend
// ──────────────────────────────────────────────

// Record kinds used by the engine components.
const (
	RecordKindState        = "state"
	RecordKindRelationship = "relationship"
	RecordKindWeights      = "weights"
)

// SampleRow is one stored time-series entry for an entity.
type SampleRow struct {
	Timestamp time.Time
	Payload   string
}

// Store is the pluggable storage backend for the affect engine.
//
// It needs two shapes of data: an append-only time series per entity
// (emotion samples, relationship deltas) with range queries, and a
// versioned key-value record (state, relationship, weights) supporting
// optimistic concurrency.
//
// GetRecord returns ("", 0, nil) for a missing record. PutRecord must
// fail with ErrVersionConflict when expectVersion does not match the
// stored version (0 means "create; no record may exist yet"). All other
// failures should be wrapped with WrapStorage so the retry policy can
// identify them.
type Store interface {
	AppendSample(ctx context.Context, entityID string, ts time.Time, payload string) error
	RangeSamples(ctx context.Context, entityID string, from, to time.Time) ([]SampleRow, error)

	GetRecord(ctx context.Context, kind, id string) (value string, version int64, err error)
	PutRecord(ctx context.Context, kind, id, value string, expectVersion int64) error
}

// ──────────────────────────────────────────────
// InMemoryStore — development/testing backend
// ──────────────────────────────────────────────

type memRecord struct {
	value   string
	version int64
}

// InMemoryStore is a thread-safe in-memory Store. Data is lost on
// restart; intended for development and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	samples map[string][]SampleRow
	records map[string]memRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		samples: make(map[string][]SampleRow),
		records: make(map[string]memRecord),
	}
}

func (s *InMemoryStore) AppendSample(ctx context.Context, entityID string, ts time.Time, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := append(s.samples[entityID], SampleRow{Timestamp: ts, Payload: payload})
	// Keep rows timestamp-ordered even if a writer is slightly behind.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	s.samples[entityID] = rows
	return nil
}

func (s *InMemoryStore) RangeSamples(ctx context.Context, entityID string, from, to time.Time) ([]SampleRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SampleRow
	for _, row := range s.samples[entityID] {
		if row.Timestamp.Before(from) || row.Timestamp.After(to) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func recordKey(kind, id string) string { return kind + "\x00" + id }

func (s *InMemoryStore) GetRecord(ctx context.Context, kind, id string) (string, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey(kind, id)]
	if !ok {
		return "", 0, nil
	}
	return rec.value, rec.version, nil
}

func (s *InMemoryStore) PutRecord(ctx context.Context, kind, id, value string, expectVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(kind, id)
	rec, ok := s.records[key]
	var current int64
	if ok {
		current = rec.version
	}
	if current != expectVersion {
		return ErrVersionConflict
	}
	s.records[key] = memRecord{value: value, version: expectVersion + 1}
	return nil
}

// Compile-time interface check.
var _ Store = (*InMemoryStore)(nil)
