package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store using an in-process ring of records.
// All data is lost when the process exits. Once MaxRecords is reached each
// Append overwrites the oldest record in place.
//
// MemoryStore is thread-safe and supports concurrent access using sync.RWMutex.
type MemoryStore struct {
	// records holds usage records; once full, head is the oldest slot.
	records []*UsageRecord
	head    int

	// mu protects access to records.
	mu sync.RWMutex

	// maxRecords bounds memory; the oldest records are evicted first.
	maxRecords int

	closed bool
}

// MemoryStoreConfig configures the memory store.
type MemoryStoreConfig struct {
	// MaxRecords is the maximum number of records to keep.
	// Default: 100,000
	MaxRecords int
}

// NewMemoryStore creates a memory store with default settings.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{MaxRecords: 100000})
}

// NewMemoryStoreWithConfig creates a memory store with custom configuration.
func NewMemoryStoreWithConfig(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 100000
	}
	return &MemoryStore{maxRecords: cfg.MaxRecords}
}

// Append stores a copy of the record.
func (m *MemoryStore) Append(ctx context.Context, record *UsageRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return NewStorageError("memory", "append", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewStorageError("memory", "append", errStoreClosed)
	}

	if len(m.records) < m.maxRecords {
		m.records = append(m.records, record.Clone())
		return nil
	}
	m.records[m.head] = record.Clone()
	m.head = (m.head + 1) % len(m.records)
	return nil
}

// Query returns copies of matching records ordered by timestamp.
func (m *MemoryStore) Query(ctx context.Context, service string, since time.Time) ([]*UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStorageError("memory", "query", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewStorageError("memory", "query", errStoreClosed)
	}

	result := make([]*UsageRecord, 0)
	for i := range m.records {
		r := m.records[(m.head+i)%len(m.records)]
		if r.ServiceType == service && !r.Timestamp.Before(since) {
			result = append(result, r.Clone())
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// HasField reports true for every field; the memory store keeps whole records.
func (m *MemoryStore) HasField(string) bool {
	return true
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close releases the stored records. Close is idempotent.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = nil
	m.head = 0
	return nil
}
