package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"jdhub/ratekeeper/pkg/limits/storage"
)

// blockingStore blocks every Append until release is closed.
type blockingStore struct {
	*storage.MemoryStore
	release chan struct{}
}

func (b *blockingStore) Append(ctx context.Context, r *storage.UsageRecord) error {
	<-b.release
	return b.MemoryStore.Append(ctx, r)
}

// failingStore rejects every Append.
type failingStore struct {
	storage.MemoryStore
	mu    sync.Mutex
	calls int
}

func (f *failingStore) Append(context.Context, *storage.UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("disk full")
}

func TestRecorder_EnqueueAndFlush(t *testing.T) {
	store := storage.NewMemoryStore()
	rec := NewRecorder(store, nil)
	defer rec.Close()

	for i := 0; i < 10; i++ {
		if err := rec.Enqueue(storage.NewUsageRecord("openai", "op", "", 1, 1, 0.01)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rec.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if store.Len() != 10 {
		t.Errorf("Expected 10 stored records, got %d", store.Len())
	}
	if stats := rec.Stats(); stats.Written != 10 || stats.Pending != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestRecorder_CloseDrains(t *testing.T) {
	store := &blockingStore{MemoryStore: storage.NewMemoryStore(), release: make(chan struct{})}
	rec := NewRecorder(store, &Config{AsyncBuffer: 10, WriteTimeout: time.Second})

	for i := 0; i < 5; i++ {
		rec.Enqueue(storage.NewUsageRecord("openai", "op", "", 1, 1, 0))
	}
	close(store.release)

	rec.Close()

	if store.Len() != 5 {
		t.Errorf("Expected all 5 records written on close, got %d", store.Len())
	}
}

func TestRecorder_EnqueueAfterClose(t *testing.T) {
	rec := NewRecorder(storage.NewMemoryStore(), nil)
	rec.Close()

	err := rec.Enqueue(storage.NewUsageRecord("openai", "op", "", 1, 1, 0))
	if !errors.Is(err, ErrRecorderClosed) {
		t.Errorf("Expected ErrRecorderClosed, got %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestRecorder_CloseDuringEnqueue(t *testing.T) {
	for round := 0; round < 20; round++ {
		store := storage.NewMemoryStore()
		rec := NewRecorder(store, &Config{AsyncBuffer: 4, WriteTimeout: time.Second})

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		start := make(chan struct{})
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 10; j++ {
					err := rec.Enqueue(storage.NewUsageRecord("openai", "op", "", 1, 1, 0))
					if err == nil {
						mu.Lock()
						accepted++
						mu.Unlock()
					} else if !errors.Is(err, ErrRecorderClosed) {
						t.Errorf("Unexpected Enqueue error: %v", err)
					}
				}
			}()
		}

		close(start)
		rec.Close()
		wg.Wait()

		if store.Len() != accepted {
			t.Fatalf("round %d: %d records accepted but %d written", round, accepted, store.Len())
		}
		if pending := rec.Stats().Pending; pending != 0 {
			t.Fatalf("round %d: expected no pending records after close, got %d", round, pending)
		}
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	store := &blockingStore{MemoryStore: storage.NewMemoryStore(), release: make(chan struct{})}
	rec := NewRecorder(store, &Config{AsyncBuffer: 1, WriteTimeout: 50 * time.Millisecond})

	// One record blocks in the worker, one fills the buffer
	rec.Enqueue(storage.NewUsageRecord("openai", "op", "", 1, 1, 0))
	time.Sleep(20 * time.Millisecond)
	rec.Enqueue(storage.NewUsageRecord("openai", "op", "", 1, 1, 0))

	err := rec.Enqueue(storage.NewUsageRecord("openai", "op", "", 1, 1, 0))
	if !errors.Is(err, ErrBufferFull) {
		t.Errorf("Expected ErrBufferFull, got %v", err)
	}
	if rec.Stats().Dropped != 1 {
		t.Errorf("Expected 1 dropped record, got %d", rec.Stats().Dropped)
	}

	close(store.release)
	rec.Close()
}

func TestRecorder_StoreFailureCounted(t *testing.T) {
	store := &failingStore{}
	rec := NewRecorder(store, nil)
	defer rec.Close()

	if err := rec.Enqueue(storage.NewUsageRecord("openai", "op", "", 1, 1, 0)); err != nil {
		t.Fatalf("Enqueue should not surface store failures: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec.Flush(ctx)

	if stats := rec.Stats(); stats.Failed != 1 || stats.Written != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}
