package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"jdhub/ratekeeper/pkg/limits/storage"
)

var (
	// ErrRecorderClosed is returned by Enqueue after Close.
	ErrRecorderClosed = errors.New("usage recorder is closed")

	// ErrBufferFull is returned when a record could not be queued within
	// the write timeout and was dropped.
	ErrBufferFull = errors.New("usage recorder buffer full")
)

// Config contains configuration for the usage recorder.
type Config struct {
	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout bounds both waiting for buffer space and each store write.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Stats counts recorder outcomes since construction.
type Stats struct {
	Written uint64
	Failed  uint64
	Dropped uint64
	Pending int64
}

// Recorder writes usage records to a store in the background.
//
// Enqueue never blocks on storage. A failed or dropped write is logged and
// counted; it never reaches the caller that already admitted the call.
type Recorder struct {
	store      storage.Store
	config     *Config
	recordChan chan *storage.UsageRecord
	wg         sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
	logger     *slog.Logger

	// sendMu orders sends before Close: Enqueue holds it shared while
	// sending, Close takes it exclusively to set closed.
	sendMu sync.RWMutex
	closed bool

	pending atomic.Int64
	written atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewRecorder creates a recorder for store and starts its worker.
func NewRecorder(store storage.Store, config *Config) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = 1000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}

	r := &Recorder{
		store:      store,
		config:     config,
		recordChan: make(chan *storage.UsageRecord, config.AsyncBuffer),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "limits.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("usage recorder initialized",
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
	)

	return r
}

// Enqueue queues a record for writing and returns without waiting for
// storage. If the buffer stays full for WriteTimeout the record is dropped.
func (r *Recorder) Enqueue(record *storage.UsageRecord) error {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()

	if r.closed {
		return ErrRecorderClosed
	}

	r.pending.Add(1)
	select {
	case r.recordChan <- record:
		return nil
	case <-time.After(r.config.WriteTimeout):
		r.pending.Add(-1)
		r.dropped.Add(1)
		r.logger.Error("usage record channel full, dropping record",
			"record_id", record.ID,
			"service", record.ServiceType,
			"channel_capacity", r.config.AsyncBuffer,
		)
		return ErrBufferFull
	}
}

// Flush waits until every queued record has been written or ctx is done.
func (r *Recorder) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for r.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// Stats returns outcome counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Written: r.written.Load(),
		Failed:  r.failed.Load(),
		Dropped: r.dropped.Load(),
		Pending: r.pending.Load(),
	}
}

// Close drains the channel and waits for pending writes to complete.
// It waits for in-flight Enqueue calls first, so every record accepted
// before Close is written. The store is not closed. Close is idempotent.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("shutting down usage recorder")

		r.sendMu.Lock()
		r.closed = true
		close(r.done)
		r.sendMu.Unlock()

		r.wg.Wait()
		r.logger.Info("usage recorder shut down complete")
	})
	return nil
}

// worker drains the channel and writes records to the store.
func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case record := <-r.recordChan:
			r.writeRecord(record)
		case <-r.done:
			r.logger.Info("draining usage channel before shutdown",
				"pending_count", len(r.recordChan),
			)
			for {
				select {
				case record := <-r.recordChan:
					r.writeRecord(record)
				default:
					return
				}
			}
		}
	}
}

// writeRecord writes a single record to the store.
func (r *Recorder) writeRecord(record *storage.UsageRecord) {
	defer r.pending.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	ctx, span := otel.Tracer("ratekeeper/limits/recorder").Start(ctx, "usage.append")
	defer span.End()
	span.SetAttributes(
		attribute.String("usage.service", record.ServiceType),
		attribute.String("usage.operation", record.OperationType),
	)

	start := time.Now()
	if err := r.store.Append(ctx, record); err != nil {
		r.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		r.logger.Error("failed to store usage record",
			"record_id", record.ID,
			"service", record.ServiceType,
			"error", err,
		)
		return
	}
	r.written.Add(1)

	duration := time.Since(start)
	r.logger.Debug("usage recorded",
		"record_id", record.ID,
		"service", record.ServiceType,
		"duration_ms", duration.Milliseconds(),
	)

	if duration > r.config.WriteTimeout/2 {
		r.logger.Warn("slow usage write",
			"record_id", record.ID,
			"duration_ms", duration.Milliseconds(),
			"threshold_ms", (r.config.WriteTimeout / 2).Milliseconds(),
		)
	}
}
