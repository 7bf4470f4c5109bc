package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store defines the durable usage store the engine appends to and reads from.
// Implementations must be thread-safe. The engine never updates or deletes
// rows through this interface.
type Store interface {
	// Append persists one usage record.
	Append(ctx context.Context, record *UsageRecord) error

	// Query returns all records for service with Timestamp >= since,
	// ordered by timestamp ascending.
	Query(ctx context.Context, service string, since time.Time) ([]*UsageRecord, error)

	// Close releases any resources held by the store.
	Close() error
}

// FieldReporter is implemented by stores whose schema may lack optional
// analytic fields. Stores that do not implement it are assumed complete.
type FieldReporter interface {
	// HasField reports whether the named optional field is stored.
	HasField(name string) bool
}

// FieldResponseTimeMs is the optional response latency field.
const FieldResponseTimeMs = "response_time_ms"

var (
	// ErrSchemaMismatch is returned when the usage table lacks required columns.
	ErrSchemaMismatch = errors.New("usage table schema mismatch")

	// ErrInvalidRecord is returned when a record fails validation.
	ErrInvalidRecord = errors.New("invalid usage record")

	errStoreClosed = errors.New("store is closed")
)

// UsageRecord describes one completed external-service call.
type UsageRecord struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`

	// ServiceType is the external service (openai, anthropic, ...).
	ServiceType string `json:"service_type"`

	// OperationType is the caller's feature or task name.
	OperationType string `json:"operation_type"`

	// ModelName is the model used, if any.
	ModelName string `json:"model_name,omitempty"`

	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`

	// CostUSD is the cost of the call in US dollars.
	CostUSD float64 `json:"cost_usd"`

	// Success is false for failed and rate-limited calls.
	Success bool `json:"success"`

	Timestamp time.Time `json:"timestamp"`

	// UserID is the optional caller identity.
	UserID string `json:"user_id,omitempty"`

	// ResponseTimeMs is the optional call latency. Nil when not measured or
	// not stored.
	ResponseTimeMs *int64 `json:"response_time_ms,omitempty"`
}

// NewUsageRecord creates a successful record stamped with the current time
// and a fresh ID. TotalTokens is input plus output.
func NewUsageRecord(service, operation, model string, inputTokens, outputTokens int64, cost float64) *UsageRecord {
	return &UsageRecord{
		ID:            uuid.NewString(),
		ServiceType:   service,
		OperationType: operation,
		ModelName:     model,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		TotalTokens:   inputTokens + outputTokens,
		CostUSD:       cost,
		Success:       true,
		Timestamp:     time.Now().UTC(),
	}
}

// Validate checks that the record can be persisted.
func (r *UsageRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}
	if r.ServiceType == "" {
		return fmt.Errorf("%w: service_type is empty", ErrInvalidRecord)
	}
	if r.InputTokens < 0 || r.OutputTokens < 0 || r.TotalTokens < 0 {
		return fmt.Errorf("%w: negative token count", ErrInvalidRecord)
	}
	if r.CostUSD < 0 {
		return fmt.Errorf("%w: negative cost", ErrInvalidRecord)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *UsageRecord) Clone() *UsageRecord {
	c := *r
	if r.ResponseTimeMs != nil {
		v := *r.ResponseTimeMs
		c.ResponseTimeMs = &v
	}
	return &c
}

// StorageError represents an error from a storage backend.
type StorageError struct {
	Backend   string // Storage backend type ("sqlite", "memory")
	Operation string // Operation that failed ("append", "query", ...)
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}
