package history

import (
	"context"
	"errors"
	"time"

	"github.com/jo-hoe/productscribe/internal/generate"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("generation not found")

// Record describes one batch sent to the description model.
type Record struct {
	ID           string                 // UUIDv4
	ImageURL     string                 // image as requested by the caller
	Languages    []string               // requested codes, request order
	Descriptions []generate.Description // nil when the batch failed
	Status       string                 // completed|failed
	ErrorMessage *string                // set when Status is failed
	Provider     string                 // llm provider name
	CreatedAt    time.Time
	Duration     time.Duration
}

// Store persists generation records.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
