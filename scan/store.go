package scan

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists scan jobs. Mutations of one job are serialized; mutations
// of different jobs proceed independently. Returned jobs are copies.
type Store interface {
	Create(ctx context.Context, flow Flow) (*Job, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	// Mutate applies fn to the job atomically. If fn returns an error the
	// stored job is left unchanged and the error is returned as is.
	Mutate(ctx context.Context, id uuid.UUID, fn UpdateSetter) (*Job, error)
	// Evict removes jobs last updated before olderThan and returns them.
	Evict(ctx context.Context, olderThan time.Time) ([]*Job, error)
}

type UpdateSetter func(*Job) error
