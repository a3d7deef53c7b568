// Package store is the durable source of truth for session state (spec
// §4.1). Two variants share one contract: MemoryStore (single-instance,
// grounded on the teacher's world.Registry) and RedisStore (horizontal,
// grounded on the teacher's auth/cache/pubsub Redis idioms).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/Update when the id has no record.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned by Update when the optimistic-lock retry budget
// is exhausted (spec §4.1 step 5).
var ErrConflict = errors.New("store: conflict")

// ErrExists is returned by Create when the id is already present.
var ErrExists = errors.New("store: exists")

// TransformFunc receives the current encoded state and returns the encoded
// state to write. Returning an error aborts the update without writing
// anything.
type TransformFunc func(state []byte) ([]byte, error)

// Handler processes one pub/sub message.
type Handler func(channel string, payload []byte)

// Store is the contract both variants implement (spec §4.1).
type Store interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Create(ctx context.Context, id string, state []byte, ttl time.Duration) error
	Update(ctx context.Context, id string, ttl time.Duration, transform TransformFunc) ([]byte, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)

	// ScanIDs returns a non-blocking snapshot of known ids. No guarantee of
	// consistency across batches.
	ScanIDs(ctx context.Context) ([]string, error)

	// ReserveID performs a set-if-absent on the id's reservation marker.
	ReserveID(ctx context.Context, id string, ttl time.Duration) (bool, error)

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler Handler) (unsubscribe func(), err error)

	Close() error
}
