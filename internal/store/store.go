// Package store keeps sealed bundles around until their slots are released.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ideal-lab5/etf-cli/etf"
)

// ErrNotFound is returned when no bundle is stored under an id.
var ErrNotFound = errors.New("no bundle stored under this id")

// Store is a collection of bundles indexed by a random id.
type Store interface {
	// Put stores b and returns its new id.
	Put(ctx context.Context, b *etf.Bundle) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*etf.Bundle, error)
	// List returns the ids of every stored bundle in byte order.
	List(ctx context.Context) ([]uuid.UUID, error)
	Del(ctx context.Context, id uuid.UUID) error
	Close() error
}
