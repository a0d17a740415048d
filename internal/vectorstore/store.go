// Package vectorstore defines the tier-agnostic similarity index contract the
// retrieval core consumes, plus the pluggable backends implementing it.
package vectorstore

import (
	"context"

	"github.com/google/uuid"
)

// Store is the minimum interface for a pluggable vector index. Availability
// and consistency are the backend's guarantees; the core never assumes a
// specific implementation.
type Store interface {
	// CreateCollection creates a named collection. Creating an existing
	// collection is not an error.
	CreateCollection(ctx context.Context, name string) error

	// DeleteCollection removes a collection. Deleting a missing collection
	// is not an error.
	DeleteCollection(ctx context.Context, name string) error

	// InsertPoints upserts points keyed by id. An empty slice is a no-op
	// success.
	InsertPoints(ctx context.Context, collection string, points []Point) error

	// Search returns up to params.Limit results ordered by descending
	// similarity score.
	Search(ctx context.Context, collection string, params SearchParams) ([]SearchResult, error)

	// DeletePoints removes points by id; missing ids are ignored.
	DeletePoints(ctx context.Context, collection string, ids []uuid.UUID) error

	// GetPoint fetches a single point, or (nil, nil) when absent.
	GetPoint(ctx context.Context, collection string, id uuid.UUID) (*Point, error)

	// Close releases backend resources.
	Close() error
}
