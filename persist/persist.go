// Package persist provides durable storage for upload session records.
//
// The core is storage-agnostic: it only needs a key-value store keyed by asset
// identifier. Three interchangeable implementations are provided: an in-memory
// map, a filesystem-backed JSON store, and a Redis store.
package persist

import (
	"context"

	"github.com/assetforge/upload/uptypes"
)

// Store is the durable key-value store for session records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the record for the given asset ID, or (nil, nil) when no
	// record exists.
	Get(ctx context.Context, assetID string) (*uptypes.SessionRecord, error)

	// Set saves the record under the given asset ID, replacing any previous
	// record.
	Set(ctx context.Context, assetID string, record *uptypes.SessionRecord) error
}
