package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/assetforge/upload/uptypes"
)

// Redis is a Store backed by a Redis key-value server, for resume across
// processes and hosts. Records are stored as JSON under a key prefix.
type Redis struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

// NewRedis creates a Redis store. A zero ttl keeps records forever.
func NewRedis(client redis.Cmdable, keyPrefix string, ttl time.Duration) *Redis {
	if keyPrefix == "" {
		keyPrefix = "upload:session:"
	}
	return &Redis{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, assetID string) (*uptypes.SessionRecord, error) {
	data, err := r.client.Get(ctx, r.keyPrefix+assetID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: redis get %q: %w", assetID, err)
	}

	var rec uptypes.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("persist: decode record %q: %w", assetID, err)
	}
	return &rec, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, assetID string, record *uptypes.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("persist: encode record %q: %w", assetID, err)
	}
	if err := r.client.Set(ctx, r.keyPrefix+assetID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("persist: redis set %q: %w", assetID, err)
	}
	return nil
}
