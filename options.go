package upload

import (
	"log/slog"

	"github.com/assetforge/upload/persist"
	"github.com/assetforge/upload/uptypes"
)

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithStore sets the persistence store for session records.
// Defaults to an in-memory store, which resumes only within one process.
func WithStore(store persist.Store) Option {
	return func(c *Client) {
		if store != nil {
			c.store = store
		}
	}
}

// WithObserver sets the observer receiving per-file progress, completion, and
// error callbacks.
func WithObserver(obs uptypes.Observer) Option {
	return func(c *Client) {
		if obs != nil {
			c.obs = obs
		}
	}
}

// WithLogger sets the logger for session lifecycle logging.
// No logger means no logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPartSize sets the fixed part size in bytes. The same value must be used
// for every cycle of a given session, since remote part counts derive from it.
func WithPartSize(partSize int64) Option {
	return func(c *Client) {
		if partSize > 0 {
			c.partSize = partSize
		}
	}
}

// WithConcurrency sets the global cap on concurrent part transfers.
// Default is MaxConcurrentUploads.
func WithConcurrency(concurrency int) Option {
	return func(c *Client) {
		if concurrency > 0 {
			c.concurrency = concurrency
		}
	}
}
