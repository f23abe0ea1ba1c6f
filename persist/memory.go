package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/assetforge/upload/uptypes"
)

// Memory is an in-memory Store. Records are stored as serialized copies so
// callers cannot alias the stored state. Suitable for tests and for callers
// that only need resume within a single process.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string][]byte),
	}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, assetID string) (*uptypes.SessionRecord, error) {
	m.mu.RLock()
	data, ok := m.records[assetID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	var rec uptypes.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("persist: decode record %q: %w", assetID, err)
	}
	return &rec, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, assetID string, record *uptypes.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("persist: encode record %q: %w", assetID, err)
	}

	m.mu.Lock()
	m.records[assetID] = data
	m.mu.Unlock()
	return nil
}
