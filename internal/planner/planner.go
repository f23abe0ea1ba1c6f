// Package planner computes part plans for multipart transfers.
//
// Planning is a pure computation: given a file size and a fixed part size it
// produces the ordered byte ranges the scheduler will transfer. The same part
// size must be used when initializing the remote session, since the remote
// part counts are derived from it.
package planner

import (
	"fmt"

	"github.com/assetforge/upload/uptypes"
)

// Plan returns the ordered part ranges for a file of the given size.
// Part numbers are 1-based and the last part is truncated to the remainder.
// A zero-byte file plans a single empty part so it still produces a token.
func Plan(size, partSize int64) ([]uptypes.PartRange, error) {
	if size < 0 {
		return nil, fmt.Errorf("negative file size %d", size)
	}
	if partSize <= 0 {
		return nil, fmt.Errorf("non-positive part size %d", partSize)
	}

	n := Count(size, partSize)
	parts := make([]uptypes.PartRange, 0, n)
	for i := 0; i < n; i++ {
		start := int64(i) * partSize
		end := start + partSize
		if end > size {
			end = size
		}
		parts = append(parts, uptypes.PartRange{
			PartNumber: i + 1,
			Start:      start,
			End:        end,
		})
	}
	return parts, nil
}

// Count returns ceil(size/partSize), or 1 for an empty file.
// The caller must guarantee partSize > 0.
func Count(size, partSize int64) int {
	if size == 0 {
		return 1
	}
	return int((size + partSize - 1) / partSize)
}
