// Package partitioner decides where the compaction engine must cut a new
// output SST, independent of the engine's own file-size cap.
package partitioner

import (
	"bytes"
	"sort"
)

// Partitioner decides whether the boundary between two consecutive user
// keys in the merged compaction stream must fall across an SST boundary.
type Partitioner interface {
	// ShouldPartition reports whether next_user_key belongs in a different
	// output table than the one whose first key is firstKeyInOutput. The
	// compaction engine calls it only when the user key changes while a
	// non-empty table below its size cap is being built, passing that
	// table's first key.
	ShouldPartition(firstKeyInOutput, nextUserKey []byte) bool
}

// Null never asks for a cut; it is used when a compaction request carries
// no partition points.
type Null struct{}

// ShouldPartition always returns false.
func (Null) ShouldPartition(_, _ []byte) bool { return false }

// Fixed cuts output tables at a predetermined, sorted list of keyspace
// boundaries: two user keys separated by a boundary point must never land
// in the same output table.
type Fixed struct {
	points [][]byte
}

// NewFixed returns a Fixed partitioner over points, which need not already
// be sorted.
func NewFixed(points [][]byte) *Fixed {
	sorted := make([][]byte, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	return &Fixed{points: sorted}
}

// ShouldPartition returns true exactly when some partition point lies
// strictly after firstKeyInOutput and at or before nextUserKey, i.e. a
// boundary separates the two keys.
func (f *Fixed) ShouldPartition(firstKeyInOutput, nextUserKey []byte) bool {
	if len(f.points) == 0 {
		return false
	}
	// Index of the first point > firstKeyInOutput.
	i := sort.Search(len(f.points), func(i int) bool {
		return bytes.Compare(f.points[i], firstKeyInOutput) > 0
	})
	if i == len(f.points) {
		return false
	}
	return bytes.Compare(f.points[i], nextUserKey) <= 0
}
