// Package gcfilter implements the compaction-time garbage collection
// policy: given a watermark sequence number, decide which versions of a
// key compaction may drop.
package gcfilter

import (
	"bytes"

	"github.com/rockyard-io/rockyardkv/internal/ikey"
)

// Decision is the outcome of filtering a single internal-key entry.
type Decision int

const (
	// Keep means the entry must be written to the output.
	Keep Decision = iota
	// Drop means the entry must be omitted entirely.
	Drop
)

// Filter decides, for each entry of a single user key's version chain (fed
// in internal-key order: same user key, strictly decreasing sequence), how
// many versions compaction may retain.
//
// REQUIRES: entries are fed to Decide in internal-key order. A Filter is
// not safe for concurrent use; the compaction engine owns one Filter per
// output stream.
type Filter struct {
	watermark      ikey.Sequence
	removeTombstone bool

	currentUserKey   []byte
	keptNewestBelow  bool
}

// New returns a Filter that drops every version of a key older than
// watermark except the newest one at or below it, and, when
// removeTombstone is true, drops that newest version too if it is itself
// a tombstone.
func New(watermark ikey.Sequence, removeTombstone bool) *Filter {
	return &Filter{watermark: watermark, removeTombstone: removeTombstone}
}

// Decide applies the filter policy to one internal key. parsed must be the
// result of ikey.Parse(internalKey) for the same key.
func (f *Filter) Decide(parsed ikey.Parsed) Decision {
	if !bytes.Equal(parsed.UserKey, f.currentUserKey) {
		f.currentUserKey = append(f.currentUserKey[:0], parsed.UserKey...)
		f.keptNewestBelow = false
	}

	if parsed.Sequence > f.watermark {
		// Still visible to some snapshot that predates the watermark;
		// compaction must never drop it.
		return Keep
	}

	if f.keptNewestBelow {
		// A newer-or-equal version at or below the watermark was already
		// kept for this user key; everything older is pure garbage.
		return Drop
	}
	f.keptNewestBelow = true

	if f.removeTombstone && parsed.Type == ikey.TypeTombstone {
		return Drop
	}
	return Keep
}

// Reset clears per-key state so the same Filter can be reused for a new
// compaction run.
func (f *Filter) Reset() {
	f.currentUserKey = f.currentUserKey[:0]
	f.keptNewestBelow = false
}
