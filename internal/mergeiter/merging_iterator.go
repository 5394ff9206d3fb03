// Package mergeiter merges multiple sorted internal-key iterators into one,
// the core primitive the compaction engine uses to walk several input SSTs
// as a single ordered stream.
package mergeiter

import (
	"container/heap"

	"github.com/rockyard-io/rockyardkv/internal/block"
)

// Iterator is the interface every input to a MergingIterator must satisfy.
// block.Iterator and sstable.Iterator both already implement it.
type Iterator interface {
	Valid() bool
	Key() []byte
	Value() []byte
	SeekToFirst()
	Seek(target []byte)
	Next()
	Error() error
}

// MergingIterator merges its children into a single sorted stream of
// internal keys. When two children currently hold the same internal key,
// the one with the lower input index wins the tie: callers that place
// newer inputs first see the newer version first, which is the lookup
// order the compaction filter and merge logic both depend on.
type MergingIterator struct {
	children   []Iterator
	comparator func(a, b []byte) int
	h          *iterHeap
	current    int
	err        error
}

// NewMergingIterator creates a merging iterator over children, in children
// order: lower indices win ties. A nil comparator defaults to
// block.CompareInternalKeys.
func NewMergingIterator(children []Iterator, comparator func(a, b []byte) int) *MergingIterator {
	if comparator == nil {
		comparator = block.CompareInternalKeys
	}
	return &MergingIterator{
		children:   children,
		comparator: comparator,
		h:          &iterHeap{cmp: comparator},
		current:    -1,
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (mi *MergingIterator) Valid() bool {
	return mi.current >= 0 && mi.current < len(mi.children)
}

// Key returns the current entry's internal key.
func (mi *MergingIterator) Key() []byte {
	if !mi.Valid() {
		return nil
	}
	return mi.children[mi.current].Key()
}

// Value returns the current entry's value.
func (mi *MergingIterator) Value() []byte {
	if !mi.Valid() {
		return nil
	}
	return mi.children[mi.current].Value()
}

// Error returns the first error observed from any child.
func (mi *MergingIterator) Error() error { return mi.err }

// SeekToFirst positions the iterator at the smallest internal key across
// every child.
func (mi *MergingIterator) SeekToFirst() {
	mi.err = nil
	mi.h.items = mi.h.items[:0]
	for i, c := range mi.children {
		c.SeekToFirst()
		mi.pushIfValid(i, c)
	}
	heap.Init(mi.h)
	mi.findSmallest()
}

// Seek positions the iterator at the first entry whose internal key is
// greater than or equal to target.
func (mi *MergingIterator) Seek(target []byte) {
	mi.err = nil
	mi.h.items = mi.h.items[:0]
	for i, c := range mi.children {
		c.Seek(target)
		mi.pushIfValid(i, c)
	}
	heap.Init(mi.h)
	mi.findSmallest()
}

// Next advances to the next entry in merged order.
func (mi *MergingIterator) Next() {
	if !mi.Valid() {
		return
	}
	c := mi.children[mi.current]
	c.Next()
	if err := c.Error(); err != nil {
		mi.err = err
		mi.current = -1
		return
	}
	if c.Valid() {
		mi.h.items[0] = heapItem{index: mi.current, key: c.Key()}
		heap.Fix(mi.h, 0)
	} else {
		heap.Pop(mi.h)
	}
	mi.findSmallest()
}

func (mi *MergingIterator) pushIfValid(index int, c Iterator) {
	if c.Valid() {
		mi.h.items = append(mi.h.items, heapItem{index: index, key: c.Key()})
	}
	if err := c.Error(); err != nil {
		mi.err = err
	}
}

func (mi *MergingIterator) findSmallest() {
	if mi.h.Len() == 0 {
		mi.current = -1
		return
	}
	mi.current = mi.h.items[0].index
}

type heapItem struct {
	index int
	key   []byte
}

type iterHeap struct {
	items []heapItem
	cmp   func(a, b []byte) int
}

func (h *iterHeap) Len() int { return len(h.items) }

// Less breaks ties on equal keys by input index ascending, so the merge
// order is deterministic even when two inputs hold the same internal key.
func (h *iterHeap) Less(i, j int) bool {
	c := h.cmp(h.items[i].key, h.items[j].key)
	if c != 0 {
		return c < 0
	}
	return h.items[i].index < h.items[j].index
}

func (h *iterHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *iterHeap) Push(x any) { h.items = append(h.items, x.(heapItem)) }

func (h *iterHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
