package sstable

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/rockyard-io/rockyardkv/internal/block"
	"github.com/rockyard-io/rockyardkv/internal/checksum"
	"github.com/rockyard-io/rockyardkv/internal/compression"
	"github.com/rockyard-io/rockyardkv/internal/encoding"
	"github.com/rockyard-io/rockyardkv/internal/filter"
)

// ErrCorrupted is returned when a block fails its checksum check.
var ErrCorrupted = errors.New("sstable: block checksum mismatch")

// Reader opens a table previously produced by Builder for point lookups
// and forward iteration.
type Reader struct {
	id  uint64
	ra  io.ReaderAt
	size int64

	footer     *block.Footer
	index      *block.Block
	filterRdr  *filter.BloomFilterReader
	properties map[string][]byte
}

// Open parses the footer, metaindex, index, filter, and properties blocks
// of a table backed by ra, whose total length is size.
func Open(id uint64, ra io.ReaderAt, size int64) (*Reader, error) {
	if size < block.EncodedFooterLength {
		return nil, block.ErrBadFooter
	}

	tail := make([]byte, block.EncodedFooterLength)
	if _, err := ra.ReadAt(tail, size-block.EncodedFooterLength); err != nil {
		return nil, err
	}
	footer, err := block.DecodeFooter(tail)
	if err != nil {
		return nil, err
	}

	r := &Reader{id: id, ra: ra, size: size, footer: footer}

	metaRaw, err := r.readBlock(footer.MetaindexHandle)
	if err != nil {
		return nil, err
	}
	meta, err := block.NewBlock(metaRaw)
	if err != nil {
		return nil, err
	}

	var filterHandle, propsHandle block.Handle
	it := meta.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		h, err := block.DecodeHandleFrom(it.Value())
		if err != nil {
			return nil, err
		}
		switch string(it.Key()) {
		case "filter":
			filterHandle = h
		case "properties":
			propsHandle = h
		}
	}

	indexRaw, err := r.readBlock(footer.IndexHandle)
	if err != nil {
		return nil, err
	}
	r.index, err = block.NewBlock(indexRaw)
	if err != nil {
		return nil, err
	}

	if !filterHandle.IsNull() {
		filterRaw, err := r.readBlock(filterHandle)
		if err != nil {
			return nil, err
		}
		r.filterRdr = filter.NewBloomFilterReader(filterRaw)
	}

	if !propsHandle.IsNull() {
		propsRaw, err := r.readBlock(propsHandle)
		if err != nil {
			return nil, err
		}
		propsBlock, err := block.NewBlock(propsRaw)
		if err != nil {
			return nil, err
		}
		r.properties = make(map[string][]byte)
		pit := propsBlock.NewIterator()
		for pit.SeekToFirst(); pit.Valid(); pit.Next() {
			r.properties[string(pit.Key())] = append([]byte(nil), pit.Value()...)
		}
	}

	return r, nil
}

// ID returns this table's stable identifier.
func (r *Reader) ID() uint64 { return r.id }

// Property returns the raw value of a properties-block entry ("num_entries",
// "data_size", "smallest_key", "largest_key", ...).
func (r *Reader) Property(name string) ([]byte, bool) {
	v, ok := r.properties[name]
	return v, ok
}

// MayContain consults the table's bloom filter. A false return means
// userKey is definitely absent; true means it might be present.
func (r *Reader) MayContain(userKey []byte) bool {
	if r.filterRdr == nil {
		return true
	}
	return r.filterRdr.MayContain(userKey)
}

// NewIterator returns an iterator over every (internal_key, value) entry in
// the table, in increasing internal-key order.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r, indexIter: r.index.NewIterator()}
}

func (r *Reader) readBlock(h block.Handle) ([]byte, error) {
	if h.IsNull() {
		return nil, nil
	}
	buf := make([]byte, h.Size+block.BlockTrailerSize)
	if _, err := r.ra.ReadAt(buf, int64(h.Offset)); err != nil {
		return nil, err
	}
	payload := buf[:h.Size]
	trailer := buf[h.Size:]

	ctype := compression.Type(trailer[0])
	wantChecksum := binary.LittleEndian.Uint32(trailer[1:])
	gotChecksum := checksum.ComputeChecksum(checksum.Type(r.footer.ChecksumType), payload, trailer[0])
	if gotChecksum != wantChecksum {
		return nil, ErrCorrupted
	}

	if ctype == compression.NoCompression {
		return payload, nil
	}

	uncompressedLen, n, err := encoding.DecodeVarint64(payload)
	if err != nil {
		return nil, err
	}
	return compression.DecompressWithSize(ctype, payload[n:], int(uncompressedLen))
}

// Iterator walks every entry of a table in key order, loading each data
// block on demand when the index iterator reaches that block's entry
// (keyed by the block's last key).
type Iterator struct {
	r         *Reader
	indexIter *block.Iterator
	dataIter  *block.Iterator
	err       error
}

// SeekToFirst positions the iterator at the smallest key in the table.
func (it *Iterator) SeekToFirst() {
	it.indexIter.SeekToFirst()
	it.loadDataBlockAndSeekToFirst()
}

// Seek positions the iterator at the first entry whose internal key is
// greater than or equal to target.
func (it *Iterator) Seek(target []byte) {
	it.indexIter.Seek(target)
	if !it.indexIter.Valid() {
		it.dataIter = nil
		return
	}
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.Seek(target)
		if !it.dataIter.Valid() {
			// target fell past every entry in this block; the block's last
			// key is the index key, so this can only happen on corruption
			// or an exact-boundary seek. Advance to the next block.
			it.indexIter.Next()
			it.loadDataBlockAndSeekToFirst()
		}
	}
}

// Next advances to the next entry.
func (it *Iterator) Next() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Next()
	for !it.dataIter.Valid() && it.indexIter.Valid() {
		it.indexIter.Next()
		it.loadDataBlockAndSeekToFirst()
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.dataIter != nil && it.dataIter.Valid() }

// Key returns the current entry's internal key.
func (it *Iterator) Key() []byte { return it.dataIter.Key() }

// Value returns the current entry's value.
func (it *Iterator) Value() []byte { return it.dataIter.Value() }

// Error returns the first error encountered, if any.
func (it *Iterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.dataIter != nil {
		return it.dataIter.Error()
	}
	return nil
}

func (it *Iterator) loadDataBlockAndSeekToFirst() {
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.SeekToFirst()
	}
}

func (it *Iterator) loadDataBlock() {
	if !it.indexIter.Valid() {
		it.dataIter = nil
		return
	}
	handle, err := block.DecodeHandleFrom(it.indexIter.Value())
	if err != nil {
		it.err = err
		it.dataIter = nil
		return
	}
	raw, err := it.r.readBlock(handle)
	if err != nil {
		it.err = err
		it.dataIter = nil
		return
	}
	b, err := block.NewBlock(raw)
	if err != nil {
		it.err = err
		it.dataIter = nil
		return
	}
	it.dataIter = b.NewIterator()
}
