// Package sstable implements the encode/decode side of an SST: a dense
// ordered sequence of data blocks, a bloom filter over user keys, an
// index keyed by each data block's last key, and a properties block,
// closed out by a fixed footer.
//
// The block mechanics (prefix compression, restart points, per-block
// checksum+compression trailer) are unchanged from the teacher this module
// grew out of; what changed is the value model (Put/Tombstone only, via
// internal/ikey) and the absence of column families, range deletions, and
// RocksDB wire-format compatibility.
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

// ErrEmptyKey is returned when Add is called with an empty internal key.
var ErrEmptyKey = errors.New("sstable: empty internal key")

// Options configures a Builder. Field names mirror the compaction request's
// builder parameters.
type Options struct {
	// ID is the stable 64-bit identifier assigned to the table being built.
	ID uint64
	// BlockCapacity is the target uncompressed size of a data block before
	// it is flushed.
	BlockCapacity int
	// RestartInterval is the number of entries between restart points in a
	// block's prefix-compressed layout.
	RestartInterval int
	// BloomFalsePositiveRate is the target false-positive rate for the
	// whole-table bloom filter over user keys.
	BloomFalsePositiveRate float64
	// Compression is the algorithm applied to data blocks. Index, filter,
	// and metadata blocks are always stored uncompressed: they are small
	// relative to data blocks and reading them must not pay a
	// decompression tax on every open.
	Compression compression.Type
	// ChecksumType protects every block's bytes against silent corruption.
	ChecksumType block.ChecksumType
}

// DefaultOptions returns reasonable defaults for ad-hoc table construction
// (tests, tools); compaction requests should fill Options explicitly from
// their builder parameters.
func DefaultOptions(id uint64) Options {
	return Options{
		ID:                     id,
		BlockCapacity:          4 * 1024,
		RestartInterval:        16,
		BloomFalsePositiveRate: 0.01,
		Compression:            compression.NoCompression,
		ChecksumType:           block.ChecksumTypeXXH3,
	}
}

// Info is returned by Finish: the stable identifier and final size of the
// table that was built.
type Info struct {
	ID       uint64
	DataSize uint64
}

// Builder accumulates (internal_key, value) entries in strictly increasing
// internal-key order and emits a complete SST to the given writer.
type Builder struct {
	opts Options
	w    io.Writer
	pos  uint64

	dataBlock  *block.Builder
	indexBlock *block.Builder
	filterBldr *filter.BloomFilterBuilder

	firstKeyOfBlock []byte
	lastKey         []byte
	smallestKey     []byte
	largestKey      []byte

	numEntries    uint64
	numDataBlocks uint64
	dataSize      uint64

	finished bool
}

// NewBuilder creates a Builder that writes to w.
func NewBuilder(w io.Writer, opts Options) *Builder {
	if opts.RestartInterval < 1 {
		opts.RestartInterval = 16
	}
	if opts.BlockCapacity < 1 {
		opts.BlockCapacity = 4 * 1024
	}
	bitsPerKey := filter.BitsPerKeyForFalsePositiveRate(opts.BloomFalsePositiveRate)
	return &Builder{
		opts:       opts,
		w:          w,
		dataBlock:  block.NewBuilder(opts.RestartInterval),
		indexBlock: block.NewBuilder(1), // index entries are rarely shared-prefix heavy
		filterBldr: filter.NewBloomFilterBuilder(bitsPerKey),
	}
}

// Add appends an (internal_key, value) pair. REQUIRES: key compares greater
// than every previously added key under ikey.Compare.
func (b *Builder) Add(internalKey, value []byte) error {
	if b.finished {
		return errors.New("sstable: Add called after Finish")
	}
	if len(internalKey) == 0 {
		return ErrEmptyKey
	}

	if b.dataBlock.Empty() {
		b.firstKeyOfBlock = append(b.firstKeyOfBlock[:0], internalKey...)
	}
	b.dataBlock.Add(internalKey, value)
	b.filterBldr.AddKey(userKeyOf(internalKey))
	b.lastKey = append(b.lastKey[:0], internalKey...)
	b.numEntries++

	if b.smallestKey == nil {
		b.smallestKey = append([]byte(nil), internalKey...)
	}
	b.largestKey = append(b.largestKey[:0], internalKey...)

	if b.dataBlock.EstimatedSize() >= b.opts.BlockCapacity {
		if err := b.flushDataBlock(); err != nil {
			return err
		}
	}
	return nil
}

// ApproximateSize returns the number of bytes written so far, plus the
// estimated size of the still-open data block. Compaction uses this to
// decide when an output table has crossed its capacity.
func (b *Builder) ApproximateSize() uint64 {
	return b.pos + uint64(b.dataBlock.EstimatedSize())
}

// NumEntries returns the number of entries added so far.
func (b *Builder) NumEntries() uint64 { return b.numEntries }

// Empty reports whether any entry has been added.
func (b *Builder) Empty() bool { return b.numEntries == 0 }

func userKeyOf(internalKey []byte) []byte {
	const trailerSize = 8
	if len(internalKey) < trailerSize {
		return internalKey
	}
	return internalKey[:len(internalKey)-trailerSize]
}

func (b *Builder) flushDataBlock() error {
	if b.dataBlock.Empty() {
		return nil
	}
	raw := b.dataBlock.Finish()
	handle, err := b.writeBlock(raw, b.opts.Compression)
	if err != nil {
		return err
	}
	// Index entries are keyed by the last key of the block they point to:
	// since blocks are emitted in increasing key order, a forward seek for
	// the first index entry >= target lands on the block that may contain
	// target.
	b.indexBlock.Add(b.lastKey, handle.EncodeToSlice())
	b.dataBlock.Reset()
	b.numDataBlocks++
	return nil
}

// Finish closes out the table: flushes any open data block, writes the
// filter, properties, index, and metaindex blocks, and appends the footer.
func (b *Builder) Finish() (Info, error) {
	if b.finished {
		return Info{}, errors.New("sstable: Finish called twice")
	}
	if err := b.flushDataBlock(); err != nil {
		return Info{}, err
	}
	b.finished = true

	filterHandle, err := b.writeBlock(b.filterBldr.Finish(), compression.NoCompression)
	if err != nil {
		return Info{}, err
	}

	propsHandle, err := b.writeBlock(b.encodeProperties(), compression.NoCompression)
	if err != nil {
		return Info{}, err
	}

	indexHandle, err := b.writeBlock(b.indexBlock.Finish(), compression.NoCompression)
	if err != nil {
		return Info{}, err
	}

	meta := block.NewBuilder(1)
	meta.Add([]byte("filter"), filterHandle.EncodeToSlice())
	meta.Add([]byte("properties"), propsHandle.EncodeToSlice())
	metaHandle, err := b.writeBlock(meta.Finish(), compression.NoCompression)
	if err != nil {
		return Info{}, err
	}

	footer := &block.Footer{
		MetaindexHandle: metaHandle,
		IndexHandle:     indexHandle,
		ChecksumType:    b.opts.ChecksumType,
		FormatVersion:   block.FormatVersion,
	}
	if _, err := b.w.Write(footer.EncodeTo()); err != nil {
		return Info{}, err
	}

	return Info{ID: b.opts.ID, DataSize: b.dataSize}, nil
}

// Abandon discards the builder's in-memory state without writing a footer.
// The bytes already written to w (if any) are an incomplete, unusable
// table and must be discarded by the caller.
func (b *Builder) Abandon() {
	b.finished = true
}

func (b *Builder) encodeProperties() []byte {
	props := block.NewBuilder(1)
	props.Add([]byte("num_entries"), encoding.AppendVarint64(nil, b.numEntries))
	props.Add([]byte("num_data_blocks"), encoding.AppendVarint64(nil, b.numDataBlocks))
	props.Add([]byte("data_size"), encoding.AppendVarint64(nil, b.dataSize))
	props.Add([]byte("smallest_key"), b.smallestKey)
	props.Add([]byte("largest_key"), b.largestKey)
	return props.Finish()
}

// writeBlock applies compression (for data blocks only; callers pass
// compression.NoCompression for index/filter/metaindex/properties blocks),
// computes the block's checksum, and writes payload+trailer to w.
func (b *Builder) writeBlock(raw []byte, ctype compression.Type) (block.Handle, error) {
	offset := b.pos
	payload := raw
	actual := compression.NoCompression

	if ctype != compression.NoCompression && len(raw) > 0 {
		compressed, err := compression.Compress(ctype, raw)
		if err == nil && len(compressed) < len(raw) {
			sized := encoding.AppendVarint64(nil, uint64(len(raw)))
			payload = append(sized, compressed...)
			actual = ctype
		}
	}

	trailer := make([]byte, block.BlockTrailerSize)
	trailer[0] = byte(actual)
	cs := checksum.ComputeChecksum(checksum.Type(b.opts.ChecksumType), payload, trailer[0])
	binary.LittleEndian.PutUint32(trailer[1:], cs)

	n, err := b.w.Write(payload)
	if err != nil {
		return block.Handle{}, err
	}
	b.pos += uint64(n)
	if actual == compression.NoCompression {
		b.dataSize += uint64(n)
	}

	n2, err := b.w.Write(trailer)
	if err != nil {
		return block.Handle{}, err
	}
	b.pos += uint64(n2)

	return block.Handle{Offset: offset, Size: uint64(len(payload))}, nil
}
