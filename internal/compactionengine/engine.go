// Package compactionengine implements the Exhauster: the stateless
// component that merges a set of input SSTs into a set of output SSTs,
// applying watermark-based garbage collection and optional keyspace
// partitioning along the way.
package compactionengine

import (
	"bytes"

	"github.com/rockyard-io/rockyardkv/internal/block"
	"github.com/rockyard-io/rockyardkv/internal/compression"
	"github.com/rockyard-io/rockyardkv/internal/encoding"
	"github.com/rockyard-io/rockyardkv/internal/errs"
	"github.com/rockyard-io/rockyardkv/internal/gcfilter"
	"github.com/rockyard-io/rockyardkv/internal/idalloc"
	"github.com/rockyard-io/rockyardkv/internal/ikey"
	"github.com/rockyard-io/rockyardkv/internal/mergeiter"
	"github.com/rockyard-io/rockyardkv/internal/partitioner"
	"github.com/rockyard-io/rockyardkv/internal/sstable"
	"github.com/rockyard-io/rockyardkv/internal/sstore"
)

// SSTableInfo describes one SST by id and the size of its data blocks, the
// unit every request and response in this package exchanges.
type SSTableInfo struct {
	ID       uint64
	DataSize uint64
}

// Request is one compaction job: merge sst_ids, drop anything the
// watermark and remove_tombstone rule allow, cut output tables at
// sstable_capacity or at a partition point.
type Request struct {
	SSTIDs                 []uint64
	Watermark              ikey.Sequence
	RemoveTombstone        bool
	PartitionPoints        [][]byte
	SSTableCapacity        uint64
	BlockCapacity          int
	RestartInterval        int
	BloomFalsePositiveRate float64
	CompressionAlgorithm   compression.Type
	// ChecksumAlgorithm protects every output block's bytes. Zero
	// (block.ChecksumTypeNone) is a valid explicit choice; callers that
	// want protection set this from internal/config.ExhausterConfig's
	// ChecksumAlgorithm default.
	ChecksumAlgorithm block.ChecksumType
}

// Response reports the SSTs a Request consumed and produced. Any SST built
// but not listed here must not be referenced: a failed request may leave
// partial output blobs in the store, but they are orphans, not data.
type Response struct {
	OldSSTInfos []SSTableInfo
	NewSSTInfos []SSTableInfo
}

// Engine runs compaction requests against a shared SST store. It holds no
// per-request state: every Compact call is independent and safe to run
// concurrently with another on a different request.
type Engine struct {
	store *sstore.Store
	ids   *idalloc.Allocator
}

// New returns an Engine backed by store, allocating new SST ids from ids.
func New(store *sstore.Store, ids *idalloc.Allocator) *Engine {
	return &Engine{store: store, ids: ids}
}

// Compact runs one compaction request to completion. Any error aborts the
// request outright; this layer does not retry.
func (e *Engine) Compact(req Request) (Response, error) {
	readers := make([]*sstable.Reader, 0, len(req.SSTIDs))
	old := make([]SSTableInfo, 0, len(req.SSTIDs))
	for _, id := range req.SSTIDs {
		r, err := e.store.Sstable(id, sstore.NotFill)
		if err != nil {
			return Response{}, errs.New(errs.Storage, "compactionengine.Compact.open", err)
		}
		readers = append(readers, r)
		dataSize, err := tableDataSize(r)
		if err != nil {
			return Response{}, err
		}
		old = append(old, SSTableInfo{ID: id, DataSize: dataSize})
	}

	if len(readers) == 0 {
		return Response{OldSSTInfos: old, NewSSTInfos: nil}, nil
	}

	children := make([]mergeiter.Iterator, 0, len(readers))
	for _, r := range readers {
		children = append(children, r.NewIterator())
	}
	merged := mergeiter.NewMergingIterator(children, nil)

	filter := gcfilter.New(req.Watermark, req.RemoveTombstone)
	var part partitioner.Partitioner = partitioner.Null{}
	if len(req.PartitionPoints) > 0 {
		part = partitioner.NewFixed(req.PartitionPoints)
	}

	var (
		newInfos      []SSTableInfo
		builder       *sstable.Builder
		buf           *bytes.Buffer
		firstKeyInOut []byte
		lastUserKey   []byte
	)

	finalize := func() error {
		if builder == nil || builder.Empty() {
			return nil
		}
		info, err := builder.Finish()
		if err != nil {
			return errs.New(errs.Storage, "compactionengine.Compact.finish", err)
		}
		if err := e.store.Put(info.ID, buf.Bytes(), sstore.Fill); err != nil {
			return errs.New(errs.Storage, "compactionengine.Compact.put", err)
		}
		newInfos = append(newInfos, SSTableInfo{ID: info.ID, DataSize: info.DataSize})
		builder, buf, firstKeyInOut = nil, nil, nil
		return nil
	}

	merged.SeekToFirst()
	for merged.Valid() {
		internalKey := merged.Key()
		parsed, err := ikey.Parse(internalKey)
		if err != nil {
			return Response{}, errs.New(errs.Serde, "compactionengine.Compact.parse", err)
		}

		if builder != nil && !builder.Empty() && !bytes.Equal(parsed.UserKey, lastUserKey) {
			cut := builder.ApproximateSize() >= req.SSTableCapacity ||
				part.ShouldPartition(firstKeyInOut, parsed.UserKey)
			if cut {
				if err := finalize(); err != nil {
					return Response{}, err
				}
				continue // re-examine the same entry against a fresh builder
			}
		}

		if builder == nil {
			id := e.ids.Next()
			buf = new(bytes.Buffer)
			builder = sstable.NewBuilder(buf, sstable.Options{
				ID:                     id,
				BlockCapacity:          req.BlockCapacity,
				RestartInterval:        req.RestartInterval,
				BloomFalsePositiveRate: req.BloomFalsePositiveRate,
				Compression:            req.CompressionAlgorithm,
				ChecksumType:           req.ChecksumAlgorithm,
			})
			firstKeyInOut = append([]byte(nil), parsed.UserKey...)
		}

		if filter.Decide(parsed) == gcfilter.Keep {
			if err := builder.Add(internalKey, merged.Value()); err != nil {
				return Response{}, errs.New(errs.Storage, "compactionengine.Compact.add", err)
			}
		}
		lastUserKey = append(lastUserKey[:0], parsed.UserKey...)

		merged.Next()
	}
	if err := merged.Error(); err != nil {
		return Response{}, errs.New(errs.Storage, "compactionengine.Compact.iterate", err)
	}

	if err := finalize(); err != nil {
		return Response{}, err
	}

	return Response{OldSSTInfos: old, NewSSTInfos: newInfos}, nil
}

func tableDataSize(r *sstable.Reader) (uint64, error) {
	raw, ok := r.Property("data_size")
	if !ok {
		return 0, nil
	}
	v, _, err := encoding.DecodeVarint64(raw)
	if err != nil {
		return 0, errs.New(errs.Serde, "compactionengine.tableDataSize", err)
	}
	return v, nil
}
