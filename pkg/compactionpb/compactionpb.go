// Package compactionpb defines the external compaction RPC surface: the
// request and response shapes a caller sends across the wire, independent
// of the in-process compactionengine types they are translated to and
// from. Concrete wire encoding (protobuf codegen, JSON, whatever a given
// deployment picks) lives outside this package; it only owns the Go
// shapes and the error-to-status mapping every transport needs.
package compactionpb

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rockyard-io/rockyardkv/internal/block"
	"github.com/rockyard-io/rockyardkv/internal/compactionengine"
	"github.com/rockyard-io/rockyardkv/internal/compression"
	"github.com/rockyard-io/rockyardkv/internal/ikey"
)

// CompressionAlgorithm mirrors the wire enum a client selects; it is kept
// distinct from internal/compression.Type so this package has no internal
// dependency surface beyond what ToEngineRequest needs to translate it.
type CompressionAlgorithm int32

const (
	CompressionNone CompressionAlgorithm = 0
	CompressionLz4  CompressionAlgorithm = 1
	CompressionZstd CompressionAlgorithm = 2
)

func (c CompressionAlgorithm) toInternal() compression.Type {
	switch c {
	case CompressionLz4:
		return compression.LZ4Compression
	case CompressionZstd:
		return compression.ZstdCompression
	default:
		return compression.NoCompression
	}
}

// CompactRequest is the wire shape of a compaction RPC call.
type CompactRequest struct {
	SSTIDs                 []uint64
	SSTableCapacity        uint64
	BlockCapacity          uint32
	RestartInterval        uint32
	BloomFalsePositiveRate float64
	CompressionAlgorithm   CompressionAlgorithm
	Watermark              uint64
	RemoveTombstone        bool
	PartitionPoints        [][]byte
}

// SSTableInfo is the wire shape of one SST descriptor.
type SSTableInfo struct {
	ID       uint64
	DataSize uint64
}

// CompactResponse is the wire shape of a compaction RPC reply.
type CompactResponse struct {
	OldSSTInfos []SSTableInfo
	NewSSTInfos []SSTableInfo
}

// ToEngineRequest translates the wire request into the shape
// compactionengine.Engine.Compact expects. Checksum algorithm selection is
// a deployment policy, not a per-call client choice, so the caller passes
// in the exhauster's configured default (internal/config.ExhausterConfig's
// ChecksumAlgorithm) rather than it riding on the wire request.
func (r CompactRequest) ToEngineRequest(checksumAlgorithm block.ChecksumType) compactionengine.Request {
	return compactionengine.Request{
		SSTIDs:                 r.SSTIDs,
		Watermark:              ikey.Sequence(r.Watermark),
		RemoveTombstone:        r.RemoveTombstone,
		PartitionPoints:        r.PartitionPoints,
		SSTableCapacity:        r.SSTableCapacity,
		BlockCapacity:          int(r.BlockCapacity),
		RestartInterval:        int(r.RestartInterval),
		BloomFalsePositiveRate: r.BloomFalsePositiveRate,
		CompressionAlgorithm:   r.CompressionAlgorithm.toInternal(),
		ChecksumAlgorithm:      checksumAlgorithm,
	}
}

// FromEngineResponse translates an engine response into its wire shape.
func FromEngineResponse(resp compactionengine.Response) CompactResponse {
	return CompactResponse{
		OldSSTInfos: fromEngineInfos(resp.OldSSTInfos),
		NewSSTInfos: fromEngineInfos(resp.NewSSTInfos),
	}
}

func fromEngineInfos(infos []compactionengine.SSTableInfo) []SSTableInfo {
	out := make([]SSTableInfo, len(infos))
	for i, info := range infos {
		out[i] = SSTableInfo{ID: info.ID, DataSize: info.DataSize}
	}
	return out
}

// ToStatusError maps any error raised while servicing a compaction
// request onto a single gRPC Internal status, per the error handling
// design: compaction errors abort the request with no retry at this
// layer and are surfaced to the caller as an opaque message.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(codes.Internal, err.Error())
}
