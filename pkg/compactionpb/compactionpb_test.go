package compactionpb

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rockyard-io/rockyardkv/internal/block"
	"github.com/rockyard-io/rockyardkv/internal/compactionengine"
	"github.com/rockyard-io/rockyardkv/internal/compression"
)

func TestToEngineRequestTranslatesFields(t *testing.T) {
	wire := CompactRequest{
		SSTIDs:                 []uint64{1, 2},
		SSTableCapacity:        1024,
		BlockCapacity:          4096,
		RestartInterval:        16,
		BloomFalsePositiveRate: 0.01,
		CompressionAlgorithm:   CompressionLz4,
		Watermark:              7,
		RemoveTombstone:        true,
		PartitionPoints:        [][]byte{[]byte("m")},
	}
	req := wire.ToEngineRequest(block.ChecksumTypeXXHash64)
	if req.CompressionAlgorithm != compression.LZ4Compression {
		t.Errorf("CompressionAlgorithm = %v, want LZ4Compression", req.CompressionAlgorithm)
	}
	if req.ChecksumAlgorithm != block.ChecksumTypeXXHash64 {
		t.Errorf("ChecksumAlgorithm = %v, want XXHash64", req.ChecksumAlgorithm)
	}
	if uint64(req.Watermark) != 7 || !req.RemoveTombstone || len(req.PartitionPoints) != 1 {
		t.Errorf("req = %+v, translation mismatch", req)
	}
}

func TestFromEngineResponseTranslatesInfos(t *testing.T) {
	resp := compactionengine.Response{
		OldSSTInfos: []compactionengine.SSTableInfo{{ID: 1, DataSize: 10}},
		NewSSTInfos: []compactionengine.SSTableInfo{{ID: 2, DataSize: 20}},
	}
	wire := FromEngineResponse(resp)
	if len(wire.OldSSTInfos) != 1 || wire.OldSSTInfos[0].ID != 1 {
		t.Errorf("OldSSTInfos = %+v", wire.OldSSTInfos)
	}
	if len(wire.NewSSTInfos) != 1 || wire.NewSSTInfos[0].DataSize != 20 {
		t.Errorf("NewSSTInfos = %+v", wire.NewSSTInfos)
	}
}

func TestToStatusErrorMapsToInternal(t *testing.T) {
	if ToStatusError(nil) != nil {
		t.Fatal("ToStatusError(nil) should be nil")
	}
	err := ToStatusError(errors.New("boom"))
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Errorf("status = %+v, want Internal", st)
	}
}
