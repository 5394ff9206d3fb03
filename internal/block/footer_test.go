package block

import "testing"

func TestFooterRoundTrip(t *testing.T) {
	f := &Footer{
		MetaindexHandle: Handle{Offset: 100, Size: 40},
		IndexHandle:     Handle{Offset: 140, Size: 60},
		ChecksumType:    ChecksumTypeXXH3,
		FormatVersion:   FormatVersion,
	}
	encoded := f.EncodeTo()
	if len(encoded) != EncodedFooterLength {
		t.Fatalf("encoded length = %d, want %d", len(encoded), EncodedFooterLength)
	}

	got, err := DecodeFooter(encoded)
	if err != nil {
		t.Fatalf("DecodeFooter: %v", err)
	}
	if got.MetaindexHandle != f.MetaindexHandle {
		t.Errorf("MetaindexHandle = %+v, want %+v", got.MetaindexHandle, f.MetaindexHandle)
	}
	if got.IndexHandle != f.IndexHandle {
		t.Errorf("IndexHandle = %+v, want %+v", got.IndexHandle, f.IndexHandle)
	}
	if got.ChecksumType != f.ChecksumType {
		t.Errorf("ChecksumType = %v, want %v", got.ChecksumType, f.ChecksumType)
	}
}

func TestDecodeFooterRejectsBadMagic(t *testing.T) {
	buf := make([]byte, EncodedFooterLength)
	if _, err := DecodeFooter(buf); err == nil {
		t.Fatal("expected error for zeroed buffer with no magic number")
	}
}

func TestDecodeFooterRejectsShortBuffer(t *testing.T) {
	if _, err := DecodeFooter(make([]byte, EncodedFooterLength-1)); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
}
