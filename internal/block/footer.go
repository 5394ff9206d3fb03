// footer.go implements the fixed trailer written at the end of every SST
// file: handles to the metaindex and index blocks plus a magic number.
//
// Unlike the teacher format this package started from, the footer here has
// a single encoding: we never need to interoperate with an externally
// produced file, so there is no legacy layout and no context checksum.
package block

import (
	"encoding/binary"
	"errors"
)

// TableMagicNumber identifies a file produced by this package's builder.
const TableMagicNumber uint64 = 0x524b59444221 // "RKYDB!" in ASCII, arbitrary but stable

// FormatVersion is the only footer layout this package writes or reads.
const FormatVersion uint32 = 1

// EncodedFooterLength is the fixed size of an encoded footer:
// checksum_type(1) + metaindex handle(<=20) + index handle(<=20) +
// format_version(4) + magic(8), padded to a constant size so Open() can
// always seek to a known offset from the end of the file.
const EncodedFooterLength = 1 + 2*MaxEncodedLength + 4 + MagicNumberLengthByte

// MagicNumberLengthByte is the size in bytes of the trailing magic number.
const MagicNumberLengthByte = 8

// ErrBadFooter is returned when a footer cannot be decoded or fails to
// match the expected magic number / format version.
var ErrBadFooter = errors.New("block: corrupted or unrecognized footer")

// Footer is the fixed information stored at the tail of every SST file.
type Footer struct {
	MetaindexHandle Handle
	IndexHandle     Handle
	ChecksumType    ChecksumType
	FormatVersion   uint32
}

// ChecksumType identifies the checksum algorithm protecting each block.
// Values match internal/checksum.Type numbering exactly so callers can
// convert with a plain cast.
type ChecksumType uint8

const (
	ChecksumTypeNone     ChecksumType = 0
	ChecksumTypeCRC32C   ChecksumType = 1
	ChecksumTypeXXHash   ChecksumType = 2
	ChecksumTypeXXHash64 ChecksumType = 3
	ChecksumTypeXXH3     ChecksumType = 4
)

// CompressionType identifies the compression algorithm applied to a block.
// It mirrors compression.Type so callers can round-trip a byte without
// importing the compression package from block.
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionZlib   CompressionType = 2
	CompressionLZ4    CompressionType = 4
	CompressionLZ4HC  CompressionType = 5
	CompressionZstd   CompressionType = 7
)

// BlockTrailerSize is the size of the per-block trailer: one compression
// type byte plus a 4-byte checksum.
const BlockTrailerSize = 5

// EncodeTo serializes the footer into a fixed-length buffer.
func (f *Footer) EncodeTo() []byte {
	buf := make([]byte, EncodedFooterLength)
	buf[0] = byte(f.ChecksumType)

	// The index handle always starts at a fixed offset so the padding
	// region is deterministic, regardless of the metaindex handle's
	// actual encoded size.
	encoded := f.MetaindexHandle.EncodeTo(nil)
	copy(buf[1:], encoded)

	cur := 1 + MaxEncodedLength
	encoded = f.IndexHandle.EncodeTo(nil)
	copy(buf[cur:], encoded)

	tail := EncodedFooterLength - 4 - MagicNumberLengthByte
	binary.LittleEndian.PutUint32(buf[tail:], f.FormatVersion)
	binary.LittleEndian.PutUint64(buf[tail+4:], TableMagicNumber)
	return buf
}

// DecodeFooter decodes a footer from the last EncodedFooterLength bytes of
// an SST file.
func DecodeFooter(data []byte) (*Footer, error) {
	if len(data) < EncodedFooterLength {
		return nil, ErrBadFooter
	}
	data = data[len(data)-EncodedFooterLength:]

	magicOffset := EncodedFooterLength - MagicNumberLengthByte
	magic := binary.LittleEndian.Uint64(data[magicOffset:])
	if magic != TableMagicNumber {
		return nil, ErrBadFooter
	}

	f := &Footer{ChecksumType: ChecksumType(data[0])}
	f.FormatVersion = binary.LittleEndian.Uint32(data[magicOffset-4:])
	if f.FormatVersion > FormatVersion {
		return nil, ErrBadFooter
	}

	var err error
	f.MetaindexHandle, err = DecodeHandleFrom(data[1:])
	if err != nil {
		return nil, err
	}
	f.IndexHandle, err = DecodeHandleFrom(data[1+MaxEncodedLength:])
	if err != nil {
		return nil, err
	}
	return f, nil
}
