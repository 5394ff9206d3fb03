// Package ikey implements the internal key format shared by the SST store
// and the compaction engine.
//
// An internal key is the concatenation of a user key and an 8-byte trailer
// packing a 56-bit sequence number and a 1-byte value type. Internal keys
// sort by user key ascending, then by trailer descending, so the newest
// version of a key is encountered first during iteration.
package ikey

import (
	"errors"
	"fmt"

	"github.com/rockyard-io/rockyardkv/internal/encoding"
)

// Sequence is a 56-bit monotonically increasing commit order. Lower values
// are older.
type Sequence uint64

// MaxSequence is the largest representable sequence number.
const MaxSequence Sequence = (1 << 56) - 1

// TrailerSize is the size in bytes of the packed (sequence, type) trailer.
const TrailerSize = 8

// ValueType distinguishes a live value from a tombstone. Only two kinds of
// record are representable on disk.
type ValueType uint8

const (
	// TypeTombstone marks a deletion of the user key at this sequence.
	TypeTombstone ValueType = 0x00
	// TypeValue marks a live Put at this sequence.
	TypeValue ValueType = 0x01
)

// seekTrailerType is the value type used when constructing a seek key for a
// user key: it must sort before every real entry for that user key, which
// means it needs the highest trailer, i.e. the largest type byte.
const seekTrailerType = TypeValue

var (
	// ErrKeyTooShort is returned when a buffer is too small to hold a trailer.
	ErrKeyTooShort = errors.New("ikey: internal key shorter than trailer")
	// ErrInvalidType is returned when a decoded value type is unrecognized.
	ErrInvalidType = errors.New("ikey: invalid value type")
)

// PackTrailer packs a sequence and value type into the 8-byte trailer used
// at the tail of every internal key.
func PackTrailer(seq Sequence, t ValueType) uint64 {
	return (uint64(seq) << 8) | uint64(t)
}

// UnpackTrailer splits a packed trailer back into sequence and value type.
func UnpackTrailer(packed uint64) (Sequence, ValueType) {
	return Sequence(packed >> 8), ValueType(packed & 0xFF)
}

// Parsed is a decomposed internal key: the user key plus the commit
// metadata carried in the trailer.
type Parsed struct {
	UserKey  []byte
	Sequence Sequence
	Type     ValueType
}

func (p Parsed) String() string {
	return fmt.Sprintf("%q@%d/%d", p.UserKey, p.Sequence, p.Type)
}

// Append appends the encoding of p to dst and returns the extended slice.
func Append(dst []byte, p Parsed) []byte {
	dst = append(dst, p.UserKey...)
	return encoding.AppendFixed64(dst, PackTrailer(p.Sequence, p.Type))
}

// New builds an encoded internal key from its parts.
func New(userKey []byte, seq Sequence, t ValueType) []byte {
	return Append(make([]byte, 0, len(userKey)+TrailerSize), Parsed{UserKey: userKey, Sequence: seq, Type: t})
}

// Parse decomposes an encoded internal key. The returned UserKey aliases
// the input slice.
func Parse(key []byte) (Parsed, error) {
	n := len(key)
	if n < TrailerSize {
		return Parsed{}, ErrKeyTooShort
	}
	packed := encoding.DecodeFixed64(key[n-TrailerSize:])
	seq, t := UnpackTrailer(packed)
	if t != TypeValue && t != TypeTombstone {
		return Parsed{UserKey: key[:n-TrailerSize], Sequence: seq, Type: t}, ErrInvalidType
	}
	return Parsed{UserKey: key[:n-TrailerSize], Sequence: seq, Type: t}, nil
}

// UserKey returns the user-key prefix of an encoded internal key, or nil if
// key is shorter than a trailer.
func UserKey(key []byte) []byte {
	if len(key) < TrailerSize {
		return nil
	}
	return key[:len(key)-TrailerSize]
}

// ExtractSequence returns the sequence number embedded in an internal key.
func ExtractSequence(key []byte) Sequence {
	if len(key) < TrailerSize {
		return 0
	}
	n := len(key)
	return Sequence(encoding.DecodeFixed64(key[n-TrailerSize:]) >> 8)
}

// ExtractType returns the value type embedded in an internal key.
func ExtractType(key []byte) ValueType {
	if len(key) < TrailerSize {
		return TypeTombstone
	}
	n := len(key)
	return ValueType(encoding.DecodeFixed64(key[n-TrailerSize:]) & 0xFF)
}

// SeekKey builds an internal key that sorts before any real entry for
// userKey: the same user key with the highest possible trailer.
func SeekKey(userKey []byte) []byte {
	return New(userKey, MaxSequence, seekTrailerType)
}

// BytewiseCompare is the default user-key ordering: plain lexicographic
// byte comparison.
func BytewiseCompare(a, b []byte) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Compare orders two encoded internal keys: user key ascending, then
// trailer descending (higher sequence/type sorts first).
func Compare(a, b []byte) int {
	ua, ub := UserKey(a), UserKey(b)
	if ua == nil {
		ua = a
	}
	if ub == nil {
		ub = b
	}
	if c := BytewiseCompare(ua, ub); c != 0 {
		return c
	}
	if len(a) < TrailerSize || len(b) < TrailerSize {
		return 0
	}
	ta := encoding.DecodeFixed64(a[len(a)-TrailerSize:])
	tb := encoding.DecodeFixed64(b[len(b)-TrailerSize:])
	switch {
	case ta > tb:
		return -1
	case ta < tb:
		return 1
	default:
		return 0
	}
}
