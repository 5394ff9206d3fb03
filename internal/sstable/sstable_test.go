package sstable

import (
	"bytes"
	"testing"

	"github.com/rockyard-io/rockyardkv/internal/block"
	"github.com/rockyard-io/rockyardkv/internal/compression"
	"github.com/rockyard-io/rockyardkv/internal/ikey"
)

type sliceReaderAt struct{ data []byte }

func (s sliceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, s.data[off:])
	return n, nil
}

func buildTable(t *testing.T, opts Options, entries [][2]string) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	b := NewBuilder(buf, opts)
	for i, e := range entries {
		key := ikey.New([]byte(e[0]), ikey.Sequence(100+i), ikey.TypeValue)
		if err := b.Add(key, []byte(e[1])); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if _, err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return buf
}

func TestBuilderReaderRoundTrip(t *testing.T) {
	entries := [][2]string{
		{"alpha", "1"},
		{"beta", "2"},
		{"gamma", "3"},
		{"delta", "4"},
	}
	// sort by user key ascending as Add requires
	ordered := [][2]string{entries[0], entries[1], entries[3], entries[2]}

	opts := DefaultOptions(42)
	opts.BlockCapacity = 1 // force a block flush after every entry
	buf := buildTable(t, opts, ordered)

	r, err := Open(42, sliceReaderAt{buf.Bytes()}, int64(buf.Len()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.ID() != 42 {
		t.Errorf("ID() = %d, want 42", r.ID())
	}

	it := r.NewIterator()
	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(ikey.UserKey(it.Key())))
	}
	if err := it.Error(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	want := []string{"alpha", "beta", "delta", "gamma"}
	if len(got) != len(want) {
		t.Fatalf("got %v entries, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}

	for _, k := range want {
		if !r.MayContain([]byte(k)) {
			t.Errorf("MayContain(%q) = false, want true", k)
		}
	}

	if v, ok := r.Property("num_entries"); !ok || len(v) == 0 {
		t.Errorf("Property(num_entries) missing")
	}
}

func TestBuilderReaderRoundTripCompressed(t *testing.T) {
	opts := DefaultOptions(7)
	opts.Compression = compression.SnappyCompression
	opts.ChecksumType = block.ChecksumTypeCRC32C
	buf := buildTable(t, opts, [][2]string{{"k1", "value-one"}, {"k2", "value-two"}})

	r, err := Open(7, sliceReaderAt{buf.Bytes()}, int64(buf.Len()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	it := r.NewIterator()
	it.SeekToFirst()
	if !it.Valid() {
		t.Fatal("expected at least one entry")
	}
	if string(it.Value()) != "value-one" {
		t.Errorf("Value() = %q, want %q", it.Value(), "value-one")
	}
}

func TestSeekLandsOnFirstKeyGreaterOrEqual(t *testing.T) {
	opts := DefaultOptions(1)
	opts.BlockCapacity = 1
	buf := buildTable(t, opts, [][2]string{{"a", "1"}, {"c", "2"}, {"e", "3"}})

	r, err := Open(1, sliceReaderAt{buf.Bytes()}, int64(buf.Len()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	it := r.NewIterator()
	it.Seek(ikey.SeekKey([]byte("b")))
	if !it.Valid() {
		t.Fatal("expected Seek to land on an entry")
	}
	if got := string(ikey.UserKey(it.Key())); got != "c" {
		t.Errorf("Seek(b) landed on %q, want %q", got, "c")
	}
}
