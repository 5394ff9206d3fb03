package mergeiter

import (
	"bytes"
	"testing"

	"github.com/rockyard-io/rockyardkv/internal/ikey"
)

type sliceIterator struct {
	keys   [][]byte
	values [][]byte
	pos    int
}

func newSliceIterator(entries [][2]string, seqBase int) *sliceIterator {
	it := &sliceIterator{}
	for i, e := range entries {
		it.keys = append(it.keys, ikey.New([]byte(e[0]), ikey.Sequence(seqBase+i), ikey.TypeValue))
		it.values = append(it.values, []byte(e[1]))
	}
	it.pos = -1
	return it
}

func (s *sliceIterator) Valid() bool { return s.pos >= 0 && s.pos < len(s.keys) }
func (s *sliceIterator) Key() []byte { return s.keys[s.pos] }
func (s *sliceIterator) Value() []byte { return s.values[s.pos] }
func (s *sliceIterator) SeekToFirst() { s.pos = 0 }
func (s *sliceIterator) Next() { s.pos++ }
func (s *sliceIterator) Error() error { return nil }
func (s *sliceIterator) Seek(target []byte) {
	for s.pos = 0; s.pos < len(s.keys); s.pos++ {
		if bytes.Compare(s.keys[s.pos], target) >= 0 {
			return
		}
	}
}

func TestMergingIteratorOrdersAcrossChildren(t *testing.T) {
	a := newSliceIterator([][2]string{{"apple", "a1"}, {"cherry", "c1"}}, 10)
	b := newSliceIterator([][2]string{{"banana", "b1"}, {"date", "d1"}}, 10)

	mi := NewMergingIterator([]Iterator{a, b}, nil)
	mi.SeekToFirst()

	var got []string
	for mi.Valid() {
		got = append(got, string(ikey.UserKey(mi.Key())))
		mi.Next()
	}
	want := []string{"apple", "banana", "cherry", "date"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMergingIteratorBreaksTiesByInputIndex(t *testing.T) {
	// Both children hold the identical internal key; the lower-index
	// child (the "newer" input by convention) must win.
	key := ikey.New([]byte("dup"), ikey.Sequence(5), ikey.TypeValue)
	newer := &sliceIterator{keys: [][]byte{key}, values: [][]byte{[]byte("newer")}, pos: -1}
	older := &sliceIterator{keys: [][]byte{key}, values: [][]byte{[]byte("older")}, pos: -1}

	mi := NewMergingIterator([]Iterator{newer, older}, nil)
	mi.SeekToFirst()
	if !mi.Valid() {
		t.Fatal("expected a valid entry")
	}
	if string(mi.Value()) != "newer" {
		t.Errorf("Value() = %q, want %q", mi.Value(), "newer")
	}
}
