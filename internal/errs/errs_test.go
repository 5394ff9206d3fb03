package errs

import (
	"errors"
	"testing"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	base := errors.New("disk full")
	err := New(Storage, "append", base)
	if !Is(err, Storage) {
		t.Error("Is(err, Storage) = false, want true")
	}
	if Is(err, Transport) {
		t.Error("Is(err, Transport) = true, want false")
	}
	if !errors.Is(err, base) {
		t.Error("errors.Is should see through to the wrapped cause")
	}
}

func TestKindOfDefaultsToOther(t *testing.T) {
	if KindOf(errors.New("plain")) != Other {
		t.Error("KindOf(plain error) should default to Other")
	}
}

func TestNewWithNilErrReturnsNil(t *testing.T) {
	if New(Storage, "op", nil) != nil {
		t.Error("New with nil err should return nil")
	}
}
