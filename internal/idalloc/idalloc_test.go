package idalloc

import "testing"

func TestNextIsMonotonicAndNodeScoped(t *testing.T) {
	a := New(7, 0)
	first := a.Next()
	second := a.Next()
	if second <= first {
		t.Fatalf("ids not monotonic: %d then %d", first, second)
	}
	node, local := Unpack(first)
	if node != 7 || local != 1 {
		t.Errorf("Unpack(first) = (%d,%d), want (7,1)", node, local)
	}
}

func TestResumesFromLastObservedLocal(t *testing.T) {
	a := New(3, 41)
	id := a.Next()
	node, local := Unpack(id)
	if node != 3 || local != 42 {
		t.Errorf("Unpack(id) = (%d,%d), want (3,42)", node, local)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	id := Pack(1234, 5678)
	node, local := Unpack(id)
	if node != 1234 || local != 5678 {
		t.Errorf("round trip = (%d,%d), want (1234,5678)", node, local)
	}
}

func TestDistinctNodesNeverCollide(t *testing.T) {
	a := New(1, 0)
	b := New(2, 0)
	if a.Next() == b.Next() {
		t.Fatal("ids from distinct nodes collided")
	}
}
