package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveApplyAndAppendLatency(t *testing.T) {
	r := New()
	r.ObserveApplyLatency(1, 5*time.Millisecond)
	r.ObserveAppendLatency(1, 2*time.Millisecond, 3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("handler status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "rockyardkv_raft_apply_latency_seconds") {
		t.Errorf("missing apply latency series in output:\n%s", body)
	}
	if !strings.Contains(body, "rockyardkv_raft_append_entries_total") {
		t.Errorf("missing append entries series in output:\n%s", body)
	}
}

func TestSetRaftStateAndCompactionObservations(t *testing.T) {
	r := New()
	r.SetRaftState(1, 10, 1, true, 7)
	r.ObserveCompaction(50*time.Millisecond, 2, 1)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "rockyardkv_raft_is_leader") {
		t.Errorf("missing leader gauge in output:\n%s", body)
	}
	if !strings.Contains(body, "rockyardkv_compaction_duration_seconds") {
		t.Errorf("missing compaction duration series in output:\n%s", body)
	}
}
