package raftlog

import (
	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"

	"github.com/rockyard-io/rockyardkv/internal/errs"
)

// Batch is one atomically persisted group of entries, keyed by (raft_node,
// index) through the Store's own identity.
type Batch struct {
	Entries  []raftpb.Entry
	Contexts map[uint64][]byte // index -> opaque client context
}

// Append atomically persists batch: every entry's record is written
// before any is acknowledged, and the entry log is fsynced first when the
// store is configured for Sync mode. Batching here is what amortizes the
// cost of handle_ready step 5 across many proposals.
func (s *Store) Append(batch Batch) error {
	if len(batch.Entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Raft requires the new entries to start no later than the index right
	// after our last one; an overlap truncates the conflicting suffix,
	// matching etcd raft's MemoryStorage.Append.
	first := batch.Entries[0].Index
	if last := s.lastIndexLocked(); first <= last {
		s.entries = s.entries[:first-s.entries[0].Index]
	}

	for _, e := range batch.Entries {
		if err := s.appendRecordsLocked(e, batch.Contexts[e.Index]); err != nil {
			return err
		}
		s.entries = append(s.entries, e)
		if ctx, ok := batch.Contexts[e.Index]; ok {
			s.contexts[e.Index] = ctx
		}
	}

	if s.syncMode == Sync {
		if err := s.entryLog.Sync(); err != nil {
			return errs.New(errs.Storage, "raftlog.Append.sync", err)
		}
		if err := s.ctxLog.Sync(); err != nil {
			return errs.New(errs.Storage, "raftlog.Append.sync", err)
		}
	}
	return nil
}

func (s *Store) appendRecordsLocked(e raftpb.Entry, context []byte) error {
	if _, err := s.entryLog.AddRecord(encodeEntryRecord(e)); err != nil {
		return errs.New(errs.Storage, "raftlog.appendRecordsLocked.entry", err)
	}
	if len(context) > 0 {
		if _, err := s.ctxLog.AddRecord(encodeContextRecord(e.Index, context)); err != nil {
			return errs.New(errs.Storage, "raftlog.appendRecordsLocked.context", err)
		}
	}
	return nil
}

// PutHardState overwrites the single HardState slot.
func (s *Store) PutHardState(hs raftpb.HardState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hardState = hs
	return s.writeSlot("hardstate.bin", &hs)
}

// PutConfState overwrites the single ConfState slot.
func (s *Store) PutConfState(cs raftpb.ConfState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confState = cs
	return s.writeSlot("confstate.bin", &cs)
}

type marshaler interface {
	Marshal() ([]byte, error)
}

func (s *Store) writeSlot(name string, m marshaler) error {
	data, err := m.Marshal()
	if err != nil {
		return errs.New(errs.Serde, "raftlog.writeSlot", err)
	}
	f, err := s.fs.Create(s.dir + "/" + name)
	if err != nil {
		return errs.New(errs.Storage, "raftlog.writeSlot.create", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errs.New(errs.Storage, "raftlog.writeSlot.write", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errs.New(errs.Storage, "raftlog.writeSlot.sync", err)
	}
	return f.Close()
}

// Context returns the opaque client context stored alongside entry index,
// if any.
func (s *Store) Context(index uint64) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[index]
	return c, ok
}

// --- go.etcd.io/etcd/raft/v3.Storage ---

// InitialState returns the saved HardState and ConfState.
func (s *Store) InitialState() (raftpb.HardState, raftpb.ConfState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hardState, s.confState, nil
}

// Entries returns entries in [lo, hi) capped by maxSize bytes, per raft's
// standard log-query contract.
func (s *Store) Entries(lo, hi, maxSize uint64) ([]raftpb.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offset := s.entries[0].Index
	if lo <= offset {
		return nil, raft.ErrCompacted
	}
	if hi > s.lastIndexLocked()+1 {
		return nil, errs.New(errs.RaftProtocol, "raftlog.Entries", raft.ErrUnavailable)
	}

	ents := s.entries[lo-offset : hi-offset]
	if len(ents) == 0 {
		return ents, nil
	}
	return limitSize(ents, maxSize), nil
}

func limitSize(ents []raftpb.Entry, maxSize uint64) []raftpb.Entry {
	if maxSize == 0 || len(ents) <= 1 {
		return ents
	}
	size := uint64(ents[0].Size())
	var i int
	for i = 1; i < len(ents); i++ {
		size += uint64(ents[i].Size())
		if size > maxSize {
			break
		}
	}
	return ents[:i]
}

// Term returns the term of the entry at index.
func (s *Store) Term(index uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offset := s.entries[0].Index
	if index < offset {
		return 0, raft.ErrCompacted
	}
	if int(index-offset) >= len(s.entries) {
		return 0, raft.ErrUnavailable
	}
	return s.entries[index-offset].Term, nil
}

// LastIndex returns the index of the last entry in the log.
func (s *Store) LastIndex() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastIndexLocked(), nil
}

func (s *Store) lastIndexLocked() uint64 {
	return s.entries[0].Index + uint64(len(s.entries)) - 1
}

// FirstIndex returns the index of the first entry possibly available
// (i.e. one past any compaction point).
func (s *Store) FirstIndex() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[0].Index + 1, nil
}

// Snapshot returns the most recent snapshot. Snapshot transfer is stubbed
// per the open question on apply_snapshot; this always reports none
// available.
func (s *Store) Snapshot() (raftpb.Snapshot, error) {
	return raftpb.Snapshot{}, raft.ErrSnapshotTemporarilyUnavailable
}

var _ raft.Storage = (*Store)(nil)
