// Package raftlog implements the durable, append-only Raft log store: one
// instance per raft_node, holding entries plus the single-slot HardState
// and ConfState records. It satisfies go.etcd.io/etcd/raft/v3's Storage
// interface so a raftworker.Worker can hand it directly to raft.NewRawNode.
package raftlog

import (
	"sync"

	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"

	"github.com/rockyard-io/rockyardkv/internal/encoding"
	"github.com/rockyard-io/rockyardkv/internal/errs"
	"github.com/rockyard-io/rockyardkv/internal/vfs"
	"github.com/rockyard-io/rockyardkv/internal/wal"
)

// SyncMode controls whether Append fsyncs before returning.
type SyncMode int

const (
	// Sync fsyncs the entry log after every Append.
	Sync SyncMode = iota
	// Async relies on the OS page cache and a periodic external sync.
	Async
)

// Options configures a Store.
type Options struct {
	FS            vfs.FS
	Dir           string
	SegmentNumber uint64
	Sync          SyncMode
}

// Store is the durable Raft log for one raft_node. Reads are served from
// an in-memory mirror of the log. Append adds each entry to the mirror
// right after writing its WAL record, and fsyncs afterwards in Sync mode
// only; Open rebuilds the mirror from the WAL files, so after a restart
// it holds exactly what those files hold.
type Store struct {
	mu sync.RWMutex

	fs  vfs.FS
	dir string

	entryFile vfs.WritableFile
	entryLog  *wal.Writer
	ctxFile   vfs.WritableFile
	ctxLog    *wal.Writer
	syncMode  SyncMode

	entries  []raftpb.Entry // entries[0] is a dummy holding (term, index) of the log's compaction point
	contexts map[uint64][]byte

	hardState raftpb.HardState
	confState raftpb.ConfState
}

// Open opens or creates the log store rooted at opts.Dir, replaying any
// existing WAL segments to rebuild the in-memory mirror.
func Open(opts Options) (*Store, error) {
	s := &Store{
		fs:       opts.FS,
		dir:      opts.Dir,
		syncMode: opts.Sync,
		entries:  []raftpb.Entry{{Term: 0, Index: 0}},
		contexts: make(map[uint64][]byte),
	}

	entryPath := opts.Dir + "/entries.log"
	ctxPath := opts.Dir + "/context.log"
	hsPath := opts.Dir + "/hardstate.bin"
	csPath := opts.Dir + "/confstate.bin"

	if err := s.replayEntries(entryPath); err != nil {
		return nil, errs.New(errs.Storage, "raftlog.Open.replayEntries", err)
	}
	if err := s.replayContexts(ctxPath); err != nil {
		return nil, errs.New(errs.Storage, "raftlog.Open.replayContexts", err)
	}
	if err := s.replayHardState(hsPath); err != nil {
		return nil, errs.New(errs.Storage, "raftlog.Open.replayHardState", err)
	}
	if err := s.replayConfState(csPath); err != nil {
		return nil, errs.New(errs.Storage, "raftlog.Open.replayConfState", err)
	}

	ef, err := s.fs.Create(entryPath)
	if err != nil {
		return nil, errs.New(errs.Storage, "raftlog.Open.createEntries", err)
	}
	cf, err := s.fs.Create(ctxPath)
	if err != nil {
		return nil, errs.New(errs.Storage, "raftlog.Open.createContext", err)
	}
	s.entryFile = ef
	s.ctxFile = cf
	s.entryLog = wal.NewWriter(ef, opts.SegmentNumber, false)
	s.ctxLog = wal.NewWriter(cf, opts.SegmentNumber, false)

	// Re-append the replayed state to the freshly truncated files so the
	// WAL always holds exactly the entries the in-memory mirror claims.
	for _, e := range s.entries[1:] {
		if err := s.appendRecordsLocked(e, s.contexts[e.Index]); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) replayEntries(path string) error {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil // no prior log; fresh store
	}
	defer f.Close()

	r := wal.NewReader(f, noopReporter{}, true, 0)
	for {
		rec, err := r.ReadRecord()
		if err != nil {
			return nil // EOF or trailing torn record; stop replay here
		}
		e, err := decodeEntryRecord(rec)
		if err != nil {
			continue
		}
		s.entries = append(s.entries, e)
	}
}

func (s *Store) replayContexts(path string) error {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	r := wal.NewReader(f, noopReporter{}, true, 0)
	for {
		rec, err := r.ReadRecord()
		if err != nil {
			return nil
		}
		index, n, err := encoding.DecodeVarint64(rec)
		if err != nil {
			continue
		}
		s.contexts[index] = append([]byte(nil), rec[n:]...)
	}
}

func (s *Store) replayHardState(path string) error {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	buf := make([]byte, 4096)
	n, _ := f.Read(buf)
	if n == 0 {
		return nil
	}
	return s.hardState.Unmarshal(buf[:n])
}

func (s *Store) replayConfState(path string) error {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	buf := make([]byte, 4096)
	n, _ := f.Read(buf)
	if n == 0 {
		return nil
	}
	return s.confState.Unmarshal(buf[:n])
}

type noopReporter struct{}

func (noopReporter) Corruption(bytes int, err error) {}
func (noopReporter) OldLogRecord(bytes int)               {}

// encode_entry_data(term, index, type, data): varint(index) + varint(term)
// + 1 byte type + remaining bytes is the entry body, per the durability
// encoding the Raft Worker's handle_ready step 5 relies on.
func encodeEntryRecord(e raftpb.Entry) []byte {
	buf := encoding.AppendVarint64(nil, e.Index)
	buf = encoding.AppendVarint64(buf, e.Term)
	buf = append(buf, byte(e.Type))
	buf = append(buf, e.Data...)
	return buf
}

func decodeEntryRecord(rec []byte) (raftpb.Entry, error) {
	index, n1, err := encoding.DecodeVarint64(rec)
	if err != nil {
		return raftpb.Entry{}, err
	}
	rec = rec[n1:]
	term, n2, err := encoding.DecodeVarint64(rec)
	if err != nil {
		return raftpb.Entry{}, err
	}
	rec = rec[n2:]
	if len(rec) < 1 {
		return raftpb.Entry{}, errs.New(errs.Serde, "raftlog.decodeEntryRecord", raft.ErrCompacted)
	}
	etype := raftpb.EntryType(rec[0])
	data := append([]byte(nil), rec[1:]...)
	return raftpb.Entry{Index: index, Term: term, Type: etype, Data: data}, nil
}

func encodeContextRecord(index uint64, context []byte) []byte {
	buf := encoding.AppendVarint64(nil, index)
	return append(buf, context...)
}
