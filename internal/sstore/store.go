// Package sstore is the SST store: the data plane shared by the
// compaction engine and FSM readers. It maps SST ids to immutable
// content-addressed files, keeps each table's file open after first
// access, and optionally read-through populates a block cache.
package sstore

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/rockyard-io/rockyardkv/internal/cache"
	"github.com/rockyard-io/rockyardkv/internal/errs"
	"github.com/rockyard-io/rockyardkv/internal/sstable"
	"github.com/rockyard-io/rockyardkv/internal/vfs"
)

// CachePolicy controls whether a read-through populates the block cache.
type CachePolicy int

const (
	// Fill populates the block cache with blocks read during this call.
	Fill CachePolicy = iota
	// NotFill serves from the cache if present but never populates it;
	// used for one-shot scans (e.g. a full compaction pass) that would
	// otherwise evict working-set blocks other readers rely on.
	NotFill
)

// Options configures a Store.
type Options struct {
	FS         vfs.FS
	Dir        string
	BlockCache uint64 // capacity in bytes; 0 disables caching
}

// Store is the SST store described by the contract: sstable(id) -> handle,
// put(sst, data, policy), with cache-policy-aware read-through.
type Store struct {
	fs  vfs.FS
	dir string

	blockCache *cache.LRUCache

	mu      sync.Mutex
	readers map[uint64]*sstable.Reader
	files   map[uint64]vfs.RandomAccessFile
}

// New returns a Store rooted at opts.Dir.
func New(opts Options) *Store {
	var bc *cache.LRUCache
	if opts.BlockCache > 0 {
		bc = cache.NewLRUCache(opts.BlockCache)
	}
	return &Store{
		fs:         opts.FS,
		dir:        opts.Dir,
		blockCache: bc,
		readers:    make(map[uint64]*sstable.Reader),
		files:      make(map[uint64]vfs.RandomAccessFile),
	}
}

func (s *Store) path(id uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%020d.sst", id))
}

// Put persists data as the table identified by id and, per policy,
// populates the block cache for subsequent reads.
func (s *Store) Put(id uint64, data []byte, policy CachePolicy) error {
	f, err := s.fs.Create(s.path(id))
	if err != nil {
		return errs.New(errs.Storage, "sstore.Put.create", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errs.New(errs.Storage, "sstore.Put.write", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errs.New(errs.Storage, "sstore.Put.sync", err)
	}
	if err := f.Close(); err != nil {
		return errs.New(errs.Storage, "sstore.Put.close", err)
	}

	if policy == Fill && s.blockCache != nil {
		// Stash the whole table under offset 0. cachingReaderAt serves a
		// cached value only to a read of exactly its length at its offset,
		// so footer and block reads do not hit this entry.
		s.blockCache.Insert(cache.CacheKey{SSTableID: id, BlockOffset: 0}, data, uint64(len(data)))
	}
	return nil
}

// Sstable returns a reader for id. The file is opened on first access and
// kept open; the table is parsed again on every call, so each returned
// reader uses this call's policy. Per the SST store contract, policy
// governs whether blocks this
// call causes to be read populate the block cache (Fill) or are served
// without disturbing it (NotFill, for one-shot scans like compaction).
func (s *Store) Sstable(id uint64, policy CachePolicy) (*sstable.Reader, error) {
	s.mu.Lock()
	f, cached := s.files[id]
	if !cached {
		var err error
		f, err = s.fs.OpenRandomAccess(s.path(id))
		if err != nil {
			s.mu.Unlock()
			return nil, errs.New(errs.Storage, "sstore.Sstable.open", err)
		}
		s.files[id] = f
	}
	s.mu.Unlock()

	var ra io.ReaderAt = f
	if s.blockCache != nil {
		ra = &cachingReaderAt{ra: ra, cache: s.blockCache, fileNum: id, fill: policy == Fill}
	}

	r, err := sstable.Open(id, ra, f.Size())
	if err != nil {
		return nil, errs.New(errs.Storage, "sstore.Sstable.parse", err)
	}

	s.mu.Lock()
	s.readers[id] = r
	s.mu.Unlock()
	return r, nil
}

// Evict drops a table's reader and its offset-0 block-cache entry and
// closes its backing file, typically called once a manifest commit makes
// the table unreferenced. The table's other cached blocks stay in the
// block cache until LRU eviction removes them.
func (s *Store) Evict(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.readers, id)
	f, ok := s.files[id]
	delete(s.files, id)
	if s.blockCache != nil {
		s.blockCache.Erase(cache.CacheKey{SSTableID: id, BlockOffset: 0})
	}
	if !ok {
		return nil
	}
	return f.Close()
}

// cachingReaderAt wraps a RandomAccessFile's ReadAt with a read-through
// block cache keyed by (file id, offset).
type cachingReaderAt struct {
	ra      io.ReaderAt
	cache   *cache.LRUCache
	fileNum uint64
	fill    bool
}

func (c *cachingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	key := cache.CacheKey{SSTableID: c.fileNum, BlockOffset: uint64(off)}
	if h := c.cache.Lookup(key); h != nil {
		defer c.cache.Release(h)
		if len(h.Value()) == len(p) {
			n := copy(p, h.Value())
			return n, nil
		}
	}

	n, err := c.ra.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, err
	}

	if c.fill {
		cached := make([]byte, n)
		copy(cached, p[:n])
		c.cache.Insert(key, cached, uint64(n))
	}
	return n, err
}
