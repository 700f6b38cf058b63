// Package store wraps badger with named sub-databases, duplicate-sorted
// sub-databases, nested transactions, cursors and a byte limit that is
// reported as ErrStoreFull when a write would exceed it.
//
// Every sub-database owns a one byte key prefix allocated from a catalog kept
// under prefix 0x00. A single writer transaction is open at a time, readers
// run against badger snapshots.
package store

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/Hubmakerlabs/localstr/pkg/slog"
	"github.com/Hubmakerlabs/localstr/pkg/units"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

var log, chk = slog.New(os.Stderr)

// Config is the static configuration of one store file.
type Config struct {
	// Name is the directory of the store under the environment directory.
	Name string `json:"name"`
	// MapSize is the byte limit used when the store is first created.
	MapSize int64 `json:"map_size"`
	// GrowBy is how much Grow raises the limit by. Zero disables growth.
	GrowBy int64 `json:"grow_by"`
	// MaxDBs caps the number of sub-databases.
	MaxDBs int `json:"max_dbs"`
	// MemTableSize is passed to badger and also bounds the size of a single
	// transaction to about 15% of it.
	MemTableSize int64 `json:"mem_table_size,omitempty"`
	// LogLevel is the highest slog level badger messages are passed at.
	LogLevel int `json:"log_level,omitempty"`
}

const (
	DefaultMaxDBs       = 16
	DefaultMemTableSize = 16 * units.MiB
	maxDBID             = 0xFE
)

// Stat reports the byte accounting of a store.
type Stat struct {
	Used  int64
	Limit int64
	DBs   int
}

type Store struct {
	Config
	Path string
	db   *badger.DB

	// wmx is held by the outermost write transaction for its lifetime.
	wmx sync.Mutex
	// cmx guards the catalog cache.
	cmx  sync.Mutex
	dbis map[string]DBI

	used   atomic.Int64
	limit  atomic.Int64
	closed atomic.Bool
}

// Open opens or creates the store cfg.Name inside dir.
func Open(dir string, cfg Config) (s *Store, err error) {
	if cfg.MaxDBs <= 0 {
		cfg.MaxDBs = DefaultMaxDBs
	}
	if cfg.MaxDBs > maxDBID {
		cfg.MaxDBs = maxDBID
	}
	if cfg.MemTableSize <= 0 {
		cfg.MemTableSize = DefaultMemTableSize
	}
	s = &Store{
		Config: cfg,
		Path:   filepath.Join(dir, cfg.Name),
		dbis:   make(map[string]DBI),
	}
	log.D.Ln("opening store", s.Path)
	opts := badger.DefaultOptions(s.Path)
	opts.Compression = options.ZSTD
	opts.MemTableSize = cfg.MemTableSize
	// badger refuses values above its batch size, which small tables shrink.
	if batch := cfg.MemTableSize * 15 / 100; opts.ValueThreshold > batch {
		opts.ValueThreshold = batch
	}
	opts.BlockCacheSize = 32 * units.MiB
	opts.BlockSize = 16 * units.KiB
	opts.NumVersionsToKeep = 1
	opts.CompactL0OnClose = true
	opts.Logger = logger{Level: cfg.LogLevel, Label: cfg.Name}
	if s.db, err = badger.Open(opts); chk.E(err) {
		return nil, err
	}
	if err = s.loadMeta(); chk.E(err) {
		_ = s.db.Close()
		return nil, err
	}
	log.T.F("store %s used %d of %d", s.Name, s.used.Load(), s.limit.Load())
	return
}

// Close waits for the active writer to finish and closes badger.
func (s *Store) Close() (err error) {
	s.wmx.Lock()
	defer s.wmx.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	log.D.Ln("closing store", s.Path)
	return s.db.Close()
}

// Stat reports the committed usage and the current limit.
func (s *Store) Stat() Stat {
	s.cmx.Lock()
	n := len(s.dbis)
	s.cmx.Unlock()
	return Stat{Used: s.used.Load(), Limit: s.limit.Load(), DBs: n}
}

// Grow raises the limit by GrowBy and persists it. It is the caller's choice
// to grow rather than evict when ErrStoreFull is returned.
func (s *Store) Grow() (limit int64, err error) {
	if s.GrowBy <= 0 {
		return s.limit.Load(), ErrStoreFull
	}
	err = s.Update(func(tx *Txn) error {
		limit = s.limit.Load() + s.GrowBy
		return tx.setMeta(metaLimit, int64Bytes(limit))
	})
	if err == nil {
		s.limit.Store(limit)
		log.I.F("store %s limit raised to %d", s.Name, limit)
	}
	return
}

// Begin starts an outermost transaction. A write transaction blocks until
// any other writer finishes.
func (s *Store) Begin(readOnly bool) (tx *Txn, err error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if !readOnly {
		s.wmx.Lock()
		if s.closed.Load() {
			s.wmx.Unlock()
			return nil, ErrClosed
		}
	}
	tx = &Txn{
		s:        s,
		btx:      s.db.NewTransaction(!readOnly),
		readOnly: readOnly,
		gen:      new(uint64),
	}
	return
}

// Update runs fn in a new write transaction, committing if fn returns nil.
func (s *Store) Update(fn func(tx *Txn) error) error { return s.Run(nil, fn) }

// View runs fn in a read transaction.
func (s *Store) View(fn func(tx *Txn) error) (err error) {
	var tx *Txn
	if tx, err = s.Begin(true); err != nil {
		return
	}
	defer tx.Abort()
	return fn(tx)
}

// Run executes fn in a child of parent, or in a new write transaction when
// parent is nil. The transaction commits when fn returns nil and aborts
// otherwise, so a failing fn leaves parent as it was.
func (s *Store) Run(parent *Txn, fn func(tx *Txn) error) (err error) {
	var tx *Txn
	if parent == nil {
		tx, err = s.Begin(false)
	} else if parent.s != s {
		err = ErrBadTxn
	} else {
		tx, err = parent.Child()
	}
	if err != nil {
		return
	}
	if err = fn(tx); err != nil {
		tx.Abort()
		return
	}
	return tx.Commit()
}

// Drop deletes every entry of the given sub-databases, keeping them in the
// catalog. It waits for the active writer and runs outside any transaction,
// so it is not bounded by the transaction size.
func (s *Store) Drop(ds ...DBI) (err error) {
	if len(ds) == 0 {
		return
	}
	s.wmx.Lock()
	defer s.wmx.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}
	var freed int64
	prefixes := make([][]byte, 0, len(ds))
	err = s.db.View(func(btx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		for _, d := range ds {
			opts.Prefix = d.prefix()
			it := btx.NewIterator(opts)
			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				freed += int64(len(item.Key())) + item.ValueSize()
			}
			it.Close()
			prefixes = append(prefixes, d.prefix())
		}
		return nil
	})
	if err != nil {
		return mapErr(err)
	}
	if err = s.db.DropPrefix(prefixes...); chk.E(err) {
		return mapErr(err)
	}
	used := s.used.Load() - freed
	if used < 0 {
		used = 0
	}
	if err = s.db.Update(func(btx *badger.Txn) error {
		return btx.Set(metaUsed, int64Bytes(used))
	}); chk.E(err) {
		return mapErr(err)
	}
	s.used.Store(used)
	log.D.F("store %s: dropped %d sub-databases, freed %d bytes", s.Name,
		len(ds), freed)
	return
}

func int64Bytes(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func bytesInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
