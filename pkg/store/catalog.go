package store

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/exp/slices"
)

// Flags are fixed when a sub-database is created.
type Flags uint8

const (
	// Create makes OpenDB create the sub-database if it is missing.
	Create Flags = 1 << iota
	// DupSort allows many sorted values per key.
	DupSort
)

// persisted flags, Create is an open mode only.
const storedFlags = DupSort

// DBI is a handle to a sub-database.
type DBI struct {
	id   byte
	name string
	dup  bool
}

func (d DBI) Name() string  { return d.name }
func (d DBI) IsDup() bool   { return d.dup }
func (d DBI) prefix() []byte { return []byte{d.id} }

// meta keys live under prefix 0x00 and are not counted as usage.
const metaID = 0x00

var (
	metaUsed    = []byte{metaID, 'u'}
	metaLimit   = []byte{metaID, 'l'}
	metaNext    = []byte{metaID, 'n'}
	metaCatalog = []byte{metaID, 'c'}
)

func (s *Store) loadMeta() error {
	return s.db.View(func(btx *badger.Txn) (err error) {
		s.used.Store(readMetaInt(btx, metaUsed))
		limit := readMetaInt(btx, metaLimit)
		if limit == 0 {
			limit = s.MapSize
		}
		s.limit.Store(limit)
		it := btx.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(metaCatalog); it.ValidForPrefix(metaCatalog); it.Next() {
			item := it.Item()
			var v []byte
			if v, err = item.ValueCopy(nil); chk.E(err) {
				return
			}
			if len(v) != 2 {
				log.W.F("store %s: malformed catalog entry %q", s.Name,
					item.Key())
				continue
			}
			name := string(item.Key()[len(metaCatalog):])
			s.dbis[name] = DBI{id: v[0], name: name,
				dup: Flags(v[1])&DupSort != 0}
		}
		return nil
	})
}

func readMetaInt(btx *badger.Txn, k []byte) int64 {
	item, err := btx.Get(k)
	if err != nil {
		return 0
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return 0
	}
	return bytesInt64(v)
}

// OpenDB returns the handle for the named sub-database, creating it in its
// own transaction when Create is set. The DupSort flag must match the flag
// the sub-database was created with.
func (s *Store) OpenDB(name string, flags Flags) (d DBI, err error) {
	if s.closed.Load() {
		return d, ErrClosed
	}
	s.cmx.Lock()
	existing, ok := s.dbis[name]
	s.cmx.Unlock()
	if ok {
		if existing.dup != (flags&DupSort != 0) {
			return d, ErrIncompatible
		}
		return existing, nil
	}
	if flags&Create == 0 {
		return d, ErrNotFound
	}
	err = s.Update(func(tx *Txn) (err error) {
		s.cmx.Lock()
		defer s.cmx.Unlock()
		// a concurrent OpenDB may have created it while we waited.
		if existing, ok = s.dbis[name]; ok {
			d = existing
			if existing.dup != (flags&DupSort != 0) {
				return ErrIncompatible
			}
			return nil
		}
		if len(s.dbis) >= s.MaxDBs {
			return ErrDBsFull
		}
		next := readMetaInt(tx.btx, metaNext)
		if next == 0 {
			next = 1
		}
		if next > maxDBID {
			return ErrDBsFull
		}
		d = DBI{id: byte(next), name: name, dup: flags&DupSort != 0}
		ck := append(append([]byte{}, metaCatalog...), name...)
		if err = tx.setMeta(ck, []byte{d.id, byte(flags & storedFlags)}); err != nil {
			return
		}
		if err = tx.setMeta(metaNext, int64Bytes(next+1)); err != nil {
			return
		}
		return
	})
	if err != nil {
		if !errors.Is(err, ErrIncompatible) {
			log.E.F("store %s: creating sub-database %s: %v", s.Name, name, err)
		}
		return DBI{}, err
	}
	s.cmx.Lock()
	s.dbis[name] = d
	s.cmx.Unlock()
	log.T.F("store %s: sub-database %s has prefix %d", s.Name, name, d.id)
	return
}

// DBs lists the sub-databases in creation order.
func (s *Store) DBs() (out []DBI) {
	s.cmx.Lock()
	defer s.cmx.Unlock()
	for _, d := range s.dbis {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b DBI) int { return int(a.id) - int(b.id) })
	return
}
