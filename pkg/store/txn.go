package store

import (
	"bytes"

	"github.com/dgraph-io/badger/v4"
)

// PutFlags modify a single Put.
type PutFlags uint8

const (
	// NoOverwrite fails with ErrKeyExists if the key has any value.
	NoOverwrite PutFlags = 1 << iota
	// NoDupData fails with ErrKeyExists if the exact pair is present in a
	// duplicate-sorted sub-database.
	NoDupData
)

type undoRec struct {
	key, val []byte
	existed  bool
}

// Txn is a read or write transaction. Write transactions nest: a child shares
// the badger transaction of its parent and keeps an undo log so aborting it
// restores what the parent saw. Nothing is visible to other transactions
// until the outermost one commits.
type Txn struct {
	s        *Store
	btx      *badger.Txn
	readOnly bool
	parent   *Txn
	child    *Txn
	undo     []undoRec
	// delta is the change in usage made by this transaction and its
	// committed children.
	delta int64
	// gen counts writes across the whole nest so cursors know when their
	// iterators are stale.
	gen     *uint64
	cursors []*Cursor
	// hooks run after the outermost transaction commits.
	hooks []func()
	done  bool
}

func (t *Txn) Store() *Store  { return t.s }
func (t *Txn) ReadOnly() bool { return t.readOnly }

func (t *Txn) usable() error {
	if t.done || t.child != nil {
		return ErrBadTxn
	}
	return nil
}

func (t *Txn) writable() error {
	if err := t.usable(); err != nil {
		return err
	}
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

// Child starts a nested transaction. The parent cannot be used until the
// child commits or aborts.
func (t *Txn) Child() (c *Txn, err error) {
	if err = t.writable(); err != nil {
		return
	}
	c = &Txn{s: t.s, btx: t.btx, parent: t, gen: t.gen}
	t.child = c
	return
}

// Commit folds a child into its parent, or commits an outermost transaction
// to disk.
func (t *Txn) Commit() (err error) {
	if err = t.usable(); err != nil {
		return
	}
	t.closeCursors()
	t.done = true
	if p := t.parent; p != nil {
		if p.parent != nil {
			p.undo = append(p.undo, t.undo...)
		}
		p.delta += t.delta
		p.hooks = append(p.hooks, t.hooks...)
		p.child = nil
		return nil
	}
	if t.readOnly {
		t.btx.Discard()
		return nil
	}
	err = t.commit()
	t.s.wmx.Unlock()
	if err != nil {
		return
	}
	for _, fn := range t.hooks {
		fn()
	}
	return
}

func (t *Txn) commit() (err error) {
	if t.delta != 0 {
		used := t.s.used.Load() + t.delta
		if err = t.btx.Set(metaUsed, int64Bytes(used)); err != nil {
			t.btx.Discard()
			return mapErr(err)
		}
	}
	if err = t.btx.Commit(); err != nil {
		log.E.F("store %s: commit failed: %v", t.s.Name, err)
		return mapErr(err)
	}
	t.s.used.Add(t.delta)
	return
}

// OnCommit registers fn to run once the outermost transaction has committed
// and released the writer. Aborting t or any ancestor discards it.
func (t *Txn) OnCommit(fn func()) (err error) {
	if err = t.writable(); err != nil {
		return
	}
	t.hooks = append(t.hooks, fn)
	return
}

// Abort discards the transaction and any active descendants. Aborting a
// finished transaction does nothing.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	if t.child != nil {
		t.child.Abort()
	}
	t.closeCursors()
	t.done = true
	if p := t.parent; p != nil {
		for i := len(t.undo) - 1; i >= 0; i-- {
			u := t.undo[i]
			var err error
			if u.existed {
				err = t.btx.Set(u.key, u.val)
			} else {
				err = t.btx.Delete(u.key)
			}
			if err != nil {
				log.E.F("store %s: undo failed: %v", t.s.Name, err)
			}
		}
		*t.gen++
		t.undo, t.hooks = nil, nil
		p.child = nil
		return
	}
	t.btx.Discard()
	if !t.readOnly {
		t.s.wmx.Unlock()
	}
}

func (t *Txn) closeCursors() {
	for _, c := range t.cursors {
		c.close()
	}
	t.cursors = nil
}

func (t *Txn) rawGet(bk []byte) (val []byte, existed bool, err error) {
	var item *badger.Item
	if item, err = t.btx.Get(bk); err != nil {
		if err == badger.ErrKeyNotFound {
			err = nil
		}
		return nil, false, mapErr(err)
	}
	if val, err = item.ValueCopy(nil); err != nil {
		return nil, false, mapErr(err)
	}
	return val, true, nil
}

// chainDelta is the uncommitted usage change visible to t.
func (t *Txn) chainDelta() (d int64) {
	for x := t; x != nil; x = x.parent {
		d += x.delta
	}
	return
}

// write sets or deletes a raw key, maintaining usage, the undo log and the
// write generation.
func (t *Txn) write(bk, v []byte, del bool) (err error) {
	var old []byte
	var existed bool
	if old, existed, err = t.rawGet(bk); err != nil {
		return
	}
	if del && !existed {
		return ErrNotFound
	}
	var change int64
	if existed {
		change -= int64(len(bk) + len(old))
	}
	if !del {
		change += int64(len(bk) + len(v))
	}
	if limit := t.s.limit.Load(); change > 0 && limit > 0 &&
		t.s.used.Load()+t.chainDelta()+change > limit {
		return ErrStoreFull
	}
	if del {
		err = t.btx.Delete(bk)
	} else {
		err = t.btx.Set(bk, append([]byte(nil), v...))
	}
	if err != nil {
		return mapErr(err)
	}
	if t.parent != nil {
		t.undo = append(t.undo, undoRec{key: bk, val: old, existed: existed})
	}
	t.delta += change
	*t.gen++
	return
}

// setMeta writes a store bookkeeping key, which is not counted as usage.
func (t *Txn) setMeta(k, v []byte) (err error) {
	var old []byte
	var existed bool
	if old, existed, err = t.rawGet(k); err != nil {
		return
	}
	if err = t.btx.Set(k, v); err != nil {
		return mapErr(err)
	}
	if t.parent != nil {
		t.undo = append(t.undo, undoRec{key: k, val: old, existed: existed})
	}
	*t.gen++
	return
}

func (t *Txn) newIter(reverse bool) *badger.Iterator {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = reverse
	return t.btx.NewIterator(opts)
}

// keysWithPrefix collects the raw keys under prefix, at most max of them if
// max > 0.
func (t *Txn) keysWithPrefix(prefix []byte, max int) (out [][]byte) {
	it := t.newIter(false)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		out = append(out, it.Item().KeyCopy(nil))
		if max > 0 && len(out) >= max {
			break
		}
	}
	return
}

// Get returns the value of key, or for a duplicate-sorted sub-database the
// first of its values.
func (t *Txn) Get(d DBI, key []byte) (val []byte, err error) {
	if err = t.usable(); err != nil {
		return
	}
	if !d.dup {
		var existed bool
		if val, existed, err = t.rawGet(plainKey(d.id, key)); err != nil {
			return
		}
		if !existed {
			err = ErrNotFound
		}
		return
	}
	found := t.keysWithPrefix(dupPrefix(d.id, key), 1)
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	var ok bool
	if _, val, ok = splitDup(found[0][1:]); !ok {
		return nil, ErrNotFound
	}
	return
}

// Put stores a value. In a duplicate-sorted sub-database it adds val to the
// set of values of key, storing an existing pair again is a no-op unless
// NoDupData is given.
func (t *Txn) Put(d DBI, key, val []byte, flags PutFlags) (err error) {
	if err = t.writable(); err != nil {
		return
	}
	if !d.dup {
		bk := plainKey(d.id, key)
		if flags&NoOverwrite != 0 {
			var existed bool
			if _, existed, err = t.rawGet(bk); err != nil {
				return
			}
			if existed {
				return ErrKeyExists
			}
		}
		return t.write(bk, val, false)
	}
	if flags&NoOverwrite != 0 {
		if len(t.keysWithPrefix(dupPrefix(d.id, key), 1)) > 0 {
			return ErrKeyExists
		}
	}
	bk := dupKey(d.id, key, val)
	var existed bool
	if _, existed, err = t.rawGet(bk); err != nil {
		return
	}
	if existed {
		if flags&NoDupData != 0 {
			return ErrKeyExists
		}
		return nil
	}
	return t.write(bk, nil, false)
}

// Del removes key. In a duplicate-sorted sub-database a nil val removes all
// values of key, otherwise only the given pair. ErrNotFound is returned if
// nothing matched.
func (t *Txn) Del(d DBI, key, val []byte) (err error) {
	if err = t.writable(); err != nil {
		return
	}
	if !d.dup {
		return t.write(plainKey(d.id, key), nil, true)
	}
	if val != nil {
		return t.write(dupKey(d.id, key, val), nil, true)
	}
	found := t.keysWithPrefix(dupPrefix(d.id, key), 0)
	if len(found) == 0 {
		return ErrNotFound
	}
	for _, bk := range found {
		if err = t.write(bk, nil, true); err != nil {
			return
		}
	}
	return
}

// GetBoth reports ErrNotFound unless the pair (key, val) is stored.
func (t *Txn) GetBoth(d DBI, key, val []byte) (err error) {
	if err = t.usable(); err != nil {
		return
	}
	if !d.dup {
		var v []byte
		if v, err = t.Get(d, key); err != nil {
			return
		}
		if !bytes.Equal(v, val) {
			return ErrNotFound
		}
		return nil
	}
	var existed bool
	if _, existed, err = t.rawGet(dupKey(d.id, key, val)); err != nil {
		return
	}
	if !existed {
		return ErrNotFound
	}
	return nil
}

// CountDups counts the values of key.
func (t *Txn) CountDups(d DBI, key []byte) (n int, err error) {
	if err = t.usable(); err != nil {
		return
	}
	if !d.dup {
		if _, err = t.Get(d, key); err == ErrNotFound {
			return 0, nil
		}
		return 1, err
	}
	prefix := dupPrefix(d.id, key)
	it := t.newIter(false)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return
}

// Entries counts the entries of a sub-database, one per pair for
// duplicate-sorted ones.
func (t *Txn) Entries(d DBI) (n int, err error) {
	if err = t.usable(); err != nil {
		return
	}
	prefix := d.prefix()
	it := t.newIter(false)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return
}

// Cursor opens a cursor over d. It is closed with the transaction.
func (t *Txn) Cursor(d DBI) (c *Cursor, err error) {
	if err = t.usable(); err != nil {
		return
	}
	c = &Cursor{tx: t, db: d}
	t.cursors = append(t.cursors, c)
	return
}
