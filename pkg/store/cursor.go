package store

import (
	"bytes"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

type iterSlot struct {
	it  *badger.Iterator
	gen uint64
	// deleted holds keys removed through the cursor after it was created,
	// which it still yields.
	deleted map[string]struct{}
}

// Cursor walks a sub-database in key order, and within a key in value order
// for duplicate-sorted sub-databases. Positioning methods return
// ErrNotFound and leave the cursor where it was when there is no entry to
// move to.
type Cursor struct {
	tx       *Txn
	db       DBI
	fwd, rev iterSlot
	// cur is the raw badger key of the current entry.
	cur      []byte
	key, val []byte
	closed   bool
}

// Key and Value of the current entry, nil before the cursor is positioned.
func (c *Cursor) Key() []byte   { return c.key }
func (c *Cursor) Value() []byte { return c.val }

// Close releases the iterators. Cursors are also closed when their
// transaction ends.
func (c *Cursor) Close() {
	c.close()
	for i, o := range c.tx.cursors {
		if o == c {
			c.tx.cursors = append(c.tx.cursors[:i], c.tx.cursors[i+1:]...)
			break
		}
	}
}

func (c *Cursor) close() {
	for _, s := range []*iterSlot{&c.fwd, &c.rev} {
		if s.it != nil {
			s.it.Close()
			s.it = nil
		}
	}
	c.closed = true
}

func (c *Cursor) iter(reverse bool) (it *badger.Iterator, err error) {
	if c.closed {
		return nil, ErrBadTxn
	}
	if err = c.tx.usable(); err != nil {
		return
	}
	slot := &c.fwd
	if reverse {
		slot = &c.rev
	}
	if slot.it != nil && slot.gen == *c.tx.gen {
		return slot.it, nil
	}
	if slot.it != nil {
		slot.it.Close()
	}
	slot.it, slot.gen = c.tx.newIter(reverse), *c.tx.gen
	slot.deleted = nil
	return slot.it, nil
}

func (c *Cursor) slot(it *badger.Iterator) *iterSlot {
	if c.rev.it == it {
		return &c.rev
	}
	return &c.fwd
}

type entry struct {
	raw, key, val []byte
}

// find seeks to target, stepping past it if skipEqual, and returns the entry
// there if it belongs to the sub-database and starts with within.
func (c *Cursor) find(target []byte, reverse, skipEqual bool,
	within []byte) (e entry, err error) {

	var it *badger.Iterator
	if it, err = c.iter(reverse); err != nil {
		return
	}
	it.Seek(target)
	if skipEqual && it.Valid() && bytes.Equal(it.Item().Key(), target) {
		it.Next()
	}
	if del := c.slot(it).deleted; del != nil {
		for it.Valid() {
			if _, gone := del[string(it.Item().Key())]; !gone {
				break
			}
			it.Next()
		}
	}
	if within == nil {
		within = c.db.prefix()
	}
	if !it.ValidForPrefix(within) {
		return e, ErrNotFound
	}
	item := it.Item()
	e.raw = item.KeyCopy(nil)
	if c.db.dup {
		var ok bool
		if e.key, e.val, ok = splitDup(e.raw[1:]); !ok {
			return e, fmt.Errorf("store %s: malformed duplicate key %x in %s",
				c.tx.s.Name, e.raw, c.db.name)
		}
		return
	}
	e.key = e.raw[1:]
	if e.val, err = item.ValueCopy(nil); err != nil {
		return e, mapErr(err)
	}
	return
}

func (c *Cursor) set(e entry) (key, val []byte) {
	c.cur, c.key, c.val = e.raw, e.key, e.val
	return c.key, c.val
}

func (c *Cursor) move(target []byte, reverse, skipEqual bool,
	within []byte) (key, val []byte, err error) {

	var e entry
	if e, err = c.find(target, reverse, skipEqual, within); err != nil {
		return
	}
	key, val = c.set(e)
	return
}

// First positions at the smallest entry.
func (c *Cursor) First() (key, val []byte, err error) {
	return c.move(c.db.prefix(), false, false, nil)
}

// Last positions at the largest entry.
func (c *Cursor) Last() (key, val []byte, err error) {
	return c.move([]byte{c.db.id + 1}, true, true, nil)
}

// Seek positions at the first entry whose key is >= key.
func (c *Cursor) Seek(key []byte) (k, v []byte, err error) {
	var target []byte
	if c.db.dup {
		target = escape([]byte{c.db.id}, key)
	} else {
		target = plainKey(c.db.id, key)
	}
	return c.move(target, false, false, nil)
}

// Next moves to the following entry, which may be another value of the same
// key.
func (c *Cursor) Next() (key, val []byte, err error) {
	if c.cur == nil {
		return c.First()
	}
	return c.move(c.cur, false, true, nil)
}

// Prev moves to the preceding entry.
func (c *Cursor) Prev() (key, val []byte, err error) {
	if c.cur == nil {
		return c.Last()
	}
	return c.move(c.cur, true, true, nil)
}

// NextDup moves to the next value of the current key.
func (c *Cursor) NextDup() (key, val []byte, err error) {
	if !c.db.dup || c.cur == nil {
		return nil, nil, ErrNotFound
	}
	return c.move(c.cur, false, true, dupPrefix(c.db.id, c.key))
}

// FirstDup positions at the smallest value of key.
func (c *Cursor) FirstDup(key []byte) (k, v []byte, err error) {
	if !c.db.dup {
		pk := plainKey(c.db.id, key)
		var e entry
		if e, err = c.find(pk, false, false, pk); err != nil {
			return
		}
		if !bytes.Equal(e.raw, pk) {
			return nil, nil, ErrNotFound
		}
		k, v = c.set(e)
		return
	}
	p := dupPrefix(c.db.id, key)
	return c.move(p, false, false, p)
}

// DelCurrent deletes the entry under the cursor. The cursor keeps its
// position so Next and Prev continue from the deleted entry, and keeps its
// iterators, skipping what it deleted, so deleting while walking stays
// linear.
func (c *Cursor) DelCurrent() (err error) {
	if c.cur == nil {
		return ErrNotFound
	}
	if c.closed {
		return ErrBadTxn
	}
	if err = c.tx.writable(); err != nil {
		return
	}
	before := *c.tx.gen
	if err = c.tx.write(c.cur, nil, true); err != nil {
		return
	}
	for _, s := range []*iterSlot{&c.fwd, &c.rev} {
		if s.it == nil || s.gen != before {
			continue
		}
		if s.deleted == nil {
			s.deleted = make(map[string]struct{})
		}
		s.deleted[string(c.cur)] = struct{}{}
		s.gen = *c.tx.gen
	}
	return
}

// CountDups counts the values of the current key.
func (c *Cursor) CountDups() (n int, err error) {
	if c.cur == nil {
		return 0, ErrNotFound
	}
	return c.tx.CountDups(c.db, c.key)
}
