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

// Package domain implements the top-level flat-state façade of spec §4.10:
// one Domain per logical state family (accounts, storage, code), backed by
// a hot hot KV table keyed `key ‖ ~step` (newest-step-first ordering via a
// single cursor seek), a sorted cold segment.Set, and an optional History
// for time-travel reads. Grounded on Domain's get_latest/get_as_of/put/
// delete/collate/merge operation table and on
// turbo/snapshotsync/snapshotsync.go's segment lifecycle for the cold
// path.
package domain

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/history"
	"github.com/erigontech/erigoncore/invertedindex"
	"github.com/erigontech/erigoncore/kv"
	"github.com/erigontech/erigoncore/segment"
)

// tombstone marks a deleted key in the hot table and in collated .kv
// bodies (spec §4.10 "delete: same as put with a tombstone marker value").
var tombstone = []byte{0}

// Domain is one logical state family.
type Domain struct {
	kind     kv.Domain
	table    string // hot KV table, kv.Domain.ValsTable()
	dir      string
	segs     *segment.Set
	hist     *history.History // nil for domains without time-travel (spec §4.10 "optional")
	stepSize uint64
	collator *Collator
}

func Open(dir string, kind kv.Domain, stepSize uint64, withHistory bool) (*Domain, error) {
	segs, err := segment.OpenFolder(dir, kind.String(), segment.KindDomain)
	if err != nil {
		return nil, err
	}
	collator, err := NewCollator(defaultCollateConcurrency)
	if err != nil {
		return nil, err
	}
	d := &Domain{kind: kind, table: kind.ValsTable(), dir: dir, segs: segs, stepSize: stepSize, collator: collator}
	if withHistory {
		idx, err := invertedindex.Open(dir, kind)
		if err != nil {
			return nil, err
		}
		h, err := history.Open(dir, kind, idx)
		if err != nil {
			return nil, err
		}
		d.hist = h
	}
	return d, nil
}

// invertStep computes ~step truncated to 64 bits, so that the hot table's
// `key ‖ ~step` key sorts with the newest (numerically largest) step first
// (spec §4.10).
func invertStep(step uint64) uint64 { return math.MaxUint64 - step }

func hotKey(key []byte, step uint64) []byte {
	out := make([]byte, len(key)+8)
	copy(out, key)
	binary.BigEndian.PutUint64(out[len(key):], invertStep(step))
	return out
}

func hotValue(step uint64, value []byte) []byte {
	out := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(out, step)
	copy(out[8:], value)
	return out
}

func splitHotValue(v []byte) (step uint64, value []byte) {
	return binary.BigEndian.Uint64(v[:8]), v[8:]
}

// GetLatest returns key's current value and the step it was written at
// (spec §4.10 "get_latest"): check the hot table first (a single
// cursor.Seek(key) lands on the newest step thanks to the tilde encoding),
// then fall through cold segments newest-to-oldest using .kvei to rule
// out, .kvi for O(1) hit, else .bt for O(log n).
func (d *Domain) GetLatest(tx kv.Getter, key []byte) (value []byte, step uint64, found bool, err error) {
	if v, s, ok, err := d.getLatestHot(tx, key); err != nil {
		return nil, 0, false, err
	} else if ok {
		if isTombstone(v) {
			return nil, s, false, nil
		}
		return v, s, true, nil
	}
	return d.getLatestCold(key)
}

func (d *Domain) getLatestHot(tx kv.Getter, key []byte) ([]byte, uint64, bool, error) {
	c, err := tx.Cursor(d.table)
	if err != nil {
		return nil, 0, false, err
	}
	defer c.Close()

	k, v, err := c.Seek(key)
	if err != nil {
		return nil, 0, false, err
	}
	if k == nil || len(k) < len(key) || string(k[:len(key)]) != string(key) {
		return nil, 0, false, nil
	}
	step, value := splitHotValue(v)
	return value, step, true, nil
}

func isTombstone(v []byte) bool { return len(v) == 1 && v[0] == tombstone[0] }

func (d *Domain) getLatestCold(key []byte) ([]byte, uint64, bool, error) {
	files := d.segs.Acquire()
	defer segment.Release(files)

	for i := len(files) - 1; i >= 0; i-- { // Acquire returns ascending order; walk newest-first
		f := files[i]
		if ef := f.Existence(); ef != nil && !ef.MayContain(key) {
			continue
		}
		if mph := f.PerfectHash(); mph != nil {
			if off, ok := mph.Lookup(key); ok {
				return d.decodeColdHit(f, off)
			}
			continue
		}
		if bt := f.BTree(); bt != nil {
			if off, ok := bt.Lookup(key); ok {
				return d.decodeColdHit(f, off)
			}
		}
	}
	return nil, 0, false, nil
}

// decodeColdHit reads the word at off in f's body and unwraps the
// Collator's tombstone/raw/zstd encoding (spec §4.10, SPEC_FULL §B).
func (d *Domain) decodeColdHit(f *segment.File, off uint64) ([]byte, uint64, bool, error) {
	raw, err := readWordAt(f, off)
	if err != nil {
		return nil, 0, false, err
	}
	v, tombstoned, err := d.collator.decodeValue(raw)
	if err != nil {
		return nil, 0, false, err
	}
	if tombstoned {
		return nil, f.Name.StepTo, false, nil
	}
	return v, f.Name.StepTo, true, nil
}

func readWordAt(f *segment.File, off uint64) ([]byte, error) {
	g := f.Body().MakeGetter()
	g.Reset(int(off))
	if !g.HasNext() {
		return nil, nil
	}
	return g.Next()
}

// GetAsOf returns key's value as it stood at txNum (spec §4.9, §4.10
// "get_as_of"): delegate to History; if History reports no covering
// record, fall back to Domain's latest value (the key has not changed
// after txNum).
func (d *Domain) GetAsOf(tx kv.RwTx, key []byte, txNum common.TxNum) ([]byte, bool, error) {
	if d.hist == nil {
		v, _, ok, err := d.GetLatest(tx, key)
		return v, ok, err
	}
	v, ok, err := d.hist.GetAsOf(tx, key, txNum)
	if err != nil {
		return nil, false, err
	}
	if ok {
		if v == nil {
			return nil, false, nil // tombstone previous-value: key was absent at txNum
		}
		return v, true, nil
	}
	v, _, found, err := d.GetLatest(tx, key)
	if err != nil {
		return nil, false, err
	}
	return v, found, nil
}

// Put writes key=value effective at txNum (spec §4.10 "put"): read the
// prior value for history, record the history/inverted-index entries, then
// overwrite the hot KV row under key ‖ ~step.
func (d *Domain) Put(tx kv.RwTx, key, value []byte, txNum common.TxNum) error {
	prior, _, found, err := d.GetLatest(tx, key)
	if err != nil {
		return err
	}
	if d.hist != nil {
		var priorForHistory []byte
		if found {
			priorForHistory = prior
		}
		if err := d.hist.Put(tx, key, txNum, priorForHistory); err != nil {
			return err
		}
	}
	step := uint64(common.StepFromTxNum(txNum, d.stepSize))
	return tx.Put(d.table, hotKey(key, step), hotValue(step, value))
}

// Delete writes a tombstone for key effective at txNum (spec §4.10
// "delete: same as put with a tombstone marker value").
func (d *Domain) Delete(tx kv.RwTx, key []byte, txNum common.TxNum) error {
	return d.Put(tx, key, tombstone, txNum)
}

// HotRow is one uncollated (key, step, value) row scanned out of the hot
// table for collation.
type HotRow struct {
	Key   []byte
	Step  uint64
	Value []byte
}

// ScanHotRange iterates the hot table for a step range, used by the
// background collation job (spec §4.10 "collate: scan hot KV for the
// given step range"). Rows are returned sorted by key then step ascending.
func (d *Domain) ScanHotRange(tx kv.Getter, stepFrom, stepTo uint64) ([]HotRow, error) {
	c, err := tx.Cursor(d.table)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var rows []HotRow
	for k, v, err := c.First(); k != nil; k, v, err = c.Next() {
		if err != nil {
			return nil, err
		}
		if len(k) < 8 {
			continue
		}
		rawKey := k[:len(k)-8]
		invStep := binary.BigEndian.Uint64(k[len(k)-8:])
		step := invertStep(invStep)
		if step < stepFrom || step >= stepTo {
			continue
		}
		_, value := splitHotValue(v)
		rows = append(rows, HotRow{Key: append([]byte(nil), rawKey...), Step: step, Value: value})
	}
	sort.Slice(rows, func(i, j int) bool {
		if string(rows[i].Key) != string(rows[j].Key) {
			return string(rows[i].Key) < string(rows[j].Key)
		}
		return rows[i].Step < rows[j].Step
	})
	return rows, nil
}

// DeleteHotRange removes hot rows in [stepFrom, stepTo) after they have
// been durably published as a cold segment (spec §4.10 "then delete
// collated hot rows").
func (d *Domain) DeleteHotRange(tx kv.RwTx, rows []HotRow) error {
	for _, r := range rows {
		if err := tx.Delete(d.table, hotKey(r.Key, r.Step)); err != nil {
			return err
		}
	}
	return nil
}

// Publish registers a newly-collated or newly-merged segment file (spec
// §4.10 "atomically publish").
func (d *Domain) Publish(f *segment.File) { d.segs.Publish(f) }

// History exposes the backing History instance, if any (nil for domains
// opened without time-travel support).
func (d *Domain) History() *history.History { return d.hist }

// Segments returns an acquired snapshot of this Domain's published cold
// segments, ascending by StepFrom, for a background job deciding whether
// neighboring segments are due for merge (spec §4.10 "merge(segments)").
// Callers must segment.Release the result.
func (d *Domain) Segments() []*segment.File { return d.segs.Acquire() }

func (d *Domain) Close() {
	d.segs.Close()
	if d.hist != nil {
		d.hist.Close()
	}
	d.collator.Close()
}
