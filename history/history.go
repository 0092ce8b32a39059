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

// Package history implements the (key, txNum, previous_value) log of spec
// §4.9: every Domain write records what it overwrote, so a later
// get_as_of can replay "what did this key hold at txNum t" without storing
// a full snapshot per block. Grounded on core/state/history_reader_v3.go's
// GetAsOf/PrunedError shape in the wider pack, rebuilt against this
// module's own kv/segment/invertedindex types rather than erigon-lib's.
package history

import (
	"encoding/binary"

	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/ercore/errs"
	"github.com/erigontech/erigoncore/invertedindex"
	"github.com/erigontech/erigoncore/kv"
	"github.com/erigontech/erigoncore/segment"
)

// History is one per-domain (key, txNum, previous_value) log: a hot KV
// table of uncollated records plus a segment.Set of collated `.v` files
// indexed by key‖txNum (spec §4.9).
type History struct {
	domain    kv.Domain
	table     string // hot KV table, kv.Domain.HistoryTable()
	segs      *segment.Set
	idx       *invertedindex.Index
	startStep uint64 // lowest step with retained history; below this, ErrPruned (SPEC_FULL §C.1)
}

func Open(dir string, domain kv.Domain, idx *invertedindex.Index) (*History, error) {
	segs, err := segment.OpenFolder(dir, domain.String(), segment.KindHistory)
	if err != nil {
		return nil, err
	}
	return &History{domain: domain, table: domain.HistoryTable(), segs: segs, idx: idx}, nil
}

// Put records that key's value at txNum was previously `prior` (spec
// §4.10 "put" step 2: "write history record (key, txNum, prior)"), and
// indexes (key, txNum) into the InvertedIndex so future seeks can find it.
func (h *History) Put(tx kv.RwTx, key []byte, txNum common.TxNum, prior []byte) error {
	composite := compositeKey(key, txNum)
	if err := tx.Put(h.table, composite, prior); err != nil {
		return err
	}
	return h.idx.Add(tx, key, txNum)
}

func compositeKey(key []byte, txNum common.TxNum) []byte {
	out := make([]byte, len(key)+8)
	copy(out, key)
	binary.BigEndian.PutUint64(out[len(key):], uint64(txNum))
	return out
}

// GetAsOf returns the value key held at target: the previous-value record
// of the first change to key after target holds exactly that value, so this
// seeks the hot history table to key‖(target+1). ok=false and err=nil means
// no change after target is recorded (the caller falls back to Domain's
// latest); a tombstone previous-value is returned as (nil, true, nil) and
// the caller must distinguish "deleted" from "absent" by context. Collated
// `.v` segments are not consulted.
func (h *History) GetAsOf(tx kv.RwTx, key []byte, target common.TxNum) (value []byte, ok bool, err error) {
	if target < common.TxNum(h.startStep) {
		return nil, false, errs.ErrPruned
	}
	c, err := tx.Cursor(h.table)
	if err != nil {
		return nil, false, err
	}
	defer c.Close()
	k, v, err := c.Seek(compositeKey(key, target+1))
	if err != nil {
		return nil, false, err
	}
	if k == nil || len(k) != len(key)+8 || string(k[:len(key)]) != string(key) {
		return nil, false, nil
	}
	return v, true, nil
}

// valueAt reads the previous-value record at exactly txNum, checking the
// hot table first (most recent, uncollated writes), then falling through
// to collated `.v` segments in StepFrom order.
func (h *History) valueAt(tx kv.RwTx, key []byte, txNum common.TxNum) ([]byte, bool, error) {
	composite := compositeKey(key, txNum)
	if v, ok, err := tx.GetOne(h.table, composite); err != nil {
		return nil, false, err
	} else if ok {
		return v, true, nil
	}
	return h.valueAtSegments(key, txNum)
}

func (h *History) valueAtSegments(key []byte, txNum common.TxNum) ([]byte, bool, error) {
	composite := compositeKey(key, txNum)
	files := h.segs.Acquire()
	defer segment.Release(files)

	for _, f := range files {
		bt := f.BTree()
		if bt == nil {
			continue
		}
		off, ok := bt.Lookup(composite)
		if !ok {
			continue
		}
		g := f.Body().MakeGetter()
		g.Reset(int(off))
		if !g.HasNext() {
			continue
		}
		word, err := g.Next()
		if err != nil {
			return nil, false, err
		}
		return word, true, nil
	}
	return nil, false, nil
}

// StartFrom reports the lowest step still retained; callers use it to
// decide whether a query predates the pruning horizon before calling
// GetAsOf (SPEC_FULL §C.1).
func (h *History) StartFrom() uint64 { return h.startStep }

// SetPruneHorizon advances the lowest retained step, called by the prune
// background job once it has removed history segments below the new
// horizon (SPEC_FULL §C.2).
func (h *History) SetPruneHorizon(step uint64) { h.startStep = step }

// Index exposes the backing InvertedIndex, so a background job can collate
// it on the same step cadence as this History's owning Domain.
func (h *History) Index() *invertedindex.Index { return h.idx }

func (h *History) Close() { h.segs.Close() }
