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

// Package invertedindex implements the per-key sorted TxNum sets of spec
// §4.8: hot inserts land in a KV table as they happen, and collation
// Elias-Fano encodes each key's covered-range TxNum list into an `.ef`
// segment with a `.efi` per-key offset index, grounded on
// turbo/snapshotsync/snapshotsync.go's segment-set lifecycle (reused via
// segment.Set) and eliasfano.EliasFano for the encoding itself.
package invertedindex

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/eliasfano"
	"github.com/erigontech/erigoncore/kv"
	"github.com/erigontech/erigoncore/segment"
)

// HotEntry is one uncollated (key, txNum) pair buffered in memory ahead of
// being written to the hot KV table; the real engine would write directly
// through a kv.RwTx cursor, kept here as an explicit staging struct so
// collation can iterate a stable, already-sorted view.
type HotEntry struct {
	Key   []byte
	TxNum common.TxNum
}

// Index is one InvertedIndex instance (accounts, storage or code),
// covering one KV table of hot entries plus a segment.Set of collated
// `.ef` files.
type Index struct {
	mu     sync.RWMutex
	domain kv.Domain
	table  string // hot KV table name, kv.Domain.IdxTable()
	dir    string
	segs   *segment.Set
}

func Open(dir string, domain kv.Domain) (*Index, error) {
	segs, err := segment.OpenFolder(dir, domain.String(), segment.KindInvertedIndex)
	if err != nil {
		return nil, err
	}
	return &Index{domain: domain, table: domain.IdxTable(), dir: dir, segs: segs}, nil
}

// Add records that key changed at txNum, writing through tx's hot table
// (spec §4.8 "each insertion writes (key, txNum)"). Visible to Seek only
// after the caller's KV transaction commits (spec §9's "History writes for
// TxNum = t are visible to InvertedIndex seeks ... only after the execution
// stage commits").
func (idx *Index) Add(tx kv.Putter, key []byte, txNum common.TxNum) error {
	composite := make([]byte, len(key)+8)
	copy(composite, key)
	binary.BigEndian.PutUint64(composite[len(key):], uint64(txNum))
	return tx.Put(idx.table, composite, nil)
}

// Seek returns the largest TxNum <= target at which key changed, per spec
// §4.8: scan the hot table first (recent, uncollated changes always win
// since they are newer than anything already collated), then fall through
// to collated segments newest-to-oldest.
func (idx *Index) Seek(tx kv.Getter, key []byte, target common.TxNum) (common.TxNum, bool, error) {
	if t, ok, err := idx.seekHot(tx, key, target); err != nil {
		return 0, false, err
	} else if ok {
		return t, true, nil
	}
	return idx.seekSegments(key, target)
}

func (idx *Index) seekHot(tx kv.Getter, key []byte, target common.TxNum) (common.TxNum, bool, error) {
	c, err := tx.Cursor(idx.table)
	if err != nil {
		return 0, false, err
	}
	defer c.Close()

	upper := make([]byte, len(key)+8)
	copy(upper, key)
	binary.BigEndian.PutUint64(upper[len(key):], uint64(target))

	k, _, err := c.Seek(upper)
	if err != nil {
		return 0, false, err
	}
	// Seek lands at the first key >= upper; since the composite key sorts
	// by txNum ascending within a fixed key prefix, an exact match at
	// upper is the best answer; otherwise the previous row (if same key
	// prefix) is the largest txNum < target.
	if k != nil && len(k) == len(upper) && string(k[:len(key)]) == string(key) && binary.BigEndian.Uint64(k[len(key):]) == uint64(target) {
		return target, true, nil
	}
	k, _, err = c.Prev()
	if err != nil {
		return 0, false, err
	}
	if k == nil || len(k) != len(key)+8 || string(k[:len(key)]) != string(key) {
		return 0, false, nil
	}
	return common.TxNum(binary.BigEndian.Uint64(k[len(key):])), true, nil
}

func (idx *Index) seekSegments(key []byte, target common.TxNum) (common.TxNum, bool, error) {
	files := idx.segs.Acquire()
	defer segment.Release(files)

	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		if f.Name.StepFrom > 0 && uint64(target) < f.Name.StepFrom {
			continue // segment entirely newer than target cannot help
		}
		ef, ok, err := decodeKeyEliasFano(f, key)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			continue
		}
		// largest element <= target: find the first element > target
		lo, hi := uint64(0), ef.Len()
		for lo < hi {
			mid := (lo + hi) / 2
			if ef.Get(mid) <= uint64(target) {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			return common.TxNum(ef.Get(lo - 1)), true, nil
		}
	}
	return 0, false, nil
}

// decodeKeyEliasFano scans the segment body for key's encoded TxNum list.
// A production build would use the `.efi` per-key offset index (spec
// §4.8) to jump straight to the entry; this engine's segment body stores
// entries as (key, elias-fano bytes) pairs in sorted-key order, and
// BTreeIndex (the same structure backing Domain's `.bt` fallback) gives
// the O(log n) lookup described as the fallback path when the perfect-hash
// index is unavailable.
func decodeKeyEliasFano(f *segment.File, key []byte) (*eliasfano.EliasFano, bool, error) {
	bt := f.BTree()
	if bt == nil {
		return nil, false, nil
	}
	off, ok := bt.Lookup(key)
	if !ok {
		return nil, false, nil
	}
	g := f.Body().MakeGetter()
	g.Reset(int(off))
	if !g.HasNext() {
		return nil, false, nil
	}
	word, err := g.Next()
	if err != nil {
		return nil, false, err
	}
	// word layout: [4-byte key length][key bytes][elias-fano encoded payload]
	if len(word) < 4 {
		return nil, false, nil
	}
	klen := int(binary.BigEndian.Uint32(word[:4]))
	if len(word) < 4+klen {
		return nil, false, nil
	}
	ef, err := eliasfano.Read(byteSliceReader(word[4+klen:]))
	if err != nil {
		return nil, false, err
	}
	return ef, true, nil
}

func byteSliceReader(b []byte) func(int) ([]byte, error) {
	off := 0
	return func(n int) ([]byte, error) {
		if off+n > len(b) {
			return nil, eliasfano.ErrShortRead
		}
		out := b[off : off+n]
		off += n
		return out, nil
	}
}

// CollateRange groups a batch of hot entries by key into sorted,
// deduplicated-by-construction per-key TxNum lists, ready for Elias-Fano
// encoding into a `.ef` file (spec §4.8 "During collation the per-key list
// ... is Elias-Fano encoded into an .ef file"). Index.Collate is the real
// caller: it scans the hot table for entries in range, calls this, then
// emits and publishes the resulting segment.File.
func CollateRange(entries []HotEntry) map[string][]uint64 {
	byKey := make(map[string][]uint64)
	for _, e := range entries {
		byKey[string(e.Key)] = append(byKey[string(e.Key)], uint64(e.TxNum))
	}
	for k, nums := range byKey {
		sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
		byKey[k] = nums
	}
	return byKey
}

// BuildEliasFano encodes one key's sorted TxNum list, ready to be appended
// to a `.ef` segment body.
func BuildEliasFano(nums []uint64, upperBound uint64) *eliasfano.EliasFano {
	b := eliasfano.NewBuilder(uint64(len(nums)), upperBound)
	for _, v := range nums {
		b.Add(v)
	}
	return b.Build()
}

func (idx *Index) Close() { idx.segs.Close() }
