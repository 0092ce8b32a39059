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

package domain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/semaphore"

	"github.com/erigontech/erigoncore/compress"
	"github.com/erigontech/erigoncore/kv"
	"github.com/erigontech/erigoncore/segment"
)

// defaultCollateConcurrency bounds how many collation/merge builds one
// Domain runs at once (spec §4.10, §5 "the coordinator blocks only in the
// idle-between-rounds sleep or in disk I/O" extends naturally to background
// collation: it must not starve the foreground stage pipeline of disk
// bandwidth).
const defaultCollateConcurrency = 4

// Collator is the worker behind collate(stepRange) and merge(segments): it
// zstd-compresses each folded value ahead of the segment body's own
// Huffman+pattern pass (large account/storage/code values carry a lot of
// redundant structure that pass does not exploit), and its semaphore
// admission-gates how many builds run concurrently.
type Collator struct {
	sem *semaphore.Weighted
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCollator prepares a Collator allowing maxConcurrent builds at once.
func NewCollator(maxConcurrent int64) (*Collator, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &Collator{sem: semaphore.NewWeighted(maxConcurrent), enc: enc, dec: dec}, nil
}

func (c *Collator) Close() {
	c.enc.Close()
	c.dec.Close()
}

// Cold-word tags: a segment body word is a one-byte tag plus payload, so
// GetLatest's cold path can tell a tombstone from a zstd-compressed value
// from a value zstd could not shrink.
const (
	coldTombstone byte = 0
	coldRaw       byte = 1
	coldZstd      byte = 2
)

func (c *Collator) encodeValue(v []byte) []byte {
	if isTombstone(v) {
		return []byte{coldTombstone}
	}
	compressed := c.enc.EncodeAll(v, nil)
	if len(compressed)+1 < len(v) {
		out := make([]byte, 1+len(compressed))
		out[0] = coldZstd
		copy(out[1:], compressed)
		return out
	}
	out := make([]byte, 1+len(v))
	out[0] = coldRaw
	copy(out[1:], v)
	return out
}

func (c *Collator) decodeValue(w []byte) (value []byte, tombstoned bool, err error) {
	if len(w) == 0 {
		return nil, false, nil
	}
	switch w[0] {
	case coldTombstone:
		return nil, true, nil
	case coldRaw:
		return append([]byte(nil), w[1:]...), false, nil
	case coldZstd:
		v, err := c.dec.DecodeAll(w[1:], nil)
		if err != nil {
			return nil, false, err
		}
		return v, false, nil
	default:
		return nil, false, fmt.Errorf("domain: unknown cold word tag %d", w[0])
	}
}

// Collate implements spec §4.10's collate(stepRange): scan the hot range,
// fold each key down to its value at the highest step in range, emit a new
// cold segment covering [stepFrom, stepTo), publish it, and delete the hot
// rows it now supersedes. Returns false, nil if the range held no rows.
func (d *Domain) Collate(ctx context.Context, tx kv.RwTx, stepFrom, stepTo uint64) (bool, error) {
	rows, err := d.ScanHotRange(tx, stepFrom, stepTo)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	folded := foldLatestPerKey(rows)

	if err := d.collator.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer d.collator.sem.Release(1)

	name := segment.Name{Version: 1, Domain: d.kind.String(), StepFrom: stepFrom, StepTo: stepTo, Suffix: segment.KV}
	f, err := d.buildSegment(name, folded)
	if err != nil {
		return false, err
	}
	d.Publish(f)
	if err := d.DeleteHotRange(tx, rows); err != nil {
		return false, err
	}
	return true, nil
}

// foldLatestPerKey collapses rows (sorted by key then step ascending, per
// ScanHotRange) down to one row per key: its value at the highest step in
// range, matching get_latest's per-segment fallthrough semantics.
func foldLatestPerKey(rows []HotRow) []HotRow {
	folded := make([]HotRow, 0, len(rows))
	for i, r := range rows {
		if i > 0 && string(r.Key) == string(rows[i-1].Key) {
			folded[len(folded)-1] = r
			continue
		}
		folded = append(folded, r)
	}
	return folded
}

// Merge implements spec §4.10's merge(segments): spec §3's "periodically...
// merged with neighboring segments" lifecycle step. It k-way merges several
// already-published cold segments into one wider segment covering their
// combined step range, publishes it, then prunes the inputs it now
// supersedes via segment.Pruner. Callers must have Acquired segments (so
// their bodies stay mapped while Merge reads them) and Release them once
// Merge returns.
func (d *Domain) Merge(ctx context.Context, segments []*segment.File) (*segment.File, error) {
	if len(segments) < 2 {
		return nil, nil
	}
	if err := d.collator.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.collator.sem.Release(1)

	stepFrom, stepTo := segments[0].Name.StepFrom, segments[0].Name.StepTo
	for _, f := range segments[1:] {
		if f.Name.StepFrom < stepFrom {
			stepFrom = f.Name.StepFrom
		}
		if f.Name.StepTo > stepTo {
			stepTo = f.Name.StepTo
		}
	}

	rows, err := d.mergeRows(segments)
	if err != nil {
		return nil, err
	}

	name := segment.Name{Version: 1, Domain: d.kind.String(), StepFrom: stepFrom, StepTo: stepTo, Suffix: segment.KV}
	merged, err := d.buildSegment(name, rows)
	if err != nil {
		return nil, err
	}
	d.Publish(merged)

	if err := segment.NewPruner(stepTo).Prune(d.segs); err != nil {
		return nil, err
	}
	return merged, nil
}

// mergeRows walks every input segment's BTreeIndex oldest-to-newest (by
// StepTo) so a later segment's entry for a key overwrites an earlier one,
// matching get_latest's newest-wins rule, then returns the result in key
// order.
func (d *Domain) mergeRows(segments []*segment.File) ([]HotRow, error) {
	sorted := append([]*segment.File(nil), segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name.StepTo < sorted[j].Name.StepTo })

	latest := make(map[string]HotRow)
	var order []string
	for _, f := range sorted {
		bt := f.BTree()
		if bt == nil {
			continue
		}
		var iterErr error
		bt.Ascend(func(key []byte, off uint64) bool {
			raw, err := readWordAt(f, off)
			if err != nil {
				iterErr = err
				return false
			}
			v, tombstoned, err := d.collator.decodeValue(raw)
			if err != nil {
				iterErr = err
				return false
			}
			ks := string(key)
			if _, seen := latest[ks]; !seen {
				order = append(order, ks)
			}
			if tombstoned {
				latest[ks] = HotRow{Key: append([]byte(nil), key...), Step: f.Name.StepTo, Value: tombstone}
			} else {
				latest[ks] = HotRow{Key: append([]byte(nil), key...), Step: f.Name.StepTo, Value: v}
			}
			return true
		})
		if iterErr != nil {
			return nil, iterErr
		}
	}

	sort.Strings(order)
	rows := make([]HotRow, 0, len(order))
	for _, k := range order {
		rows = append(rows, latest[k])
	}
	return rows, nil
}

// buildSegment writes a new .kv body from rows (in the order given) plus
// its .bt offset index, and placeholder .kvi/.kvei companions (spec §4.10;
// this engine's MinimalPerfectHash and ExistenceFilter have no on-disk
// encoding, matching the loadExistence stub in segment/set.go), and
// opens the result as a publishable segment.File.
func (d *Domain) buildSegment(name segment.Name, rows []HotRow) (*segment.File, error) {
	path := filepath.Join(d.dir, name.Format())
	comp := compress.NewCompressor(path)
	for _, r := range rows {
		comp.AddWord(d.collator.encodeValue(r.Value))
	}
	if err := comp.Build(); err != nil {
		return nil, err
	}

	bt, err := buildOffsetIndex(path, rows)
	if err != nil {
		return nil, err
	}
	if err := writeCompanionIndex(d.dir, name, segment.BT, bt); err != nil {
		return nil, err
	}
	if err := writePlaceholderCompanion(d.dir, name, segment.KVI); err != nil {
		return nil, err
	}
	if err := writePlaceholderCompanion(d.dir, name, segment.KVEI); err != nil {
		return nil, err
	}

	return segment.OpenPublished(d.dir, name, segment.KindDomain)
}

// buildOffsetIndex reopens the just-built body and walks it in the same
// order rows were added, recording each word's byte offset (Getter.Offset
// is only meaningful because Compressor.Build byte-aligns after every
// word).
func buildOffsetIndex(path string, rows []HotRow) (*segment.BTreeIndex, error) {
	dec, err := compress.Open(path)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	bt := segment.NewBTreeIndexBuilder()
	g := dec.MakeGetter()
	for _, r := range rows {
		off := g.Offset()
		if _, err := g.Next(); err != nil {
			return nil, err
		}
		bt.Add(r.Key, uint64(off))
	}
	return bt, nil
}

func writeCompanionIndex(dir string, name segment.Name, suffix segment.Suffix, bt *segment.BTreeIndex) error {
	idxName := segment.Name{Version: name.Version, Domain: name.Domain, StepFrom: name.StepFrom, StepTo: name.StepTo, Suffix: suffix}
	f, err := os.Create(filepath.Join(dir, idxName.Format()))
	if err != nil {
		return err
	}
	defer f.Close()
	return bt.Write(func(b []byte) error {
		_, err := f.Write(b)
		return err
	})
}

func writePlaceholderCompanion(dir string, name segment.Name, suffix segment.Suffix) error {
	idxName := segment.Name{Version: name.Version, Domain: name.Domain, StepFrom: name.StepFrom, StepTo: name.StepTo, Suffix: suffix}
	return os.WriteFile(filepath.Join(dir, idxName.Format()), []byte{1}, 0o644)
}
