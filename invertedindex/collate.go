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

package invertedindex

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"

	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/compress"
	"github.com/erigontech/erigoncore/eliasfano"
	"github.com/erigontech/erigoncore/kv"
	"github.com/erigontech/erigoncore/segment"
)

// Collate implements spec §4.8/§4.10's collate(stepRange) for an
// InvertedIndex: scan the hot table for entries with stepFrom*S <= txNum <
// stepTo*S, Elias-Fano encode each key's sorted TxNum list into a single
// `.ef` body plus a `.efi` offset index, publish it, then delete the hot
// rows it now supersedes. Returns false, nil if the range held no entries.
func (idx *Index) Collate(tx kv.RwTx, stepFrom, stepTo, stepSize uint64) (bool, error) {
	entries, err := idx.scanHotRange(tx, stepFrom*stepSize, stepTo*stepSize)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}
	byKey := CollateRange(entries)

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	name := segment.Name{Version: 1, Domain: idx.domain.String(), StepFrom: stepFrom, StepTo: stepTo, Suffix: segment.EF}
	path := filepath.Join(idx.dir, name.Format())
	comp := compress.NewCompressor(path)

	upperBound := stepTo * stepSize
	for _, k := range keys {
		ef := BuildEliasFano(byKey[k], upperBound)
		word, err := encodeEliasFanoWord([]byte(k), ef)
		if err != nil {
			return false, err
		}
		comp.AddWord(word)
	}
	if err := comp.Build(); err != nil {
		return false, err
	}

	bt, err := buildKeyOffsetIndex(path, keys)
	if err != nil {
		return false, err
	}
	if err := writeOffsetIndexFile(idx.dir, name, segment.EFI, bt); err != nil {
		return false, err
	}

	f, err := segment.OpenPublished(idx.dir, name, segment.KindInvertedIndex)
	if err != nil {
		return false, err
	}

	idx.mu.Lock()
	idx.segs.Publish(f)
	idx.mu.Unlock()

	return true, idx.deleteHotRange(tx, entries)
}

func (idx *Index) scanHotRange(tx kv.Getter, fromTxNum, toTxNum uint64) ([]HotEntry, error) {
	c, err := tx.Cursor(idx.table)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var entries []HotEntry
	for k, _, err := c.First(); k != nil; k, _, err = c.Next() {
		if err != nil {
			return nil, err
		}
		if len(k) < 8 {
			continue
		}
		txNum := binary.BigEndian.Uint64(k[len(k)-8:])
		if txNum < fromTxNum || txNum >= toTxNum {
			continue
		}
		key := append([]byte(nil), k[:len(k)-8]...)
		entries = append(entries, HotEntry{Key: key, TxNum: common.TxNum(txNum)})
	}
	return entries, nil
}

func (idx *Index) deleteHotRange(tx kv.RwTx, entries []HotEntry) error {
	for _, e := range entries {
		composite := make([]byte, len(e.Key)+8)
		copy(composite, e.Key)
		binary.BigEndian.PutUint64(composite[len(e.Key):], uint64(e.TxNum))
		if err := tx.Delete(idx.table, composite); err != nil {
			return err
		}
	}
	return nil
}

// encodeEliasFanoWord lays out one segment body word as [4-byte key
// length][key bytes][elias-fano encoded payload], matching the layout
// decodeKeyEliasFano already expects.
func encodeEliasFanoWord(key []byte, ef *eliasfano.EliasFano) ([]byte, error) {
	var payload []byte
	if err := ef.Write(func(b []byte) error {
		payload = append(payload, b...)
		return nil
	}); err != nil {
		return nil, err
	}
	word := make([]byte, 4+len(key)+len(payload))
	binary.BigEndian.PutUint32(word[:4], uint32(len(key)))
	copy(word[4:], key)
	copy(word[4+len(key):], payload)
	return word, nil
}

// buildKeyOffsetIndex reopens the just-built `.ef` body and walks it in key
// order, recording each word's byte offset (only correct because
// compress.Compressor.Build byte-aligns after every word).
func buildKeyOffsetIndex(path string, keys []string) (*segment.BTreeIndex, error) {
	dec, err := compress.Open(path)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	bt := segment.NewBTreeIndexBuilder()
	g := dec.MakeGetter()
	for _, k := range keys {
		off := g.Offset()
		if _, err := g.Next(); err != nil {
			return nil, err
		}
		bt.Add([]byte(k), uint64(off))
	}
	return bt, nil
}

func writeOffsetIndexFile(dir string, name segment.Name, suffix segment.Suffix, bt *segment.BTreeIndex) error {
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
