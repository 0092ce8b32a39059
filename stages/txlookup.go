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

package stages

import (
	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/ercore/errs"
	"github.com/erigontech/erigoncore/kv"
)

// TxLookup implements spec §4.12.5: a canonical transaction-hash to
// block-number index, built once bodies are known-canonical (i.e. after
// Senders so that a reorg below this stage's progress is guaranteed not to
// have silently left stale lookups behind it).
type TxLookup struct{}

func (TxLookup) ID() ID { return StageTxLookup }

func (s TxLookup) Execute(sc *Context, from, to common.BlockNum) (uint64, bool, error) {
	var processed uint64
	for n := from + 1; n <= to; n++ {
		if sc.Aborted() {
			return processed, false, nil
		}
		hash, ok, err := CanonicalHashAt(sc.Tx, n)
		if err != nil {
			return processed, false, err
		}
		if !ok {
			return processed, false, nil
		}
		body, ok, err := LoadBody(sc.Tx, n, hash)
		if err != nil {
			return processed, false, err
		}
		if !ok {
			return processed, false, errs.InvalidBody(uint64(n), "missing body for txlookup stage")
		}

		nb := beBytes8(uint64(n))
		for _, tx := range body.Transactions {
			h := tx.Hash()
			if err := sc.Tx.Put(kv.TxLookup, h.Bytes(), nb); err != nil {
				return processed, false, err
			}
		}

		processed++
		if sc.Config.BatchSize > 0 && processed >= sc.Config.BatchSize {
			return processed, n == to, nil
		}
	}
	return processed, true, nil
}

// LookupBlock returns the block number containing txHash, if indexed.
func LookupBlock(tx kv.Getter, txHash common.Hash) (common.BlockNum, bool, error) {
	v, ok, err := tx.GetOne(kv.TxLookup, txHash.Bytes())
	if err != nil || !ok {
		return 0, false, err
	}
	return common.BlockNum(beUint64(v)), true, nil
}

func (s TxLookup) Unwind(sc *Context, to common.BlockNum) error {
	cur, err := sc.Tx.Cursor(kv.CanonicalHashes)
	if err != nil {
		return err
	}
	defer cur.Close()

	k, v, err := cur.Seek(beBytes8(uint64(to + 1)))
	for ; k != nil && err == nil; k, v, err = cur.Next() {
		n := common.BlockNum(beUint64(k))
		hash := common.BytesToHash(v)
		body, ok, lerr := LoadBody(sc.Tx, n, hash)
		if lerr != nil {
			return lerr
		}
		if !ok {
			continue
		}
		for _, tx := range body.Transactions {
			h := tx.Hash()
			if derr := sc.Tx.Delete(kv.TxLookup, h.Bytes()); derr != nil {
				return derr
			}
		}
	}
	return err
}
