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

// maxUncles caps the uncle list per block (spec §4.12.2: "Rejects bodies
// with more than two uncles").
const maxUncles = 2

// Bodies implements spec §4.12.2: fetches each block's body, recomputes its
// roots and compares them to the already-stored header, then writes the
// body.
type Bodies struct{}

func (Bodies) ID() ID { return StageBodies }

func (s Bodies) Execute(sc *Context, from, to common.BlockNum) (uint64, bool, error) {
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
		header, ok, err := LoadHeader(sc.Tx, n)
		if err != nil {
			return processed, false, err
		}
		if !ok {
			return processed, false, errs.InvalidHeader(uint64(n), "missing header for body stage")
		}

		body, err := sc.Source.BodyAt(n, hash)
		if err != nil {
			return processed, false, errs.Wrap(errs.KindTransient, uint64(n), err)
		}
		if len(body.Uncles) > maxUncles {
			return processed, false, errs.InvalidBody(uint64(n), "too many uncles")
		}
		if body.UncleHash() != header.UncleHash {
			return processed, false, errs.InvalidBody(uint64(n), "uncle hash mismatch")
		}
		if body.TxRoot() != header.TxRoot {
			return processed, false, errs.InvalidBody(uint64(n), "transactions root mismatch")
		}
		if header.WithdrawalsRoot != nil {
			root := body.WithdrawalsRoot()
			if root != *header.WithdrawalsRoot {
				return processed, false, errs.InvalidBody(uint64(n), "withdrawals root mismatch")
			}
		} else if len(body.Withdrawals) > 0 {
			return processed, false, errs.InvalidBody(uint64(n), "withdrawals present without header field")
		}

		if err := sc.Tx.Put(kv.Bodies, headerKey(n, hash), body.EncodeForStorage()); err != nil {
			return processed, false, err
		}

		processed++
		if sc.Config.BatchSize > 0 && processed >= sc.Config.BatchSize {
			return processed, n == to, nil
		}
	}
	return processed, true, nil
}

// LoadBody re-reads a previously committed body (spec §4.12.4).
func LoadBody(tx kv.Getter, n common.BlockNum, hash common.Hash) (*common.Body, bool, error) {
	raw, ok, err := tx.GetOne(kv.Bodies, headerKey(n, hash))
	if err != nil || !ok {
		return nil, false, err
	}
	b, err := common.DecodeBody(raw)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Unwind deletes bodies for blocks above to (SPEC_FULL §C.4). The
// transactions within those bodies are not retained anywhere else by this
// stage: deleting the body row removes them.
func (s Bodies) Unwind(sc *Context, to common.BlockNum) error {
	cur, err := sc.Tx.Cursor(kv.CanonicalHashes)
	if err != nil {
		return err
	}
	defer cur.Close()

	k, v, err := cur.Seek(beBytes8(uint64(to + 1)))
	for ; k != nil && err == nil; k, v, err = cur.Next() {
		n := beUint64(k)
		hash := common.BytesToHash(v)
		if err := sc.Tx.Delete(kv.Bodies, headerKey(common.BlockNum(n), hash)); err != nil {
			return err
		}
	}
	return err
}
