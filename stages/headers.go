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
	"errors"

	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/ercore/errs"
	"github.com/erigontech/erigoncore/kv"
)

// Headers implements spec §4.12.1: pulls headers from the external block
// source, verifies the parent-hash link, delegates engine-specific checks,
// and checks timestamp/gas-used/post-fork field presence before writing.
type Headers struct{}

func (Headers) ID() ID { return StageHeaders }

// headerKey is block_num_u64 ‖ hash, matching the Headers table comment in
// kv/tables.go.
func headerKey(n common.BlockNum, hash common.Hash) []byte {
	k := make([]byte, 8+common.HashLength)
	putBE8(k, uint64(n))
	copy(k[8:], hash.Bytes())
	return k
}

func putBE8(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
}

func (s Headers) Execute(sc *Context, from, to common.BlockNum) (uint64, bool, error) {
	var processed uint64

	// The parent-hash link for the first header past a resume boundary is
	// checked against the persisted canonical-hash pointer directly (plain
	// bytes, no RLP decode needed, per common/rlp.go's write-only design);
	// once inside the loop the freshly decoded header from the prior
	// iteration is held in memory and both hash and timestamp are checked.
	var parent *common.Header
	parentHash, haveParentHash, err := s.canonicalHashAt(sc.Tx, from)
	if err != nil {
		return 0, false, errs.Wrap(errs.KindTransient, uint64(from), err)
	}

	for n := from + 1; n <= to; n++ {
		if sc.Aborted() {
			return processed, false, nil
		}
		header, ok, err := sc.Source.NextHeader(n - 1)
		if err != nil {
			return processed, false, errs.Wrap(errs.KindTransient, uint64(n), err)
		}
		if !ok {
			return processed, false, nil
		}
		if header.Number != n {
			return processed, false, errs.InvalidHeader(uint64(n), "source returned out-of-order header")
		}

		if parent != nil {
			if header.ParentHash != parent.Hash() {
				return processed, false, errs.InvalidHeader(uint64(n), "parent hash mismatch")
			}
			if header.Timestamp <= parent.Timestamp {
				return processed, false, errs.InvalidHeader(uint64(n), "timestamp does not increase")
			}
		} else if haveParentHash && header.ParentHash != parentHash {
			return processed, false, errs.InvalidHeader(uint64(n), "parent hash mismatch")
		}
		if header.GasUsed > header.GasLimit {
			return processed, false, errs.InvalidHeader(uint64(n), "gas used exceeds gas limit")
		}
		if err := checkForkFields(header); err != nil {
			return processed, false, errs.InvalidHeader(uint64(n), err.Error())
		}
		if sc.Consensus != nil {
			if err := sc.Consensus.VerifyHeader(parent, header); err != nil {
				return processed, false, errs.InvalidHeader(uint64(n), err.Error())
			}
		}

		hash := header.Hash()
		if err := sc.Tx.Put(kv.Headers, headerKey(n, hash), header.EncodeForStorage()); err != nil {
			return processed, false, err
		}
		if err := sc.Tx.Put(kv.HeaderNumbers, hash.Bytes(), beBytes8(uint64(n))); err != nil {
			return processed, false, err
		}
		if err := sc.Tx.Put(kv.CanonicalHashes, beBytes8(uint64(n)), hash.Bytes()); err != nil {
			return processed, false, err
		}

		parent = header
		processed++
		if sc.Config.BatchSize > 0 && processed >= sc.Config.BatchSize {
			return processed, n == to, nil
		}
	}
	return processed, true, nil
}

// checkForkFields enforces presence/absence of the post-fork optional
// header fields declared consistently (spec §4.12.1 item (e)): once a
// field appears it must appear on every subsequent block, so a header
// cannot carry a later-fork field without its predecessors.
func checkForkFields(h *common.Header) error {
	if h.BlobGasUsed != nil && h.WithdrawalsRoot == nil {
		return errPostForkFieldOrder
	}
	if h.ParentBeaconRoot != nil && h.BlobGasUsed == nil {
		return errPostForkFieldOrder
	}
	if h.RequestsRoot != nil && h.ParentBeaconRoot == nil {
		return errPostForkFieldOrder
	}
	return nil
}

var errPostForkFieldOrder = errors.New("post-fork header field present out of order")

func (s Headers) canonicalHashAt(tx kv.Getter, n common.BlockNum) (common.Hash, bool, error) {
	v, ok, err := tx.GetOne(kv.CanonicalHashes, beBytes8(uint64(n)))
	if err != nil || !ok {
		return common.Hash{}, false, err
	}
	return common.BytesToHash(v), true, nil
}

// CanonicalHashAt exposes the canonical-hash lookup for other stages
// (bodies, senders, execution) that need a block's identity without paying
// for a full header decode.
func CanonicalHashAt(tx kv.Getter, n common.BlockNum) (common.Hash, bool, error) {
	return Headers{}.canonicalHashAt(tx, n)
}

// LoadHeader re-reads a previously committed header (spec §4.12.4 "Read
// header and body"), decoding it with the fixed binary codec rather than
// RLP.
func LoadHeader(tx kv.Getter, n common.BlockNum) (*common.Header, bool, error) {
	hash, ok, err := CanonicalHashAt(tx, n)
	if err != nil || !ok {
		return nil, false, err
	}
	raw, ok, err := tx.GetOne(kv.Headers, headerKey(n, hash))
	if err != nil || !ok {
		return nil, false, err
	}
	h, err := common.DecodeHeader(raw)
	if err != nil {
		return nil, false, err
	}
	return h, true, nil
}

func (s Headers) Unwind(sc *Context, to common.BlockNum) error {
	cur, err := sc.Tx.Cursor(kv.CanonicalHashes)
	if err != nil {
		return err
	}
	defer cur.Close()

	k, v, err := cur.Seek(beBytes8(uint64(to + 1)))
	for ; k != nil && err == nil; k, v, err = cur.Next() {
		n := beUint64(k)
		hash := common.BytesToHash(v)
		if err := sc.Tx.Delete(kv.Headers, headerKey(common.BlockNum(n), hash)); err != nil {
			return err
		}
		if err := sc.Tx.Delete(kv.HeaderNumbers, hash); err != nil {
			return err
		}
		if err := sc.Tx.Delete(kv.CanonicalHashes, k); err != nil {
			return err
		}
	}
	return err
}
