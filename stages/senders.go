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
	"golang.org/x/sync/errgroup"

	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/ercore/errs"
	"github.com/erigontech/erigoncore/kv"
)

// Senders implements spec §4.12.3: recovers each transaction's sender via
// its signature and signing hash, storing the concatenated 20-byte address
// list per block. Recovery is embarrassingly parallel across transactions
// within a block (spec: "this is embarrassingly parallel and cacheable
// across identical signatures"), farmed out to a bounded worker pool via
// errgroup, matching the teacher's own errgroup.WithContext idiom for
// bounded fan-out.
type Senders struct{}

func (Senders) ID() ID { return StageSenders }

func (s Senders) Execute(sc *Context, from, to common.BlockNum) (uint64, bool, error) {
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
			return processed, false, errs.InvalidBody(uint64(n), "missing body for senders stage")
		}

		senders, err := recoverSenders(sc, body.Transactions)
		if err != nil {
			return processed, false, errs.Wrap(errs.KindSenderRecoveryFailed, uint64(n), err)
		}

		buf := make([]byte, 0, len(senders)*common.AddressLength)
		for _, addr := range senders {
			buf = append(buf, addr.Bytes()...)
		}
		if err := sc.Tx.Put(kv.Senders, headerKey(n, hash), buf); err != nil {
			return processed, false, err
		}

		processed++
		if sc.Config.BatchSize > 0 && processed >= sc.Config.BatchSize {
			return processed, n == to, nil
		}
	}
	return processed, true, nil
}

func recoverSenders(sc *Context, txs []*common.Transaction) ([]common.Address, error) {
	out := make([]common.Address, len(txs))
	workers := sc.Config.SenderRecoveryWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(txs) {
		workers = len(txs)
	}
	if workers <= 1 {
		for i, tx := range txs {
			addr, err := tx.Sender()
			if err != nil {
				return nil, err
			}
			out[i] = addr
		}
		return out, nil
	}

	g, _ := errgroup.WithContext(sc.Context)
	sem := make(chan struct{}, workers)
	for i, tx := range txs {
		i, tx := i, tx
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			addr, err := tx.Sender()
			if err != nil {
				return err
			}
			out[i] = addr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadSenders re-reads a block's recovered sender addresses.
func LoadSenders(tx kv.Getter, n common.BlockNum, hash common.Hash) ([]common.Address, bool, error) {
	raw, ok, err := tx.GetOne(kv.Senders, headerKey(n, hash))
	if err != nil || !ok {
		return nil, false, err
	}
	out := make([]common.Address, len(raw)/common.AddressLength)
	for i := range out {
		out[i] = common.BytesToAddress(raw[i*common.AddressLength : (i+1)*common.AddressLength])
	}
	return out, true, nil
}

func (s Senders) Unwind(sc *Context, to common.BlockNum) error {
	cur, err := sc.Tx.Cursor(kv.CanonicalHashes)
	if err != nil {
		return err
	}
	defer cur.Close()

	k, v, err := cur.Seek(beBytes8(uint64(to + 1)))
	for ; k != nil && err == nil; k, v, err = cur.Next() {
		n := beUint64(k)
		hash := common.BytesToHash(v)
		if err := sc.Tx.Delete(kv.Senders, headerKey(common.BlockNum(n), hash)); err != nil {
			return err
		}
	}
	return err
}
