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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/kv"
	"github.com/erigontech/erigoncore/kv/memdb"
)

func openTestDomain(t *testing.T) (*Domain, kv.RwTx) {
	t.Helper()
	env, err := memdb.Open(t.TempDir(), kv.ChaindataTablesCfg)
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })

	d, err := Open(t.TempDir(), kv.AccountsDomain, 8, true)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	tx, err := env.BeginRw(context.Background())
	require.NoError(t, err)
	t.Cleanup(tx.Rollback)
	return d, tx
}

// TestGetAsOfMatchesReplayedWriteHistory is property P6: for any txNum t
// for which get_as_of(key, t) returns value v, replaying every write to key
// from genesis through t and taking the last one yields the same v.
func TestGetAsOfMatchesReplayedWriteHistory(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	for trial := 0; trial < 20; trial++ {
		d, tx := openTestDomain(t)
		key := []byte("account-under-test")

		var txNum common.TxNum
		type write struct {
			txNum common.TxNum
			value []byte
		}
		var writes []write
		for i := 0; i < r.Intn(15)+1; i++ {
			txNum += common.TxNum(r.Intn(5) + 1)
			value := []byte{byte(r.Intn(250) + 1)}
			require.NoError(t, d.Put(tx, key, value, txNum))
			writes = append(writes, write{txNum: txNum, value: value})
		}

		replay := func(upTo common.TxNum) []byte {
			var last []byte
			for _, w := range writes {
				if w.txNum <= upTo {
					last = w.value
				}
			}
			return last
		}

		// Sample targets at and beyond the first write, since get_as_of for a
		// txNum before any write ever occurred is outside this property's
		// scope (the domain has no record to fall back on either way).
		for i := 0; i < 20; i++ {
			target := writes[0].txNum + common.TxNum(r.Intn(int(txNum)+5))
			want := replay(target)
			got, ok, err := d.GetAsOf(tx, key, target)
			require.NoError(t, err)
			require.True(t, ok, "trial %d target %d: expected a value", trial, target)
			require.Equal(t, want, got, "trial %d target %d", trial, target)
		}
	}
}
