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
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/kv"
)

func sampleTx() *common.Transaction {
	to := common.BytesToAddress([]byte{0x99})
	return &common.Transaction{Type: common.DynamicFeeTxType, ChainID: uint256.NewInt(1), Nonce: 5,
		GasTipCap: uint256.NewInt(1_000_000_000), GasFeeCap: uint256.NewInt(30_000_000_000), Gas: 21_000,
		To: &to, Value: uint256.NewInt(1), Data: []byte{0xde, 0xad}, V: uint256.NewInt(0), R: uint256.NewInt(1), S: uint256.NewInt(2), YParity: 1}
}

func writeCanonicalBody(t *testing.T, tx kv.RwTx, n common.BlockNum, body *common.Body) common.Hash {
	t.Helper()
	h := &common.Header{Number: n, UncleHash: body.UncleHash()}
	hash := h.Hash()
	require.NoError(t, tx.Put(kv.CanonicalHashes, beBytes8(uint64(n)), hash.Bytes()))
	require.NoError(t, tx.Put(kv.Bodies, headerKey(n, hash), body.EncodeForStorage()))
	return hash
}

func TestTxLookupExecuteIndexesEachTransaction(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.BeginRw(context.Background())
	require.NoError(t, err)

	tx1 := sampleTx()
	tx2 := sampleTx()
	tx2.Nonce = 9
	writeCanonicalBody(t, tx, 1, &common.Body{Transactions: []*common.Transaction{tx1, tx2}})

	sc := &Context{Context: context.Background(), Tx: tx}
	processed, done, err := TxLookup{}.Execute(sc, 0, 1)
	require.NoError(t, err)
	require.True(t, done)
	require.EqualValues(t, 1, processed)

	n, ok, err := LookupBlock(tx, tx1.Hash())
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, n)

	n2, ok, err := LookupBlock(tx, tx2.Hash())
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, n2)
	require.NoError(t, tx.Commit())
}

func TestTxLookupUnwindRemovesEntries(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.BeginRw(context.Background())
	require.NoError(t, err)

	txn := sampleTx()
	writeCanonicalBody(t, tx, 1, &common.Body{Transactions: []*common.Transaction{txn}})
	sc := &Context{Context: context.Background(), Tx: tx}
	_, _, err = TxLookup{}.Execute(sc, 0, 1)
	require.NoError(t, err)

	require.NoError(t, TxLookup{}.Unwind(sc, 0))
	_, ok, err := LookupBlock(tx, txn.Hash())
	require.NoError(t, err)
	require.False(t, ok, "unwinding below the block must drop its transaction lookups")
	require.NoError(t, tx.Commit())
}
