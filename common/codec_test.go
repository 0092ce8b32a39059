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

package common

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func sampleHeader() *Header {
	wr := HexMustHash("0xaa")
	bgu := uint64(131072)
	ebg := uint64(0)
	pbr := HexMustHash("0xbb")
	return &Header{
		ParentHash:       HexMustHash("0x01"),
		UncleHash:        EmptyUncleHash,
		Coinbase:         BytesToAddress([]byte{0x42}),
		StateRoot:        HexMustHash("0x02"),
		TxRoot:           HexMustHash("0x03"),
		ReceiptRoot:      HexMustHash("0x04"),
		Difficulty:       uint256.NewInt(1),
		Number:           100,
		GasLimit:         30_000_000,
		GasUsed:          21_000,
		Timestamp:        1_700_000_000,
		Extra:            []byte("test"),
		BaseFee:          uint256.NewInt(7),
		WithdrawalsRoot:  &wr,
		BlobGasUsed:      &bgu,
		ExcessBlobGas:    &ebg,
		ParentBeaconRoot: &pbr,
	}
}

func TestHeaderEncodeForStorageRoundTrip(t *testing.T) {
	h := sampleHeader()
	raw := h.EncodeForStorage()
	got, err := DecodeHeader(raw)
	require.NoError(t, err)
	require.Equal(t, h.Number, got.Number)
	require.Equal(t, h.ParentHash, got.ParentHash)
	require.Equal(t, h.StateRoot, got.StateRoot)
	require.EqualValues(t, h.Bloom, got.Bloom)
	require.Equal(t, h.BaseFee.Uint64(), got.BaseFee.Uint64())
	require.NotNil(t, got.WithdrawalsRoot)
	require.Equal(t, *h.WithdrawalsRoot, *got.WithdrawalsRoot)
	require.NotNil(t, got.ParentBeaconRoot)
	require.Equal(t, *h.ParentBeaconRoot, *got.ParentBeaconRoot)
	require.Equal(t, h.Hash(), got.Hash(), "decoded header must hash identically to the original")
}

func TestHeaderEncodeForStorageOmitsAbsentPostForkFields(t *testing.T) {
	h := sampleHeader()
	h.WithdrawalsRoot = nil
	h.BlobGasUsed = nil
	h.ExcessBlobGas = nil
	h.ParentBeaconRoot = nil
	raw := h.EncodeForStorage()
	got, err := DecodeHeader(raw)
	require.NoError(t, err)
	require.Nil(t, got.WithdrawalsRoot)
	require.Nil(t, got.BlobGasUsed)
	require.Nil(t, got.ParentBeaconRoot)
}

func sampleTx() *Transaction {
	to := BytesToAddress([]byte{0x99})
	return &Transaction{
		Type:      DynamicFeeTxType,
		ChainID:   uint256.NewInt(1),
		Nonce:     5,
		GasTipCap: uint256.NewInt(1_000_000_000),
		GasFeeCap: uint256.NewInt(30_000_000_000),
		Gas:       21_000,
		To:        &to,
		Value:     uint256.NewInt(1),
		Data:      []byte{0xde, 0xad},
		V:         uint256.NewInt(0),
		R:         uint256.NewInt(1),
		S:         uint256.NewInt(2),
		YParity:   1,
	}
}

func TestBodyEncodeForStorageRoundTrip(t *testing.T) {
	body := &Body{
		Transactions: []*Transaction{sampleTx(), sampleTx()},
		Withdrawals: []*Withdrawal{
			{Index: 1, ValidatorIndex: 2, Address: BytesToAddress([]byte{0x01}), AmountGwei: 32_000_000_000},
		},
	}
	raw := body.EncodeForStorage()
	got, err := DecodeBody(raw)
	require.NoError(t, err)
	require.Len(t, got.Transactions, 2)
	require.Equal(t, body.Transactions[0].Nonce, got.Transactions[0].Nonce)
	require.Equal(t, body.Transactions[0].Hash(), got.Transactions[0].Hash())
	require.Len(t, got.Withdrawals, 1)
	require.Equal(t, uint64(32_000_000_000), got.Withdrawals[0].AmountGwei)
}

func TestLogsBloomIsDeterministicAndOrderIndependent(t *testing.T) {
	addr := BytesToAddress([]byte{0x01})
	topic := HexMustHash("0x05")
	l1 := &Log{Address: addr, Topics: []Hash{topic}, Data: []byte("a")}
	l2 := &Log{Address: BytesToAddress([]byte{0x02}), Topics: nil, Data: []byte("b")}

	b1 := LogsBloom([]*Log{l1, l2})
	b2 := LogsBloom([]*Log{l2, l1})
	require.Equal(t, b1, b2, "bloom filter membership must not depend on log order")

	empty := LogsBloom(nil)
	require.Equal(t, [256]byte{}, empty)
}
