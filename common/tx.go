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

import "github.com/holiman/uint256"

// TxType tags the five transaction forms of spec §3 (§9: "tagged sum over
// five variants... every operation on transaction is a match across
// variants").
type TxType uint8

const (
	LegacyTxType TxType = iota
	AccessListTxType
	DynamicFeeTxType
	BlobTxType
	SetCodeTxType
)

// AccessTuple is one EIP-2930 access-list entry.
type AccessTuple struct {
	Address     Address
	StorageKeys []Hash
}

// Authorization is one EIP-7702 set-code authorization tuple.
type Authorization struct {
	ChainID Hash
	Address Address
	Nonce   uint64
	V       uint8
	R, S    Hash
}

// Transaction is the tagged variant over the five transaction forms (spec
// §3, §9). Fields not applicable to Type are left zero-valued; every
// operation below switches on Type explicitly rather than relying on
// polymorphism, matching the re-architecture note in spec §9.
type Transaction struct {
	Type TxType

	ChainID              *uint256.Int // absent (nil) for legacy
	Nonce                uint64
	GasPrice             *uint256.Int // legacy, access-list
	GasTipCap            *uint256.Int // dynamic-fee, blob, set-code ("maxPriorityFeePerGas")
	GasFeeCap            *uint256.Int // dynamic-fee, blob, set-code ("maxFeePerGas")
	Gas                  uint64
	To                   *Address // nil for contract creation (legacy/access-list/dynamic-fee only)
	Value                *uint256.Int
	Data                 []byte
	AccessList           []AccessTuple // access-list, dynamic-fee, blob, set-code
	BlobFeeCap           *uint256.Int  // blob only ("maxFeePerBlobGas")
	BlobHashes           []Hash        // blob only
	AuthorizationList    []Authorization // set-code only

	// Signature
	V, R, S *uint256.Int // legacy: V carries chain-id-adjusted recovery id
	YParity uint8        // typed transactions

	hash       *Hash // write-once cache (spec §9 "atomic caching")
	signingHash *Hash
}

// IsContractCreation reports whether To is absent, i.e. this transaction
// deploys new code (legal only for legacy/access-list/dynamic-fee types;
// blob and set-code transactions mandate a recipient, spec §3).
func (tx *Transaction) IsContractCreation() bool { return tx.To == nil }

// payload returns the RLP list of fields covered by the signature, in the
// order of the type's canonical encoding; includeSignature controls whether
// V/R/S (or YParity/R/S) are appended, distinguishing the signing hash from
// the full canonical encoding (spec §3).
func (tx *Transaction) payload(includeSignature bool) []byte {
	var items [][]byte
	toBytes := func() []byte {
		if tx.To == nil {
			return nil
		}
		return tx.To.Bytes()
	}
	valueOrZero := func(v *uint256.Int) uint64 {
		if v == nil {
			return 0
		}
		return v.Uint64()
	}
	accessList := func() []byte {
		items := make([][]byte, len(tx.AccessList))
		for i, at := range tx.AccessList {
			keys := make([][]byte, len(at.StorageKeys))
			for j, k := range at.StorageKeys {
				keys[j] = RlpString(k.Bytes())
			}
			items[i] = RlpList(RlpString(at.Address.Bytes()), RlpList(keys...))
		}
		return RlpList(items...)
	}

	switch tx.Type {
	case LegacyTxType:
		items = [][]byte{
			RlpUint(tx.Nonce),
			RlpUint(valueOrZero(tx.GasPrice)),
			RlpUint(tx.Gas),
			RlpString(toBytes()),
			RlpUint(valueOrZero(tx.Value)),
			RlpString(tx.Data),
		}
	case AccessListTxType:
		items = [][]byte{
			RlpUint(valueOrZero(tx.ChainID)),
			RlpUint(tx.Nonce),
			RlpUint(valueOrZero(tx.GasPrice)),
			RlpUint(tx.Gas),
			RlpString(toBytes()),
			RlpUint(valueOrZero(tx.Value)),
			RlpString(tx.Data),
			accessList(),
		}
	case DynamicFeeTxType:
		items = [][]byte{
			RlpUint(valueOrZero(tx.ChainID)),
			RlpUint(tx.Nonce),
			RlpUint(valueOrZero(tx.GasTipCap)),
			RlpUint(valueOrZero(tx.GasFeeCap)),
			RlpUint(tx.Gas),
			RlpString(toBytes()),
			RlpUint(valueOrZero(tx.Value)),
			RlpString(tx.Data),
			accessList(),
		}
	case BlobTxType:
		hashes := make([][]byte, len(tx.BlobHashes))
		for i, h := range tx.BlobHashes {
			hashes[i] = RlpString(h.Bytes())
		}
		items = [][]byte{
			RlpUint(valueOrZero(tx.ChainID)),
			RlpUint(tx.Nonce),
			RlpUint(valueOrZero(tx.GasTipCap)),
			RlpUint(valueOrZero(tx.GasFeeCap)),
			RlpUint(tx.Gas),
			RlpString(toBytes()),
			RlpUint(valueOrZero(tx.Value)),
			RlpString(tx.Data),
			accessList(),
			RlpUint(valueOrZero(tx.BlobFeeCap)),
			RlpList(hashes...),
		}
	case SetCodeTxType:
		auths := make([][]byte, len(tx.AuthorizationList))
		for i, a := range tx.AuthorizationList {
			auths[i] = RlpList(
				RlpString(a.ChainID.Bytes()), RlpString(a.Address.Bytes()), RlpUint(a.Nonce),
				RlpUint(uint64(a.V)), RlpString(a.R.Bytes()), RlpString(a.S.Bytes()),
			)
		}
		items = [][]byte{
			RlpUint(valueOrZero(tx.ChainID)),
			RlpUint(tx.Nonce),
			RlpUint(valueOrZero(tx.GasTipCap)),
			RlpUint(valueOrZero(tx.GasFeeCap)),
			RlpUint(tx.Gas),
			RlpString(toBytes()),
			RlpUint(valueOrZero(tx.Value)),
			RlpString(tx.Data),
			accessList(),
			RlpList(auths...),
		}
	}
	if includeSignature {
		if tx.Type == LegacyTxType {
			items = append(items, RlpUint(valueOrZero(tx.V)), RlpString(tx.R.Bytes()), RlpString(tx.S.Bytes()))
		} else {
			items = append(items, RlpUint(uint64(tx.YParity)), RlpString(tx.R.Bytes()), RlpString(tx.S.Bytes()))
		}
	}
	encoded := RlpList(items...)
	if tx.Type == LegacyTxType {
		return encoded
	}
	return append([]byte{byte(tx.Type)}, encoded...)
}

// Encode returns the canonical, type-prefixed (for non-legacy types)
// encoding used for the transaction's identity hash (spec §3).
func (tx *Transaction) Encode() []byte { return tx.payload(true) }

// SigningPayload returns the encoding covered by the signature, minus V/R/S
// (spec §3 "signing hash").
func (tx *Transaction) SigningPayload() []byte { return tx.payload(false) }

// Hash returns (and caches, write-once per spec §9 "atomic caching") the
// transaction's canonical identity hash.
func (tx *Transaction) Hash() Hash {
	if tx.hash != nil {
		return *tx.hash
	}
	h := Keccak256(tx.Encode())
	tx.hash = &h
	return h
}

// SigningHash returns (and caches) the hash used for signature recovery.
func (tx *Transaction) SigningHash() Hash {
	if tx.signingHash != nil {
		return *tx.signingHash
	}
	h := Keccak256(tx.SigningPayload())
	tx.signingHash = &h
	return h
}

// IntrinsicGas computes the base gas cost of including tx, before any EVM
// execution: 21000 base, 16 per non-zero calldata byte, 4 per zero byte,
// 32000 for contract creation, plus access-list entry costs (spec §4.12.4).
func (tx *Transaction) IntrinsicGas() uint64 {
	const (
		txGas                     = 21000
		txGasContractCreation     = 53000 // 21000 + 32000
		txDataZeroGas             = 4
		txDataNonZeroGasFrontier  = 16
		txAccessListAddressGas    = 2400
		txAccessListStorageKeyGas = 1900
	)
	gas := uint64(txGas)
	if tx.IsContractCreation() {
		gas = txGasContractCreation
	}
	for _, b := range tx.Data {
		if b == 0 {
			gas += txDataZeroGas
		} else {
			gas += txDataNonZeroGasFrontier
		}
	}
	for _, at := range tx.AccessList {
		gas += txAccessListAddressGas
		gas += uint64(len(at.StorageKeys)) * txAccessListStorageKeyGas
	}
	return gas
}

// EncodeForStorage serializes every field (including the signature) in the
// fixed binary codec (common/codec.go), for the Bodies table: bodies stored
// by one stage are re-read by the execution stage after a separate commit
// (spec §4.13), so unlike Encode/SigningPayload above this must round-trip.
func (tx *Transaction) EncodeForStorage() []byte {
	var e encoder
	e.u8(uint8(tx.Type))
	e.optU256(tx.ChainID)
	e.u64(tx.Nonce)
	e.optU256(tx.GasPrice)
	e.optU256(tx.GasTipCap)
	e.optU256(tx.GasFeeCap)
	e.u64(tx.Gas)
	if tx.To == nil {
		e.u8(0)
	} else {
		e.u8(1)
		e.fixed(tx.To.Bytes())
	}
	e.optU256(tx.Value)
	e.bytes(tx.Data)
	e.u32(uint32(len(tx.AccessList)))
	for _, at := range tx.AccessList {
		e.fixed(at.Address.Bytes())
		e.u32(uint32(len(at.StorageKeys)))
		for _, k := range at.StorageKeys {
			e.fixed(k.Bytes())
		}
	}
	e.optU256(tx.BlobFeeCap)
	e.u32(uint32(len(tx.BlobHashes)))
	for _, h := range tx.BlobHashes {
		e.fixed(h.Bytes())
	}
	e.u32(uint32(len(tx.AuthorizationList)))
	for _, a := range tx.AuthorizationList {
		e.fixed(a.ChainID.Bytes())
		e.fixed(a.Address.Bytes())
		e.u64(a.Nonce)
		e.u8(a.V)
		e.fixed(a.R.Bytes())
		e.fixed(a.S.Bytes())
	}
	e.optU256(tx.V)
	e.optU256(tx.R)
	e.optU256(tx.S)
	e.u8(tx.YParity)
	return e.buf
}

// DecodeTransaction is the inverse of Transaction.EncodeForStorage.
func DecodeTransaction(raw []byte) (*Transaction, error) {
	d := decoder{b: raw}
	tx := &Transaction{}
	typ, err := d.u8()
	if err != nil {
		return nil, err
	}
	tx.Type = TxType(typ)
	if tx.ChainID, err = d.optU256(); err != nil {
		return nil, err
	}
	if tx.Nonce, err = d.u64(); err != nil {
		return nil, err
	}
	if tx.GasPrice, err = d.optU256(); err != nil {
		return nil, err
	}
	if tx.GasTipCap, err = d.optU256(); err != nil {
		return nil, err
	}
	if tx.GasFeeCap, err = d.optU256(); err != nil {
		return nil, err
	}
	if tx.Gas, err = d.u64(); err != nil {
		return nil, err
	}
	hasTo, err := d.u8()
	if err != nil {
		return nil, err
	}
	if hasTo == 1 {
		addr, err := d.address()
		if err != nil {
			return nil, err
		}
		tx.To = &addr
	}
	if tx.Value, err = d.optU256(); err != nil {
		return nil, err
	}
	if tx.Data, err = d.bytes(); err != nil {
		return nil, err
	}
	nAL, err := d.u32()
	if err != nil {
		return nil, err
	}
	tx.AccessList = make([]AccessTuple, nAL)
	for i := range tx.AccessList {
		addr, err := d.address()
		if err != nil {
			return nil, err
		}
		nKeys, err := d.u32()
		if err != nil {
			return nil, err
		}
		keys := make([]Hash, nKeys)
		for j := range keys {
			if keys[j], err = d.hash(); err != nil {
				return nil, err
			}
		}
		tx.AccessList[i] = AccessTuple{Address: addr, StorageKeys: keys}
	}
	if tx.BlobFeeCap, err = d.optU256(); err != nil {
		return nil, err
	}
	nBH, err := d.u32()
	if err != nil {
		return nil, err
	}
	tx.BlobHashes = make([]Hash, nBH)
	for i := range tx.BlobHashes {
		if tx.BlobHashes[i], err = d.hash(); err != nil {
			return nil, err
		}
	}
	nAuth, err := d.u32()
	if err != nil {
		return nil, err
	}
	tx.AuthorizationList = make([]Authorization, nAuth)
	for i := range tx.AuthorizationList {
		a := &tx.AuthorizationList[i]
		if a.ChainID, err = d.hash(); err != nil {
			return nil, err
		}
		if a.Address, err = d.address(); err != nil {
			return nil, err
		}
		if a.Nonce, err = d.u64(); err != nil {
			return nil, err
		}
		if a.V, err = d.u8(); err != nil {
			return nil, err
		}
		if a.R, err = d.hash(); err != nil {
			return nil, err
		}
		if a.S, err = d.hash(); err != nil {
			return nil, err
		}
	}
	if tx.V, err = d.optU256(); err != nil {
		return nil, err
	}
	if tx.R, err = d.optU256(); err != nil {
		return nil, err
	}
	if tx.S, err = d.optU256(); err != nil {
		return nil, err
	}
	if tx.YParity, err = d.u8(); err != nil {
		return nil, err
	}
	return tx, nil
}
