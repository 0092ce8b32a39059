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

// Package common holds the primitive types shared by every layer of the
// state engine: fixed-width hashes and addresses, the 256-bit unsigned
// integer used for balances and storage values, and the Keccak-256 hash
// function used for identity throughout.
package common

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const (
	HashLength    = 32
	AddressLength = 20
)

// Hash represents a 32-byte Keccak-256 digest.
type Hash [HashLength]byte

func (h Hash) Bytes() []byte  { return h[:] }
func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }
func (h Hash) IsZero() bool   { return h == (Hash{}) }

func BytesToHash(b []byte) (h Hash) {
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// Address represents a 20-byte account address.
type Address [AddressLength]byte

func (a Address) Bytes() []byte  { return a[:] }
func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }
func (a Address) IsZero() bool   { return a == (Address{}) }

func BytesToAddress(b []byte) (a Address) {
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// Keccak256 hashes the concatenation of all data slices.
func Keccak256(data ...[]byte) Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var h Hash
	d.Sum(h[:0])
	return h
}

// Keccak256Hash is an alias for Keccak256 kept for call-site readability at
// identity-hashing sites (block/transaction hashing).
func Keccak256Hash(data ...[]byte) Hash { return Keccak256(data...) }

// TxNum is the global, monotonically increasing transaction index described
// in spec §3. It is distinct from the per-block transaction index and from
// the block number.
type TxNum uint64

// BlockNum is the Ethereum block number.
type BlockNum uint64

// Step is a fixed-width window of TxNum values; see spec §3.
type Step uint64

// StepFromTxNum returns the step index covering txNum, given step size s.
func StepFromTxNum(txNum TxNum, s uint64) Step {
	if s == 0 {
		panic("common: zero step size")
	}
	return Step(uint64(txNum) / s)
}

func (s Step) String() string { return fmt.Sprintf("%d", uint64(s)) }
