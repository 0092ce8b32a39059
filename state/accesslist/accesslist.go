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

// Package accesslist implements the EIP-2929/2930 warm/cold tracking of
// spec §4.5: a cold address access costs 2600 gas, a cold slot access 2100,
// warm accesses cost 100. The list resets every transaction and is
// pre-warmed per spec §4.5's fixed list (origin, recipient/CREATE address,
// precompiles, post-Shanghai coinbase, explicit tx access-list entries).
package accesslist

import "github.com/erigontech/erigoncore/common"

const (
	ColdAccountAccessCost = 2600
	ColdSloadCost         = 2100
	WarmStorageReadCost   = 100
)

type slotKey struct {
	addr common.Address
	slot common.Hash
}

// List tracks which addresses and (address, slot) pairs have been accessed
// within the current transaction. Not safe for concurrent use: one per
// IntraBlockState (spec §5).
type List struct {
	addresses map[common.Address]struct{}
	slots     map[slotKey]struct{}
}

func New() *List {
	return &List{addresses: make(map[common.Address]struct{}), slots: make(map[slotKey]struct{})}
}

// Reset clears the list, called at the start of every transaction (spec
// §4.5).
func (l *List) Reset() {
	l.addresses = make(map[common.Address]struct{})
	l.slots = make(map[slotKey]struct{})
}

// ContainsAddress reports whether addr is warm.
func (l *List) ContainsAddress(addr common.Address) bool {
	_, ok := l.addresses[addr]
	return ok
}

// ContainsSlot reports whether (addr, slot) is warm; addressPresent also
// reports whether addr alone is warm (callers that additionally need that
// fact avoid a second lookup).
func (l *List) ContainsSlot(addr common.Address, slot common.Hash) (slotPresent, addressPresent bool) {
	_, addressPresent = l.addresses[addr]
	_, slotPresent = l.slots[slotKey{addr, slot}]
	return
}

// addAddressRaw adds addr without journaling, used for pre-warming where
// there is nothing to revert (the list itself was just reset).
func (l *List) addAddressRaw(addr common.Address) { l.addresses[addr] = struct{}{} }

func (l *List) addSlotRaw(addr common.Address, slot common.Hash) {
	l.addresses[addr] = struct{}{}
	l.slots[slotKey{addr, slot}] = struct{}{}
}

// AddAddress marks addr warm, returning whether it was previously cold. The
// caller (IntraBlockState) is responsible for journaling this so revert can
// call RemoveAddress.
func (l *List) AddAddress(addr common.Address) (wasCold bool) {
	if l.ContainsAddress(addr) {
		return false
	}
	l.addAddressRaw(addr)
	return true
}

// AddSlot marks (addr, slot) warm (and addr along with it, matching EVM
// SLOAD/SSTORE semantics), returning whether the slot and/or the address
// were previously cold.
func (l *List) AddSlot(addr common.Address, slot common.Hash) (slotWasCold, addrWasCold bool) {
	addrWasCold = l.AddAddress(addr)
	key := slotKey{addr, slot}
	if _, ok := l.slots[key]; ok {
		return false, addrWasCold
	}
	l.slots[key] = struct{}{}
	return true, addrWasCold
}

// RemoveAddress reverses AddAddress (journal revert only; spec §4.5).
func (l *List) RemoveAddress(addr common.Address) { delete(l.addresses, addr) }

// RemoveSlot reverses the slot half of AddSlot (journal revert only). The
// address warmth is reversed by a separate AccessListAddressChange entry
// when AddSlot's addrWasCold was true.
func (l *List) RemoveSlot(addr common.Address, slot common.Hash) { delete(l.slots, slotKey{addr, slot}) }

// Prewarm seeds the list at transaction start per spec §4.5: origin,
// recipient (or computed CREATE address), every precompile, the coinbase
// when post-Shanghai, and the transaction's explicit access-list entries.
// No journaling: this happens before any snapshot is taken for the
// transaction.
func (l *List) Prewarm(origin common.Address, to *common.Address, precompiles []common.Address, coinbase *common.Address, txList []Tuple) {
	l.addAddressRaw(origin)
	if to != nil {
		l.addAddressRaw(*to)
	}
	for _, p := range precompiles {
		l.addAddressRaw(p)
	}
	if coinbase != nil {
		l.addAddressRaw(*coinbase)
	}
	for _, t := range txList {
		l.addAddressRaw(t.Address)
		for _, s := range t.StorageKeys {
			l.addSlotRaw(t.Address, s)
		}
	}
}

// Tuple mirrors common.AccessTuple to avoid a package-layering dependency
// from common -> accesslist; IntraBlockState converts at the call site.
type Tuple struct {
	Address     common.Address
	StorageKeys []common.Hash
}
