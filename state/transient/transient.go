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

// Package transient implements EIP-1153 transient storage (spec §4.6): a
// per-transaction ephemeral key-value store cleared unconditionally at
// transaction end. Gas accounting for loads/stores is the EVM's concern,
// not this layer's.
package transient

import "github.com/erigontech/erigoncore/common"

type key struct {
	addr common.Address
	slot common.Hash
}

// Storage is the transient-storage map. Not safe for concurrent use: one
// per IntraBlockState (spec §5).
type Storage struct {
	values map[key]common.Hash
}

func New() *Storage { return &Storage{values: make(map[key]common.Hash)} }

// Get returns the stored value, or the zero hash if absent (spec §4.6).
func (s *Storage) Get(addr common.Address, slot common.Hash) common.Hash {
	return s.values[key{addr, slot}]
}

// Set writes value, returning the prior value so the caller can journal a
// TransientStorageChange for revert (spec §4.4, §4.6).
func (s *Storage) Set(addr common.Address, slot common.Hash, value common.Hash) (prior common.Hash) {
	k := key{addr, slot}
	prior = s.values[k]
	if value.IsZero() {
		delete(s.values, k)
		return prior
	}
	s.values[k] = value
	return prior
}

// Clear wipes every entry; called unconditionally at the end of every
// transaction (spec §4.6 "sole lifecycle rule").
func (s *Storage) Clear() { s.values = make(map[key]common.Hash) }
