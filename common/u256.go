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

// U256 is the 256-bit unsigned integer used for balances, storage values,
// and gas-price fields (spec §3).
type U256 = uint256.Int

// U256FromUint64 builds a U256 from a uint64, the common case for nonces,
// gas amounts and small literal constants.
func U256FromUint64(v uint64) *U256 { return uint256.NewInt(v) }

// CopyU256 returns a heap-allocated copy, used whenever a prior value must
// be captured before it is mutated in place (journal entries, history
// previous-value capture).
func CopyU256(v *U256) *U256 {
	if v == nil {
		return new(U256)
	}
	c := *v
	return &c
}
