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

package accesslist

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/erigoncore/common"
)

func accessCost(wasCold bool) int {
	if wasCold {
		return ColdAccountAccessCost
	}
	return WarmStorageReadCost
}

// TestAddressAccessCostIsColdThenWarmThenColdAfterRevert is property P4: for
// any address sequence, the second access to the same address costs warm
// and the first costs cold; after revert_to past the first access, the next
// access is cold again.
func TestAddressAccessCostIsColdThenWarmThenColdAfterRevert(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	for trial := 0; trial < 50; trial++ {
		l := New()
		var addr common.Address
		addr[19] = byte(r.Intn(255) + 1)

		firstCold := l.AddAddress(addr)
		require.True(t, firstCold, "trial %d: first access must be cold", trial)
		require.Equal(t, ColdAccountAccessCost, accessCost(firstCold))

		secondCold := l.AddAddress(addr)
		require.False(t, secondCold, "trial %d: second access must be warm", trial)
		require.Equal(t, WarmStorageReadCost, accessCost(secondCold))

		// Simulate reverting past the first access: the journal would call
		// RemoveAddress on unwind of the AccessListAddressChange entry.
		l.RemoveAddress(addr)

		thirdCold := l.AddAddress(addr)
		require.True(t, thirdCold, "trial %d: access after revert-past-first must be cold again", trial)
	}
}

// TestSlotAccessWarmsAddressToo is P4's address/slot coupling: accessing a
// slot warms its address as a side effect, exactly like AddAddress would.
func TestSlotAccessWarmsAddressToo(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		l := New()
		var addr common.Address
		addr[19] = byte(r.Intn(255) + 1)
		var slot common.Hash
		slot[31] = byte(r.Intn(255) + 1)

		slotCold, addrCold := l.AddSlot(addr, slot)
		require.True(t, slotCold, "trial %d: first slot access must be cold", trial)
		require.True(t, addrCold, "trial %d: first slot access warms a previously cold address", trial)

		slotCold2, addrCold2 := l.AddSlot(addr, slot)
		require.False(t, slotCold2, "trial %d: repeat slot access is warm", trial)
		require.False(t, addrCold2, "trial %d: repeat slot access finds address already warm", trial)

		require.True(t, l.ContainsAddress(addr))
		slotPresent, addrPresent := l.ContainsSlot(addr, slot)
		require.True(t, slotPresent)
		require.True(t, addrPresent)
	}
}
