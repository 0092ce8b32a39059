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

package object

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/erigoncore/common"
)

// fakeLoader returns a fixed value for every slot, simulating the backing
// Domain as of block start.
type fakeLoader struct {
	values map[common.Hash]common.Hash
}

func (l *fakeLoader) LoadStorage(addr common.Address, slot common.Hash) (common.Hash, error) {
	return l.values[slot], nil
}

func (l *fakeLoader) LoadCode(codeHash common.Hash) ([]byte, error) { return nil, nil }

func randHash(r *rand.Rand) common.Hash {
	var h common.Hash
	h[31] = byte(r.Intn(255) + 1)
	return h
}

// TestGetCommittedStateIgnoresIntraBlockWrites is property P5:
// get_committed_state(a, s) returns the value as of block start regardless
// of subsequent intra-block writes.
func TestGetCommittedStateIgnoresIntraBlockWrites(t *testing.T) {
	r := rand.New(rand.NewSource(8))
	for trial := 0; trial < 50; trial++ {
		var addr common.Address
		addr[19] = byte(trial + 1)
		var slot common.Hash
		slot[31] = 0x11

		origin := randHash(r)
		loader := &fakeLoader{values: map[common.Hash]common.Hash{slot: origin}}
		obj := New(addr, loader)

		committedBefore, err := obj.GetCommittedState(slot)
		require.NoError(t, err)
		require.Equal(t, origin, committedBefore)

		writes := r.Intn(10) + 1
		var lastWrite common.Hash
		for i := 0; i < writes; i++ {
			lastWrite = randHash(r)
			_, err := obj.SetState(slot, lastWrite)
			require.NoError(t, err)
		}

		got, err := obj.GetState(slot)
		require.NoError(t, err)
		require.Equal(t, lastWrite, got, "trial %d: GetState must reflect the latest dirty write", trial)

		committedAfter, err := obj.GetCommittedState(slot)
		require.NoError(t, err)
		require.Equal(t, origin, committedAfter, "trial %d: GetCommittedState must stay pinned to block start", trial)
	}
}

// TestSeedBlockOriginOnlyAppliesOnFirstTouch checks the other half of the
// tiering invariant: once block-origin is seeded for a slot (whether via
// GetCommittedState's lazy load or an explicit SeedBlockOrigin call),
// further seeding attempts with a different value are no-ops.
func TestSeedBlockOriginOnlyAppliesOnFirstTouch(t *testing.T) {
	var addr common.Address
	var slot common.Hash
	slot[31] = 0x22
	origin := common.Hash{}
	origin[31] = 0xAA
	loader := &fakeLoader{values: map[common.Hash]common.Hash{slot: origin}}
	obj := New(addr, loader)

	v, err := obj.GetCommittedState(slot)
	require.NoError(t, err)
	require.Equal(t, origin, v)

	other := common.Hash{}
	other[31] = 0xBB
	obj.SeedBlockOrigin(slot, other)

	v2, err := obj.GetCommittedState(slot)
	require.NoError(t, err)
	require.Equal(t, origin, v2, "SeedBlockOrigin must not overwrite an already-seeded slot")
}
