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

package journal

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/erigoncore/common"
)

// fakeState is a minimal Reverter backing property P3: it tracks just
// enough mutable fields (balance, nonce, storage) for a random sequence of
// journal entries to mutate and revert, plus no-op stubs for every other
// Reverter method the journal's entry kinds may invoke.
type fakeState struct {
	balances map[common.Address]*common.U256
	nonces   map[common.Address]uint64
	storage  map[common.Address]map[common.Hash]common.Hash
}

func newFakeState() *fakeState {
	return &fakeState{
		balances: make(map[common.Address]*common.U256),
		nonces:   make(map[common.Address]uint64),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
	}
}

func (s *fakeState) snapshotValues(addrs []common.Address, slots []common.Hash) map[string]common.U256 {
	out := make(map[string]common.U256)
	for _, a := range addrs {
		out["bal:"+a.String()] = *s.balances[a]
		out["nonce:"+a.String()] = *common.U256FromUint64(s.nonces[a])
		for _, sl := range slots {
			v := s.storage[a][sl]
			out["store:"+a.String()+sl.String()] = *common.U256FromUint64(0).SetBytes(v[:])
		}
	}
	return out
}

func (s *fakeState) RestoreAccountSnapshot(addr common.Address, snap any) {}

func (s *fakeState) SetBalance(addr common.Address, balance any) {
	switch b := balance.(type) {
	case *common.U256:
		s.balances[addr] = b.Clone()
	case *NegatedAmount:
		cur := s.balances[addr]
		next := new(common.U256).Sub(cur, b.Amount)
		s.balances[addr] = next
	}
}

func (s *fakeState) SetNonce(addr common.Address, nonce uint64) { s.nonces[addr] = nonce }

func (s *fakeState) SetStorage(addr common.Address, slot common.Hash, value common.Hash) {
	if s.storage[addr] == nil {
		s.storage[addr] = make(map[common.Hash]common.Hash)
	}
	s.storage[addr][slot] = value
}

func (s *fakeState) SetTransientStorage(addr common.Address, slot common.Hash, value common.Hash) {}
func (s *fakeState) SetCodeHash(addr common.Address, hash common.Hash)                            {}
func (s *fakeState) SetRefund(refund uint64)                                                      {}
func (s *fakeState) TruncateLogs(n int)                                                           {}
func (s *fakeState) DeleteCreatedObject(addr common.Address)                                      {}
func (s *fakeState) ClearSelfDestruct(addr common.Address)                                        {}
func (s *fakeState) RemoveFromAccessList(addr common.Address)                                      {}
func (s *fakeState) RemoveSlotFromAccessList(addr common.Address, slot common.Hash)                {}
func (s *fakeState) ForgetTouch(addr common.Address)                                               {}
func (s *fakeState) UnmarkBalanceIncreaseTransferred(addr common.Address)                           {}

// TestRevertToSnapshotZeroRestoresOriginalState is property P3: for any
// sequence of state mutations followed by revert_to(0), the state is
// bit-identical to the starting state.
func TestRevertToSnapshotZeroRestoresOriginalState(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	addrs := make([]common.Address, 4)
	for i := range addrs {
		addrs[i][19] = byte(i + 1)
	}
	slots := make([]common.Hash, 3)
	for i := range slots {
		slots[i][31] = byte(i + 1)
	}

	for trial := 0; trial < 30; trial++ {
		state := newFakeState()
		for _, a := range addrs {
			state.balances[a] = common.U256FromUint64(uint64(r.Intn(1_000_000)))
			state.nonces[a] = uint64(r.Intn(1000))
		}
		before := state.snapshotValues(addrs, slots)

		j := New()
		require.Equal(t, 0, j.Snapshot())

		steps := r.Intn(40)
		for i := 0; i < steps; i++ {
			addr := addrs[r.Intn(len(addrs))]
			switch r.Intn(3) {
			case 0:
				prior := state.balances[addr].Clone()
				j.Append(BalanceChange{Addr: addr, Prior: prior})
				state.SetBalance(addr, common.U256FromUint64(uint64(r.Intn(1_000_000))))
			case 1:
				prior := state.nonces[addr]
				j.Append(NonceChange{Addr: addr, Prior: prior})
				state.SetNonce(addr, uint64(r.Intn(1000)))
			case 2:
				slot := slots[r.Intn(len(slots))]
				prior := state.storage[addr][slot]
				j.Append(StorageChange{Addr: addr, Slot: slot, Prior: prior})
				var next common.Hash
				next[31] = byte(r.Intn(255) + 1)
				state.SetStorage(addr, slot, next)
			}
		}

		j.RevertToSnapshot(0, state)
		require.Equal(t, 0, j.Len(), "trial %d: journal must be empty after reverting to 0", trial)

		after := state.snapshotValues(addrs, slots)
		for k, want := range before {
			w, g := want, after[k]
			require.True(t, w.Eq(&g), "trial %d key %s: want %s got %s", trial, k, w.String(), g.String())
		}
	}
}
