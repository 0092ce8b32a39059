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

package state

import (
	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/state/journal"
	"github.com/erigontech/erigoncore/state/object"
)

// reverter is IntraBlockState viewed through the journal.Reverter
// interface: a distinct named type (identical underlying struct) so the
// journal package's dependency-free Reverter contract can be implemented
// without IntraBlockState's public API exposing these low-level setters
// directly (spec §4.4's "no upward package dependency" carried through as
// "no accidental public surface" here).
type reverter IntraBlockState

func (r *reverter) ibs() *IntraBlockState { return (*IntraBlockState)(r) }

func (r *reverter) RestoreAccountSnapshot(addr common.Address, snap any) {
	s := r.ibs()
	o, ok := s.objects[addr]
	if !ok {
		return
	}
	o.Restore(snap.(object.Snapshot))
}

// SetBalance accepts either a *common.U256 (absolute prior value, from
// BalanceChange) or a *journal.NegatedAmount (relative reversal of a
// coalesced BalanceIncreaseChange); see state/journal/entries.go.
func (r *reverter) SetBalance(addr common.Address, balance any) {
	s := r.ibs()
	o, ok := s.objects[addr]
	if !ok {
		return
	}
	switch v := balance.(type) {
	case *common.U256:
		o.SetBalance(v)
	case *journal.NegatedAmount:
		cur := common.CopyU256(o.Account.Balance)
		cur.Sub(cur, v.Amount)
		o.SetBalance(cur)
	}
}

func (r *reverter) SetNonce(addr common.Address, nonce uint64) {
	if o, ok := r.ibs().objects[addr]; ok {
		o.SetNonce(nonce)
	}
}

func (r *reverter) SetStorage(addr common.Address, slot, value common.Hash) {
	if o, ok := r.ibs().objects[addr]; ok {
		o.RawSetState(slot, value)
	}
}

func (r *reverter) SetTransientStorage(addr common.Address, slot, value common.Hash) {
	r.ibs().transient.Set(addr, slot, value)
}

func (r *reverter) SetCodeHash(addr common.Address, hash common.Hash) {
	if o, ok := r.ibs().objects[addr]; ok {
		o.SetCodeHash(hash)
	}
}

func (r *reverter) SetRefund(refund uint64) { r.ibs().refund = refund }

func (r *reverter) TruncateLogs(n int) {
	s := r.ibs()
	if n <= len(s.logs) {
		s.logs = s.logs[:n]
	}
}

func (r *reverter) DeleteCreatedObject(addr common.Address) {
	delete(r.ibs().objects, addr)
}

func (r *reverter) ClearSelfDestruct(addr common.Address) {
	if o, ok := r.ibs().objects[addr]; ok {
		o.SelfDestructed = false
	}
}

func (r *reverter) RemoveFromAccessList(addr common.Address) {
	r.ibs().accessList.RemoveAddress(addr)
}

func (r *reverter) RemoveSlotFromAccessList(addr common.Address, slot common.Hash) {
	r.ibs().accessList.RemoveSlot(addr, slot)
}

func (r *reverter) ForgetTouch(addr common.Address) {
	delete(r.ibs().touched, addr)
}

func (r *reverter) UnmarkBalanceIncreaseTransferred(addr common.Address) {
	// Pending-increase transfer is idempotent and only flushed by Finalize
	// at the end of a transaction (object.Object.FlushPendingIncrease);
	// there is nothing to unmark mid-transaction, since a revert that reaches back past
	// a BalanceIncreaseChange simply subtracts the increment itself (see
	// SetBalance's NegatedAmount case) without ever having flushed it.
}

var _ journal.Reverter = (*reverter)(nil)
