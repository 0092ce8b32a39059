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

// Package object implements the per-address StateObject cache of spec
// §4.7: a three-tier storage view (origin, block-origin, dirty) that lets
// SSTORE gas accounting (EIP-2200/3529) distinguish "changed within this
// tx" from "changed within this block but back to its tx-start value" from
// "unchanged since block start".
package object

import (
	"github.com/erigontech/erigoncore/common"
)

// Loader is the backing-store surface a StateObject calls through to on a
// cache miss: Domain's get_latest / get_as_of (spec §4.10), reached via
// IntraBlockState.
type Loader interface {
	LoadStorage(addr common.Address, slot common.Hash) (common.Hash, error)
	LoadCode(codeHash common.Hash) ([]byte, error)
}

// Object is the cached view of one account.
type Object struct {
	Address common.Address
	Account common.Account

	code []byte // lazy-loaded by CodeHash

	originStorage      map[common.Hash]common.Hash
	blockOriginStorage map[common.Hash]common.Hash
	dirtyStorage       map[common.Hash]common.Hash

	pendingBalanceIncrease *common.U256 // coalesced coinbase-reward optimization (spec §4.11)
	increaseTransferred    bool

	SelfDestructed bool
	NewlyCreated   bool
	Deleted        bool

	loader Loader
}

// New creates a fresh, empty-account StateObject (e.g. for CREATE).
func New(addr common.Address, loader Loader) *Object {
	return &Object{
		Address:            addr,
		Account:             common.Account{Balance: new(common.U256)},
		originStorage:       make(map[common.Hash]common.Hash),
		blockOriginStorage:  make(map[common.Hash]common.Hash),
		dirtyStorage:        make(map[common.Hash]common.Hash),
		loader:              loader,
	}
}

// FromAccount wraps an already-loaded account record.
func FromAccount(addr common.Address, acc common.Account, loader Loader) *Object {
	o := New(addr, loader)
	o.Account = acc
	return o
}

// Snapshot captures everything needed to restore this object on journal
// revert of a ResetObjectChange (spec §4.4). TakeSnapshot copies the
// dirty-storage map, since SetState writes into it in place; the other
// fields are copied shallowly.
type Snapshot struct {
	Account                common.Account
	Code                   []byte
	DirtyStorage           map[common.Hash]common.Hash
	SelfDestructed         bool
	NewlyCreated           bool
	Deleted                bool
	PendingBalanceIncrease *common.U256
	IncreaseTransferred    bool
}

func (o *Object) TakeSnapshot() Snapshot {
	dirty := make(map[common.Hash]common.Hash, len(o.dirtyStorage))
	for k, v := range o.dirtyStorage {
		dirty[k] = v
	}
	return Snapshot{
		Account:                o.Account,
		Code:                   o.code,
		DirtyStorage:           dirty,
		SelfDestructed:         o.SelfDestructed,
		NewlyCreated:           o.NewlyCreated,
		Deleted:                o.Deleted,
		PendingBalanceIncrease: o.pendingBalanceIncrease,
		IncreaseTransferred:    o.increaseTransferred,
	}
}

func (o *Object) Restore(s Snapshot) {
	o.Account = s.Account
	o.code = s.Code
	o.dirtyStorage = s.DirtyStorage
	o.SelfDestructed = s.SelfDestructed
	o.NewlyCreated = s.NewlyCreated
	o.Deleted = s.Deleted
	o.pendingBalanceIncrease = s.PendingBalanceIncrease
	o.increaseTransferred = s.IncreaseTransferred
}

// Balance/Nonce -------------------------------------------------------------

func (o *Object) Balance() *common.U256 {
	bal := common.CopyU256(o.Account.Balance)
	if o.pendingBalanceIncrease != nil {
		bal.Add(bal, o.pendingBalanceIncrease)
	}
	return bal
}

// SetBalance overwrites the committed balance directly (used by journal
// revert and by the coalesced-increase flush path); it does not itself
// journal anything.
func (o *Object) SetBalance(b *common.U256) { o.Account.Balance = common.CopyU256(b) }

// AddPendingIncrease coalesces a balance increase (e.g. coinbase reward)
// into a running pending total (spec §4.11). It journals nothing itself;
// the caller (IntraBlockState.AddBalance) journals one BalanceIncreaseChange
// per increase.
func (o *Object) AddPendingIncrease(amount *common.U256) {
	if o.pendingBalanceIncrease == nil {
		o.pendingBalanceIncrease = new(common.U256)
	}
	o.pendingBalanceIncrease.Add(o.pendingBalanceIncrease, amount)
}

// FlushPendingIncrease folds any pending increase into the committed
// balance, called from IntraBlockState.Finalize at the end of each
// transaction (spec §4.11 "apply pending increases").
func (o *Object) FlushPendingIncrease() {
	if o.pendingBalanceIncrease == nil || o.increaseTransferred {
		return
	}
	o.Account.Balance.Add(o.Account.Balance, o.pendingBalanceIncrease)
	o.increaseTransferred = true
}

func (o *Object) Nonce() uint64       { return o.Account.Nonce }
func (o *Object) SetNonce(n uint64)   { o.Account.Nonce = n }

// Code -----------------------------------------------------------------------

func (o *Object) CodeHash() common.Hash { return o.Account.CodeHash }

func (o *Object) Code() ([]byte, error) {
	if o.code != nil || o.Account.CodeHash.IsZero() {
		return o.code, nil
	}
	code, err := o.loader.LoadCode(o.Account.CodeHash)
	if err != nil {
		return nil, err
	}
	o.code = code
	return code, nil
}

func (o *Object) CodeSize() (int, error) {
	c, err := o.Code()
	if err != nil {
		return 0, err
	}
	return len(c), nil
}

// SetCode sets new code, returning the prior code hash for journaling.
func (o *Object) SetCode(codeHash common.Hash, code []byte) (priorHash common.Hash) {
	priorHash = o.Account.CodeHash
	o.Account.CodeHash = codeHash
	o.code = code
	return priorHash
}

func (o *Object) SetCodeHash(h common.Hash) { o.Account.CodeHash = h }

// Storage tiers (spec §4.7) --------------------------------------------------

// GetState returns dirty_storage[slot] if present, else loads (and caches
// in origin_storage) from the backing store.
func (o *Object) GetState(slot common.Hash) (common.Hash, error) {
	if v, ok := o.dirtyStorage[slot]; ok {
		return v, nil
	}
	return o.getOrigin(slot)
}

// GetCommittedState returns the value as of block start (tier 2),
// independent of any dirty writes made within the current transaction —
// required for SSTORE gas math (spec §4.7, §4.11).
func (o *Object) GetCommittedState(slot common.Hash) (common.Hash, error) {
	if v, ok := o.blockOriginStorage[slot]; ok {
		return v, nil
	}
	v, err := o.getOrigin(slot)
	if err != nil {
		return common.Hash{}, err
	}
	o.blockOriginStorage[slot] = v
	return v, nil
}

func (o *Object) getOrigin(slot common.Hash) (common.Hash, error) {
	if v, ok := o.originStorage[slot]; ok {
		return v, nil
	}
	v, err := o.loader.LoadStorage(o.Address, slot)
	if err != nil {
		return common.Hash{}, err
	}
	o.originStorage[slot] = v
	if _, ok := o.blockOriginStorage[slot]; !ok {
		o.blockOriginStorage[slot] = v
	}
	return v, nil
}

// SetState writes the dirty tier, returning the prior dirty-or-origin value
// for journaling (spec §4.7: "journals a storage_change carrying the prior
// dirty-or-origin value").
func (o *Object) SetState(slot, value common.Hash) (prior common.Hash, err error) {
	prior, err = o.GetState(slot)
	if err != nil {
		return common.Hash{}, err
	}
	o.dirtyStorage[slot] = value
	return prior, nil
}

// RawSetState is used by journal revert to restore the dirty tier directly
// without re-journaling.
func (o *Object) RawSetState(slot, value common.Hash) { o.dirtyStorage[slot] = value }

// SeedBlockOrigin is called the first time an object is touched within a
// new block, copying origin into block-origin (spec §4.7 "seeded from
// origin on first touch in block").
func (o *Object) SeedBlockOrigin(slot common.Hash, value common.Hash) {
	if _, ok := o.blockOriginStorage[slot]; !ok {
		o.blockOriginStorage[slot] = value
	}
}

// IsEmpty reports the EIP-161 empty-account condition.
func (o *Object) IsEmpty() bool { return o.Account.IsEmpty() }

// DirtyStorage returns the tier-3 pending-write map, read by
// IntraBlockState.Commit to flush changed slots through the Storage
// Domain.
func (o *Object) DirtyStorage() map[common.Hash]common.Hash { return o.dirtyStorage }
