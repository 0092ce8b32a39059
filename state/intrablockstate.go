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

// Package state implements IntraBlockState (spec §4.11): the façade the
// execution stage and EVM adapter operate against, composing the
// per-address StateObject cache (state/object), the journal
// (state/journal), the access list (state/accesslist), transient storage
// (state/transient) and the backing Domains. Grounded on go-ethereum's
// core/state StateDB surface as exercised by core/state/journal_test.go in
// the wider pack, adapted onto this module's own Domain/journal types
// rather than go-ethereum's.
package state

import (
	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/domain"
	"github.com/erigontech/erigoncore/kv"
	"github.com/erigontech/erigoncore/state/accesslist"
	"github.com/erigontech/erigoncore/state/journal"
	"github.com/erigontech/erigoncore/state/object"
	"github.com/erigontech/erigoncore/state/transient"
)

// Domains groups the three backing state families an IntraBlockState
// reads through and flushes to at commit (spec §4.11 "reference to
// backing Domains").
type Domains struct {
	Accounts *domain.Domain
	Storage  *domain.Domain
	Code     *domain.Domain
}

// loader adapts Domains to object.Loader, reading the latest committed
// value (block-start snapshot) for lazy cache fills.
type loader struct {
	tx   kv.RwTx
	txNum common.TxNum
	doms *Domains
}

func (l *loader) LoadStorage(addr common.Address, slot common.Hash) (common.Hash, error) {
	key := storageKey(addr, slot)
	v, ok, err := l.doms.Storage.GetAsOf(l.tx, key, l.txNum)
	if err != nil || !ok {
		return common.Hash{}, err
	}
	return common.BytesToHash(v), nil
}

func (l *loader) LoadCode(codeHash common.Hash) ([]byte, error) {
	v, _, found, err := l.doms.Code.GetLatest(l.tx, codeHash.Bytes())
	if err != nil || !found {
		return nil, err
	}
	return v, nil
}

func storageKey(addr common.Address, slot common.Hash) []byte {
	out := make([]byte, common.AddressLength+common.HashLength)
	copy(out, addr.Bytes())
	copy(out[common.AddressLength:], slot.Bytes())
	return out
}

// IntraBlockState is the per-transaction/per-block state view (spec §4.11,
// §5: "single-threaded, one per in-flight block").
type IntraBlockState struct {
	tx     kv.RwTx
	doms   *Domains
	loader *loader

	objects map[common.Address]*object.Object
	touched map[common.Address]struct{}

	journal    *journal.Journal
	accessList *accesslist.List
	transient  *transient.Storage

	logs        []common.Log
	refund      uint64
	blockNumber common.BlockNum
	txNum       common.TxNum
}

func New(tx kv.RwTx, doms *Domains, blockNumber common.BlockNum, txNum common.TxNum) *IntraBlockState {
	ibs := &IntraBlockState{
		tx:          tx,
		doms:        doms,
		objects:     make(map[common.Address]*object.Object),
		touched:     make(map[common.Address]struct{}),
		journal:     journal.New(),
		accessList:  accesslist.New(),
		transient:   transient.New(),
		blockNumber: blockNumber,
		txNum:       txNum,
	}
	ibs.loader = &loader{tx: tx, txNum: txNum, doms: doms}
	return ibs
}

func (s *IntraBlockState) markTouched(addr common.Address) {
	if _, ok := s.touched[addr]; !ok {
		s.touched[addr] = struct{}{}
		s.journal.Append(journal.TouchChange{Addr: addr})
	}
}

// getOrLoad returns the cached object, loading it from the Accounts domain
// on first touch (as of this transaction's txNum, which is also block
// start before any writes this tx has made).
func (s *IntraBlockState) getOrLoad(addr common.Address) (*object.Object, error) {
	if o, ok := s.objects[addr]; ok {
		return o, nil
	}
	raw, _, found, err := s.doms.Accounts.GetLatest(s.tx, addr.Bytes())
	if err != nil {
		return nil, err
	}
	var acc common.Account
	if found {
		acc, err = common.DecodeAccount(raw)
		if err != nil {
			return nil, err
		}
	} else {
		acc = common.Account{Balance: new(common.U256)}
	}
	o := object.FromAccount(addr, acc, s.loader)
	s.objects[addr] = o
	return o, nil
}

// CreateAccount installs a fresh, empty object for addr, journaling both
// the creation and (if one existed) a reset of the prior object so revert
// restores exactly what was there before (spec §4.4 create_object /
// reset_object entries).
func (s *IntraBlockState) CreateAccount(addr common.Address) error {
	prior, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	s.journal.Append(journal.ResetObjectChange{Addr: addr, Snapshot: prior.TakeSnapshot()})
	o := object.New(addr, s.loader)
	o.NewlyCreated = true
	s.objects[addr] = o
	s.journal.Append(journal.CreateObjectChange{Addr: addr})
	return nil
}

// Exist reports whether addr has a cached/touched object (spec §4.11
// "exist").
func (s *IntraBlockState) Exist(addr common.Address) (bool, error) {
	o, err := s.getOrLoad(addr)
	if err != nil {
		return false, err
	}
	return !o.Deleted, nil
}

// Empty reports the EIP-161 empty-account condition (spec §4.11 "empty").
func (s *IntraBlockState) Empty(addr common.Address) (bool, error) {
	o, err := s.getOrLoad(addr)
	if err != nil {
		return false, err
	}
	return o.IsEmpty(), nil
}

// GetBalance returns the latest balance including pending increases (spec
// §4.11).
func (s *IntraBlockState) GetBalance(addr common.Address) (*common.U256, error) {
	o, err := s.getOrLoad(addr)
	if err != nil {
		return nil, err
	}
	return o.Balance(), nil
}

// AddBalance journals and applies a balance increase (spec §4.11). When
// coalesce is true (used for coinbase rewards), the increase is folded
// into the pending-increase map instead of a direct set, per spec §4.11's
// "balance-increase optimization map (coalesces coinbase rewards without
// journal bloat)".
func (s *IntraBlockState) AddBalance(addr common.Address, amount *common.U256, coalesce bool) error {
	if amount.IsZero() {
		s.markTouched(addr)
		return nil
	}
	o, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	s.markTouched(addr)
	if coalesce {
		s.journal.Append(journal.BalanceIncreaseChange{Addr: addr, Increment: common.CopyU256(amount)})
		o.AddPendingIncrease(amount)
		return nil
	}
	prior := o.Balance()
	s.journal.Append(journal.BalanceChange{Addr: addr, Prior: prior})
	next := common.CopyU256(prior)
	next.Add(next, amount)
	o.SetBalance(next)
	return nil
}

// SubBalance journals and applies a balance decrease (spec §4.11).
func (s *IntraBlockState) SubBalance(addr common.Address, amount *common.U256) error {
	if amount.IsZero() {
		s.markTouched(addr)
		return nil
	}
	o, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	s.markTouched(addr)
	prior := o.Balance()
	s.journal.Append(journal.BalanceChange{Addr: addr, Prior: prior})
	next := common.CopyU256(prior)
	next.Sub(next, amount)
	o.SetBalance(next)
	return nil
}

func (s *IntraBlockState) GetNonce(addr common.Address) (uint64, error) {
	o, err := s.getOrLoad(addr)
	if err != nil {
		return 0, err
	}
	return o.Nonce(), nil
}

func (s *IntraBlockState) SetNonce(addr common.Address, nonce uint64) error {
	o, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	s.markTouched(addr)
	s.journal.Append(journal.NonceChange{Addr: addr, Prior: o.Nonce()})
	o.SetNonce(nonce)
	return nil
}

func (s *IntraBlockState) GetCode(addr common.Address) ([]byte, error) {
	o, err := s.getOrLoad(addr)
	if err != nil {
		return nil, err
	}
	return o.Code()
}

func (s *IntraBlockState) GetCodeHash(addr common.Address) (common.Hash, error) {
	o, err := s.getOrLoad(addr)
	if err != nil {
		return common.Hash{}, err
	}
	return o.CodeHash(), nil
}

func (s *IntraBlockState) GetCodeSize(addr common.Address) (int, error) {
	o, err := s.getOrLoad(addr)
	if err != nil {
		return 0, err
	}
	return o.CodeSize()
}

func (s *IntraBlockState) SetCode(addr common.Address, code []byte) error {
	o, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	s.markTouched(addr)
	hash := common.Keccak256Hash(code)
	prior := o.SetCode(hash, code)
	s.journal.Append(journal.CodeChange{Addr: addr, Prior: prior})
	return nil
}

// GetState returns dirty-or-origin storage (spec §4.11, §4.7).
func (s *IntraBlockState) GetState(addr common.Address, slot common.Hash) (common.Hash, error) {
	o, err := s.getOrLoad(addr)
	if err != nil {
		return common.Hash{}, err
	}
	return o.GetState(slot)
}

// GetCommittedState returns the tier-2 (block-origin) value, required for
// SSTORE gas math (spec §4.11, §4.7).
func (s *IntraBlockState) GetCommittedState(addr common.Address, slot common.Hash) (common.Hash, error) {
	o, err := s.getOrLoad(addr)
	if err != nil {
		return common.Hash{}, err
	}
	return o.GetCommittedState(slot)
}

// SetState journals and writes the dirty storage tier (spec §4.11, §4.7).
func (s *IntraBlockState) SetState(addr common.Address, slot, value common.Hash) error {
	o, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	s.markTouched(addr)
	prior, err := o.SetState(slot, value)
	if err != nil {
		return err
	}
	s.journal.Append(journal.StorageChange{Addr: addr, Slot: slot, Prior: prior})
	return nil
}

// GetTransientState / SetTransientState implement spec §4.6.
func (s *IntraBlockState) GetTransientState(addr common.Address, slot common.Hash) common.Hash {
	return s.transient.Get(addr, slot)
}

func (s *IntraBlockState) SetTransientState(addr common.Address, slot, value common.Hash) {
	prior := s.transient.Set(addr, slot, value)
	s.journal.Append(journal.TransientStorageChange{Addr: addr, Slot: slot, Prior: prior})
}

// SelfDestruct marks addr for deletion at transaction end (spec §4.11).
func (s *IntraBlockState) SelfDestruct(addr common.Address) error {
	o, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	if o.SelfDestructed {
		return nil
	}
	s.markTouched(addr)
	s.journal.Append(journal.SelfDestructChange{Addr: addr})
	o.SelfDestructed = true
	return nil
}

// SelfDestructEIP6780 only marks addr for deletion if it was created
// within the current transaction (EIP-6780, spec §4.11
// "self_destruct_6780").
func (s *IntraBlockState) SelfDestructEIP6780(addr common.Address) error {
	o, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	if !o.NewlyCreated {
		return nil
	}
	return s.SelfDestruct(addr)
}

// AddLog appends a log entry, journaling the truncation point for revert
// (spec §4.11, §4.4).
func (s *IntraBlockState) AddLog(log common.Log) {
	s.journal.Append(journal.AddLogChange{Index: len(s.logs)})
	s.logs = append(s.logs, log)
}

func (s *IntraBlockState) Logs() []common.Log { return s.logs }

// AddRefund / SubRefund journal the gas-refund counter (spec §4.11).
func (s *IntraBlockState) AddRefund(gas uint64) {
	s.journal.Append(journal.RefundChange{Prior: s.refund})
	s.refund += gas
}

func (s *IntraBlockState) SubRefund(gas uint64) {
	s.journal.Append(journal.RefundChange{Prior: s.refund})
	if gas > s.refund {
		panic("state: refund counter below zero")
	}
	s.refund -= gas
}

func (s *IntraBlockState) Refund() uint64 { return s.refund }

// AccessAddress implements spec §4.5/§4.11 "access_address": returns the
// gas cost for this access and whether it was cold.
func (s *IntraBlockState) AccessAddress(addr common.Address) (gas uint64, wasCold bool) {
	wasCold = s.accessList.AddAddress(addr)
	if wasCold {
		s.journal.Append(journal.AccessListAddressChange{Addr: addr})
		return accesslist.ColdAccountAccessCost, true
	}
	return accesslist.WarmStorageReadCost, false
}

// AccessSlot implements spec §4.5/§4.11 "access_slot".
func (s *IntraBlockState) AccessSlot(addr common.Address, slot common.Hash) (gas uint64, wasCold bool) {
	slotCold, addrCold := s.accessList.AddSlot(addr, slot)
	if addrCold {
		s.journal.Append(journal.AccessListAddressChange{Addr: addr})
	}
	if slotCold {
		s.journal.Append(journal.AccessListSlotChange{Addr: addr, Slot: slot})
		return accesslist.ColdSloadCost, true
	}
	return accesslist.WarmStorageReadCost, false
}

// PrepareAccessList pre-warms the access list at transaction start (spec
// §4.5, §4.11 "prepare_access_list").
func (s *IntraBlockState) PrepareAccessList(origin common.Address, to *common.Address, precompiles []common.Address, coinbase *common.Address, txList []accesslist.Tuple) {
	s.accessList.Reset()
	s.accessList.Prewarm(origin, to, precompiles, coinbase, txList)
}

// Snapshot / RevertToSnapshot implement spec §4.4/§4.11.
func (s *IntraBlockState) Snapshot() int { return s.journal.Snapshot() }

// RevertToSnapshot pops journal entries back to id; AddLogChange entries
// among them call TruncateLogs, which truncates s.logs in lockstep.
func (s *IntraBlockState) RevertToSnapshot(id int) {
	s.journal.RevertToSnapshot(id, (*reverter)(s))
}

// Finalize implements spec §4.11 "finalize": delete empty-touched
// accounts (and self-destructed ones), clear transient storage, apply
// pending balance increases, clear the access list. Called at the end of
// every transaction.
func (s *IntraBlockState) Finalize(deleteEmpty bool) {
	for addr := range s.touched {
		o, ok := s.objects[addr]
		if !ok {
			continue
		}
		o.FlushPendingIncrease()
		if o.SelfDestructed || (deleteEmpty && o.IsEmpty()) {
			o.Deleted = true
		}
	}
	s.transient.Clear()
	s.accessList.Reset()
	s.touched = make(map[common.Address]struct{})
}

// Commit implements spec §4.11 "commit": flush every dirty object through
// the backing Domains. The execution stage calls it after every
// transaction.
func (s *IntraBlockState) Commit(txNum common.TxNum) error {
	for addr, o := range s.objects {
		if o.Deleted {
			if err := s.doms.Accounts.Delete(s.tx, addr.Bytes(), txNum); err != nil {
				return err
			}
			continue
		}
		if err := s.doms.Accounts.Put(s.tx, addr.Bytes(), o.Account.EncodeForStorage(), txNum); err != nil {
			return err
		}
		if code, _ := o.Code(); code != nil {
			if err := s.doms.Code.Put(s.tx, o.CodeHash().Bytes(), code, txNum); err != nil {
				return err
			}
		}
		for slot, value := range o.DirtyStorage() {
			key := storageKey(addr, slot)
			if value.IsZero() {
				if err := s.doms.Storage.Delete(s.tx, key, txNum); err != nil {
					return err
				}
				continue
			}
			if err := s.doms.Storage.Put(s.tx, key, value.Bytes(), txNum); err != nil {
				return err
			}
		}
	}
	s.objects = make(map[common.Address]*object.Object)
	s.journal.Reset()
	return nil
}
