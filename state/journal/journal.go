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

// Package journal implements the LIFO undo log of spec §4.4: every state
// mutation pushes an entry carrying enough to reverse itself, and
// RevertToSnapshot pops entries in reverse order, applying each reversal.
// Grounded on the revert/dirty-set shape exercised by
// core/state/journal_test.go in the wider pack (TestJournalDirty,
// testJournalRefunds): a dirty-count-per-address map alongside the entry
// list, so "is address dirty" is cheap without re-scanning the log.
package journal

import "github.com/erigontech/erigoncore/common"

// Entry is one undo record. Revert applies the reversal to state, and
// dirtied reports which address (if any) this entry counts against the
// journal's dirty-set (spec §4.4).
type Entry interface {
	Revert(state Reverter)
	Dirtied() (addr common.Address, ok bool)
}

// Reverter is the minimal surface a state implementation (state/object,
// the IntraBlockState façade) must expose for entries to reverse
// themselves. Kept separate from the full IntraBlockState interface so the
// journal package has no dependency on it (spec §9 "no global state",
// applied here as "no upward package dependency").
type Reverter interface {
	RestoreAccountSnapshot(addr common.Address, snap any)
	SetBalance(addr common.Address, balance any)
	SetNonce(addr common.Address, nonce uint64)
	SetStorage(addr common.Address, slot common.Hash, value common.Hash)
	SetTransientStorage(addr common.Address, slot common.Hash, value common.Hash)
	SetCodeHash(addr common.Address, hash common.Hash)
	SetRefund(refund uint64)
	TruncateLogs(n int)
	DeleteCreatedObject(addr common.Address)
	ClearSelfDestruct(addr common.Address)
	RemoveFromAccessList(addr common.Address)
	RemoveSlotFromAccessList(addr common.Address, slot common.Hash)
	ForgetTouch(addr common.Address)
	UnmarkBalanceIncreaseTransferred(addr common.Address)
}

// Journal is the LIFO log. Not safe for concurrent use: one per
// IntraBlockState, single-threaded (spec §5).
type Journal struct {
	entries []Entry
	dirties map[common.Address]int
}

func New() *Journal {
	return &Journal{dirties: make(map[common.Address]int)}
}

// Append pushes an entry, incrementing the dirty-count of its address (if
// any).
func (j *Journal) Append(e Entry) {
	j.entries = append(j.entries, e)
	if addr, ok := e.Dirtied(); ok {
		j.dirties[addr]++
	}
}

// Snapshot returns an opaque id at which RevertToSnapshot can later restore
// state (spec §4.4).
func (j *Journal) Snapshot() int { return len(j.entries) }

// Len reports the number of entries currently on the journal.
func (j *Journal) Len() int { return len(j.entries) }

// RevertToSnapshot pops entries back to id in LIFO order, invoking Revert
// on each against state and decrementing dirty counts. Calling this twice
// with the same id is a no-op the second time (spec §4.4 invariant).
func (j *Journal) RevertToSnapshot(id int, state Reverter) {
	for i := len(j.entries) - 1; i >= id; i-- {
		e := j.entries[i]
		e.Revert(state)
		if addr, ok := e.Dirtied(); ok {
			j.dirties[addr]--
			if j.dirties[addr] == 0 {
				delete(j.dirties, addr)
			}
		}
	}
	j.entries = j.entries[:id]
}

// Dirty reports whether addr has any outstanding (non-reverted) dirtying
// entries.
func (j *Journal) Dirty(addr common.Address) bool { return j.dirties[addr] > 0 }

// DirtyAccounts returns every address currently considered dirty.
func (j *Journal) DirtyAccounts() []common.Address {
	out := make([]common.Address, 0, len(j.dirties))
	for a := range j.dirties {
		out = append(out, a)
	}
	return out
}

// Reset clears the journal entirely, used between transactions once the
// caller has no further need to revert past this point (commit path).
func (j *Journal) Reset() {
	j.entries = j.entries[:0]
	j.dirties = make(map[common.Address]int)
}
