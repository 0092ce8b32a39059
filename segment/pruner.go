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

package segment

import "os"

// Pruner decides which already-merged segment files are eligible for
// deletion given a prune horizon expressed as a step number (SPEC_FULL
// §C.2), grounded on snapshotsync.go's buildBlackListForPruning /
// isStateSnapshot / canSnapshotBePruned shapes.
type Pruner struct {
	horizon uint64 // steps strictly before this are eligible for deletion
}

func NewPruner(horizonStep uint64) *Pruner { return &Pruner{horizon: horizonStep} }

// CanPrune reports whether f's range lies entirely before the horizon: a
// segment straddling the horizon (StepFrom < horizon <= StepTo) must be
// kept because part of its range is still needed.
func (p *Pruner) CanPrune(f *File) bool {
	return f.Name.StepTo <= p.horizon
}

// Blacklist returns the subset of set's files that must be kept despite
// preceding the horizon because no wider segment covering their whole range
// has been published to replace them (mirrors canSnapshotBePruned's "don't
// delete the last segment covering a range until its successor exists").
func (p *Pruner) Blacklist(set *Set) map[string]bool {
	set.mu.RLock()
	defer set.mu.RUnlock()
	blacklist := make(map[string]bool)
	for i, f := range set.files {
		if !p.CanPrune(f) {
			continue
		}
		coveredByLater := false
		for j, g := range set.files {
			if j != i && g.Name.StepFrom <= f.Name.StepFrom && g.Name.StepTo >= f.Name.StepTo &&
				g.Name.StepTo-g.Name.StepFrom > f.Name.StepTo-f.Name.StepFrom {
				coveredByLater = true
				break
			}
		}
		if !coveredByLater {
			blacklist[f.Name.Format()] = true
		}
	}
	return blacklist
}

// Prune unlinks every file eligible per CanPrune and not blacklisted,
// deferring the actual unmap until its refcount drops to zero (spec §9).
func (p *Pruner) Prune(set *Set) error {
	blacklist := p.Blacklist(set)
	set.mu.Lock()
	defer set.mu.Unlock()
	kept := make([]*File, 0, len(set.files))
	for _, f := range set.files {
		if p.CanPrune(f) && !blacklist[f.Name.Format()] {
			f.unlinking.Store(true)
			if f.refs == 0 {
				f.body.Close()
				if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
					return err
				}
			}
			continue
		}
		kept = append(kept, f)
	}
	set.files = kept
	return nil
}
