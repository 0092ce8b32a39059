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

package sync

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/erigontech/erigoncore/common"
)

// BadBlockSet tracks block numbers the coordinator has already proven
// invalid via a reversible stage error (spec §4.13 "unwind-and-retry"), in a
// compact bitmap rather than a map[uint64]struct{} since a long-lived node
// can accumulate a great many of these across its lifetime. A later round
// that is handed the same bad block as its target (e.g. a peer still
// advertising it) fails fast instead of re-running the whole pipeline up to
// it only to hit the identical error again.
type BadBlockSet struct {
	mu sync.RWMutex
	bm *roaring.Bitmap
}

// NewBadBlockSet returns an empty set.
func NewBadBlockSet() *BadBlockSet {
	return &BadBlockSet{bm: roaring.New()}
}

// Mark records n as invalid.
func (b *BadBlockSet) Mark(n common.BlockNum) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bm.Add(uint32(n))
}

// IsBad reports whether n was previously marked.
func (b *BadBlockSet) IsBad(n common.BlockNum) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bm.Contains(uint32(n))
}

// Count returns the number of distinct blocks currently marked.
func (b *BadBlockSet) Count() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bm.GetCardinality()
}
