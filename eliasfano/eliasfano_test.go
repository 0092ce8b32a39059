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

package eliasfano

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randIncreasing(r *rand.Rand, n int) []uint64 {
	vals := make([]uint64, n)
	var cur uint64
	for i := 0; i < n; i++ {
		cur += uint64(r.Intn(50)) + 1
		vals[i] = cur
	}
	return vals
}

// TestGetMatchesInput is property P2's first half: for any strictly
// increasing sequence, build then get(i) = x_i for all i.
func TestGetMatchesInput(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for trial := 0; trial < 50; trial++ {
		n := r.Intn(200)
		vals := randIncreasing(r, n)
		var u uint64
		if n > 0 {
			u = vals[n-1] + 1
		}
		b := NewBuilder(uint64(n), u)
		for _, v := range vals {
			b.Add(v)
		}
		ef := b.Build()
		require.EqualValues(t, n, ef.Len())
		for i, want := range vals {
			require.Equal(t, want, ef.Get(uint64(i)), "trial %d index %d", trial, i)
		}
	}
}

// TestSeekFindsFirstGreaterOrEqual is property P2's second half: seek(v) =
// first x_j >= v, checked against a linear scan over every candidate
// boundary value (each element, each element-1, and one past the end).
func TestSeekFindsFirstGreaterOrEqual(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	for trial := 0; trial < 50; trial++ {
		n := r.Intn(200) + 1
		vals := randIncreasing(r, n)
		u := vals[n-1] + 1
		b := NewBuilder(uint64(n), u)
		for _, v := range vals {
			b.Add(v)
		}
		ef := b.Build()

		candidates := append([]uint64{0}, vals...)
		for _, v := range vals {
			if v > 0 {
				candidates = append(candidates, v-1)
			}
		}
		candidates = append(candidates, vals[n-1]+1)

		for _, target := range candidates {
			want, wantOK := linearSeek(vals, target)
			got, gotOK := ef.Seek(target)
			require.Equal(t, wantOK, gotOK, "trial %d target %d", trial, target)
			if wantOK {
				require.Equal(t, want, got, "trial %d target %d", trial, target)
			}
		}
	}
}

func linearSeek(vals []uint64, target uint64) (uint64, bool) {
	for _, v := range vals {
		if v >= target {
			return v, true
		}
	}
	return 0, false
}
