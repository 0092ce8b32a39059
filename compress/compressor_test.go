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

package compress

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func randWord(r *rand.Rand) []byte {
	n := r.Intn(40)
	if n == 0 {
		return nil
	}
	w := make([]byte, n)
	r.Read(w)
	return w
}

// TestDecompressorRoundTripIsWordForWordIdentical is property P1: for any
// Huffman-encoded file produced by the compressor, iterating the
// decompressor yields the original word sequence, including empty words and
// repeated words sharing one pattern-dictionary entry.
func TestDecompressorRoundTripIsWordForWordIdentical(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		path := filepath.Join(t.TempDir(), "seg.kv")
		comp := NewCompressor(path)

		wordCount := r.Intn(30)
		var words [][]byte
		for i := 0; i < wordCount; i++ {
			w := randWord(r)
			words = append(words, w)
			comp.AddWord(w)
		}
		require.NoError(t, comp.Build())

		dec, err := Open(path)
		require.NoError(t, err)
		require.EqualValues(t, wordCount, dec.Count())

		g := dec.MakeGetter()
		for i, want := range words {
			require.True(t, g.HasNext(), "trial %d word %d: expected another word", trial, i)
			got, err := g.Next()
			require.NoError(t, err)
			if len(want) == 0 {
				require.Empty(t, got, "trial %d word %d", trial, i)
			} else {
				require.Equal(t, want, got, "trial %d word %d", trial, i)
			}
		}
		dec.Close()
	}
}

// TestDecompressorOffsetsAreWordAligned checks the byte-alignment invariant
// random-access indices depend on: Offset() taken before each Next() call
// lands on a byte boundary that Reset() can later seek straight back to.
func TestDecompressorOffsetsAreWordAligned(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	path := filepath.Join(t.TempDir(), "seg.kv")
	comp := NewCompressor(path)

	var words [][]byte
	for i := 0; i < 20; i++ {
		w := randWord(r)
		words = append(words, w)
		comp.AddWord(w)
	}
	require.NoError(t, comp.Build())

	dec, err := Open(path)
	require.NoError(t, err)
	defer dec.Close()

	var offsets []int
	g := dec.MakeGetter()
	for range words {
		offsets = append(offsets, g.Offset())
		_, err := g.Next()
		require.NoError(t, err)
	}

	for i, off := range offsets {
		g2 := dec.MakeGetter()
		g2.Reset(off)
		got, err := g2.Next()
		require.NoError(t, err)
		if len(words[i]) == 0 {
			require.Empty(t, got)
		} else {
			require.Equal(t, words[i], got, "seek to offset of word %d", i)
		}
	}
}
