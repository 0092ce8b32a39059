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
	"bufio"
	"encoding/binary"
	"math/bits"
	"os"
)

// Compressor builds one segment file in the format Decompressor reads. Each
// distinct word becomes its own whole-word pattern, and every length value
// used as a position-code becomes its own position symbol; both dictionaries
// use fixed-width (equal-depth) codes sized to their symbol count, which are
// a valid (if not entropy-optimal) canonical prefix code. This keeps the
// collation background job (spec §4.10 collate) a single pass over already
// deduplication-friendly input, rather than a general-purpose compressor.
type Compressor struct {
	path  string
	words [][]byte
	empty uint64
}

// NewCompressor prepares a compressor that will write to path on Build.
func NewCompressor(path string) *Compressor {
	return &Compressor{path: path}
}

// AddWord appends one word to the segment, in order.
func (c *Compressor) AddWord(w []byte) {
	if len(w) == 0 {
		c.empty++
	}
	c.words = append(c.words, append([]byte(nil), w...))
}

// fixedDepth returns ceil(log2(n)), at least 1, so n symbols each get a
// distinct code of that width.
func fixedDepth(n int) uint8 {
	if n <= 1 {
		return 1
	}
	return uint8(bits.Len(uint(n - 1)))
}

// Build writes the segment file. Every word is stored as: a position code
// for (wordLen+1), then (if non-empty) a position code for the whole-word
// offset (value 1), a pattern code for the word's bytes, and a position
// code terminator (value 0).
func (c *Compressor) Build() error {
	f, err := os.Create(c.path)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriter(f)

	distinctPat := make(map[string]int)
	var patterns [][]byte
	for _, word := range c.words {
		if len(word) == 0 {
			continue
		}
		if _, ok := distinctPat[string(word)]; !ok {
			distinctPat[string(word)] = len(patterns)
			patterns = append(patterns, word)
		}
	}
	patDepth := fixedDepth(len(patterns))
	patDict := encodeFixedDepthByteDict(patterns, patDepth)

	// Position symbols: 0 (terminator), 1 (whole-word offset), and every
	// distinct wordLen+1 length value.
	lengthSet := make(map[uint64]bool)
	for _, word := range c.words {
		lengthSet[uint64(len(word))+1] = true
	}
	posSymbols := []uint64{0, 1}
	seen := map[uint64]bool{0: true, 1: true}
	for l := range lengthSet {
		if !seen[l] {
			posSymbols = append(posSymbols, l)
			seen[l] = true
		}
	}
	posDepth := fixedDepth(len(posSymbols))
	posCodeOf := make(map[uint64]uint16, len(posSymbols))
	for i, s := range posSymbols {
		posCodeOf[s] = uint16(i)
	}
	posDict := encodeFixedDepthValueDict(posSymbols, posDepth)

	hdr := make([]byte, 24)
	binary.BigEndian.PutUint64(hdr[0:], uint64(len(c.words)))
	binary.BigEndian.PutUint64(hdr[8:], c.empty)
	binary.BigEndian.PutUint64(hdr[16:], uint64(len(patDict)))
	if _, err := bw.Write(hdr); err != nil {
		return err
	}
	if _, err := bw.Write(patDict); err != nil {
		return err
	}
	posSizeBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(posSizeBuf, uint64(len(posDict)))
	if _, err := bw.Write(posSizeBuf); err != nil {
		return err
	}
	if _, err := bw.Write(posDict); err != nil {
		return err
	}

	bits := newBitWriter(bw)
	for _, word := range c.words {
		lenCode := posCodeOf[uint64(len(word))+1]
		if err := bits.writeCode(lenCode, posDepth); err != nil {
			return err
		}
		if len(word) != 0 {
			oneCode := posCodeOf[1]
			if err := bits.writeCode(oneCode, posDepth); err != nil {
				return err
			}
			patCode := uint16(distinctPat[string(word)])
			if err := bits.writeCode(patCode, patDepth); err != nil {
				return err
			}
			termCode := posCodeOf[0]
			if err := bits.writeCode(termCode, posDepth); err != nil {
				return err
			}
		}
		// Byte-align after every word so a word's start is always a whole
		// byte offset: this is what lets an index store a plain byte offset
		// and Getter.Reset/Offset seek straight to a word boundary instead
		// of needing a bit offset alongside it.
		if err := bits.flush(); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// encodeFixedDepthByteDict serializes a pattern dictionary: repeated
// (depth:uvarint, length:uvarint, bytes), codes implicit in dictionary
// order (matches parsePatternDict's canonical-code reconstruction since all
// entries share one depth).
func encodeFixedDepthByteDict(patterns [][]byte, depth uint8) []byte {
	var out []byte
	var tmp [binary.MaxVarintLen64]byte
	for _, p := range patterns {
		n := binary.PutUvarint(tmp[:], uint64(depth))
		out = append(out, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], uint64(len(p)))
		out = append(out, tmp[:n]...)
		out = append(out, p...)
	}
	return out
}

// encodeFixedDepthValueDict serializes a position dictionary: repeated
// (depth:uvarint, position:uvarint).
func encodeFixedDepthValueDict(values []uint64, depth uint8) []byte {
	var out []byte
	var tmp [binary.MaxVarintLen64]byte
	for _, v := range values {
		n := binary.PutUvarint(tmp[:], uint64(depth))
		out = append(out, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], v)
		out = append(out, tmp[:n]...)
	}
	return out
}

// bitWriter packs codes LSB-first within each byte, matching peekBits'
// reading convention in decompressor.go.
type bitWriter struct {
	w       *bufio.Writer
	cur     byte
	bitPos  uint
}

func newBitWriter(w *bufio.Writer) *bitWriter { return &bitWriter{w: w} }

func (bw *bitWriter) writeCode(code uint16, depth uint8) error {
	for i := uint8(0); i < depth; i++ {
		bit := (code >> i) & 1
		bw.cur |= byte(bit) << bw.bitPos
		bw.bitPos++
		if bw.bitPos == 8 {
			if err := bw.w.WriteByte(bw.cur); err != nil {
				return err
			}
			bw.cur = 0
			bw.bitPos = 0
		}
	}
	return nil
}

func (bw *bitWriter) flush() error {
	if bw.bitPos > 0 {
		if err := bw.w.WriteByte(bw.cur); err != nil {
			return err
		}
		bw.cur = 0
		bw.bitPos = 0
	}
	return nil
}
