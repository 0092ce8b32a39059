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

// Package compress implements the two-stage Huffman + pattern-dictionary
// segment codec of spec §4.2: cold `.kv`/`.v` segment files are read through
// a memory-mapped, zero-copy Decompressor; any number of Getter cursors may
// share one Decompressor concurrently, though no single Getter is safe for
// concurrent use.
package compress

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/erigontech/erigoncore/ercore/errs"
)

// maxAllowedDepth bounds Huffman code depth (spec §4.2 failure model).
const maxAllowedDepth = 50

// directIndexDepth is the depth at or below which a table is direct-indexed
// by the full bit pattern; deeper codes fall back to a condensed, linearly
// searched table (spec §4.2).
const directIndexDepth = 9

// codeword is one entry of a Huffman table: a decoded symbol plus the bit
// length of the code that maps to it.
type codeword struct {
	pattern []byte // for the pattern table; nil for the position table
	val     uint64 // for the position table (relative offset); unused otherwise
	depth   uint8
	code    uint16 // the depth-bit codeword, right-aligned
}

// huffTable decodes one Huffman-coded stream: words of depth <= 9 are
// resolved by direct index into `direct`; deeper words are found in `cond`
// by linear scan over codewords sharing that depth window.
type huffTable struct {
	direct []*codeword // size 2^directIndexDepth, nil where unoccupied
	cond   []*codeword // codewords with depth > directIndexDepth
	maxDepth uint8
}

func newHuffTable() *huffTable {
	return &huffTable{direct: make([]*codeword, 1<<directIndexDepth)}
}

func (t *huffTable) add(cw *codeword) error {
	if cw.depth == 0 || int(cw.depth) > maxAllowedDepth {
		return fmt.Errorf("invalid code depth %d", cw.depth)
	}
	if cw.depth > t.maxDepth {
		t.maxDepth = cw.depth
	}
	if cw.depth <= directIndexDepth {
		// Every `direct` slot whose low `depth` bits equal `code` decodes to
		// this symbol, since shorter codes occupy all extensions of their
		// bit pattern in a direct-indexed table.
		step := 1 << cw.depth
		for base := int(cw.code); base < len(t.direct); base += step {
			t.direct[base] = cw
		}
		return nil
	}
	t.cond = append(t.cond, cw)
	return nil
}

// lookup decodes the next symbol starting at the given bit cursor over buf,
// returning the symbol and the number of bits consumed.
func (t *huffTable) lookup(buf []byte, byteOff int, bitOff uint) (*codeword, uint, error) {
	window := peekBits(buf, byteOff, bitOff, directIndexDepth)
	if cw := t.direct[window]; cw != nil {
		return cw, uint(cw.depth), nil
	}
	for depth := uint8(directIndexDepth + 1); depth <= t.maxDepth; depth++ {
		w := peekBits(buf, byteOff, bitOff, uint(depth))
		for _, cw := range t.cond {
			if cw.depth == depth && uint16(w) == cw.code {
				return cw, uint(depth), nil
			}
		}
	}
	return nil, 0, errs.CorruptSegment("<getter>", fmt.Errorf("no matching huffman code at bit offset %d", bitOff))
}

// peekBits reads up to 16 bits starting at (byteOff, bitOff) without
// advancing, LSB-first within each byte (the convention the encoder packs
// codewords with).
func peekBits(buf []byte, byteOff int, bitOff uint, n uint) uint32 {
	var v uint32
	var got uint
	bo, bit := byteOff, bitOff
	for got < n {
		if bo >= len(buf) {
			break
		}
		avail := 8 - bit
		take := n - got
		if take > avail {
			take = avail
		}
		b := (uint32(buf[bo]) >> bit) & ((1 << take) - 1)
		v |= b << got
		got += take
		bit += take
		if bit == 8 {
			bit = 0
			bo++
		}
	}
	return v
}

func advance(byteOff int, bitOff uint, n uint) (int, uint) {
	total := bitOff + n
	return byteOff + int(total/8), total % 8
}

// Decompressor is a read-only, memory-mapped view over one segment file.
// Multiple Getter cursors may read concurrently; the Decompressor itself
// holds no mutable state after Open.
type Decompressor struct {
	file         *os.File
	mm           mmap.MMap
	data         []byte
	wordsCount   uint64
	emptyWords   uint64
	patternTable *huffTable
	positionTable *huffTable
	bodyOffset   int
}

// Open memory-maps path and parses its pattern/position dictionaries.
func Open(path string) (*Decompressor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	d := &Decompressor{file: f, mm: m, data: []byte(m)}
	if err := d.parseHeader(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Decompressor) parseHeader() error {
	if len(d.data) < 24 {
		return errs.CorruptSegment(d.file.Name(), fmt.Errorf("truncated header"))
	}
	d.wordsCount = binary.BigEndian.Uint64(d.data[0:8])
	d.emptyWords = binary.BigEndian.Uint64(d.data[8:16])
	patDictSize := binary.BigEndian.Uint64(d.data[16:24])
	off := 24

	end := off + int(patDictSize)
	if patDictSize > uint64(len(d.data)) || end < off || end > len(d.data) {
		return errs.CorruptSegment(d.file.Name(), fmt.Errorf("pattern dict size overflow"))
	}
	pt, noff, err := parsePatternDict(d.data, off, end)
	if err != nil {
		return err
	}
	d.patternTable = pt
	off = noff

	if off+8 > len(d.data) {
		return errs.CorruptSegment(d.file.Name(), fmt.Errorf("truncated position dict size"))
	}
	posDictSize := binary.BigEndian.Uint64(d.data[off : off+8])
	off += 8
	posEnd := off + int(posDictSize)
	if posDictSize > uint64(len(d.data)) || posEnd < off || posEnd > len(d.data) {
		return errs.CorruptSegment(d.file.Name(), fmt.Errorf("position dict size overflow"))
	}
	post, noff2, err := parsePositionDict(d.data, off, posEnd)
	if err != nil {
		return err
	}
	d.positionTable = post
	d.bodyOffset = noff2
	return nil
}

func parsePatternDict(data []byte, off, end int) (*huffTable, int, error) {
	t := newHuffTable()
	gen := canonicalCodeGen{}
	for off < end {
		depth, n, err := uvarint(data, off)
		if err != nil {
			return nil, 0, errs.CorruptSegment("<dict>", err)
		}
		off += n
		length, n2, err := uvarint(data, off)
		if err != nil {
			return nil, 0, errs.CorruptSegment("<dict>", err)
		}
		off += n2
		if off+int(length) > end {
			return nil, 0, errs.CorruptSegment("<dict>", fmt.Errorf("pattern bytes overflow"))
		}
		pat := data[off : off+int(length)]
		off += int(length)

		if depth > maxAllowedDepth {
			return nil, 0, errs.CorruptSegment("<dict>", fmt.Errorf("pattern depth %d exceeds max", depth))
		}
		code := gen.next(uint8(depth))
		if err := t.add(&codeword{pattern: pat, depth: uint8(depth), code: code}); err != nil {
			return nil, 0, errs.CorruptSegment("<dict>", err)
		}
	}
	return t, off, nil
}

func parsePositionDict(data []byte, off, end int) (*huffTable, int, error) {
	t := newHuffTable()
	gen := canonicalCodeGen{}
	for off < end {
		depth, n, err := uvarint(data, off)
		if err != nil {
			return nil, 0, errs.CorruptSegment("<dict>", err)
		}
		off += n
		pos, n2, err := uvarint(data, off)
		if err != nil {
			return nil, 0, errs.CorruptSegment("<dict>", err)
		}
		off += n2

		if depth > maxAllowedDepth {
			return nil, 0, errs.CorruptSegment("<dict>", fmt.Errorf("position depth %d exceeds max", depth))
		}
		code := gen.next(uint8(depth))
		if err := t.add(&codeword{val: pos, depth: uint8(depth), code: code}); err != nil {
			return nil, 0, errs.CorruptSegment("<dict>", err)
		}
	}
	return t, off, nil
}

// canonicalCodeGen produces canonical-Huffman codes for symbols supplied in
// non-decreasing depth order: shift the running code left for every extra
// bit of depth versus the previous symbol, assign, then increment.
type canonicalCodeGen struct {
	next_ uint32
	prevDepth uint8
}

func (g *canonicalCodeGen) next(depth uint8) uint16 {
	if depth > g.prevDepth {
		g.next_ <<= (depth - g.prevDepth)
	}
	code := g.next_
	g.next_++
	g.prevDepth = depth
	return uint16(code)
}

func uvarint(data []byte, off int) (uint64, int, error) {
	if off >= len(data) {
		return 0, 0, fmt.Errorf("uvarint: truncated")
	}
	v, n := binary.Uvarint(data[off:])
	if n <= 0 {
		return 0, 0, fmt.Errorf("uvarint: malformed")
	}
	return v, n, nil
}

func (d *Decompressor) Close() {
	if d.mm != nil {
		d.mm.Unmap()
		d.mm = nil
	}
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}

// Count returns the number of words stored (spec §4.2 header wordsCount).
func (d *Decompressor) Count() uint64 { return d.wordsCount }

// MakeGetter returns a fresh cursor positioned at the start of the body.
func (d *Decompressor) MakeGetter() *Getter {
	return &Getter{d: d, byteOff: d.bodyOffset}
}

// Getter is a stateful cursor over one Decompressor's body. Not safe for
// concurrent use; open one per goroutine (spec §4.2).
type Getter struct {
	d       *Decompressor
	byteOff int
	bitOff  uint
}

// HasNext reports whether another word can be read.
func (g *Getter) HasNext() bool { return g.byteOff < len(g.d.data) }

// Reset repositions the cursor at the given byte offset into the body
// (used by index-driven random access: .kvi/.bt give a byte offset to seek
// to directly).
func (g *Getter) Reset(byteOff int) {
	g.byteOff = byteOff
	g.bitOff = 0
}

// Offset reports the cursor's current byte offset, always word-aligned
// between calls to Next (the encoder byte-aligns after every word). Index
// builders call this immediately before Next to record where the word they
// are about to read begins.
func (g *Getter) Offset() int { return g.byteOff }

// Next decodes one word: a position-coded length, a pattern pass that
// stamps dictionary patterns into the output at decoded relative offsets,
// and a gap pass that fills the remaining uncovered bytes verbatim from the
// tail of the stream (spec §4.2 steps 1-3).
func (g *Getter) Next() ([]byte, error) {
	data := g.d.data
	wordLenCW, bits, err := g.d.positionTable.lookup(data, g.byteOff, g.bitOff)
	if err != nil {
		return nil, err
	}
	g.byteOff, g.bitOff = advance(g.byteOff, g.bitOff, bits)
	if wordLenCW.val <= 1 {
		g.byteAlign() // encoder flushes to a byte boundary after every word
		return nil, nil // empty word: lengths are coded as wordLen+1, so 1 means length 0
	}
	wordLen := wordLenCW.val - 1
	out := make([]byte, wordLen)

	// Pattern pass: save the cursor so the gap pass can restart reading
	// positions from the same point (spec §4.2 step 3).
	savedByteOff, savedBitOff := g.byteOff, g.bitOff
	writePos := uint64(0)
	covered := make([]bool, wordLen)
	for {
		posCW, pbits, err := g.d.positionTable.lookup(data, g.byteOff, g.bitOff)
		if err != nil {
			return nil, err
		}
		g.byteOff, g.bitOff = advance(g.byteOff, g.bitOff, pbits)
		if posCW.val == 0 {
			break // terminator
		}
		writePos += posCW.val - 1
		patCW, patBits, err := g.d.patternTable.lookup(data, g.byteOff, g.bitOff)
		if err != nil {
			return nil, err
		}
		g.byteOff, g.bitOff = advance(g.byteOff, g.bitOff, patBits)
		if writePos+uint64(len(patCW.pattern)) > wordLen {
			return nil, errs.CorruptSegment(g.d.file.Name(), fmt.Errorf("pattern overruns word bounds"))
		}
		copy(out[writePos:], patCW.pattern)
		for i := range patCW.pattern {
			covered[int(writePos)+i] = true
		}
		writePos += uint64(len(patCW.pattern))
	}

	// Gap pass: positions restart from savedByteOff/savedBitOff; raw bytes
	// come from the tail region directly following the pattern-pass cursor.
	tailOff, tailBitOff := g.byteOff, g.bitOff
	gByteOff, gBitOff := savedByteOff, savedBitOff
	writePos = 0
	for i := 0; i < len(out); {
		if covered[i] {
			i++
			continue
		}
		if i == 0 {
			// no leading position code consumed a gap marker for offset 0;
			// advance the position reader once to stay aligned with pattern pass
		}
		posCW, pbits, err := g.d.positionTable.lookup(data, gByteOff, gBitOff)
		if err != nil {
			return nil, err
		}
		gByteOff, gBitOff = advance(gByteOff, gBitOff, pbits)
		if posCW.val == 0 {
			break
		}
		gapLen := 0
		for i+gapLen < len(out) && !covered[i+gapLen] {
			gapLen++
		}
		if tailOff+gapLen > len(data) {
			return nil, errs.CorruptSegment(g.d.file.Name(), fmt.Errorf("gap read past end of stream"))
		}
		copy(out[i:i+gapLen], data[tailOff:tailOff+gapLen])
		tailOff += gapLen
		i += gapLen
	}
	g.byteOff, g.bitOff = tailOff, tailBitOff
	g.byteAlign()

	return out, nil
}

// byteAlign advances the cursor to the next byte boundary, matching the
// per-word flush the encoder performs in Compressor.Build.
func (g *Getter) byteAlign() {
	if g.bitOff != 0 {
		g.byteOff++
		g.bitOff = 0
	}
}
