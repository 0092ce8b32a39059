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

package common

import (
	"fmt"

	"github.com/holiman/uint256"
)

// encoder/decoder implement a small fixed-binary codec used anywhere this
// engine must read back its own persisted records (headers, bodies,
// transactions, accounts): unlike the RLP-lite helpers in rlp.go, which
// exist purely to produce canonical bytes for hashing and are never parsed
// back, these round-trip exactly, since the staged-sync coordinator commits
// each stage's KV transaction separately (spec §4.13) and later stages must
// re-read what earlier stages wrote within the same round.
type encoder struct{ buf []byte }

func (e *encoder) u8(v uint8) { e.buf = append(e.buf, v) }

func (e *encoder) u32(v uint32) {
	e.buf = append(e.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (e *encoder) u64(v uint64) {
	for i := 7; i >= 0; i-- {
		e.buf = append(e.buf, byte(v>>(8*i)))
	}
}

func (e *encoder) fixed(b []byte) { e.buf = append(e.buf, b...) }

func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) optBytes(b []byte) {
	if b == nil {
		e.u8(0)
		return
	}
	e.u8(1)
	e.bytes(b)
}

// u256 writes a 256-bit integer as a 1-byte minimal-length prefix followed
// by its big-endian bytes (0..32), the same layout Account.EncodeForStorage
// uses for Balance.
func (e *encoder) u256(v *uint256.Int) {
	if v == nil {
		v = new(uint256.Int)
	}
	b := v.Bytes()
	e.u8(byte(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) optU256(v *uint256.Int) {
	if v == nil {
		e.u8(0)
		return
	}
	e.u8(1)
	e.u256(v)
}

func (e *encoder) optU64(v *uint64) {
	if v == nil {
		e.u8(0)
		return
	}
	e.u8(1)
	e.u64(*v)
}

func (e *encoder) optHash(v *Hash) {
	if v == nil {
		e.u8(0)
		return
	}
	e.u8(1)
	e.fixed(v.Bytes())
}

type decoder struct {
	b   []byte
	off int
}

var errShortRecord = fmt.Errorf("common: truncated binary record")

func (d *decoder) remaining() int { return len(d.b) - d.off }

func (d *decoder) u8() (uint8, error) {
	if d.remaining() < 1 {
		return 0, errShortRecord
	}
	v := d.b[d.off]
	d.off++
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, errShortRecord
	}
	v := uint32(d.b[d.off])<<24 | uint32(d.b[d.off+1])<<16 | uint32(d.b[d.off+2])<<8 | uint32(d.b[d.off+3])
	d.off += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if d.remaining() < 8 {
		return 0, errShortRecord
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(d.b[d.off+i])
	}
	d.off += 8
	return v, nil
}

func (d *decoder) fixed(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, errShortRecord
	}
	v := d.b[d.off : d.off+n]
	d.off += n
	return v, nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	return d.fixed(int(n))
}

func (d *decoder) optBytes() ([]byte, error) {
	flag, err := d.u8()
	if err != nil || flag == 0 {
		return nil, err
	}
	return d.bytes()
}

func (d *decoder) u256() (*uint256.Int, error) {
	n, err := d.u8()
	if err != nil {
		return nil, err
	}
	b, err := d.fixed(int(n))
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(b), nil
}

func (d *decoder) optU256() (*uint256.Int, error) {
	flag, err := d.u8()
	if err != nil || flag == 0 {
		return nil, err
	}
	return d.u256()
}

func (d *decoder) optU64() (*uint64, error) {
	flag, err := d.u8()
	if err != nil || flag == 0 {
		return nil, err
	}
	v, err := d.u64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (d *decoder) optHash() (*Hash, error) {
	flag, err := d.u8()
	if err != nil || flag == 0 {
		return nil, err
	}
	b, err := d.fixed(HashLength)
	if err != nil {
		return nil, err
	}
	h := BytesToHash(b)
	return &h, nil
}

func (d *decoder) hash() (Hash, error) {
	b, err := d.fixed(HashLength)
	if err != nil {
		return Hash{}, err
	}
	return BytesToHash(b), nil
}

func (d *decoder) address() (Address, error) {
	b, err := d.fixed(AddressLength)
	if err != nil {
		return Address{}, err
	}
	return BytesToAddress(b), nil
}
