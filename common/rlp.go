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

import "math/bits"

// RLP-lite: just enough recursive-length-prefix encoding to give headers,
// bodies and transactions a canonical byte representation for hashing and
// Merkle-Patricia root computation (spec §3). Decoding is not needed
// anywhere in this engine: every RLP value the pipeline consumes arrives
// already decoded from the block-source interface (spec §6), and every RLP
// value it produces is only ever hashed, never parsed back.

// RlpString encodes a byte string per the RLP string rules.
func RlpString(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return b
	}
	if len(b) < 56 {
		return append([]byte{0x80 + byte(len(b))}, b...)
	}
	lenBytes := uintBytes(uint64(len(b)))
	out := append([]byte{0xb7 + byte(len(lenBytes))}, lenBytes...)
	return append(out, b...)
}

// RlpList encodes the concatenation of already-encoded items as an RLP list.
func RlpList(items ...[]byte) []byte {
	var payload []byte
	for _, it := range items {
		payload = append(payload, it...)
	}
	if len(payload) < 56 {
		return append([]byte{0xc0 + byte(len(payload))}, payload...)
	}
	lenBytes := uintBytes(uint64(len(payload)))
	out := append([]byte{0xf7 + byte(len(lenBytes))}, lenBytes...)
	return append(out, payload...)
}

// RlpUint encodes v as its minimal big-endian byte string (empty for 0).
func RlpUint(v uint64) []byte {
	if v == 0 {
		return RlpString(nil)
	}
	return RlpString(uintBytes(v))
}

func uintBytes(v uint64) []byte {
	if v == 0 {
		return nil
	}
	n := (bits.Len64(v) + 7) / 8
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
