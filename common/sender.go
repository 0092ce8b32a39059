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
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// ErrInvalidSig is returned when a transaction's V/R/S triple does not
// decode to a valid recoverable signature (spec §4.12.3 "malformed
// signature").
var ErrInvalidSig = errors.New("common: invalid transaction signature")

// recoveryID returns the 0/1 recovery id encoded into a transaction's
// signature. Legacy transactions carry it in V, either directly (pre-155:
// V == 27 or 28) or folded in with the chain id (EIP-155: V = 35 + 2*chainID
// + recid); typed transactions carry it directly as YParity.
func (tx *Transaction) recoveryID() (id byte, err error) {
	if tx.Type != LegacyTxType {
		if tx.YParity > 1 {
			return 0, ErrInvalidSig
		}
		return tx.YParity, nil
	}
	if tx.V == nil {
		return 0, ErrInvalidSig
	}
	v := tx.V.Uint64()
	switch {
	case v == 27 || v == 28:
		return byte(v - 27), nil
	case v >= 35:
		return byte((v - 35) % 2), nil
	default:
		return 0, ErrInvalidSig
	}
}

// Sender recovers the transaction's sender address from its signature and
// signing hash via secp256k1 public-key recovery (spec §4.12.3): "derive
// the sender address from the transaction's signature and its signing
// hash". The recovered address is not cached on Transaction since, unlike
// Hash/SigningHash, it depends on external chain configuration (EIP-155)
// and is instead cached by the Senders stage's own storage table.
func (tx *Transaction) Sender() (Address, error) {
	if tx.R == nil || tx.S == nil {
		return Address{}, ErrInvalidSig
	}
	recID, err := tx.recoveryID()
	if err != nil {
		return Address{}, err
	}

	rBytes := leftPad32(tx.R.Bytes())
	sBytes := leftPad32(tx.S.Bytes())

	// decred's RecoverCompact expects a 65-byte [recoveryByte || R || S]
	// signature with the recovery byte offset by 27 (legacy Bitcoin/ECDSA
	// convention it inherited); see ecdsa.RecoverCompact's doc comment.
	var compact [65]byte
	compact[0] = 27 + recID
	copy(compact[1:33], rBytes)
	copy(compact[33:65], sBytes)

	sigHash := tx.SigningHash()
	pub, _, err := ecdsa.RecoverCompact(compact[:], sigHash.Bytes())
	if err != nil {
		return Address{}, ErrInvalidSig
	}
	return pubkeyToAddress(pub), nil
}

// pubkeyToAddress derives the 20-byte Ethereum address from an uncompressed
// secp256k1 public key: Keccak256(X||Y)[12:] (spec §3, matching
// go-ethereum/Erigon's standard Ecrecover-style address derivation).
func pubkeyToAddress(pub *secp256k1.PublicKey) Address {
	uncompressed := pub.SerializeUncompressed() // 0x04 || X(32) || Y(32)
	h := Keccak256(uncompressed[1:])
	return BytesToAddress(h.Bytes()[12:])
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
