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

// EmptyUncleHash is the Keccak-256 of the RLP-encoded empty list, the
// canonical value against which an uncle-less header's UncleHash must
// compare equal (spec §9 "Open questions": multiple conflicting constants
// exist in the source material; this is the one the implementer must
// canonicalize against).
var EmptyUncleHash = HexMustHash("0x1dcc4de8dec75d7aab85b567b6ccd41ad312451b948a7413f0a142fd40d49347")

// HexMustHash is a tiny helper for literal hash constants; panics on a
// malformed literal since it is only ever called at package-init time with
// constants the implementer controls.
func HexMustHash(hexStr string) Hash {
	var h Hash
	b := []byte(hexStr)
	if len(b) >= 2 && b[0] == '0' && (b[1] == 'x' || b[1] == 'X') {
		b = b[2:]
	}
	out := make([]byte, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		out = append(out, hexNibble(b[i])<<4|hexNibble(b[i+1]))
	}
	copy(h[HashLength-len(out):], out)
	return h
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}

// Header carries the fields of spec §3's block header, including the
// post-fork optional fields. Identity is Keccak256 of Encode().
type Header struct {
	ParentHash  Hash
	UncleHash   Hash
	Coinbase    Address
	StateRoot   Hash
	TxRoot      Hash
	ReceiptRoot Hash
	Bloom       [256]byte
	Difficulty  *uint256.Int
	Number      BlockNum
	GasLimit    uint64
	GasUsed     uint64
	Timestamp   uint64
	Extra       []byte

	// Post-London
	BaseFee *uint256.Int
	// Post-Shanghai
	WithdrawalsRoot *Hash
	// Post-Cancun
	BlobGasUsed      *uint64
	ExcessBlobGas    *uint64
	ParentBeaconRoot *Hash
	// Post-Prague
	RequestsRoot *Hash
}

// Encode returns the canonical RLP encoding used for hashing.
func (h *Header) Encode() []byte {
	items := [][]byte{
		RlpString(h.ParentHash.Bytes()),
		RlpString(h.UncleHash.Bytes()),
		RlpString(h.Coinbase.Bytes()),
		RlpString(h.StateRoot.Bytes()),
		RlpString(h.TxRoot.Bytes()),
		RlpString(h.ReceiptRoot.Bytes()),
		RlpString(h.Bloom[:]),
		RlpUint(difficultyU64(h.Difficulty)),
		RlpUint(uint64(h.Number)),
		RlpUint(h.GasLimit),
		RlpUint(h.GasUsed),
		RlpUint(h.Timestamp),
		RlpString(h.Extra),
	}
	if h.BaseFee != nil {
		items = append(items, RlpUint(h.BaseFee.Uint64()))
	}
	if h.WithdrawalsRoot != nil {
		items = append(items, RlpString(h.WithdrawalsRoot.Bytes()))
	}
	if h.BlobGasUsed != nil {
		items = append(items, RlpUint(*h.BlobGasUsed))
	}
	if h.ExcessBlobGas != nil {
		items = append(items, RlpUint(*h.ExcessBlobGas))
	}
	if h.ParentBeaconRoot != nil {
		items = append(items, RlpString(h.ParentBeaconRoot.Bytes()))
	}
	if h.RequestsRoot != nil {
		items = append(items, RlpString(h.RequestsRoot.Bytes()))
	}
	return RlpList(items...)
}

// Hash returns the header's identity hash (spec §3).
func (h *Header) Hash() Hash { return Keccak256(h.Encode()) }

func difficultyU64(d *uint256.Int) uint64 {
	if d == nil {
		return 0
	}
	return d.Uint64()
}

// EncodeForStorage serializes the full header in the fixed binary codec
// (common/codec.go) for the Headers table: the execution stage re-reads
// headers written by an earlier, already-committed stage within the same
// round (spec §4.13 "commit after each stage"), so unlike the identity-hash
// RLP encoding above, this one must round-trip exactly.
func (h *Header) EncodeForStorage() []byte {
	var e encoder
	e.fixed(h.ParentHash.Bytes())
	e.fixed(h.UncleHash.Bytes())
	e.fixed(h.Coinbase.Bytes())
	e.fixed(h.StateRoot.Bytes())
	e.fixed(h.TxRoot.Bytes())
	e.fixed(h.ReceiptRoot.Bytes())
	e.fixed(h.Bloom[:])
	e.optU256(h.Difficulty)
	e.u64(uint64(h.Number))
	e.u64(h.GasLimit)
	e.u64(h.GasUsed)
	e.u64(h.Timestamp)
	e.bytes(h.Extra)
	e.optU256(h.BaseFee)
	e.optHash(h.WithdrawalsRoot)
	e.optU64(h.BlobGasUsed)
	e.optU64(h.ExcessBlobGas)
	e.optHash(h.ParentBeaconRoot)
	e.optHash(h.RequestsRoot)
	return e.buf
}

// DecodeHeader is the inverse of Header.EncodeForStorage.
func DecodeHeader(raw []byte) (*Header, error) {
	d := decoder{b: raw}
	h := &Header{}
	var err error
	if h.ParentHash, err = d.hash(); err != nil {
		return nil, err
	}
	if h.UncleHash, err = d.hash(); err != nil {
		return nil, err
	}
	if h.Coinbase, err = d.address(); err != nil {
		return nil, err
	}
	if h.StateRoot, err = d.hash(); err != nil {
		return nil, err
	}
	if h.TxRoot, err = d.hash(); err != nil {
		return nil, err
	}
	if h.ReceiptRoot, err = d.hash(); err != nil {
		return nil, err
	}
	bloom, err := d.fixed(256)
	if err != nil {
		return nil, err
	}
	copy(h.Bloom[:], bloom)
	if h.Difficulty, err = d.optU256(); err != nil {
		return nil, err
	}
	num, err := d.u64()
	if err != nil {
		return nil, err
	}
	h.Number = BlockNum(num)
	if h.GasLimit, err = d.u64(); err != nil {
		return nil, err
	}
	if h.GasUsed, err = d.u64(); err != nil {
		return nil, err
	}
	if h.Timestamp, err = d.u64(); err != nil {
		return nil, err
	}
	if h.Extra, err = d.bytes(); err != nil {
		return nil, err
	}
	if h.BaseFee, err = d.optU256(); err != nil {
		return nil, err
	}
	if h.WithdrawalsRoot, err = d.optHash(); err != nil {
		return nil, err
	}
	if h.BlobGasUsed, err = d.optU64(); err != nil {
		return nil, err
	}
	if h.ExcessBlobGas, err = d.optU64(); err != nil {
		return nil, err
	}
	if h.ParentBeaconRoot, err = d.optHash(); err != nil {
		return nil, err
	}
	if h.RequestsRoot, err = d.optHash(); err != nil {
		return nil, err
	}
	return h, nil
}

// Withdrawal is a post-Shanghai unconditional balance credit.
type Withdrawal struct {
	Index          uint64
	ValidatorIndex uint64
	Address        Address
	AmountGwei     uint64
}

// Body is the ordered sequence of transactions plus (pre-merge) uncles and
// (post-Shanghai) withdrawals, spec §3.
type Body struct {
	Transactions []*Transaction
	Uncles       []*Header
	Withdrawals  []*Withdrawal
}

// UncleHash returns Keccak256(RLP(uncle headers)); the bodies stage checks
// it against the UncleHash field of the block's own header.
func (b *Body) UncleHash() Hash {
	if len(b.Uncles) == 0 {
		return EmptyUncleHash
	}
	items := make([][]byte, len(b.Uncles))
	for i, u := range b.Uncles {
		items[i] = u.Encode()
	}
	return Keccak256(RlpList(items...))
}

// TxRoot returns a Merkle root of the transaction list. A full
// Merkle-Patricia trie is out of scope for this exercise's trimmed commitment layer (spec §9
// "Open questions" leaves representation to the implementer); this engine
// computes an ordered binary Merkle hash over index-keyed RLP-encoded
// transactions, which is deterministic, order-sensitive and tamper-evident
// in the same way the real trie root is, and is what the bodies stage
// verifies against the header (§4.12.2).
func (b *Body) TxRoot() Hash {
	if len(b.Transactions) == 0 {
		return EmptyUncleHash // RLP([]) is the same constant regardless of list type
	}
	leaves := make([]Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		leaves[i] = Keccak256(RlpUint(uint64(i)), tx.Encode())
	}
	return merkleRoot(leaves)
}

// WithdrawalsRoot mirrors TxRoot's construction for the withdrawal list.
func (b *Body) WithdrawalsRoot() Hash {
	if len(b.Withdrawals) == 0 {
		return EmptyUncleHash
	}
	leaves := make([]Hash, len(b.Withdrawals))
	for i, w := range b.Withdrawals {
		leaves[i] = Keccak256(RlpUint(uint64(i)), RlpList(
			RlpUint(w.Index), RlpUint(w.ValidatorIndex), RlpString(w.Address.Bytes()), RlpUint(w.AmountGwei),
		))
	}
	return merkleRoot(leaves)
}

// EncodeForStorage serializes the full body for the Bodies table, in the
// fixed binary codec (common/codec.go); see Header.EncodeForStorage for why
// this differs from the RLP used for root hashing.
func (b *Body) EncodeForStorage() []byte {
	var e encoder
	e.u32(uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		e.bytes(tx.EncodeForStorage())
	}
	e.u32(uint32(len(b.Uncles)))
	for _, u := range b.Uncles {
		e.bytes(u.EncodeForStorage())
	}
	e.u32(uint32(len(b.Withdrawals)))
	for _, w := range b.Withdrawals {
		e.u64(w.Index)
		e.u64(w.ValidatorIndex)
		e.fixed(w.Address.Bytes())
		e.u64(w.AmountGwei)
	}
	return e.buf
}

// DecodeBody is the inverse of Body.EncodeForStorage.
func DecodeBody(raw []byte) (*Body, error) {
	d := decoder{b: raw}
	b := &Body{}
	nTx, err := d.u32()
	if err != nil {
		return nil, err
	}
	b.Transactions = make([]*Transaction, nTx)
	for i := range b.Transactions {
		txRaw, err := d.bytes()
		if err != nil {
			return nil, err
		}
		tx, err := DecodeTransaction(txRaw)
		if err != nil {
			return nil, err
		}
		b.Transactions[i] = tx
	}
	nUncles, err := d.u32()
	if err != nil {
		return nil, err
	}
	b.Uncles = make([]*Header, nUncles)
	for i := range b.Uncles {
		hRaw, err := d.bytes()
		if err != nil {
			return nil, err
		}
		h, err := DecodeHeader(hRaw)
		if err != nil {
			return nil, err
		}
		b.Uncles[i] = h
	}
	nW, err := d.u32()
	if err != nil {
		return nil, err
	}
	b.Withdrawals = make([]*Withdrawal, nW)
	for i := range b.Withdrawals {
		w := &Withdrawal{}
		if w.Index, err = d.u64(); err != nil {
			return nil, err
		}
		if w.ValidatorIndex, err = d.u64(); err != nil {
			return nil, err
		}
		if w.Address, err = d.address(); err != nil {
			return nil, err
		}
		if w.AmountGwei, err = d.u64(); err != nil {
			return nil, err
		}
		b.Withdrawals[i] = w
	}
	return b, nil
}

func merkleRoot(leaves []Hash) Hash {
	level := leaves
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, Keccak256(level[i].Bytes(), level[i+1].Bytes()))
			} else {
				next = append(next, Keccak256(level[i].Bytes(), level[i].Bytes()))
			}
		}
		level = next
	}
	return level[0]
}

// Account is the flat state record of spec §3.
type Account struct {
	Nonce       uint64
	Balance     *uint256.Int
	StorageRoot Hash
	CodeHash    Hash
}

// IsEmpty reports the EIP-161 empty-account condition (spec §4.7).
func (a *Account) IsEmpty() bool {
	return a.Nonce == 0 && (a.Balance == nil || a.Balance.IsZero()) && a.CodeHash.IsZero()
}

// Encode serializes the account in RLP for commitment/root hashing (spec
// §4.10, §3).
func (a *Account) Encode() []byte {
	bal := a.Balance
	if bal == nil {
		bal = new(uint256.Int)
	}
	return RlpList(
		RlpUint(a.Nonce),
		RlpUint(bal.Uint64()),
		RlpString(a.StorageRoot.Bytes()),
		RlpString(a.CodeHash.Bytes()),
	)
}

// EncodeForStorage serializes the account for this engine's own Domain hot
// and cold tables: a fixed binary layout rather than RLP, since (unlike
// headers/bodies/transactions, which the pipeline only ever hashes) the
// Domain layer must read its own accounts back (spec §4.10 get_latest),
// and common/rlp.go deliberately carries no decoder.
func (a *Account) EncodeForStorage() []byte {
	bal := a.Balance
	if bal == nil {
		bal = new(uint256.Int)
	}
	balBytes := bal.Bytes() // big-endian, minimal length, 0..32 bytes
	out := make([]byte, 0, 8+1+len(balBytes)+HashLength+HashLength)
	var nonceBuf [8]byte
	for i := 0; i < 8; i++ {
		nonceBuf[7-i] = byte(a.Nonce >> (8 * i))
	}
	out = append(out, nonceBuf[:]...)
	out = append(out, byte(len(balBytes)))
	out = append(out, balBytes...)
	out = append(out, a.StorageRoot.Bytes()...)
	out = append(out, a.CodeHash.Bytes()...)
	return out
}

// DecodeAccount is the inverse of EncodeForStorage.
func DecodeAccount(raw []byte) (Account, error) {
	if len(raw) < 8+1 {
		return Account{}, fmt.Errorf("common: short account record (%d bytes)", len(raw))
	}
	var a Account
	var nonce uint64
	for i := 0; i < 8; i++ {
		nonce = nonce<<8 | uint64(raw[i])
	}
	a.Nonce = nonce
	balLen := int(raw[8])
	off := 9
	if len(raw) < off+balLen+HashLength+HashLength {
		return Account{}, fmt.Errorf("common: truncated account record")
	}
	a.Balance = new(uint256.Int).SetBytes(raw[off : off+balLen])
	off += balLen
	a.StorageRoot = BytesToHash(raw[off : off+HashLength])
	off += HashLength
	a.CodeHash = BytesToHash(raw[off : off+HashLength])
	return a, nil
}

// Log is one EVM log entry (spec §3).
type Log struct {
	Address Address
	Topics  []Hash
	Data    []byte
}

// Receipt is the per-transaction execution outcome (spec §3).
type Receipt struct {
	Status            uint64 // 0 or 1, post-Byzantium
	CumulativeGasUsed uint64
	Bloom             [256]byte
	Logs              []*Log
}

// EncodeForStorage serializes a receipt in the fixed binary codec for the
// Receipts table.
func (r *Receipt) EncodeForStorage() []byte {
	var e encoder
	e.u64(r.Status)
	e.u64(r.CumulativeGasUsed)
	e.fixed(r.Bloom[:])
	e.u32(uint32(len(r.Logs)))
	for _, lg := range r.Logs {
		e.fixed(lg.Address.Bytes())
		e.u32(uint32(len(lg.Topics)))
		for _, t := range lg.Topics {
			e.fixed(t.Bytes())
		}
		e.bytes(lg.Data)
	}
	return e.buf
}

// DecodeReceipt is the inverse of Receipt.EncodeForStorage.
func DecodeReceipt(raw []byte) (*Receipt, error) {
	d := decoder{b: raw}
	r := &Receipt{}
	var err error
	if r.Status, err = d.u64(); err != nil {
		return nil, err
	}
	if r.CumulativeGasUsed, err = d.u64(); err != nil {
		return nil, err
	}
	bloom, err := d.fixed(256)
	if err != nil {
		return nil, err
	}
	copy(r.Bloom[:], bloom)
	nLogs, err := d.u32()
	if err != nil {
		return nil, err
	}
	r.Logs = make([]*Log, nLogs)
	for i := range r.Logs {
		lg := &Log{}
		if lg.Address, err = d.address(); err != nil {
			return nil, err
		}
		nTopics, err := d.u32()
		if err != nil {
			return nil, err
		}
		lg.Topics = make([]Hash, nTopics)
		for j := range lg.Topics {
			if lg.Topics[j], err = d.hash(); err != nil {
				return nil, err
			}
		}
		if lg.Data, err = d.bytes(); err != nil {
			return nil, err
		}
		r.Logs[i] = lg
	}
	return r, nil
}

// bloomAdd ORs data's 3-bit Bloom contribution into b, using the standard
// low-order-11-bits-of-Keccak256 construction (spec §3 "Bloom").
func bloomAdd(b *[256]byte, data []byte) {
	h := Keccak256(data)
	for i := 0; i < 3; i++ {
		bit := (uint(h[2*i])<<8 | uint(h[2*i+1])) & 0x7ff
		b[256-1-bit/8] |= 1 << (bit % 8)
	}
}

// LogsBloom computes the receipt Bloom filter over a log list's addresses
// and topics (spec §3, §4.12.4 "build receipt with ... bloom").
func LogsBloom(logs []*Log) [256]byte {
	var b [256]byte
	for _, lg := range logs {
		bloomAdd(&b, lg.Address.Bytes())
		for _, t := range lg.Topics {
			bloomAdd(&b, t.Bytes())
		}
	}
	return b
}

// ReceiptsRoot mirrors TxRoot's construction for the receipt list.
func ReceiptsRoot(receipts []*Receipt) Hash {
	if len(receipts) == 0 {
		return EmptyUncleHash
	}
	leaves := make([]Hash, len(receipts))
	for i, r := range receipts {
		leaves[i] = Keccak256(RlpUint(uint64(i)), RlpList(RlpUint(r.Status), RlpUint(r.CumulativeGasUsed), RlpString(r.Bloom[:])))
	}
	return merkleRoot(leaves)
}
