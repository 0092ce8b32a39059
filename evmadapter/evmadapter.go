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

// Package evmadapter implements the external EVM adapter of spec §4.14: a
// single execute_message entry point taking a Host capability object and a
// Message, returning a CallResult. The EVM's own internals (opcode
// dispatch, gas metering per opcode, call-depth recursion) are explicitly
// out of scope (spec §1 Non-goals); this package only defines the contract
// surface and exports the call-depth cap (MaxCallDepth) for engines to use.
package evmadapter

import (
	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/state/accesslist"
)

// MaxCallDepth is the outermost call-depth cap the core surfaces to the
// EVM (spec §4.14): "Call depth is capped at 1024".
const MaxCallDepth = 1024

// Kind identifies the outermost message's invocation mode (spec §6).
type Kind int

const (
	Call Kind = iota
	Create
	Create2
	DelegateCall
	StaticCall
	CallCode
)

// Message is the outermost call or create the core submits to the EVM
// (spec §6).
type Message struct {
	Kind           Kind
	Caller         common.Address
	To             *common.Address // nil for Create/Create2
	Value          *common.U256
	Input          []byte
	AccessList     []accesslist.Tuple
	Authorizations []common.Authorization
	BlobHashes     []common.Hash
	Salt           common.Hash // Create2 only
}

// BlockContext is the block-level read surface Host exposes beyond
// IntraBlockState (spec §4.14 "block-context reads").
type BlockContext struct {
	Number        common.BlockNum
	Timestamp     uint64
	Coinbase      common.Address
	GasLimit      uint64
	BaseFee       *common.U256
	PrevRandao    common.Hash
	BlobBaseFee   *common.U256
	ChainID       *common.U256
	BlockHashByNumber func(n common.BlockNum) (common.Hash, bool)
}

// IntraBlockState is the subset of state.IntraBlockState's surface the EVM
// needs (spec §4.11, §4.14). Declared here rather than imported directly
// so this package has no dependency on the state package's concrete type,
// matching the "EVM must not assume anything else" isolation spec §4.14
// calls for.
type IntraBlockState interface {
	Exist(addr common.Address) (bool, error)
	Empty(addr common.Address) (bool, error)
	GetBalance(addr common.Address) (*common.U256, error)
	AddBalance(addr common.Address, amount *common.U256, coalesce bool) error
	SubBalance(addr common.Address, amount *common.U256) error
	GetNonce(addr common.Address) (uint64, error)
	SetNonce(addr common.Address, nonce uint64) error
	GetCode(addr common.Address) ([]byte, error)
	GetCodeHash(addr common.Address) (common.Hash, error)
	GetCodeSize(addr common.Address) (int, error)
	SetCode(addr common.Address, code []byte) error
	GetState(addr common.Address, slot common.Hash) (common.Hash, error)
	SetState(addr common.Address, slot, value common.Hash) error
	GetCommittedState(addr common.Address, slot common.Hash) (common.Hash, error)
	GetTransientState(addr common.Address, slot common.Hash) common.Hash
	SetTransientState(addr common.Address, slot, value common.Hash)
	SelfDestruct(addr common.Address) error
	SelfDestructEIP6780(addr common.Address) error
	AddLog(log common.Log)
	AddRefund(gas uint64)
	SubRefund(gas uint64)
	AccessAddress(addr common.Address) (gas uint64, wasCold bool)
	AccessSlot(addr common.Address, slot common.Hash) (gas uint64, wasCold bool)
	Snapshot() int
	RevertToSnapshot(id int)
}

// Host composes the state surface with block-context reads (spec §4.14,
// §6): "Host = the IntraBlockState surface of §4.11 plus block-context
// readers."
type Host struct {
	State IntraBlockState
	Block BlockContext
}

// CallResult is the outcome of execute_message (spec §4.14).
type CallResult struct {
	Success       bool
	GasLeft       uint64
	Output        []byte
	Logs          []common.Log
	SelfDestructs []common.Address
}

// Engine is the capability the EVM implementation registers with this
// adapter; a real deployment wires in a concrete opcode interpreter. This
// package's job is only to define the call contract (spec
// §4.14), not to implement interpretation.
type Engine interface {
	Run(host *Host, msg Message, gas uint64) (CallResult, error)
}

// Adapter is the single entry point named in spec §4.14.
type Adapter struct {
	engine Engine
}

func New(engine Engine) *Adapter { return &Adapter{engine: engine} }

// ExecuteMessage runs msg against host with the given gas by passing it
// straight to the registered Engine's Run (spec §4.14). It performs no depth
// or gas check of its own: call depth and the 63/64 forwarding rule are
// left to the engine.
func (a *Adapter) ExecuteMessage(host *Host, msg Message, gas uint64) (CallResult, error) {
	return a.engine.Run(host, msg, gas)
}
