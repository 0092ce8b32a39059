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

// Package errs implements the error-kind taxonomy of spec §7: each kind
// names where it arises and how the coordinator must react to it.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for coordinator-level propagation policy.
type Kind int

const (
	// KindTransient is retried with backoff; the round continues.
	KindTransient Kind = iota
	// KindCorruptSegment is fatal to the reader; the file is renamed aside.
	KindCorruptSegment
	// KindInvalidHeader triggers an unwind of the header chain.
	KindInvalidHeader
	// KindInvalidBody triggers a body re-request, escalating to KindInvalidHeader.
	KindInvalidBody
	// KindSenderRecoveryFailed is fatal for the containing block.
	KindSenderRecoveryFailed
	// KindExecutionMismatch triggers an unwind of the execution stage.
	KindExecutionMismatch
	// KindKvTxnConflict should never occur by design; fatal.
	KindKvTxnConflict
	// KindShutdown is a cooperative, non-error termination request.
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "Transient"
	case KindCorruptSegment:
		return "CorruptSegment"
	case KindInvalidHeader:
		return "InvalidHeader"
	case KindInvalidBody:
		return "InvalidBody"
	case KindSenderRecoveryFailed:
		return "SenderRecoveryFailed"
	case KindExecutionMismatch:
		return "ExecutionMismatch"
	case KindKvTxnConflict:
		return "KvTxnConflict"
	case KindShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Reversible reports whether the coordinator should attempt to recover by
// unwinding, as opposed to propagating the error to the process root.
// Coordinator.RunOnce retries KindTransient errors after a backoff before
// consulting this, so a transient error does not cause an unwind there.
func (k Kind) Reversible() bool {
	switch k {
	case KindInvalidHeader, KindInvalidBody, KindSenderRecoveryFailed, KindExecutionMismatch, KindTransient:
		return true
	default:
		return false
	}
}

// Error is the concrete type carried through the pipeline. Block is the
// offending block number when applicable (0 otherwise).
type Error struct {
	Kind    Kind
	Block   uint64
	Reason  string
	wrapped error
}

func (e *Error) Error() string {
	if e.Block != 0 {
		return fmt.Sprintf("%s(block=%d): %s", e.Kind, e.Block, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New constructs an Error of the given kind.
func New(kind Kind, block uint64, reason string) *Error {
	return &Error{Kind: kind, Block: block, Reason: reason}
}

// Wrap annotates err with a Kind while preserving it for errors.Is/As.
func Wrap(kind Kind, block uint64, err error) *Error {
	return &Error{Kind: kind, Block: block, Reason: err.Error(), wrapped: err}
}

// InvalidHeader reports an InvalidHeader error (§7).
func InvalidHeader(block uint64, reason string) *Error {
	return New(KindInvalidHeader, block, reason)
}

// InvalidBody reports an InvalidBody error (§7).
func InvalidBody(block uint64, reason string) *Error {
	return New(KindInvalidBody, block, reason)
}

// ExecutionMismatch reports a post-state/receipts-root mismatch (§7).
func ExecutionMismatch(block uint64, field string) *Error {
	return New(KindExecutionMismatch, block, fmt.Sprintf("mismatch in %s", field))
}

// SenderRecoveryFailed reports a malformed-signature failure (§7).
func SenderRecoveryFailed(block uint64, txHash fmt.Stringer) *Error {
	return New(KindSenderRecoveryFailed, block, fmt.Sprintf("bad signature for tx %s", txHash))
}

// CorruptSegment reports a decompressor invariant violation (§7).
func CorruptSegment(file string, err error) *Error {
	return Wrap(KindCorruptSegment, 0, errors.Wrapf(err, "corrupt segment %s", file))
}

// KvTxnConflict reports a concurrent-writer invariant violation (§7): this
// should never occur given the single-writer design, and is always fatal.
func KvTxnConflict(reason string) *Error {
	return New(KindKvTxnConflict, 0, reason)
}

// ErrPruned is returned by History/Domain reads for a txNum older than the
// oldest retained history segment (SPEC_FULL §C.1).
var ErrPruned = errors.New("old data not available due to pruning")

// ErrKeyNotFound is a sentinel for "absent" as distinct from a real I/O
// error (spec §4.1). The kv lookups do not return it: GetOne reports a miss
// as ok=false.
var ErrKeyNotFound = errors.New("key not found")

// ErrNotDone names the "batch limit hit, re-entry required" condition (spec
// §4.13). Stages report that condition through Execute's done=false result
// and do not return this error.
var ErrNotDone = errors.New("stage did not reach target, re-entry required")
