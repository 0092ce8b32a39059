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

// Package stages implements the six staged-sync stages of spec §4.12:
// headers, bodies, senders, execution, transaction lookup and finish. Each
// stage satisfies the shared Interface contract so the coordinator
// (package sync) can drive them uniformly.
package stages

import (
	"context"

	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/config"
	"github.com/erigontech/erigoncore/domain"
	"github.com/erigontech/erigoncore/evmadapter"
	"github.com/erigontech/erigoncore/internal/gologger"
	"github.com/erigontech/erigoncore/kv"
)

// ID names one of the six stages, also used as its SyncStageProgress key
// and as the order key the coordinator iterates in (spec §4.13).
type ID string

const (
	StageHeaders   ID = "Headers"
	StageBodies    ID = "Bodies"
	StageSenders   ID = "Senders"
	StageExecution ID = "Execution"
	StageTxLookup  ID = "TxLookup"
	StageFinish    ID = "Finish"
)

// Order lists every stage in the sequence the coordinator executes them
// forward and unwinds them in reverse (spec §4.12, §4.13).
var Order = []ID{StageHeaders, StageBodies, StageSenders, StageExecution, StageTxLookup, StageFinish}

// Domains bundles the three Domain/History/InvertedIndex-backed state
// families the execution stage commits through (spec §4.10, §4.11).
type Domains struct {
	Accounts *domain.Domain
	Storage  *domain.Domain
	Code     *domain.Domain
}

// Context carries everything a stage needs to run one round: the KV
// transaction, the node configuration, a logger, shared domains, the
// external block source, and an abort signal (spec §4.12: "ctx carries the
// KV transaction, shared caches, and an abort signal").
type Context struct {
	context.Context

	Tx      kv.RwTx
	Config  config.Config
	Log     *gologger.Logger
	Domains   Domains
	Source    BlockSource
	Consensus ConsensusEngine
	EVM       *evmadapter.Adapter
	ChainID   *common.U256

	// TxNumCursor is the running global transaction counter (spec §4.12.4
	// "global_tx_counter"), shared across blocks within a round so TxNum
	// stays monotonic across the whole sync, not just within one block.
	TxNumCursor *common.TxNum
}

// Aborted reports whether the caller has requested cancellation; stages
// check this between blocks (spec §5 "every stage iteration is
// interruptible at block boundaries").
func (c *Context) Aborted() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Interface is the contract every stage implements (spec §4.12).
type Interface interface {
	ID() ID
	// Execute processes blocks from the stage's last progress up to (and
	// including) to. It returns the number of blocks actually processed and
	// whether the stage reached to (false means it hit a batch limit and
	// must be re-entered; spec §4.13 step 3).
	Execute(sc *Context, from, to common.BlockNum) (processed uint64, done bool, err error)
	// Unwind reverts all effects of blocks above to, down to and including
	// to+1.
	Unwind(sc *Context, to common.BlockNum) error
}

// GetProgress reads a stage's persisted progress marker (spec §4.13,
// §6 "Persisted progress schema"), defaulting to 0 for a stage never run.
func GetProgress(tx kv.Getter, id ID) (common.BlockNum, error) {
	v, ok, err := tx.GetOne(kv.SyncStageProgress, []byte(id))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return common.BlockNum(beUint64(v)), nil
}

// SaveProgress writes a stage's progress marker within the same RwTx as its
// other writes, giving crash-atomic advancement (spec §4.13).
func SaveProgress(tx kv.Putter, id ID, n common.BlockNum) error {
	return tx.Put(kv.SyncStageProgress, []byte(id), beBytes8(uint64(n)))
}

func beBytes8(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
	return b
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
