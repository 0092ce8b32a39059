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

// Package sync implements the staged-sync coordinator of spec §4.13: an
// ordered list of stage descriptors, driven round by round, with
// crash-atomic progress markers and reversible-error unwind.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/config"
	"github.com/erigontech/erigoncore/ercore/errs"
	"github.com/erigontech/erigoncore/evmadapter"
	"github.com/erigontech/erigoncore/internal/gologger"
	"github.com/erigontech/erigoncore/kv"
	"github.com/erigontech/erigoncore/stages"
)

// Coordinator owns the ordered stage set and drives it against one Env.
type Coordinator struct {
	Env       kv.Env
	Config    config.Config
	Log       *gologger.Logger
	Domains   stages.Domains
	Source    stages.BlockSource
	Consensus stages.ConsensusEngine
	EVM       *evmadapter.Adapter
	ChainID   *common.U256

	// BadBlocks tracks block numbers already proven invalid, so a round
	// handed the same target again fails fast instead of re-executing the
	// whole pipeline up to it (spec §4.13). Nil disables the check.
	BadBlocks *BadBlockSet

	byID map[stages.ID]stages.Interface
}

// New builds a Coordinator with the standard six-stage pipeline (spec
// §4.12): Headers, Bodies, Senders, Execution, TxLookup, Finish, in that
// order. Consensus may be nil if the caller's block source already
// performs consensus validation upstream.
func New(env kv.Env, cfg config.Config, log *gologger.Logger, doms stages.Domains, source stages.BlockSource, consensus stages.ConsensusEngine, evm *evmadapter.Adapter, chainID *common.U256) *Coordinator {
	c := &Coordinator{
		Env:       env,
		Config:    cfg,
		Log:       log,
		Domains:   doms,
		Source:    source,
		Consensus: consensus,
		EVM:       evm,
		ChainID:   chainID,
		BadBlocks: NewBadBlockSet(),
	}
	c.SetStages(
		stages.Headers{},
		stages.Bodies{},
		stages.Senders{},
		stages.Execution{},
		stages.TxLookup{},
		stages.Finish{},
	)
	return c
}

// SetStages replaces the active stage set, keyed by each stage's ID. Tests
// use this to substitute fakes for a subset of the pipeline.
func (c *Coordinator) SetStages(sts ...stages.Interface) {
	c.byID = make(map[stages.ID]stages.Interface, len(sts))
	for _, st := range sts {
		c.byID[st.ID()] = st
	}
}

// TargetFunc resolves the highest known-valid block at round start (spec
// §4.13 step 2).
type TargetFunc func(ctx context.Context) (common.BlockNum, error)

// Run drives rounds forever, sleeping idle between them, until ctx is
// cancelled (spec §4.13 step 5, §5 "the coordinator blocks only in the
// idle-between-rounds sleep or in disk I/O").
func (c *Coordinator) Run(ctx context.Context, target TargetFunc, idle time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		to, err := target(ctx)
		if err != nil {
			return err
		}
		if c.BadBlocks != nil && c.BadBlocks.IsBad(to) {
			if c.Log != nil {
				c.Log.Warn("skipping round against a target already proven invalid", "block", to)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idle):
			}
			continue
		}
		beforeHead, err := c.headProgress(ctx)
		if err != nil {
			return err
		}
		if err := c.RunOnce(ctx, to); err != nil {
			return err
		}
		afterHead, err := c.headProgress(ctx)
		if err != nil {
			return err
		}
		if afterHead <= beforeHead {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idle):
			}
		}
	}
}

// RunOnce drives exactly one round to completion, including retries after a
// transient error (with a doubling backoff) and any unwind retries triggered
// by a reversible error (spec §4.13 steps 3-4).
func (c *Coordinator) RunOnce(ctx context.Context, target common.BlockNum) error {
	backoff := 100 * time.Millisecond
	for {
		err := c.round(ctx, target)
		if err == nil {
			return c.collateDue(ctx)
		}
		var serr *errs.Error
		if errors.As(err, &serr) && serr.Kind == errs.KindTransient {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}
		if !errors.As(err, &serr) || !serr.Kind.Reversible() {
			return err
		}
		if c.Log != nil {
			c.Log.Warn("unwinding after reversible error", "kind", serr.Kind.String(), "block", serr.Block)
		}
		if c.BadBlocks != nil {
			c.BadBlocks.Mark(common.BlockNum(serr.Block))
		}
		var unwindTo common.BlockNum
		if serr.Block > 1 {
			unwindTo = common.BlockNum(serr.Block - 1)
		}
		if uerr := c.unwindTo(ctx, unwindTo); uerr != nil {
			return uerr
		}
	}
}

func (c *Coordinator) round(ctx context.Context, target common.BlockNum) error {
	for _, id := range stages.Order {
		st, ok := c.byID[id]
		if !ok {
			continue
		}
		if err := c.runStage(ctx, st, target); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// runStage re-enters a stage's Execute until it reports done (spec §4.13
// step 3: "a stage may return done=false... must be re-entered").
func (c *Coordinator) runStage(ctx context.Context, st stages.Interface, target common.BlockNum) error {
	for {
		reachedTarget, err := c.stageRound(ctx, st, target)
		if err != nil {
			return err
		}
		if reachedTarget {
			return nil
		}
	}
}

// stageRound executes one batch of a stage inside its own committed
// transaction (spec §4.13: "commit after each stage").
func (c *Coordinator) stageRound(ctx context.Context, st stages.Interface, target common.BlockNum) (reachedTarget bool, err error) {
	tx, err := c.Env.BeginRw(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	progress, err := stages.GetProgress(tx, st.ID())
	if err != nil {
		return false, err
	}
	if progress >= target {
		return true, nil
	}

	txNum, err := stages.GetTxNum(tx)
	if err != nil {
		return false, err
	}

	sc := &stages.Context{
		Context:     ctx,
		Tx:          tx,
		Config:      c.Config,
		Log:         c.Log,
		Domains:     c.Domains,
		Source:      c.Source,
		Consensus:   c.Consensus,
		EVM:         c.EVM,
		ChainID:     c.ChainID,
		TxNumCursor: &txNum,
	}

	processed, stageDone, err := st.Execute(sc, progress, target)
	if err != nil {
		return false, err
	}

	newProgress := progress + common.BlockNum(processed)
	if err := stages.SaveProgress(tx, st.ID(), newProgress); err != nil {
		return false, err
	}
	if err := stages.SaveTxNum(tx, txNum); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	return stageDone && newProgress >= target, nil
}

// unwindTo unwinds every stage that has progressed past to, in reverse
// pipeline order (spec §4.13 step 4).
func (c *Coordinator) unwindTo(ctx context.Context, to common.BlockNum) error {
	for i := len(stages.Order) - 1; i >= 0; i-- {
		st, ok := c.byID[stages.Order[i]]
		if !ok {
			continue
		}
		if err := c.unwindStage(ctx, st, to); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) unwindStage(ctx context.Context, st stages.Interface, to common.BlockNum) error {
	tx, err := c.Env.BeginRw(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	progress, err := stages.GetProgress(tx, st.ID())
	if err != nil {
		return err
	}
	if progress <= to {
		return nil
	}

	txNum, err := stages.GetTxNum(tx)
	if err != nil {
		return err
	}
	sc := &stages.Context{
		Context:     ctx,
		Tx:          tx,
		Config:      c.Config,
		Log:         c.Log,
		Domains:     c.Domains,
		Source:      c.Source,
		Consensus:   c.Consensus,
		EVM:         c.EVM,
		ChainID:     c.ChainID,
		TxNumCursor: &txNum,
	}

	if err := st.Unwind(sc, to); err != nil {
		return err
	}
	if err := stages.SaveProgress(tx, st.ID(), to); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *Coordinator) headProgress(ctx context.Context) (common.BlockNum, error) {
	tx, err := c.Env.BeginRo(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := stages.GetProgress(tx, stages.StageFinish)
	return n, err
}
