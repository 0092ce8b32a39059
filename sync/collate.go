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

package sync

import (
	"context"

	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/domain"
	"github.com/erigontech/erigoncore/kv"
	"github.com/erigontech/erigoncore/segment"
	"github.com/erigontech/erigoncore/stages"
)

// Progress keys for the background collation job, stored in the same
// SyncStageProgress table the stage pipeline uses but under IDs outside
// stages.Order so they never participate in stage iteration or unwind.
const (
	collateAccounts stages.ID = "CollateAccounts"
	collateStorage  stages.ID = "CollateStorage"
	collateCode     stages.ID = "CollateCode"
)

// mergeThreshold is how many abutting cold segments accumulate before the
// background job folds them into one wider segment (spec §3 "periodically
// ... merged with neighboring segments into larger files").
const mergeThreshold = 4

// collateDue runs collate(stepRange) for every domain whose hot range has
// advanced past a step boundary since its last collation, then opportunistically
// merges each domain's oldest segments once enough have accumulated (spec
// §4.10, §4.13). It runs in its own committed transaction, independent of
// any stage's transaction, so a collation failure never aborts the stage
// pipeline; RunOnce calls this once per round, after the stages commit.
func (c *Coordinator) collateDue(ctx context.Context) error {
	tx, err := c.Env.BeginRw(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	txNum, err := stages.GetTxNum(tx)
	if err != nil {
		return err
	}
	stepNow := uint64(txNum) / c.Config.StepSize
	if stepNow == 0 {
		return nil
	}

	for _, e := range []struct {
		id stages.ID
		d  *domain.Domain
	}{
		{collateAccounts, c.Domains.Accounts},
		{collateStorage, c.Domains.Storage},
		{collateCode, c.Domains.Code},
	} {
		if e.d == nil {
			continue
		}
		if err := c.collateDomain(ctx, tx, e.id, e.d, stepNow); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *Coordinator) collateDomain(ctx context.Context, tx kv.RwTx, id stages.ID, d *domain.Domain, stepNow uint64) error {
	lastStep, err := stages.GetProgress(tx, id)
	if err != nil {
		return err
	}
	stepFrom := uint64(lastStep)
	if stepNow <= stepFrom {
		return nil
	}
	if _, err := d.Collate(ctx, tx, stepFrom, stepNow); err != nil {
		return err
	}
	if err := stages.SaveProgress(tx, id, common.BlockNum(stepNow)); err != nil {
		return err
	}
	if h := d.History(); h != nil {
		if _, err := h.Index().Collate(tx, stepFrom, stepNow, c.Config.StepSize); err != nil {
			return err
		}
	}
	return c.mergeDomain(ctx, d)
}

func (c *Coordinator) mergeDomain(ctx context.Context, d *domain.Domain) error {
	segs := d.Segments()
	defer segment.Release(segs)
	if len(segs) < mergeThreshold {
		return nil
	}
	_, err := d.Merge(ctx, segs[:mergeThreshold])
	return err
}
