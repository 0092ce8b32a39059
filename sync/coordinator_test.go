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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/erigoncore/config"
	"github.com/erigontech/erigoncore/ercore/errs"
	"github.com/erigontech/erigoncore/kv"
	"github.com/erigontech/erigoncore/kv/memdb"
	"github.com/erigontech/erigoncore/stages"

	"github.com/erigontech/erigoncore/common"
)

// countingStage advances one block per Execute call and records how many
// times it ran, to verify the coordinator re-enters a stage that returns
// done=false and moves on once it catches up to target.
type countingStage struct {
	id          stages.ID
	calls       int
	unwindCalls []common.BlockNum
}

func (s *countingStage) ID() stages.ID { return s.id }

func (s *countingStage) Execute(sc *stages.Context, from, to common.BlockNum) (uint64, bool, error) {
	s.calls++
	if from >= to {
		return 0, true, nil
	}
	return 1, from+1 >= to, nil
}

func (s *countingStage) Unwind(sc *stages.Context, to common.BlockNum) error {
	s.unwindCalls = append(s.unwindCalls, to)
	return nil
}

// failingStage fails once with a reversible InvalidHeader error at a fixed
// block, then succeeds on the retry that follows the coordinator's unwind.
type failingStage struct {
	id       stages.ID
	failAt   common.BlockNum
	failed   bool
	unwounds []common.BlockNum
}

func (s *failingStage) ID() stages.ID { return s.id }

func (s *failingStage) Execute(sc *stages.Context, from, to common.BlockNum) (uint64, bool, error) {
	if !s.failed && from+1 == s.failAt {
		s.failed = true
		return 0, false, errs.InvalidHeader(uint64(s.failAt), "synthetic test failure")
	}
	if from >= to {
		return 0, true, nil
	}
	return 1, from+1 >= to, nil
}

func (s *failingStage) Unwind(sc *stages.Context, to common.BlockNum) error {
	s.unwounds = append(s.unwounds, to)
	return nil
}

func newEnv(t *testing.T) kv.Env {
	t.Helper()
	env, err := memdb.Open(t.TempDir(), kv.ChaindataTablesCfg)
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func TestCoordinatorRunOnceAdvancesAllStagesToTarget(t *testing.T) {
	env := newEnv(t)
	c := &Coordinator{Env: env, Config: config.Default()}
	a := &countingStage{id: stages.StageHeaders}
	b := &countingStage{id: stages.StageBodies}
	c.SetStages(stages.Headers{}, stages.Bodies{}, stages.Senders{}) // ensure SetStages replaces, not merges
	c.SetStages(a, b)

	require.NoError(t, c.RunOnce(context.Background(), 3))
	require.GreaterOrEqual(t, a.calls, 3)
	require.GreaterOrEqual(t, b.calls, 3)

	tx, err := env.BeginRo(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	pa, err := stages.GetProgress(tx, stages.StageHeaders)
	require.NoError(t, err)
	require.EqualValues(t, 3, pa)
	pb, err := stages.GetProgress(tx, stages.StageBodies)
	require.NoError(t, err)
	require.EqualValues(t, 3, pb)
}

func TestCoordinatorUnwindsAndRetriesOnReversibleError(t *testing.T) {
	env := newEnv(t)
	c := &Coordinator{Env: env, Config: config.Default()}
	good := &countingStage{id: stages.StageHeaders}
	bad := &failingStage{id: stages.StageBodies, failAt: 5}
	c.SetStages(good, bad)

	require.NoError(t, c.RunOnce(context.Background(), 5))
	require.True(t, bad.failed, "stage must have hit its synthetic failure once")
	require.NotEmpty(t, good.unwindCalls, "a reversible error must trigger an unwind of stages ahead of the failing one")

	tx, err := env.BeginRo(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	pGood, err := stages.GetProgress(tx, stages.StageHeaders)
	require.NoError(t, err)
	require.EqualValues(t, 5, pGood, "the round must reach target once retried after the unwind")

	pBad, err := stages.GetProgress(tx, stages.StageBodies)
	require.NoError(t, err)
	require.EqualValues(t, 5, pBad)
}

func TestCoordinatorRunSleepsIdleWhenHeadDoesNotAdvance(t *testing.T) {
	env := newEnv(t)
	c := &Coordinator{Env: env, Config: config.Default()}
	c.SetStages(stages.Finish{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	target := func(context.Context) (common.BlockNum, error) { return 0, nil }
	err := c.Run(ctx, target, 10*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
