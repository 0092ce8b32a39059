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
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/config"
	"github.com/erigontech/erigoncore/kv"
	"github.com/erigontech/erigoncore/stages"
)

// recordingStage writes one deterministic row per processed block into
// kv.Headers (value = block number doubled, so redo can be checked against
// more than just presence) and deletes rows above the unwind target,
// exercising a property test's need for real, comparable table contents.
type recordingStage struct {
	id      stages.ID
	batch   common.BlockNum // blocks advanced per Execute call, 0 means "all the way to target"
	executed int
}

func rowKey(n common.BlockNum) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(n))
	return k
}

func rowValue(n common.BlockNum) []byte {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(n)*2)
	return v
}

func (s *recordingStage) ID() stages.ID { return s.id }

func (s *recordingStage) Execute(sc *stages.Context, from, to common.BlockNum) (uint64, bool, error) {
	s.executed++
	step := to - from
	if s.batch != 0 && step > s.batch {
		step = s.batch
	}
	for n := from + 1; n <= from+step; n++ {
		if err := sc.Tx.Put(kv.Headers, rowKey(n), rowValue(n)); err != nil {
			return 0, false, err
		}
	}
	return uint64(step), from+step >= to, nil
}

func (s *recordingStage) Unwind(sc *stages.Context, to common.BlockNum) error {
	c, err := sc.Tx.Cursor(kv.Headers)
	if err != nil {
		return err
	}
	defer c.Close()
	var toDelete [][]byte
	for k, _, err := c.First(); k != nil; k, _, err = c.Next() {
		if err != nil {
			return err
		}
		if binary.BigEndian.Uint64(k) > uint64(to) {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
	}
	for _, k := range toDelete {
		if err := sc.Tx.Delete(kv.Headers, k); err != nil {
			return err
		}
	}
	return nil
}

func snapshotTable(t *testing.T, env kv.Env, table string) map[string]string {
	t.Helper()
	tx, err := env.BeginRo(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	c, err := tx.Cursor(table)
	require.NoError(t, err)
	defer c.Close()

	out := make(map[string]string)
	for k, v, err := c.First(); k != nil; k, v, err = c.Next() {
		require.NoError(t, err)
		out[string(k)] = string(v)
	}
	return out
}

// TestRunOnceIsIdempotentAtTarget is property P7: driving a round whose
// target equals the already-reached head is a no-op — no stage is
// re-entered and no table is touched.
func TestRunOnceIsIdempotentAtTarget(t *testing.T) {
	r := rand.New(rand.NewSource(10))
	for trial := 0; trial < 10; trial++ {
		env := newEnv(t)
		c := &Coordinator{Env: env, Config: config.Default()}
		st := &recordingStage{id: stages.StageHeaders}
		c.SetStages(st)

		target := common.BlockNum(r.Intn(30) + 1)
		require.NoError(t, c.RunOnce(context.Background(), target))
		callsAfterFirst := st.executed
		before := snapshotTable(t, env, kv.Headers)

		require.NoError(t, c.RunOnce(context.Background(), target))
		require.Equal(t, callsAfterFirst, st.executed, "trial %d: a round at an already-reached target must not re-enter Execute", trial)

		after := snapshotTable(t, env, kv.Headers)
		require.Equal(t, before, after, "trial %d: an idempotent round must not change table contents", trial)
	}
}

// TestUnwindThenRedoReproducesIdenticalTables is property P8: for any head h
// and any unwind depth k < h, unwinding to h-k and re-executing forward to h
// reproduces byte-identical table contents.
func TestUnwindThenRedoReproducesIdenticalTables(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for trial := 0; trial < 10; trial++ {
		env := newEnv(t)
		c := &Coordinator{Env: env, Config: config.Default()}
		st := &recordingStage{id: stages.StageHeaders, batch: common.BlockNum(r.Intn(3) + 1)}
		c.SetStages(st)

		head := common.BlockNum(r.Intn(20) + 5)
		require.NoError(t, c.RunOnce(context.Background(), head))
		want := snapshotTable(t, env, kv.Headers)

		k := common.BlockNum(r.Intn(int(head) - 1))
		require.NoError(t, c.unwindTo(context.Background(), head-k))
		require.NoError(t, c.RunOnce(context.Background(), head))
		got := snapshotTable(t, env, kv.Headers)

		require.Equal(t, want, got, "trial %d: unwind to %d then redo to %d must reproduce identical tables", trial, head-k, head)
	}
}

// crashingStage fails with a non-reversible error partway through, so its
// batch's transaction rolls back entirely and never commits.
type crashingStage struct {
	recordingStage
	crashAt common.BlockNum
	crashed bool
}

func (s *crashingStage) Execute(sc *stages.Context, from, to common.BlockNum) (uint64, bool, error) {
	if !s.crashed && from < s.crashAt && to >= s.crashAt {
		s.crashed = true
		// Write as far as the crash point before failing, to prove these
		// writes never make it past the transaction's rollback.
		for n := from + 1; n <= s.crashAt; n++ {
			if err := sc.Tx.Put(kv.Headers, rowKey(n), rowValue(n)); err != nil {
				return 0, false, err
			}
		}
		return 0, false, errors.New("simulated crash")
	}
	return s.recordingStage.Execute(sc, from, to)
}

// TestProgressNeverAdvancesPastLastCommit is property P9: a crash (here, a
// non-reversible Execute error, which rolls back its uncommitted batch
// transaction) leaves per-stage progress no further advanced than the last
// successful commit, with table contents fully consistent with that marker.
func TestProgressNeverAdvancesPastLastCommit(t *testing.T) {
	r := rand.New(rand.NewSource(12))
	for trial := 0; trial < 10; trial++ {
		env := newEnv(t)
		c := &Coordinator{Env: env, Config: config.Default()}
		safeTarget := common.BlockNum(r.Intn(10) + 1)
		crashPoint := safeTarget + common.BlockNum(r.Intn(5)+1)
		st := &crashingStage{recordingStage: recordingStage{id: stages.StageHeaders}, crashAt: crashPoint}
		c.SetStages(st)

		// First round commits cleanly up to safeTarget.
		require.NoError(t, c.RunOnce(context.Background(), safeTarget))
		want := snapshotTable(t, env, kv.Headers)

		// Second round is driven past the stage's crash point; it must
		// surface the error rather than retry (it isn't a reversible
		// errs.Error), and must leave progress/table exactly where the
		// first round's last commit left them.
		err := c.RunOnce(context.Background(), crashPoint+5)
		require.Error(t, err, "trial %d: the simulated crash must surface, not be retried", trial)

		tx, err := env.BeginRo(context.Background())
		require.NoError(t, err)
		progress, err := stages.GetProgress(tx, stages.StageHeaders)
		require.NoError(t, err)
		tx.Rollback()

		require.EqualValues(t, safeTarget, progress, "trial %d: progress must not advance past the last successful commit", trial)

		rows := snapshotTable(t, env, kv.Headers)
		require.Equal(t, want, rows, "trial %d: the crashed batch's writes must not be visible beyond the last commit", trial)
	}
}
