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

package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFinishExecuteAdvancesHead(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.BeginRw(context.Background())
	require.NoError(t, err)
	sc := &Context{Context: context.Background(), Tx: tx}

	processed, done, err := Finish{}.Execute(sc, 0, 10)
	require.NoError(t, err)
	require.True(t, done)
	require.EqualValues(t, 10, processed)

	head, ok, err := Head(tx)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 10, head)
	require.NoError(t, tx.Commit())
}

func TestFinishExecuteNoopWhenNoProgress(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.BeginRw(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	sc := &Context{Context: context.Background(), Tx: tx}

	processed, done, err := Finish{}.Execute(sc, 5, 5)
	require.NoError(t, err)
	require.True(t, done)
	require.Zero(t, processed)

	_, ok, err := Head(tx)
	require.NoError(t, err)
	require.False(t, ok, "head must not be set when nothing advanced")
}

func TestFinishUnwindRewindsHead(t *testing.T) {
	env := newTestEnv(t)
	tx, err := env.BeginRw(context.Background())
	require.NoError(t, err)
	sc := &Context{Context: context.Background(), Tx: tx}
	_, _, err = Finish{}.Execute(sc, 0, 10)
	require.NoError(t, err)

	require.NoError(t, Finish{}.Unwind(sc, 3))
	head, ok, err := Head(tx)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 3, head)
	require.NoError(t, tx.Commit())
}

