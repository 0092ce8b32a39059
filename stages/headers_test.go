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

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/config"
	"github.com/erigontech/erigoncore/ercore/errs"
	"github.com/erigontech/erigoncore/kv"
	"github.com/erigontech/erigoncore/kv/memdb"
)

// fakeSource serves a fixed, in-memory chain of headers built with correct
// parent links, for stages that pull from an external block source.
type fakeSource struct {
	headers map[common.BlockNum]*common.Header
	bodies  map[common.BlockNum]*common.Body
}

func newFakeSource(n int) *fakeSource {
	s := &fakeSource{headers: make(map[common.BlockNum]*common.Header), bodies: make(map[common.BlockNum]*common.Body)}
	var parent common.Hash
	for i := 1; i <= n; i++ {
		h := &common.Header{
			ParentHash: parent,
			UncleHash:  common.EmptyUncleHash,
			Difficulty: uint256.NewInt(1),
			Number:     common.BlockNum(i),
			GasLimit:   30_000_000,
			Timestamp:  uint64(1_700_000_000 + i),
		}
		s.headers[common.BlockNum(i)] = h
		s.bodies[common.BlockNum(i)] = &common.Body{}
		parent = h.Hash()
	}
	return s
}

func (s *fakeSource) NextHeader(after common.BlockNum) (*common.Header, bool, error) {
	h, ok := s.headers[after+1]
	return h, ok, nil
}

func (s *fakeSource) BodyAt(n common.BlockNum, hash common.Hash) (*common.Body, error) {
	b, ok := s.bodies[n]
	if !ok {
		return nil, errs.InvalidBody(uint64(n), "no such body")
	}
	return b, nil
}

func (s *fakeSource) ReceiptFor(common.Hash) (*common.Receipt, error) { return nil, nil }

func newTestEnv(t *testing.T) kv.Env {
	t.Helper()
	env, err := memdb.Open(t.TempDir(), kv.ChaindataTablesCfg)
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func newTestContext(t *testing.T, env kv.Env, src BlockSource) (*Context, kv.RwTx) {
	t.Helper()
	tx, err := env.BeginRw(context.Background())
	require.NoError(t, err)
	txNum := common.TxNum(0)
	sc := &Context{
		Context:     context.Background(),
		Tx:          tx,
		Config:      config.Default(),
		Source:      src,
		TxNumCursor: &txNum,
	}
	return sc, tx
}

func TestHeadersExecuteWritesCanonicalChain(t *testing.T) {
	env := newTestEnv(t)
	src := newFakeSource(5)
	sc, tx := newTestContext(t, env, src)

	processed, done, err := Headers{}.Execute(sc, 0, 5)
	require.NoError(t, err)
	require.True(t, done)
	require.EqualValues(t, 5, processed)
	require.NoError(t, tx.Commit())

	tx2, err := env.BeginRo(context.Background())
	require.NoError(t, err)
	defer tx2.Rollback()

	hash, ok, err := CanonicalHashAt(tx2, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, src.headers[5].Hash(), hash)

	h, ok, err := LoadHeader(tx2, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, src.headers[3].Hash(), h.Hash())
}

func TestHeadersExecuteRejectsParentHashMismatch(t *testing.T) {
	env := newTestEnv(t)
	src := newFakeSource(3)
	// Corrupt block 2's parent hash so it no longer links to block 1.
	src.headers[2].ParentHash = common.HexMustHash("0xbad")

	sc, tx := newTestContext(t, env, src)
	defer tx.Rollback()

	_, _, err := Headers{}.Execute(sc, 0, 3)
	require.Error(t, err)
	var serr *errs.Error
	require.ErrorAs(t, err, &serr)
	require.Equal(t, errs.KindInvalidHeader, serr.Kind)
	require.True(t, serr.Kind.Reversible())
}

func TestHeadersUnwindDeletesAboveTarget(t *testing.T) {
	env := newTestEnv(t)
	src := newFakeSource(5)
	sc, tx := newTestContext(t, env, src)
	_, _, err := Headers{}.Execute(sc, 0, 5)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2, err := env.BeginRw(context.Background())
	require.NoError(t, err)
	sc2 := &Context{Context: context.Background(), Tx: tx2}
	require.NoError(t, Headers{}.Unwind(sc2, 2))
	require.NoError(t, tx2.Commit())

	tx3, err := env.BeginRo(context.Background())
	require.NoError(t, err)
	defer tx3.Rollback()
	_, ok, err := CanonicalHashAt(tx3, 4)
	require.NoError(t, err)
	require.False(t, ok, "blocks above the unwind target must be removed")

	_, ok, err = CanonicalHashAt(tx3, 2)
	require.NoError(t, err)
	require.True(t, ok, "blocks at or below the unwind target must survive")
}
