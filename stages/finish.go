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
	"github.com/erigontech/erigoncore/common"
	"github.com/erigontech/erigoncore/kv"
)

// headKey is the distinguished SyncStageProgress entry holding the
// canonical head block number, distinct from each stage's own per-stage
// progress marker (spec §4.12.6: "update canonical head pointer, advance
// global progress marker" names two things, not one).
const headKey = "Head"

// Finish implements spec §4.12.6: the trivial last stage in the pipeline.
// By the time it runs, every earlier stage has already committed its own
// work for this range, so Finish's only job is to publish the new
// canonical head.
type Finish struct{}

func (Finish) ID() ID { return StageFinish }

func (s Finish) Execute(sc *Context, from, to common.BlockNum) (uint64, bool, error) {
	if to <= from {
		return 0, true, nil
	}
	if err := sc.Tx.Put(kv.SyncStageProgress, []byte(headKey), beBytes8(uint64(to))); err != nil {
		return 0, false, err
	}
	return uint64(to - from), true, nil
}

// Head returns the current canonical head block number, or (0, false) if
// no block has ever been finished.
func Head(tx kv.Getter) (common.BlockNum, bool, error) {
	v, ok, err := tx.GetOne(kv.SyncStageProgress, []byte(headKey))
	if err != nil || !ok {
		return 0, false, err
	}
	return common.BlockNum(beUint64(v)), true, nil
}

func (s Finish) Unwind(sc *Context, to common.BlockNum) error {
	return sc.Tx.Put(kv.SyncStageProgress, []byte(headKey), beBytes8(uint64(to)))
}
