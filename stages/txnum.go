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

// txNumKey is the distinguished SyncStageProgress entry persisting the
// next TxNum to assign (spec §4.12.4 "global_tx_counter"), so the counter
// survives a restart exactly like every other progress marker.
const txNumKey = "TxNum"

// GetTxNum reads the next TxNum to assign, defaulting to 0 on a fresh
// database.
func GetTxNum(tx kv.Getter) (common.TxNum, error) {
	v, ok, err := tx.GetOne(kv.SyncStageProgress, []byte(txNumKey))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return common.TxNum(beUint64(v)), nil
}

// SaveTxNum persists the next TxNum to assign, in the same RwTx as the
// execution stage's other writes.
func SaveTxNum(tx kv.Putter, n common.TxNum) error {
	return tx.Put(kv.SyncStageProgress, []byte(txNumKey), beBytes8(uint64(n)))
}
