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

// Package kv defines the key-value store abstraction of spec §4.1: named
// tables, snapshot-isolated transactions, ordered and dup-sort cursors. It
// is deliberately engine-agnostic — kv/memdb provides the one pure-Go
// implementation this module ships, built to this exact contract so that a
// production deployment could swap in an MDBX- or BoltDB-backed Env without
// touching any caller.
package kv

import "context"

// Getter is the read surface shared by Tx and RwTx.
type Getter interface {
	// GetOne returns the value for key in table, or (nil, false, nil) if
	// absent. Absence is not an error (spec §4.1 failure model).
	GetOne(table string, key []byte) (value []byte, ok bool, err error)

	// Cursor opens a forward/backward iterator over table.
	Cursor(table string) (Cursor, error)

	// CursorDupSort opens an iterator supporting next-dup/prev-dup/seek-both
	// over a dup-sort table.
	CursorDupSort(table string) (CursorDupSort, error)
}

// Putter is the write surface of RwTx.
type Putter interface {
	Put(table string, key, value []byte) error
	Delete(table string, key []byte) error
}

// Tx is a read-only, snapshot-isolated transaction: once begun, it sees a
// consistent view regardless of concurrent writers (spec §4.1).
type Tx interface {
	Getter
	// Rollback releases the transaction's snapshot. Safe to call after
	// Commit on an RwTx that embeds this Tx; a no-op in that case.
	Rollback()
}

// RwTx is the single read-write transaction an Env allows at a time (spec
// §4.1, §5: "one writer at a time").
type RwTx interface {
	Tx
	Putter
	// Commit durably persists all writes made through this transaction and
	// releases it. After Commit, the RwTx must not be used again.
	Commit() error
}

// Cursor iterates an ordered, unique-key table.
type Cursor interface {
	First() (k, v []byte, err error)
	Last() (k, v []byte, err error)
	Next() (k, v []byte, err error)
	Prev() (k, v []byte, err error)
	// Seek positions at the first key >= seek, or returns (nil, nil, nil)
	// if none exists.
	Seek(seek []byte) (k, v []byte, err error)
	Close()
}

// CursorDupSort additionally steps within the ordered set of values stored
// under one key (spec §4.1).
type CursorDupSort interface {
	Cursor
	NextDup() (k, v []byte, err error)
	PrevDup() (k, v []byte, err error)
	// SeekBothRange seeks to key, then to the first value >= subKey within
	// that key's duplicate set.
	SeekBothRange(key, subKey []byte) (v []byte, err error)
}

// Env is a chain-data environment: a directory on disk plus the table
// configuration applied to it, per spec §4.1's "configurable geometry".
type Env interface {
	// BeginRo starts a read-only snapshot transaction.
	BeginRo(ctx context.Context) (Tx, error)
	// BeginRw starts the single read-write transaction. Blocks (or returns
	// ctx.Err()) if another writer is already active, matching the
	// single-writer scheduling model of spec §5.
	BeginRw(ctx context.Context) (RwTx, error)
	// Close releases all resources; no transactions may be active.
	Close() error
}

// View and Update are the transaction-scoped convenience wrappers every
// other package uses, mirroring the teacher's own `tx.Get`-under-closure
// idiom: the caller never forgets to Rollback/Commit.
func View(ctx context.Context, env Env, fn func(tx Tx) error) error {
	tx, err := env.BeginRo(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

func Update(ctx context.Context, env Env, fn func(tx RwTx) error) error {
	tx, err := env.BeginRw(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
