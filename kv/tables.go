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

package kv

// Table names, canonical across the pipeline (spec §6). Adapted from the
// Erigon schema (see erigon-lib/kv/tables.go in the wider corpus) trimmed to
// the tables this engine's six stages and three state subsystems actually
// use; the beacon-chain, Bor/Parlia, downloader and txpool table families of
// the full Erigon schema are out of scope here (spec §1).
const (
	// Block/header chain (stage 4.12.1, 4.12.2)
	Headers         = "Header"         // block_num_u64 + hash -> header (Header.EncodeForStorage)
	HeaderNumbers   = "HeaderNumber"   // header_hash -> header_num_u64
	CanonicalHashes = "CanonicalHash"  // block_num_u64 -> header hash
	Bodies          = "BlockBody"      // block_num_u64 + hash -> block body (Body.EncodeForStorage)

	// Senders (stage 4.12.3)
	Senders = "TxSender" // block_num_u64 + hash -> concatenated 20-byte sender addresses

	// Execution outputs (stage 4.12.4)
	Receipts = "Receipt"    // block_num_u64 + hash -> length-prefixed Receipt.EncodeForStorage records
	Logs     = "Log"        // block_num_u64 + hash + tx_index_u32 -> rlp(logs)

	// Transaction lookup (stage 4.12.5)
	TxLookup = "BlockTransactionLookup" // tx_hash -> block_num_u64

	// Hot current-state rows backing the Domain abstraction (§4.10), keyed
	// `key ‖ ~step` so a single cursor.Seek(key) lands on the newest step.
	PlainState    = "PlainState"    // address [+ storage key] ‖ ~step -> step ‖ value
	Code          = "Code"          // code hash -> bytecode

	// Sync progress (§4.13, §6)
	SyncStageProgress = "SyncStage" // ASCII stage name -> big-endian u64 block number

	// Domain/History/InvertedIndex hot tables (§4.8–§4.10), one triple per
	// domain. "Vals" is the Domain's own hot KV; "HistoryVals" is History's
	// hot (key‖txNum) -> previous-value log; "Idx" is the InvertedIndex's
	// hot (key‖txNum) -> empty marker set, collated later into .ef files.
	TblAccountVals        = "AccountVals"
	TblAccountHistoryVals = "AccountHistoryVals"
	TblAccountIdx         = "AccountIdx"

	TblStorageVals        = "StorageVals"
	TblStorageHistoryVals = "StorageHistoryVals"
	TblStorageIdx         = "StorageIdx"

	TblCodeVals        = "CodeVals"
	TblCodeHistoryVals = "CodeHistoryVals"
	TblCodeIdx         = "CodeIdx"

	// DatabaseInfo is declared for the schema-version marker (SPEC_FULL
	// §C.5), but nothing writes it: kv/memdb keeps that marker in a
	// schema_version file in the data directory and checks it at Open.
	DatabaseInfo = "DbInfo"
)

// Domain identifies one of the logical state families backed by a
// Domain/History/InvertedIndex triple (spec §4.10, §3 glossary).
type Domain uint8

const (
	AccountsDomain Domain = iota
	StorageDomain
	CodeDomain
	domainLen
)

func (d Domain) String() string {
	switch d {
	case AccountsDomain:
		return "accounts"
	case StorageDomain:
		return "storage"
	case CodeDomain:
		return "code"
	default:
		return "unknown domain"
	}
}

// ValsTable, HistoryTable and IdxTable return the hot-table name backing
// this domain's Domain/History/InvertedIndex respectively.
func (d Domain) ValsTable() string {
	switch d {
	case AccountsDomain:
		return TblAccountVals
	case StorageDomain:
		return TblStorageVals
	case CodeDomain:
		return TblCodeVals
	default:
		panic("unknown domain")
	}
}

func (d Domain) HistoryTable() string {
	switch d {
	case AccountsDomain:
		return TblAccountHistoryVals
	case StorageDomain:
		return TblStorageHistoryVals
	case CodeDomain:
		return TblCodeHistoryVals
	default:
		panic("unknown domain")
	}
}

func (d Domain) IdxTable() string {
	switch d {
	case AccountsDomain:
		return TblAccountIdx
	case StorageDomain:
		return TblStorageIdx
	case CodeDomain:
		return TblCodeIdx
	default:
		panic("unknown domain")
	}
}

// AllDomains lists every domain, in a stable order used by collation and
// merge background jobs.
var AllDomains = []Domain{AccountsDomain, StorageDomain, CodeDomain}

// DBSchemaVersion is bumped whenever the on-disk table layout changes
// incompatibly (SPEC_FULL §C.5); Env.Open refuses to open a data directory
// written by a different major version.
const DBSchemaVersion = 1

// TableFlags mirrors the Erigon MDBX table-flag vocabulary (dup-sort support
// in particular), even though the pure-Go engine used here (kv/memdb)
// implements dup-sort itself rather than delegating to MDBX page layout.
type TableFlags uint

const (
	Default TableFlags = 0
	DupSort TableFlags = 1 << iota
)

// TableCfgItem configures one table at Env-open time.
type TableCfgItem struct {
	Flags TableFlags
}

// TableCfg is the full table configuration for the chain-data environment.
type TableCfg map[string]TableCfgItem

// ChaindataTablesCfg lists every table this engine reads or writes along
// with its dup-sort configuration. All state-domain tables are dup-sort
// disabled: Domain/History/InvertedIndex key layouts already embed the
// disambiguating suffix (step, txNum) directly into the key, unlike the
// deprecated PlainState changeset encoding that used MDBX dup-sort pages.
var ChaindataTablesCfg = TableCfg{
	Headers:               {},
	HeaderNumbers:         {},
	CanonicalHashes:       {},
	Bodies:                {},
	Senders:               {},
	Receipts:              {},
	Logs:                  {},
	TxLookup:              {},
	PlainState:            {},
	Code:                  {},
	SyncStageProgress:     {},
	TblAccountVals:        {},
	TblAccountHistoryVals: {},
	TblAccountIdx:         {},
	TblStorageVals:        {},
	TblStorageHistoryVals: {},
	TblStorageIdx:         {},
	TblCodeVals:           {},
	TblCodeHistoryVals:    {},
	TblCodeIdx:            {},
	DatabaseInfo:          {},
}
