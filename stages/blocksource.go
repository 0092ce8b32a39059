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

import "github.com/erigontech/erigoncore/common"

// BlockSource is the abstract external collaborator the headers and bodies
// stages pull from (spec §6 "Wire format (block source)"): "next_header()
// -> Header, bodies(range) -> iterator<Body>, receipt_for(hash) ->
// Receipt". Concrete realization (P2P sync, trusted RPC, a local file) is
// explicitly out of scope (spec §1); this engine only defines the contract
// and drives it.
type BlockSource interface {
	// NextHeader returns the next header the source has available beyond
	// the given known-head number, or ok=false if nothing new is ready yet.
	NextHeader(afterNumber common.BlockNum) (header *common.Header, ok bool, err error)
	// BodyAt fetches the body for the block identified by (number, hash).
	BodyAt(number common.BlockNum, hash common.Hash) (*common.Body, error)
	// ReceiptFor is used by callers validating externally-sourced receipts;
	// the execution stage recomputes receipts itself and does not depend on
	// this, but it is part of the external contract (spec §6).
	ReceiptFor(txHash common.Hash) (*common.Receipt, error)
}

// ConsensusEngine is the delegated callback the headers stage consults for
// engine-specific validity (spec §4.12.1: "consensus-engine-specific
// validity (delegated callback: difficulty, seal, extra-data length,
// gas-limit drift)"). A concrete proof-of-work/proof-of-stake/Clique/Parlia
// engine is an external collaborator (spec §1 Non-goals); this interface is
// the seam the headers stage calls through.
type ConsensusEngine interface {
	VerifyHeader(parent, header *common.Header) error
}
