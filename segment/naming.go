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

// Package segment implements the on-disk segment file set of spec §3/§6:
// filename convention, the .bt/.kvi/.vi/.efi/.kvei companion indices, the
// reference-counted OpenFolder lifecycle (SPEC_FULL §C.3), and the
// step-horizon pruning blacklist (SPEC_FULL §C.2), grounded on the
// `buildBlackListForPruning`/`isStateSnapshot`/`canSnapshotBePruned`/
// `OpenFolder` shapes visible in turbo/snapshotsync/snapshotsync.go.
package segment

import (
	"fmt"
	"regexp"
	"strconv"
)

// Suffix identifies one companion file kind for a segment (spec §3, §6).
type Suffix string

const (
	KV   Suffix = "kv"   // Domain current-state body
	V    Suffix = "v"    // History value body
	EF   Suffix = "ef"   // InvertedIndex Elias-Fano body
	BT   Suffix = "bt"   // B-tree fallback index
	KVI  Suffix = "kvi"  // perfect-hash point index over .kv
	KVEI Suffix = "kvei" // existence filter over .kv
	VI   Suffix = "vi"   // perfect-hash index over key‖txNum for .v
	EFI  Suffix = "efi"  // per-key offset index over .ef
)

// Name is a parsed segment filename: v1-<domain>.<stepFrom>-<stepTo>.<suffix>
type Name struct {
	Version  int
	Domain   string
	StepFrom uint64
	StepTo   uint64
	Suffix   Suffix
}

var nameRe = regexp.MustCompile(`^v(\d+)-([a-zA-Z0-9_]+)\.(\d+)-(\d+)\.([a-z]+)$`)

// Format renders n back into its canonical filename.
func (n Name) Format() string {
	return fmt.Sprintf("v%d-%s.%d-%d.%s", n.Version, n.Domain, n.StepFrom, n.StepTo, n.Suffix)
}

// Parse recognizes the `v1-<domain>.<stepFrom>-<stepTo>.<suffix>` convention
// (spec §6).
func Parse(filename string) (Name, bool) {
	m := nameRe.FindStringSubmatch(filename)
	if m == nil {
		return Name{}, false
	}
	version, _ := strconv.Atoi(m[1])
	from, _ := strconv.ParseUint(m[3], 10, 64)
	to, _ := strconv.ParseUint(m[4], 10, 64)
	return Name{Version: version, Domain: m[2], StepFrom: from, StepTo: to, Suffix: Suffix(m[5])}, true
}

// Kind is a segment family (domain, history or inverted index); its
// BodySuffix method returns the body suffix (kv/v/ef) that identifies a
// segment as "present" in a directory scan.
type Kind int

const (
	KindDomain Kind = iota
	KindHistory
	KindInvertedIndex
)

func (k Kind) BodySuffix() Suffix {
	switch k {
	case KindDomain:
		return KV
	case KindHistory:
		return V
	case KindInvertedIndex:
		return EF
	default:
		panic("segment: unknown kind")
	}
}

// RequiredCompanions lists the index suffixes that must exist alongside the
// body file (only existence is checked) before a segment is considered
// valid and publishable
// (SPEC_FULL §C.3 "validates the accompanying index files exist").
func (k Kind) RequiredCompanions() []Suffix {
	switch k {
	case KindDomain:
		return []Suffix{BT, KVI, KVEI}
	case KindHistory:
		return []Suffix{VI}
	case KindInvertedIndex:
		return []Suffix{EFI}
	default:
		panic("segment: unknown kind")
	}
}
