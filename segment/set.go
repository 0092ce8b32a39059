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

package segment

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/erigontech/erigoncore/compress"
)

// File is one published, immutable segment: its decompressed body plus
// whichever companion indices were found alongside it. Readers obtain files
// via Set.Acquire and must hand them back with Release when done; the
// underlying memory map is only unmapped once every acquired reference is
// released and the file has been marked for removal (spec §9 "weak references for segment files").
type File struct {
	Name Name
	Path string

	body *compress.Decompressor
	bt   *BTreeIndex
	kvi  *MinimalPerfectHash
	kvei *ExistenceFilter

	refs      int64
	unlinking atomic.Bool
	set       *Set
}

// Body returns the decompressor for this segment's body.
func (f *File) Body() *compress.Decompressor { return f.body }

// BTree, PerfectHash and Existence return the companion indices, nil if not
// loaded for this segment kind.
func (f *File) BTree() *BTreeIndex               { return f.bt }
func (f *File) PerfectHash() *MinimalPerfectHash  { return f.kvi }
func (f *File) Existence() *ExistenceFilter       { return f.kvei }

// acquire/release implement the refcount half of the weak-reference
// pattern: a reader bumps refs while holding the *File, and Release drops
// it. The file's physical unmap+unlink (scheduled by Pruner.Prune) is
// deferred until refs drops to zero.
func (f *File) acquire() { atomic.AddInt64(&f.refs, 1) }

func (f *File) release() {
	if atomic.AddInt64(&f.refs, -1) == 0 && f.unlinking.Load() {
		f.body.Close()
		_ = os.Remove(f.Path)
	}
}

// Set is the directory-scoped collection of published segments for one
// domain/history/inverted-index family (SPEC_FULL §C.3), grounded on
// turbo/snapshotsync/snapshotsync.go's OpenFolder lifecycle.
type Set struct {
	mu    sync.RWMutex
	dir   string
	kind  Kind
	files []*File // sorted by StepFrom ascending
}

// OpenFolder scans dir for `v1-<domain>.*` files matching kind, validating
// that every required companion index exists, and memory-maps each body.
func OpenFolder(dir, domain string, kind Kind) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &Set{dir: dir, kind: kind}, nil
		}
		return nil, err
	}
	bodySuffix := kind.BodySuffix()
	var names []Name
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, ok := Parse(e.Name())
		if !ok || n.Domain != domain || n.Suffix != bodySuffix {
			continue
		}
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].StepFrom < names[j].StepFrom })

	s := &Set{dir: dir, kind: kind}
	for _, n := range names {
		for _, req := range kind.RequiredCompanions() {
			companion := Name{Version: n.Version, Domain: n.Domain, StepFrom: n.StepFrom, StepTo: n.StepTo, Suffix: req}
			if _, err := os.Stat(filepath.Join(dir, companion.Format())); err != nil {
				return nil, os.ErrNotExist
			}
		}
		f, err := openFile(dir, n, kind)
		if err != nil {
			return nil, err
		}
		f.set = s
		s.files = append(s.files, f)
	}
	return s, nil
}

// OpenPublished opens one already-written segment body and its companion
// indices, validating every required companion exists, for a file just
// produced by collation or merge and about to be handed to Set.Publish
// (spec §4.10 "atomically publish"). Unlike OpenFolder this does not scan a
// directory: the caller already knows the exact Name it just wrote.
func OpenPublished(dir string, n Name, kind Kind) (*File, error) {
	for _, req := range kind.RequiredCompanions() {
		companion := Name{Version: n.Version, Domain: n.Domain, StepFrom: n.StepFrom, StepTo: n.StepTo, Suffix: req}
		if _, err := os.Stat(filepath.Join(dir, companion.Format())); err != nil {
			return nil, err
		}
	}
	return openFile(dir, n, kind)
}

func openFile(dir string, n Name, kind Kind) (*File, error) {
	body, err := compress.Open(filepath.Join(dir, n.Format()))
	if err != nil {
		return nil, err
	}
	f := &File{Name: n, Path: filepath.Join(dir, n.Format()), body: body}
	switch kind {
	case KindDomain:
		if bt, err := loadOffsetIndex(dir, n, BT); err == nil {
			f.bt = bt
		}
		if kvei, err := loadExistence(dir, n); err == nil {
			f.kvei = kvei
		}
	case KindHistory:
		// .vi is a perfect-hash index over key‖txNum in the real format
		// (spec §4.9); this engine stores it in the same BTreeIndex
		// encoding as .bt, giving O(log n) lookup instead of O(1), a
		// simplification alongside the MPH substitute.
		if vi, err := loadOffsetIndex(dir, n, VI); err == nil {
			f.bt = vi
		}
	case KindInvertedIndex:
		// .efi is the per-key offset index into the .ef body (spec §4.8),
		// stored in the same BTreeIndex encoding here.
		if efi, err := loadOffsetIndex(dir, n, EFI); err == nil {
			f.bt = efi
		}
	}
	return f, nil
}

func loadOffsetIndex(dir string, n Name, suffix Suffix) (*BTreeIndex, error) {
	path := filepath.Join(dir, (Name{Version: n.Version, Domain: n.Domain, StepFrom: n.StepFrom, StepTo: n.StepTo, Suffix: suffix}).Format())
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ReadBTreeIndex(data)
}

func loadExistence(dir string, n Name) (*ExistenceFilter, error) {
	// No .kvei decode path is implemented: this always reports
	// os.ErrNotExist, so Domain segments are opened without an existence
	// filter.
	return nil, os.ErrNotExist
}

// Publish registers a newly-collated segment (spec §4.10 "atomically
// publish"), inserting it in StepFrom order.
func (s *Set) Publish(f *File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.set = s
	s.files = append(s.files, f)
	sort.Slice(s.files, func(i, j int) bool { return s.files[i].Name.StepFrom < s.files[j].Name.StepFrom })
}

// Newest returns the files in newest-to-oldest order, matching Domain's
// get_latest fallthrough order (spec §4.10).
func (s *Set) Newest() []*File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*File, len(s.files))
	for i, f := range s.files {
		out[len(out)-1-i] = f
	}
	return out
}

// Covering returns segments whose [StepFrom, StepTo) range could contain
// step, newest first.
func (s *Set) Covering(step uint64) []*File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*File
	for i := len(s.files) - 1; i >= 0; i-- {
		f := s.files[i]
		if step >= f.Name.StepFrom && step < f.Name.StepTo {
			out = append(out, f)
		}
	}
	return out
}

// Acquire returns a snapshot of the current file list with each file's
// refcount bumped; callers must call Release when done (weak-reference
// pattern, spec §9).
func (s *Set) Acquire() []*File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*File, len(s.files))
	copy(out, s.files)
	for _, f := range out {
		f.acquire()
	}
	return out
}

func Release(files []*File) {
	for _, f := range files {
		f.release()
	}
}

// Close unmaps every segment unconditionally; only safe once no reader
// holds an outstanding Acquire.
func (s *Set) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		f.body.Close()
	}
	s.files = nil
}
