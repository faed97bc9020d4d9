// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package index

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	dserr "github.com/dossier-dev/dossier/pkg/errors"
)

// Entry is the metadata record paired one-to-one with a vector. The Nth
// entry always describes the Nth vector; the two collections move together.
type Entry struct {
	Text     string `json:"text"`
	Source   string `json:"source"`
	Owner    string `json:"owner"`
	Filename string `json:"filename"`
}

// Result is a search hit: the matched entry plus its distance from the query.
type Result struct {
	Entry
	Distance float64 `json:"distance"`
}

// overfetchFactor is the owner-filter over-fetch heuristic: k*5 raw
// candidates are scanned before giving up on finding k matches.
const overfetchFactor = 5

// Store is the persisted vector index: a Flat index serialized to one binary
// artifact and a JSON metadata array serialized to a second, always written
// and read together. State is lazily loaded on first use. Mutations reconcile
// optimistically against the persisted artifacts (another process instance
// may have written since our load) and flush synchronously before returning.
type Store struct {
	indexPath string
	metaPath  string

	mu      sync.Mutex
	loaded  bool
	flat    *Flat
	entries []Entry
}

// NewStore creates a Store over the given artifact paths. Nothing is read
// until first use.
func NewStore(indexPath, metaPath string) *Store {
	return &Store{indexPath: indexPath, metaPath: metaPath}
}

// Append adds vectors and their entries in lock-step and flushes. If the
// persisted entry count differs from the in-memory count, the persisted state
// is reloaded wholesale first — best-effort reconciliation with concurrent
// writers, not a lock.
func (s *Store) Append(vectors [][]float32, entries []Entry) error {
	if len(vectors) != len(entries) {
		return dserr.New(dserr.CodeIndexAppendInvalid, "vector and entry counts differ",
			dserr.Field("vectors", len(vectors)), dserr.Field("entries", len(entries)))
	}
	if len(vectors) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}

	if n, ok := s.persistedCount(); ok && n != s.count() {
		slog.Info("persisted index changed underneath us, reloading",
			"persisted", n, "memory", s.count())
		s.load()
	}

	if s.flat == nil {
		flat, err := NewFlat(len(vectors[0]))
		if err != nil {
			return err
		}
		s.flat = flat
	}

	if err := s.flat.Add(vectors...); err != nil {
		return err
	}
	s.entries = append(s.entries, entries...)

	return s.flush()
}

// Search returns up to k entries ranked by ascending Euclidean distance.
// With an owner filter, k*5 raw candidates are over-fetched and scanned in
// rank order; if fewer than k belong to the owner, fewer are returned. An
// empty or absent index yields an empty result, not an error.
func (s *Store) Search(query []float32, k int, owner string) ([]Result, error) {
	if k < 1 {
		return nil, dserr.Errorf(dserr.CodeIndexQueryInvalid, "index: k must be positive, got %d", k)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	if s.flat == nil || s.flat.Len() == 0 {
		return nil, nil
	}

	searchK := k
	if owner != "" {
		searchK = k * overfetchFactor
	}

	hits, err := s.flat.Search(query, searchK)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, k)
	for _, hit := range hits {
		entry := s.entries[hit.Position]
		if owner != "" && entry.Owner != owner {
			continue
		}
		results = append(results, Result{Entry: entry, Distance: hit.Distance})
		if len(results) >= k {
			break
		}
	}
	return results, nil
}

// Delete removes every entry matching (filename, owner) by rebuilding the
// index from the kept vectors. The persisted state is reloaded first so the
// rebuild operates on the authoritative entry set. Returns false when nothing
// matched; the index is left untouched in that case.
func (s *Store) Delete(filename, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.load()

	if s.flat == nil || len(s.entries) == 0 {
		return false, nil
	}

	keptVecs := make([][]float32, 0, s.flat.Len())
	keptEntries := make([]Entry, 0, len(s.entries))
	removed := 0

	for i, entry := range s.entries {
		if entry.Filename == filename && entry.Owner == owner {
			removed++
			continue
		}
		keptVecs = append(keptVecs, s.flat.Reconstruct(i))
		keptEntries = append(keptEntries, entry)
	}

	if removed == 0 {
		return false, nil
	}

	rebuilt, err := NewFlat(s.flat.Dim())
	if err != nil {
		return false, err
	}
	if err := rebuilt.Add(keptVecs...); err != nil {
		return false, err
	}

	s.flat = rebuilt
	s.entries = keptEntries

	if err := s.flush(); err != nil {
		return false, err
	}

	slog.Info("deleted entries from index",
		"filename", filename, "owner", owner, "removed", removed, "remaining", len(keptEntries))
	return true, nil
}

// Count returns the number of persisted entries.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return 0, err
	}
	return s.count(), nil
}

// Entries returns a copy of the metadata array, for aggregation views.
func (s *Store) Entries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return append([]Entry(nil), s.entries...), nil
}

// Reload discards in-memory state and re-reads the persisted artifacts.
// Callers constructing a fresh view per request use this to observe the
// latest flush.
func (s *Store) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
}

func (s *Store) count() int {
	if s.flat == nil {
		return 0
	}
	return s.flat.Len()
}

func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	s.load()
	return nil
}

// load reads both artifacts. Missing or corrupt artifacts mean "start
// fresh"; loading never fails the caller. Callers must hold mu.
func (s *Store) load() {
	s.loaded = true
	s.flat = nil
	s.entries = nil

	indexData, err := os.ReadFile(s.indexPath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("unreadable index artifact, starting fresh", "path", s.indexPath, "error", err)
		}
		return
	}

	metaData, err := os.ReadFile(s.metaPath)
	if err != nil {
		slog.Warn("index artifact without metadata artifact, starting fresh", "path", s.metaPath, "error", err)
		return
	}

	var flat Flat
	if err := flat.UnmarshalBinary(indexData); err != nil {
		slog.Warn("corrupt index artifact, starting fresh", "path", s.indexPath, "error", err)
		return
	}

	var entries []Entry
	if err := json.Unmarshal(metaData, &entries); err != nil {
		slog.Warn("corrupt metadata artifact, starting fresh", "path", s.metaPath, "error", err)
		return
	}

	if flat.Len() != len(entries) {
		slog.Warn("artifact entry counts differ, starting fresh",
			"vectors", flat.Len(), "entries", len(entries))
		return
	}

	if flat.Len() > 0 {
		s.flat = &flat
		s.entries = entries
	}
}

// persistedCount reads just the vector artifact header. Returns false when
// no artifact exists.
func (s *Store) persistedCount() (int, bool) {
	f, err := os.Open(s.indexPath)
	if err != nil {
		return 0, false
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 8)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, false
	}
	return int(binary.LittleEndian.Uint32(header[4:8])), true
}

// flush writes both artifacts atomically (temp file plus rename) so a crash
// never leaves a half-written artifact. Callers must hold mu.
func (s *Store) flush() error {
	indexData, err := s.flat.MarshalBinary()
	if err != nil {
		return dserr.Wrap(err, dserr.CodeIndexFlushFailure, "encoding vector artifact")
	}

	metaData, err := json.Marshal(s.entries)
	if err != nil {
		return dserr.Wrap(err, dserr.CodeIndexFlushFailure, "encoding metadata artifact")
	}

	if err := os.MkdirAll(filepath.Dir(s.indexPath), 0o755); err != nil {
		return dserr.Wrap(err, dserr.CodeIndexFlushFailure, "creating index directory")
	}

	if err := writeAtomic(s.indexPath, indexData); err != nil {
		return dserr.Wrap(err, dserr.CodeIndexFlushFailure, "writing vector artifact", dserr.FieldFile(s.indexPath))
	}
	if err := writeAtomic(s.metaPath, metaData); err != nil {
		return dserr.Wrap(err, dserr.CodeIndexFlushFailure, "writing metadata artifact", dserr.FieldFile(s.metaPath))
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
