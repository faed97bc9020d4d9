// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package index_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dossier-dev/dossier/internal/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) (*index.Store, string, string) {
	t.Helper()
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "index.bin")
	metaPath := filepath.Join(dir, "metadata.json")
	return index.NewStore(indexPath, metaPath), indexPath, metaPath
}

func entry(text, owner, filename string) index.Entry {
	return index.Entry{
		Text:     text,
		Source:   "/uploads/" + owner + "/" + filename,
		Owner:    owner,
		Filename: filename,
	}
}

func TestStore_AppendAndSearch(t *testing.T) {
	s, _, _ := testStore(t)

	err := s.Append(
		[][]float32{{1, 0, 0}, {0, 1, 0}},
		[]index.Entry{entry("alpha", "alice", "a.jpg"), entry("beta", "bob", "b.jpg")},
	)
	require.NoError(t, err)

	results, err := s.Search([]float32{1, 0, 0}, 5, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Text)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-9)
	assert.Equal(t, "beta", results[1].Text)
}

func TestStore_AppendMismatchedCounts(t *testing.T) {
	s, _, _ := testStore(t)

	err := s.Append([][]float32{{1, 0}}, nil)
	require.Error(t, err)
}

func TestStore_AppendEmptyIsNoOp(t *testing.T) {
	s, indexPath, _ := testStore(t)

	require.NoError(t, s.Append(nil, nil))
	_, err := os.Stat(indexPath)
	assert.True(t, os.IsNotExist(err), "no artifact should be flushed for an empty append")
}

func TestStore_SearchEmptyIndex(t *testing.T) {
	s, _, _ := testStore(t)

	results, err := s.Search([]float32{1, 0, 0}, 5, "")
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.Search([]float32{1, 0, 0}, 5, "alice")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_OwnerFilterNeverLeaks(t *testing.T) {
	s, _, _ := testStore(t)

	vectors := [][]float32{{1, 0}, {0.9, 0}, {0.8, 0}, {0.7, 0}, {0, 1}}
	entries := []index.Entry{
		entry("a1", "alice", "a1.jpg"),
		entry("b1", "bob", "b1.jpg"),
		entry("b2", "bob", "b2.jpg"),
		entry("a2", "alice", "a2.jpg"),
		entry("b3", "bob", "b3.jpg"),
	}
	require.NoError(t, s.Append(vectors, entries))

	results, err := s.Search([]float32{1, 0}, 3, "alice")
	require.NoError(t, err)
	require.Len(t, results, 2, "only two alice entries exist")
	for _, r := range results {
		assert.Equal(t, "alice", r.Owner)
	}
	assert.Equal(t, "a1", results[0].Text, "rank order preserved after filtering")
	assert.Equal(t, "a2", results[1].Text)
}

func TestStore_RoundTripThroughDisk(t *testing.T) {
	s, indexPath, metaPath := testStore(t)

	vectors := [][]float32{{0.5, -0.5, 1}, {2, 0, -3}}
	entries := []index.Entry{entry("one", "alice", "a.pdf"), entry("two", "alice", "a.pdf")}
	require.NoError(t, s.Append(vectors, entries))

	// A second store over the same artifacts must observe identical state.
	reopened := index.NewStore(indexPath, metaPath)
	got, err := reopened.Entries()
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	results, err := reopened.Search([]float32{0.5, -0.5, 1}, 1, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "one", results[0].Text)
}

func TestStore_AppendReconcilesWithConcurrentWriter(t *testing.T) {
	s1, indexPath, metaPath := testStore(t)
	s2 := index.NewStore(indexPath, metaPath)

	require.NoError(t, s1.Append([][]float32{{1, 0}}, []index.Entry{entry("from-s1", "alice", "a.jpg")}))

	// s2 loads the current state, then s1 writes more.
	n, err := s2.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s1.Append([][]float32{{0, 1}}, []index.Entry{entry("from-s1-b", "bob", "b.jpg")}))

	// s2's append must pick up s1's second write rather than clobber it.
	require.NoError(t, s2.Append([][]float32{{1, 1}}, []index.Entry{entry("from-s2", "carol", "c.jpg")}))

	n, err = s2.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := index.NewStore(indexPath, metaPath).Entries()
	require.NoError(t, err)
	require.Len(t, all, 3)
	owners := []string{all[0].Owner, all[1].Owner, all[2].Owner}
	assert.Equal(t, []string{"alice", "bob", "carol"}, owners)
}

func TestStore_DeleteRebuilds(t *testing.T) {
	s, _, _ := testStore(t)

	vectors := [][]float32{{1, 0}, {0, 1}, {1, 1}}
	entries := []index.Entry{
		entry("page1", "alice", "id.pdf"),
		entry("page2", "alice", "id.pdf"),
		entry("other", "alice", "passport.jpg"),
	}
	require.NoError(t, s.Append(vectors, entries))

	ok, err := s.Delete("id.pdf", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "count decreases by exactly the matching entries")

	results, err := s.Search([]float32{1, 0}, 5, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "other", results[0].Text)
	assert.Equal(t, "passport.jpg", results[0].Filename)
}

func TestStore_DeleteScopedToOwner(t *testing.T) {
	s, _, _ := testStore(t)

	require.NoError(t, s.Append(
		[][]float32{{1, 0}, {0, 1}},
		[]index.Entry{entry("alice's", "alice", "scan.jpg"), entry("bob's", "bob", "scan.jpg")},
	))

	ok, err := s.Delete("scan.jpg", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	results, err := s.Search([]float32{0, 1}, 5, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bob", results[0].Owner, "same filename under another owner survives")
}

func TestStore_DeleteTwiceIsNoOp(t *testing.T) {
	s, _, _ := testStore(t)

	require.NoError(t, s.Append(
		[][]float32{{1, 0}, {0, 1}},
		[]index.Entry{entry("a", "alice", "a.jpg"), entry("b", "bob", "b.jpg")},
	))

	ok, err := s.Delete("a.jpg", "alice")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Delete("a.jpg", "alice")
	require.NoError(t, err)
	assert.False(t, ok, "second delete reports no-op")

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "index unchanged by the no-op delete")
}

func TestStore_DeleteOnEmptyStore(t *testing.T) {
	s, _, _ := testStore(t)

	ok, err := s.Delete("a.jpg", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeleteAllEntriesLeavesEmptyIndex(t *testing.T) {
	s, indexPath, metaPath := testStore(t)

	require.NoError(t, s.Append(
		[][]float32{{1, 0}, {0, 1}},
		[]index.Entry{entry("p1", "alice", "id.pdf"), entry("p2", "alice", "id.pdf")},
	))

	ok, err := s.Delete("id.pdf", "alice")
	require.NoError(t, err)
	require.True(t, ok)

	reopened := index.NewStore(indexPath, metaPath)
	results, err := reopened.Search([]float32{1, 0}, 5, "")
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = reopened.Search([]float32{1, 0}, 5, "alice")
	require.NoError(t, err)
	assert.Empty(t, results, "no entry referencing alice survives")
}

func TestStore_CorruptArtifactsStartFresh(t *testing.T) {
	s, indexPath, metaPath := testStore(t)

	require.NoError(t, os.WriteFile(indexPath, []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(metaPath, []byte("also garbage"), 0o644))

	results, err := s.Search([]float32{1, 0}, 5, "")
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, s.Append([][]float32{{1, 0}}, []index.Entry{entry("new", "alice", "a.jpg")}))
	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_AppendIgnoresTruncatedHeaderDuringReconcile(t *testing.T) {
	s, indexPath, metaPath := testStore(t)

	require.NoError(t, s.Append([][]float32{{1, 0}}, []index.Entry{entry("a", "alice", "a.jpg")}))

	// An artifact shorter than the 8-byte header must not be mistaken for a
	// divergent persisted count; the append keeps the in-memory state.
	require.NoError(t, os.WriteFile(indexPath, []byte{0x01, 0x00, 0x00}, 0o644))

	require.NoError(t, s.Append([][]float32{{0, 1}}, []index.Entry{entry("b", "bob", "b.jpg")}))

	all, err := index.NewStore(indexPath, metaPath).Entries()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Text)
	assert.Equal(t, "b", all[1].Text)
}

func TestStore_MismatchedArtifactCountsStartFresh(t *testing.T) {
	s, indexPath, metaPath := testStore(t)

	require.NoError(t, s.Append([][]float32{{1, 0}}, []index.Entry{entry("a", "alice", "a.jpg")}))

	// Overwrite metadata with an extra phantom record.
	require.NoError(t, os.WriteFile(metaPath,
		[]byte(`[{"text":"a","source":"s","owner":"alice","filename":"a.jpg"},{"text":"phantom","source":"s","owner":"x","filename":"x.jpg"}]`), 0o644))
	_ = indexPath

	fresh := index.NewStore(indexPath, metaPath)
	results, err := fresh.Search([]float32{1, 0}, 5, "")
	require.NoError(t, err)
	assert.Empty(t, results, "count mismatch is treated as corrupt")
}

func TestStore_EntriesReturnsCopy(t *testing.T) {
	s, _, _ := testStore(t)

	require.NoError(t, s.Append([][]float32{{1, 0}}, []index.Entry{entry("a", "alice", "a.jpg")}))

	got, err := s.Entries()
	require.NoError(t, err)
	got[0].Owner = "mallory"

	again, err := s.Entries()
	require.NoError(t, err)
	assert.Equal(t, "alice", again[0].Owner)
}
