package search

import (
	"context"
	"testing"

	"github.com/hydrusvideodeduplicator/hvdedup/internal/bktree"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/dbopen"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/store"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/vpdq"
)

type fakeReporter struct {
	pairs []PairEventLog
}

type PairEventLog struct {
	A, B  string
	Score float64
}

func (r *fakeReporter) ReportPotentialDuplicate(ctx context.Context, a, b string, score float64) error {
	r.pairs = append(r.pairs, PairEventLog{A: a, B: b, Score: score})
	return nil
}

func buildIndex(entries map[string]vpdq.Fingerprint) *bktree.Tree {
	var tree bktree.Tree
	for mediaID, fp := range entries {
		for i, f := range fp.Retained() {
			tree.Add(bktree.Item{Hash: f.Hash, MediaID: mediaID, FrameIndex: i})
		}
	}
	return &tree
}

func newTestStoreWithEntries(t *testing.T, entries map[string]vpdq.Fingerprint) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s, err := store.OpenWithDB(context.Background(), db)
	if err != nil {
		t.Fatalf("OpenWithDB: %v", err)
	}
	for mediaID, fp := range entries {
		if err := s.UpsertFingerprint(context.Background(), mediaID, fp); err != nil {
			t.Fatalf("UpsertFingerprint(%s): %v", mediaID, err)
		}
	}
	return s
}

func TestRunEmitsPairForMatchingFingerprints(t *testing.T) {
	entries := map[string]vpdq.Fingerprint{
		"a": {frameAt(0x01), frameAt(0x02)},
		"b": {frameAt(0x01), frameAt(0x02)},
	}
	st := newTestStoreWithEntries(t, entries)
	idx := buildIndex(entries)
	rep := &fakeReporter{}

	c := New(st, idx, rep, 75)
	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Searched != 2 {
		t.Errorf("Searched = %d, want 2", summary.Searched)
	}
	if summary.PairsEmitted != 1 {
		t.Fatalf("PairsEmitted = %d, want 1", summary.PairsEmitted)
	}
	if len(rep.pairs) != 1 {
		t.Fatalf("len(rep.pairs) = %d, want 1", len(rep.pairs))
	}
	if rep.pairs[0].A != "a" || rep.pairs[0].B != "b" {
		t.Errorf("pair = %+v, want canonicalized (a, b)", rep.pairs[0])
	}
}

func TestRunCanonicalizesPairOrder(t *testing.T) {
	entries := map[string]vpdq.Fingerprint{
		"zzz": {frameAt(0x05)},
		"aaa": {frameAt(0x05)},
	}
	st := newTestStoreWithEntries(t, entries)
	idx := buildIndex(entries)
	rep := &fakeReporter{}

	c := New(st, idx, rep, 75)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.pairs) != 1 {
		t.Fatalf("len(rep.pairs) = %d, want 1", len(rep.pairs))
	}
	if rep.pairs[0].A != "aaa" || rep.pairs[0].B != "zzz" {
		t.Errorf("pair = %+v, want (aaa, zzz)", rep.pairs[0])
	}
}

func TestRunSkipsDissimilarFingerprints(t *testing.T) {
	// far is the bitwise complement of frameAt(0x01): all 256 bits differ.
	far := frameAt(0xFE)
	for i := 1; i < len(far.Hash); i++ {
		far.Hash[i] = 0xFF
	}
	entries := map[string]vpdq.Fingerprint{
		"a": {frameAt(0x01)},
		"b": {far}, // maximally different from a
	}
	st := newTestStoreWithEntries(t, entries)
	idx := buildIndex(entries)
	rep := &fakeReporter{}

	c := New(st, idx, rep, 75)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.pairs) != 0 {
		t.Errorf("expected no pairs, got %v", rep.pairs)
	}
}

func TestRunMarksEntriesSearchComplete(t *testing.T) {
	entries := map[string]vpdq.Fingerprint{
		"a": {frameAt(0x01)},
		"b": {frameAt(0x01)},
	}
	st := newTestStoreWithEntries(t, entries)
	idx := buildIndex(entries)
	rep := &fakeReporter{}

	c := New(st, idx, rep, 75)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, id := range []string{"a", "b"} {
		e, ok, err := st.Get(context.Background(), id)
		if err != nil || !ok {
			t.Fatalf("Get(%s): ok=%v err=%v", id, ok, err)
		}
		if !e.SearchComplete {
			t.Errorf("entry %s: SearchComplete = false, want true", id)
		}
	}
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	entries := map[string]vpdq.Fingerprint{
		"a": {frameAt(0x01)},
		"b": {frameAt(0x01)},
	}
	st := newTestStoreWithEntries(t, entries)
	idx := buildIndex(entries)
	rep := &fakeReporter{}

	c := New(st, idx, rep, 75)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(rep.pairs) != 1 {
		t.Errorf("expected exactly one emitted pair across both runs, got %d", len(rep.pairs))
	}
}
