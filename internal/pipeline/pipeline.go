// Package pipeline sequences the hvdedup phases — discover, hash, index,
// search — over a bounded worker pool, with a single-writer discipline on
// the Hash Store.
//
// Grounded on vtq.Q.RunBatch's semaphore + sync.WaitGroup pattern for the
// hash phase's bounded concurrency (draining in-flight handlers on
// cancellation rather than abandoning them), and on domkeeper/internal/
// schedule.Scheduler.Run's ctx.Done()-select loop shape for structuring a
// long-running phase sequence.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/hydrusvideodeduplicator/hvdedup/hostclient"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/bktree"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/frame"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/search"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/store"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/vpdq"
)

// Source discovers MediaIds and streams their bytes. It is satisfied by
// hostclient.Client; the pipeline only depends on this narrower shape so
// its tests don't need a full Client fake.
type Source interface {
	ListMedia(ctx context.Context, query string) ([]string, error)
	FetchBytes(ctx context.Context, mediaID string) (frame.ByteSource, error)
}

// Reporter dispatches confirmed potential-duplicate pairs; satisfied by
// hostclient.Client and by search.Reporter.
type Reporter = search.Reporter

// Options configures a Driver run. Every field except IndexSnapshotPath and
// Logger maps directly to a config.Config control-surface item (spec §6);
// pipeline does not depend on the config package so it stays testable
// without YAML fixtures.
type Options struct {
	Query               string
	JobCount            int
	SkipHashing         bool
	SkipSearch          bool
	ClearSearchCache    bool
	ClearEntireCache    bool
	SimilarityThreshold int
	OneSidedGate        bool
	IndexSnapshotPath   string // empty disables snapshot persistence
	Logger              *slog.Logger
}

// Driver wires the Frame Extractor/Hasher/Video Hasher through the Hash
// Store and Similarity Index into the full discover -> hash -> index ->
// search sequence.
type Driver struct {
	source   Source
	store    *store.Store
	hasher   *vpdq.Hasher
	reporter Reporter
	opts     Options
}

// New creates a Driver. hasher must already be bound to a frame.Extractor
// configured with a production Decoder.
func New(source Source, st *store.Store, hasher *vpdq.Hasher, reporter Reporter, opts Options) *Driver {
	if opts.JobCount < 1 {
		opts.JobCount = 1
	}
	if opts.SimilarityThreshold == 0 {
		opts.SimilarityThreshold = 75
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Driver{source: source, store: st, hasher: hasher, reporter: reporter, opts: opts}
}

// Summary totals one Run across every phase (spec §7's end-of-run summary).
type Summary struct {
	RunID        string
	Discovered   int
	Hashed       int
	HashFailed   int
	Indexed      int
	Searched     int
	PairsEmitted int
}

// Run executes discover -> hash -> index -> search, skipping phases per
// Options, and returns a Summary of what happened.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: uuid.Must(uuid.NewV7()).String()}
	log := d.opts.Logger.With("run_id", summary.RunID)
	log.Info("pipeline: started")

	if d.opts.ClearEntireCache {
		log.Info("pipeline: clearing entire cache")
		if err := d.store.Clear(ctx); err != nil {
			return summary, fmt.Errorf("pipeline: clear cache: %w", err)
		}
	} else if d.opts.ClearSearchCache {
		log.Info("pipeline: clearing search cache")
		if err := d.store.ClearSearchProgress(ctx); err != nil {
			return summary, fmt.Errorf("pipeline: clear search cache: %w", err)
		}
	}

	mediaIDs, err := d.source.ListMedia(ctx, d.opts.Query)
	if err != nil {
		return summary, fmt.Errorf("pipeline: discover: %w", err)
	}
	summary.Discovered = len(mediaIDs)
	log.Info("pipeline: discovered media", "count", summary.Discovered)

	if !d.opts.SkipHashing {
		if err := d.hashPhase(ctx, mediaIDs, log, &summary); err != nil {
			return summary, err
		}
	}

	index, err := d.buildIndex(ctx, log, &summary)
	if err != nil {
		return summary, fmt.Errorf("pipeline: index: %w", err)
	}

	if !d.opts.SkipSearch {
		coord := search.New(d.store, index, d.reporter, d.opts.SimilarityThreshold,
			search.WithOneSidedGate(d.opts.OneSidedGate), search.WithLogger(log))
		searchSummary, err := coord.Run(ctx)
		if err != nil {
			return summary, fmt.Errorf("pipeline: search: %w", err)
		}
		summary.Searched = searchSummary.Searched
		summary.PairsEmitted = searchSummary.PairsEmitted
	}

	log.Info(summary.line(),
		"discovered", summary.Discovered,
		"hashed", summary.Hashed,
		"hash_failed", summary.HashFailed,
		"indexed", summary.Indexed,
		"searched", summary.Searched,
		"pairs_emitted", summary.PairsEmitted,
	)
	return summary, nil
}

// line renders a human-readable one-liner for the structured fields above,
// comma-grouping large counts (an index holding hundreds of thousands of
// frames reads a lot better as "312,040" than "312040").
func (s Summary) line() string {
	return fmt.Sprintf("pipeline: finished (discovered %s, hashed %s, indexed %s, pairs emitted %s)",
		humanize.Comma(int64(s.Discovered)), humanize.Comma(int64(s.Hashed)),
		humanize.Comma(int64(s.Indexed)), humanize.Comma(int64(s.PairsEmitted)))
}

// hashPhase runs the bounded worker pool over not-yet-hashed MediaIds.
// Modeled on vtq.Q.RunBatch: a semaphore caps concurrency, a WaitGroup
// drains in-flight workers on cancellation instead of abandoning them, and
// every fingerprint write goes through the single Hash Store writer (the
// store's own *sql.DB serializes this further, but the explicit mutex keeps
// the cancellation-drain contract obvious at this layer).
func (d *Driver) hashPhase(ctx context.Context, mediaIDs []string, log *slog.Logger, summary *Summary) error {
	toHash := make([]string, 0, len(mediaIDs))
	for _, id := range mediaIDs {
		e, ok, err := d.store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("pipeline: read entry %q: %w", id, err)
		}
		if ok && (e.Hashed || e.Failed) {
			continue
		}
		toHash = append(toHash, id)
	}
	log.Info("pipeline: hash phase starting", "pending", len(toHash), "workers", d.opts.JobCount)

	sem := make(chan struct{}, d.opts.JobCount)
	var wg sync.WaitGroup
	var mu sync.Mutex // serializes summary counters and the single store writer

	for _, mediaID := range toHash {
		if err := ctx.Err(); err != nil {
			break // in-flight workers still finish and commit below
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}

		wg.Add(1)
		go func(mediaID string) {
			defer wg.Done()
			defer func() { <-sem }()
			d.hashOne(ctx, mediaID, log, &mu, summary)
		}(mediaID)
	}

	wg.Wait()
	log.Info("pipeline: hash phase done", "hashed", summary.Hashed, "failed", summary.HashFailed)
	return nil
}

// fetchWithRetry retries FetchBytes per spec §7: exponential backoff, up to
// hostclient.DefaultRetryPolicy's attempt count, but only when the error is
// a *hostclient.TransientError. A *hostclient.PermanentError, or any other
// error, falls straight through on the first attempt.
func (d *Driver) fetchWithRetry(ctx context.Context, mediaID string) (frame.ByteSource, error) {
	var r frame.ByteSource
	err := hostclient.WithRetry(ctx, hostclient.DefaultRetryPolicy(), func() error {
		fetched, err := d.source.FetchBytes(ctx, mediaID)
		if err != nil {
			return err
		}
		r = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (d *Driver) hashOne(ctx context.Context, mediaID string, log *slog.Logger, mu *sync.Mutex, summary *Summary) {
	r, err := d.fetchWithRetry(ctx, mediaID)
	if err != nil {
		log.Warn("pipeline: fetch failed, skipping (not marked failed)", "media_id", mediaID, "err", err)
		return
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	fp, err := d.hasher.HashVideo(r)
	if err != nil {
		log.Debug("pipeline: hash failed", "media_id", mediaID, "err", err)
		mu.Lock()
		writeErr := d.store.MarkFailed(ctx, mediaID)
		summary.HashFailed++
		mu.Unlock()
		if writeErr != nil {
			log.Error("pipeline: mark failed write error", "media_id", mediaID, "err", writeErr)
		}
		return
	}

	mu.Lock()
	writeErr := d.store.UpsertFingerprint(ctx, mediaID, fp)
	if writeErr == nil {
		summary.Hashed++
	}
	mu.Unlock()
	if writeErr != nil {
		log.Error("pipeline: upsert fingerprint write error", "media_id", mediaID, "err", writeErr)
		return
	}
	log.Debug("pipeline: hashed", "media_id", mediaID, "frames", len(fp))
}

// buildIndex rebuilds the Similarity Index from the store's hashed,
// non-failed entries. Index construction is always single-threaded (spec
// §4.7): the BK-tree's shape depends on insertion order, so concurrent
// inserts would make snapshot/rebuild equivalence undefined.
func (d *Driver) buildIndex(ctx context.Context, log *slog.Logger, summary *Summary) (*bktree.Tree, error) {
	log.Info("pipeline: building similarity index")
	var items []bktree.Item
	err := d.store.Iter(ctx, store.IterOptions{HashedOnly: true, ExcludeFailed: true}, func(e store.Entry) (bool, error) {
		for i, f := range e.Fingerprint.Retained() {
			items = append(items, bktree.Item{Hash: f.Hash, MediaID: e.MediaID, FrameIndex: i})
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	var tree bktree.Tree
	tree.RebuildFrom(items)
	summary.Indexed = tree.Len()

	if d.opts.IndexSnapshotPath != "" {
		if err := tree.SnapshotTo(d.opts.IndexSnapshotPath); err != nil {
			log.Warn("pipeline: snapshot write failed, continuing with in-memory index", "err", err)
		}
	}

	log.Info("pipeline: similarity index built", "frames", tree.Len())
	return &tree, nil
}
