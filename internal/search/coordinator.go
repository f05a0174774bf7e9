// Package search drives the pair-duplicate search: for each hashed,
// not-yet-searched fingerprint, it gathers candidates from the similarity
// index, scores them with the symmetric vPDQ set-similarity, and dispatches
// passing pairs to a reporter.
//
// Grounded on original_source's dedup.py find_potential_duplicates loop
// (index-backed candidate gathering, per-entry cursor, mark-on-completion)
// with the legacy one-sided match_hash replaced by the spec-mandated
// symmetric gate.
package search

import (
	"context"
	"log/slog"

	"github.com/hydrusvideodeduplicator/hvdedup/internal/bktree"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/store"
)

// Reporter dispatches a confirmed potential-duplicate pair to the host
// service. Implementations are expected to be idempotent.
type Reporter interface {
	ReportPotentialDuplicate(ctx context.Context, a, b string, score float64) error
}

// Summary totals one search run.
type Summary struct {
	Searched     int
	PairsEmitted int
}

// Coordinator runs the search phase over a Hash Store and its Similarity
// Index.
type Coordinator struct {
	store               *store.Store
	index               *bktree.Tree
	reporter            Reporter
	similarityThreshold int
	oneSidedGate        bool
	logger              *slog.Logger
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithOneSidedGate selects the legacy one-sided match_fraction_A >= S/100
// gate instead of the default symmetric gate (spec.md §9 escape hatch).
func WithOneSidedGate(v bool) Option { return func(c *Coordinator) { c.oneSidedGate = v } }

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// New creates a Coordinator. similarityThreshold is S in [0,100].
func New(st *store.Store, index *bktree.Tree, reporter Reporter, similarityThreshold int, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:               st,
		index:               index,
		reporter:            reporter,
		similarityThreshold: similarityThreshold,
		logger:              slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run scans every hashed, not-failed, not-search-complete entry and emits
// PairEvents for every candidate that passes the similarity gate.
//
// Cancellation is checked between outer iterations only: an entry already
// being searched runs to completion (it is short), and its cursor/
// search_complete mark is written only once the whole comparison finishes —
// partial progress for a single entry is never persisted.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	radius := Radius(c.similarityThreshold)

	var pending []store.Entry
	err := c.store.Iter(ctx, store.IterOptions{HashedOnly: true, ExcludeFailed: true, ExcludeSearchDone: true},
		func(e store.Entry) (bool, error) {
			pending = append(pending, e)
			return true, nil
		})
	if err != nil {
		return summary, err
	}

	// Two not-yet-searched entries discover each other independently (A
	// finds B as a candidate, and later B finds A); reported tracks
	// canonicalized pair keys already emitted this run so each qualifying
	// pair surfaces at most once per run (spec §8 pair idempotence).
	reported := make(map[[2]string]bool)

	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := c.searchOne(ctx, a, radius, reported, &summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (c *Coordinator) searchOne(ctx context.Context, a store.Entry, radius int, reported map[[2]string]bool, summary *Summary) error {
	candidateIDs := make(map[string]bool)
	for _, f := range a.Fingerprint.Retained() {
		for _, item := range c.index.RadiusQuery(f.Hash, radius) {
			if item.MediaID == a.MediaID {
				continue
			}
			if a.FarthestSearchedCursor != "" && item.MediaID <= a.FarthestSearchedCursor {
				continue
			}
			candidateIDs[item.MediaID] = true
		}
	}

	farthest := a.FarthestSearchedCursor
	for mediaID := range candidateIDs {
		if mediaID > farthest {
			farthest = mediaID
		}

		b, ok, err := c.store.Get(ctx, mediaID)
		if err != nil {
			return err
		}
		if !ok || !b.Hashed || b.Failed {
			continue
		}

		score := Compare(a.Fingerprint, b.Fingerprint, radius)
		if !score.Passes(c.similarityThreshold, c.oneSidedGate) {
			continue
		}

		pairA, pairB := a.MediaID, mediaID
		if pairB < pairA {
			pairA, pairB = pairB, pairA
		}
		key := [2]string{pairA, pairB}
		if reported[key] {
			continue
		}
		if err := c.reporter.ReportPotentialDuplicate(ctx, pairA, pairB, score.Average()); err != nil {
			c.logger.Warn("search: report failed", "a", pairA, "b", pairB, "err", err)
			continue
		}
		reported[key] = true
		summary.PairsEmitted++
	}

	if err := c.store.AdvanceSearchCursor(ctx, a.MediaID, farthest); err != nil {
		return err
	}
	if err := c.store.MarkSearchComplete(ctx, a.MediaID); err != nil {
		return err
	}
	summary.Searched++
	return nil
}
