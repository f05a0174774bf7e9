// Package hvdedup finds near-duplicate videos in a host media library by
// perceptual hashing: PDQ frame hashes, collapsed into a vPDQ video
// fingerprint, indexed in a BK-tree, and compared with a symmetric
// set-similarity gate.
//
// Usage:
//
//	dedup, err := hvdedup.New(ctx, cfg, client, decoder)
//	summary, err := dedup.Run(ctx)
package hvdedup

import (
	"context"
	"fmt"

	"github.com/hydrusvideodeduplicator/hvdedup/config"
	"github.com/hydrusvideodeduplicator/hvdedup/hostclient"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/frame"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/pipeline"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/store"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/vpdq"
)

// Dedup wires the Frame Extractor, Video Hasher, Hash Store, and Pipeline
// Driver into a single runnable unit over one host client.
type Dedup struct {
	store  *store.Store
	driver *pipeline.Driver
}

// New opens the Hash Store at cfg.DatabaseDir and constructs a Dedup ready
// to Run. decoder supplies the container/codec demuxing the Frame Extractor
// itself does not implement (spec's host-collaborator boundary); client is
// the host media service.
func New(ctx context.Context, cfg config.Config, client hostclient.Client, decoder frame.Decoder) (*Dedup, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.DatabaseDir+"/hashes.db")
	if err != nil {
		return nil, fmt.Errorf("hvdedup: open store: %w", err)
	}

	extractor := frame.New(decoder, frame.Options{})
	hasher := vpdq.New(extractor)

	driver := pipeline.New(&clientSource{client}, st, hasher, client, pipeline.Options{
		Query:               cfg.Query,
		JobCount:            cfg.JobCount,
		SkipHashing:         cfg.SkipHashing,
		SkipSearch:          cfg.SkipSearch,
		ClearSearchCache:    cfg.ClearSearchCache,
		ClearEntireCache:    cfg.ClearEntireCache,
		SimilarityThreshold: cfg.SimilarityThreshold,
		OneSidedGate:        cfg.OneSidedGate,
		IndexSnapshotPath:   cfg.DatabaseDir + "/index.snapshot",
	})

	return &Dedup{store: st, driver: driver}, nil
}

// Run executes one full discover/hash/index/search pass and returns its
// summary. Safe to call repeatedly; each run picks up where the Hash
// Store's persisted progress left off.
func (d *Dedup) Run(ctx context.Context) (pipeline.Summary, error) {
	return d.driver.Run(ctx)
}

// Close releases the Hash Store's underlying database handle.
func (d *Dedup) Close() error {
	return d.store.Close()
}

// clientSource adapts hostclient.Client's io.ReadCloser-based FetchBytes to
// the narrower frame.ByteSource the pipeline.Source interface expects. The
// returned value still satisfies io.Closer, which the hash phase detects
// and closes once hashing finishes.
type clientSource struct {
	client hostclient.Client
}

func (s *clientSource) ListMedia(ctx context.Context, query string) ([]string, error) {
	return s.client.ListMedia(ctx, query)
}

func (s *clientSource) FetchBytes(ctx context.Context, mediaID string) (frame.ByteSource, error) {
	rc, err := s.client.FetchBytes(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	return rc, nil
}
