// Command hvdedup runs one discover/hash/index/search pass over a host
// media library and reports the potential-duplicate pairs it finds.
//
// It is a reference entrypoint, not a CLI: flag-driven control of the
// query/threshold/worker-count surface belongs in config.yaml (spec's
// control surface is the Config record, not command-line flags).
//
// Usage:
//
//	hvdedup -config hvdedup.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/hydrusvideodeduplicator/hvdedup"
	"github.com/hydrusvideodeduplicator/hvdedup/config"
	"github.com/hydrusvideodeduplicator/hvdedup/hostclient"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/frame"
)

func main() {
	configPath := flag.String("config", "", "path to hvdedup.yaml config file (defaults applied if empty)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath); err != nil {
		logger.Error("hvdedup: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string) error {
	cfg, err := resolveConfig(configPath)
	if err != nil {
		return err
	}

	// client and decoder are the spec's named external collaborators: the
	// host media service and the container/codec demuxer. Neither ships
	// in this module (spec §1); a real binary supplies production
	// implementations here.
	client, decoder, err := wireCollaborators(cfg)
	if err != nil {
		return fmt.Errorf("wire collaborators: %w", err)
	}

	dedup, err := hvdedup.New(ctx, cfg, client, decoder)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer dedup.Close()

	summary, err := dedup.Run(ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	logger.Info("hvdedup: run complete",
		"run_id", summary.RunID,
		"discovered", summary.Discovered,
		"hashed", summary.Hashed,
		"hash_failed", summary.HashFailed,
		"indexed", summary.Indexed,
		"searched", summary.Searched,
		"pairs_emitted", summary.PairsEmitted,
	)
	return nil
}

func resolveConfig(configPath string) (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.LoadFile(configPath)
}

// wireCollaborators constructs the host client and video decoder. This
// module defines their interfaces (hostclient.Client, frame.Decoder) but
// not a concrete implementation of either — both are external
// collaborators per spec §1. A production build replaces this function
// with one that constructs a real HTTP-backed client and a real
// container/codec decoder.
func wireCollaborators(cfg config.Config) (hostclient.Client, frame.Decoder, error) {
	return nil, nil, fmt.Errorf("hvdedup: no host client or video decoder wired; this reference binary requires a build that supplies both")
}
