// Package hostclient defines the interface the core uses to talk to the
// host media-management service. The service itself — HTTP transport,
// authentication, retries against a real endpoint — is an external
// collaborator (spec §1); this package only names the contract and the
// typed error/retry vocabulary the Pipeline Driver depends on.
package hostclient

import (
	"context"
	"io"
)

// Client is the host service surface the core consumes.
type Client interface {
	// ListMedia returns every MediaId matching query, an opaque predicate
	// string passed through verbatim.
	ListMedia(ctx context.Context, query string) ([]string, error)

	// FetchBytes streams one media item's bytes. The caller must Close the
	// returned reader. Errors should be *TransientError or *PermanentError
	// so the driver's retry policy can classify them.
	FetchBytes(ctx context.Context, mediaID string) (io.ReadCloser, error)

	// ReportPotentialDuplicate notifies the host of a candidate pair. The
	// host is expected to treat repeated reports of the same pair as a
	// no-op.
	ReportPotentialDuplicate(ctx context.Context, a, b string, score float64) error
}
