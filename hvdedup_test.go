package hvdedup

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"testing"

	"github.com/hydrusvideodeduplicator/hvdedup/config"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/frame"
)

// fakeClient is a minimal hostclient.Client backed by an in-memory media
// list; each id's byte stream decodes (via singleFrameDecoder) to a single
// textured frame.
type fakeClient struct {
	media   []string
	reports int
}

func (c *fakeClient) ListMedia(ctx context.Context, query string) ([]string, error) {
	return c.media, nil
}

func (c *fakeClient) FetchBytes(ctx context.Context, mediaID string) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func (c *fakeClient) ReportPotentialDuplicate(ctx context.Context, a, b string, score float64) error {
	c.reports++
	return nil
}

// singleFrameDecoder ignores its input entirely and always decodes to one
// textured frame, enough to exercise New's wiring end-to-end without a real
// container/codec decoder.
type singleFrameDecoder struct{}

func (singleFrameDecoder) Open(r frame.ByteSource) (frame.Source, error) {
	return &singleFrameSource{}, nil
}

type singleFrameSource struct{ done bool }

func (s *singleFrameSource) Next() (frame.RawFrame, error) {
	if s.done {
		return frame.RawFrame{}, frame.ErrEOF
	}
	s.done = true
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x % 8) * 32)})
		}
	}
	return frame.RawFrame{Image: img}, nil
}

func (s *singleFrameSource) Duration() (float64, bool) { return 1, true }
func (s *singleFrameSource) Close() error              { return nil }

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.JobCount = 0

	_, err := New(context.Background(), cfg, &fakeClient{}, singleFrameDecoder{})
	if err == nil {
		t.Fatal("expected New to reject an invalid config")
	}
}

func TestNewAndRunWiresEveryPhase(t *testing.T) {
	cfg := config.Default()
	cfg.DatabaseDir = t.TempDir()
	client := &fakeClient{media: []string{"a"}}

	dedup, err := New(context.Background(), cfg, client, singleFrameDecoder{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer dedup.Close()

	summary, err := dedup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Discovered != 1 {
		t.Errorf("Discovered = %d, want 1", summary.Discovered)
	}
	if summary.Hashed != 1 {
		t.Errorf("Hashed = %d, want 1", summary.Hashed)
	}
}

func TestDedupStorePersistsAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DatabaseDir = dir
	client := &fakeClient{media: []string{"a"}}

	first, err := New(context.Background(), cfg, client, singleFrameDecoder{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := first.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first.Close()

	second, err := New(context.Background(), cfg, client, singleFrameDecoder{})
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	defer second.Close()

	summary, err := second.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if summary.Hashed != 0 {
		t.Errorf("Hashed = %d, want 0 (already hashed on the first run)", summary.Hashed)
	}
}

func TestDedupPropagatesDiscoverErrors(t *testing.T) {
	cfg := config.Default()
	cfg.DatabaseDir = t.TempDir()
	client := &erroringClient{err: errors.New("host unreachable")}

	dedup, err := New(context.Background(), cfg, client, singleFrameDecoder{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer dedup.Close()

	if _, err := dedup.Run(context.Background()); err == nil {
		t.Fatal("expected Run to surface the discover error")
	}
}

type erroringClient struct{ err error }

func (c *erroringClient) ListMedia(ctx context.Context, query string) ([]string, error) {
	return nil, c.err
}

func (c *erroringClient) FetchBytes(ctx context.Context, mediaID string) (io.ReadCloser, error) {
	return nil, c.err
}

func (c *erroringClient) ReportPotentialDuplicate(ctx context.Context, a, b string, score float64) error {
	return nil
}
