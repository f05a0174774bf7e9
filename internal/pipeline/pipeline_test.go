package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"strings"
	"testing"

	"github.com/hydrusvideodeduplicator/hvdedup/internal/dbopen"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/frame"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/store"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/vpdq"
)

// fakeSource serves a fixed media list and one decodable frame sequence per
// media id (keyed by media id so different fakes can differ in pattern).
type fakeSource struct {
	media   []string
	colors  map[string]int // media id -> pattern variant; missing id fails to fetch
	listErr error
}

func (s *fakeSource) ListMedia(ctx context.Context, query string) ([]string, error) {
	return s.media, s.listErr
}

func (s *fakeSource) FetchBytes(ctx context.Context, mediaID string) (frame.ByteSource, error) {
	v, ok := s.colors[mediaID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &stubByteSource{variant: v}, nil
}

type stubByteSource struct{ variant int }

func (s *stubByteSource) Read(p []byte) (int, error) { return 0, io.EOF }
func (s *stubByteSource) Close() error               { return nil }

// solidDecoder decodes every byte source into a single textured frame,
// keyed by the pattern variant stashed in the stubByteSource: variant 0 is
// a horizontal gradient, any other variant a vertical one, so frames with
// the same variant hash identically and frames with different variants do
// not (a flat, quality-free color would be excluded as low-quality).
type solidDecoder struct{}

func (solidDecoder) Open(r frame.ByteSource) (frame.Source, error) {
	sb, ok := r.(*stubByteSource)
	if !ok {
		return nil, errors.New("unexpected source type")
	}
	return &solidSource{variant: sb.variant}, nil
}

type solidSource struct {
	variant int
	done    bool
}

func (s *solidSource) Next() (frame.RawFrame, error) {
	if s.done {
		return frame.RawFrame{}, frame.ErrEOF
	}
	s.done = true
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			// Repeating sawtooth, period 8, amplitude 224: strong local
			// gradient (high quality score) that the Jarosz filter's
			// window-8-at-512-resolution (period 64 once upsampled)
			// barely attenuates.
			v := (x % 8) * 32
			if s.variant != 0 {
				v = (y % 8) * 32
			}
			if v > 255 {
				v = 255
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return frame.RawFrame{TimestampSeconds: 0, Image: img}, nil
}

func (s *solidSource) Duration() (float64, bool) { return 1, true }
func (s *solidSource) Close() error              { return nil }

type fakeReporter struct {
	pairs int
}

func (r *fakeReporter) ReportPotentialDuplicate(ctx context.Context, a, b string, score float64) error {
	r.pairs++
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s, err := store.OpenWithDB(context.Background(), db)
	if err != nil {
		t.Fatalf("OpenWithDB: %v", err)
	}
	return s
}

func TestRunHashesAndSearchesDiscoveredMedia(t *testing.T) {
	src := &fakeSource{
		media: []string{"a", "b", "c"},
		colors: map[string]int{
			"a": 0,
			"b": 0, // same pattern variant as a: expect a high-similarity pair
			"c": 1,
		},
	}
	st := newTestStore(t)
	hasher := vpdq.New(frame.New(solidDecoder{}, frame.Options{SampleRate: 1}))
	rep := &fakeReporter{}

	d := New(src, st, hasher, rep, Options{JobCount: 2})
	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Discovered != 3 {
		t.Errorf("Discovered = %d, want 3", summary.Discovered)
	}
	if summary.Hashed != 3 {
		t.Errorf("Hashed = %d, want 3", summary.Hashed)
	}
	if summary.Indexed == 0 {
		t.Error("Indexed should be > 0")
	}
	if summary.PairsEmitted != 1 {
		t.Errorf("PairsEmitted = %d, want 1 (a and b share a hash)", summary.PairsEmitted)
	}
	if rep.pairs != 1 {
		t.Errorf("reporter saw %d pairs, want 1", rep.pairs)
	}
}

func TestRunSkipsAlreadyHashedMedia(t *testing.T) {
	src := &fakeSource{media: []string{"a"}, colors: map[string]int{"a": 0}}
	st := newTestStore(t)
	hasher := vpdq.New(frame.New(solidDecoder{}, frame.Options{SampleRate: 1}))
	rep := &fakeReporter{}

	if err := st.UpsertFingerprint(context.Background(), "a", vpdq.Fingerprint{{Quality: 90}}); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}

	d := New(src, st, hasher, rep, Options{JobCount: 1})
	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Hashed != 0 {
		t.Errorf("Hashed = %d, want 0 (already hashed, should be skipped)", summary.Hashed)
	}
}

func TestRunSkipsUnfetchableMediaWithoutMarkingFailed(t *testing.T) {
	src := &fakeSource{media: []string{"broken"}, colors: map[string]int{}}
	st := newTestStore(t)
	hasher := vpdq.New(frame.New(solidDecoder{}, frame.Options{SampleRate: 1}))
	rep := &fakeReporter{}

	d := New(src, st, hasher, rep, Options{JobCount: 1})
	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// FetchBytes itself fails (not found) rather than HashVideo, so per
	// spec §7 this is a skip, not a failed=true mark.
	if summary.HashFailed != 0 {
		t.Errorf("HashFailed = %d, want 0 (fetch failure is a skip, not a failed mark)", summary.HashFailed)
	}
	e, ok, err := st.Get(context.Background(), "broken")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok && e.Hashed {
		t.Error("media that failed to fetch should not be marked hashed")
	}
}

func TestRunSkipHashingOnlySearches(t *testing.T) {
	st := newTestStore(t)
	if err := st.UpsertFingerprint(context.Background(), "a", vpdq.Fingerprint{{Quality: 90}}); err != nil {
		t.Fatalf("seed a: %v", err)
	}
	if err := st.UpsertFingerprint(context.Background(), "b", vpdq.Fingerprint{{Quality: 90}}); err != nil {
		t.Fatalf("seed b: %v", err)
	}

	src := &fakeSource{media: []string{"a", "b"}}
	hasher := vpdq.New(frame.New(solidDecoder{}, frame.Options{SampleRate: 1}))
	rep := &fakeReporter{}

	d := New(src, st, hasher, rep, Options{JobCount: 1, SkipHashing: true})
	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Hashed != 0 {
		t.Errorf("Hashed = %d, want 0 (SkipHashing set)", summary.Hashed)
	}
	if summary.Searched != 2 {
		t.Errorf("Searched = %d, want 2", summary.Searched)
	}
}

func TestRunSkipSearchOnlyHashes(t *testing.T) {
	src := &fakeSource{media: []string{"a"}, colors: map[string]int{"a": 0}}
	st := newTestStore(t)
	hasher := vpdq.New(frame.New(solidDecoder{}, frame.Options{SampleRate: 1}))
	rep := &fakeReporter{}

	d := New(src, st, hasher, rep, Options{JobCount: 1, SkipSearch: true})
	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Hashed != 1 {
		t.Errorf("Hashed = %d, want 1", summary.Hashed)
	}
	if summary.Searched != 0 || summary.PairsEmitted != 0 {
		t.Errorf("expected no search activity, got Searched=%d PairsEmitted=%d", summary.Searched, summary.PairsEmitted)
	}
	if rep.pairs != 0 {
		t.Error("reporter should not have been called")
	}
}

func TestRunClearEntireCacheWipesStoreFirst(t *testing.T) {
	st := newTestStore(t)
	if err := st.UpsertFingerprint(context.Background(), "stale", vpdq.Fingerprint{{Quality: 90}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	src := &fakeSource{media: nil}
	hasher := vpdq.New(frame.New(solidDecoder{}, frame.Options{SampleRate: 1}))
	rep := &fakeReporter{}

	d := New(src, st, hasher, rep, Options{JobCount: 1, ClearEntireCache: true})
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	_, ok, err := st.Get(context.Background(), "stale")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ClearEntireCache to remove the stale entry")
	}
}

func TestRunSurfacesDiscoverError(t *testing.T) {
	src := &fakeSource{listErr: errors.New("host unreachable")}
	st := newTestStore(t)
	hasher := vpdq.New(frame.New(solidDecoder{}, frame.Options{SampleRate: 1}))
	rep := &fakeReporter{}

	d := New(src, st, hasher, rep, Options{})
	_, err := d.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "host unreachable") {
		t.Fatalf("expected discover error to surface, got %v", err)
	}
}
