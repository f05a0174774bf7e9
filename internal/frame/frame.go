// Package frame implements the frame extraction contract: turning a decoded
// video byte stream into a bounded, ordered sequence of luminance frames
// sampled at a target rate and resampled to a canonical size.
//
// Container/codec demuxing itself is delegated to a Decoder implementation
// supplied by the caller — no example in the reference corpus bundles a
// video demuxer, and decoding bytes from the host service is explicitly the
// host collaborator's concern (see ByteSource). This package
// owns sampling, resampling, and the typed failure modes around them.
package frame

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// CanonicalSize is the side length frames are resampled to before hashing.
// This bounds per-frame memory independent of source resolution; the
// downstream hasher re-scales further as part of its own pipeline.
const CanonicalSize = 512

// DecodeError is returned when no video stream could be found at all.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("frame: decode: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// CorruptStreamError is returned when the decoder fails on the very first
// frame of an otherwise-present video stream.
type CorruptStreamError struct {
	Err error
}

func (e *CorruptStreamError) Error() string { return fmt.Sprintf("frame: corrupt stream: %v", e.Err) }
func (e *CorruptStreamError) Unwrap() error { return e.Err }

// RawFrame is one decoded frame as reported by a Decoder, before sampling
// or resampling.
type RawFrame struct {
	TimestampSeconds float64
	Image            image.Image
}

// Source is a single-pass, not-restartable stream of decoded frames from one
// video. A fresh Decoder.Open call is required to re-read the same bytes.
type Source interface {
	// Next returns the next decoded frame, or ErrEOF when the stream is
	// exhausted. Any other error after the first successful Next call is
	// treated as a mid-stream failure: the caller logs it and stops,
	// keeping the prefix already produced.
	Next() (RawFrame, error)
	// Duration reports the source's self-reported duration in seconds, or
	// (0, false) if the container does not report one.
	Duration() (float64, bool)
	Close() error
}

// Decoder opens a byte stream and returns a Source for its first video
// stream. Implementations own container/codec demuxing; audio, subtitle,
// and attached-image streams are ignored.
type Decoder interface {
	Open(r ByteSource) (Source, error)
}

// ByteSource is the minimal reader contract a Decoder needs. Production
// wiring supplies a streaming reader backed by the host client's
// FetchBytes; tests supply an in-memory reader.
type ByteSource interface {
	Read(p []byte) (n int, err error)
}

// Options configures extraction.
type Options struct {
	// SampleRate is frames sampled per second of video time. Default: 1.
	SampleRate float64
	// Size is the canonical resample side length. Default: CanonicalSize.
	Size int
}

func (o *Options) defaults() {
	if o.SampleRate <= 0 {
		o.SampleRate = 1
	}
	if o.Size <= 0 {
		o.Size = CanonicalSize
	}
}

// Frame is one sampled, canonically-resized luminance frame.
type Frame struct {
	TimestampSeconds float64
	Luminance        *image.Gray
}

// Extractor drives a Decoder over one video and yields sampled, resampled
// frames one at a time. It is single-pass: call Extract once per video.
type Extractor struct {
	decoder Decoder
	opts    Options
}

// New creates an Extractor backed by decoder.
func New(decoder Decoder, opts Options) *Extractor {
	opts.defaults()
	return &Extractor{decoder: decoder, opts: opts}
}

// Sequence is the lazy, single-pass, bounded result of Extract.
type Sequence struct {
	src        Source
	opts       Options
	nextWanted float64
	nextIndex  int
	useIndex   bool
	started    bool
	done       bool
}

// Extract opens r and returns a Sequence. It fails with *DecodeError if no
// video stream exists; a failure decoding the first frame is reported as
// *CorruptStreamError by the first call to Sequence.Next.
func (e *Extractor) Extract(r ByteSource) (*Sequence, error) {
	src, err := e.decoder.Open(r)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	seq := &Sequence{src: src, opts: e.opts}
	if _, ok := src.Duration(); !ok {
		seq.useIndex = true
	}
	return seq, nil
}

// Next returns the next sampled, resampled frame, or (Frame{}, false, nil)
// when the sequence is exhausted. A non-nil error is a mid-stream failure
// (the prefix already returned remains usable) unless it is the very first
// call, in which case it is wrapped as *CorruptStreamError.
func (s *Sequence) Next() (Frame, bool, error) {
	if s.done {
		return Frame{}, false, nil
	}

	for {
		raw, err := s.src.Next()
		if err != nil {
			s.done = true
			if errors.Is(err, errEOF) {
				return Frame{}, false, nil
			}
			if !s.started {
				return Frame{}, false, &CorruptStreamError{Err: err}
			}
			return Frame{}, false, err
		}
		s.started = true

		if s.useIndex {
			// No reported duration: decode every frame, subsample by
			// index using the configured sample rate as a frame-skip
			// factor of 1 (every decoded frame is a "second" worth of
			// sampling granularity when none is known).
			want := s.nextIndex
			s.nextIndex++
			if float64(want) < s.nextWanted {
				continue
			}
			s.nextWanted += 1.0 / s.opts.SampleRate
			return s.resample(raw), true, nil
		}

		// Duration is known: sample by rounding to the nearest reported
		// timestamp >= the desired time.
		if raw.TimestampSeconds+1e-9 < s.nextWanted {
			continue
		}
		s.nextWanted = raw.TimestampSeconds + 1.0/s.opts.SampleRate
		return s.resample(raw), true, nil
	}
}

func (s *Sequence) resample(raw RawFrame) Frame {
	size := s.opts.Size
	dst := image.NewGray(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), raw.Image, raw.Image.Bounds(), draw.Over, nil)
	return Frame{TimestampSeconds: raw.TimestampSeconds, Luminance: dst}
}

// Close releases decoder resources. Safe to call once after Next starts
// returning false or erroring.
func (s *Sequence) Close() error {
	return s.src.Close()
}

var errEOF = errSentinel{}

type errSentinel struct{}

func (errSentinel) Error() string { return "frame: end of stream" }

// ErrEOF is returned by a Source's Next method to signal a clean end of
// stream (as opposed to a decode failure).
var ErrEOF error = errEOF
