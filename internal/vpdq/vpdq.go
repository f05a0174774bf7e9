// Package vpdq orchestrates frame extraction and PDQ hashing into a video
// fingerprint: an ordered, adjacent-duplicate-collapsed sequence of
// per-frame hashes, qualities, and timestamps.
//
// Grounded on original_source's vpdqpy.Vpdq.computeHash (extract -> hash ->
// dedupe_features), reshaped into idiomatic Go types.
package vpdq

import (
	"fmt"

	"github.com/hydrusvideodeduplicator/hvdedup/internal/frame"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/pdq"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/pdqhash"
)

// FrameRecord is one retained frame of a fingerprint.
type FrameRecord struct {
	Hash             pdqhash.Hash
	Quality          int // 0..100
	TimestampSeconds float64
	LowQuality       bool // Quality < pdq.LowQualityThreshold
}

// Fingerprint is the ordered, non-empty (unless the video failed to decode)
// sequence of FrameRecords produced for one video. Adjacent frames never
// share a Hash (see Hasher.HashVideo).
type Fingerprint []FrameRecord

// FailedError wraps an unrecoverable extraction/hashing failure for one
// video; the caller records it as a `failed=true` store entry.
type FailedError struct {
	Err error
}

func (e *FailedError) Error() string { return fmt.Sprintf("vpdq: %v", e.Err) }
func (e *FailedError) Unwrap() error { return e.Err }

// Hasher drives a frame.Extractor and pdq.Hash over one video.
type Hasher struct {
	extractor *frame.Extractor
}

// New creates a Hasher backed by extractor.
func New(extractor *frame.Extractor) *Hasher {
	return &Hasher{extractor: extractor}
}

// HashVideo produces a Fingerprint for one video's bytes. A *FailedError is
// returned only when extraction or hashing fails on the first frame
// (frame.DecodeError, frame.CorruptStreamError or pdq.HashError) or the
// decoder never produced any frames;
// errors on subsequent frames are swallowed and the partial prefix is kept,
// per spec §4.1.
func (h *Hasher) HashVideo(r frame.ByteSource) (Fingerprint, error) {
	seq, err := h.extractor.Extract(r)
	if err != nil {
		return nil, &FailedError{Err: err}
	}
	defer seq.Close()

	var fp Fingerprint
	for {
		f, ok, err := seq.Next()
		if err != nil {
			if len(fp) == 0 {
				return nil, &FailedError{Err: err}
			}
			break // mid-stream failure: keep the usable prefix
		}
		if !ok {
			break
		}

		res, err := pdq.Hash(f.Luminance)
		if err != nil {
			if len(fp) == 0 {
				return nil, &FailedError{Err: err}
			}
			break
		}

		rec := FrameRecord{
			Hash:             res.Hash,
			Quality:          res.Quality,
			TimestampSeconds: f.TimestampSeconds,
			LowQuality:       res.Quality < pdq.LowQualityThreshold,
		}

		// Adjacent-duplicate collapse: exact match only.
		if n := len(fp); n > 0 && fp[n-1].Hash == rec.Hash {
			continue
		}
		fp = append(fp, rec)
	}

	if len(fp) == 0 {
		return nil, &FailedError{Err: errNoFrames}
	}
	return fp, nil
}

var errNoFrames = noFramesError{}

type noFramesError struct{}

func (noFramesError) Error() string { return "vpdq: no frames decoded" }

// Retained returns the frames eligible for similarity matching: those not
// marked LowQuality.
func (fp Fingerprint) Retained() []FrameRecord {
	out := make([]FrameRecord, 0, len(fp))
	for _, r := range fp {
		if !r.LowQuality {
			out = append(out, r)
		}
	}
	return out
}
