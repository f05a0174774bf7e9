package search

import (
	"math"

	"github.com/hydrusvideodeduplicator/hvdedup/internal/pdqhash"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/vpdq"
)

// Radius converts a similarity percentage S (0-100) into the maximum
// Hamming distance two frame hashes may differ by and still count as
// matching: r = round((100-S) * 256 / 100 / 2).
func Radius(similarityPercent int) int {
	return int(math.Round(float64(100-similarityPercent) * 256.0 / 100.0 / 2.0))
}

// Score is the outcome of comparing two fingerprints' retained frames.
type Score struct {
	MatchFractionA float64 // matched(A->B) / |retained(A)|
	MatchFractionB float64 // matched(B->A) / |retained(B)|
}

// Average is the reported pair score: the mean of the two match fractions.
func (s Score) Average() float64 { return (s.MatchFractionA + s.MatchFractionB) / 2 }

// Passes reports whether the score clears the S/100 threshold. With the
// default symmetric gate both fractions must clear it (prevents a short
// clip embedded in a long film from matching one-sidedly); oneSided gates
// on A's fraction alone, for callers preserving a legacy threshold.
func (s Score) Passes(similarityPercent int, oneSided bool) bool {
	threshold := float64(similarityPercent) / 100
	if oneSided {
		return s.MatchFractionA >= threshold
	}
	return s.MatchFractionA >= threshold && s.MatchFractionB >= threshold
}

// Compare computes the vPDQ set-similarity between a and b, excluding
// low-quality frames on both sides (Fingerprint.Retained).
func Compare(a, b vpdq.Fingerprint, radius int) Score {
	ra, rb := a.Retained(), b.Retained()
	return Score{
		MatchFractionA: matchFraction(ra, rb, radius),
		MatchFractionB: matchFraction(rb, ra, radius),
	}
}

// matchFraction returns, for each frame in from, whether its nearest
// neighbor in to lies within radius — the fraction of from that matched.
func matchFraction(from, to []vpdq.FrameRecord, radius int) float64 {
	if len(from) == 0 {
		return 0
	}
	matched := 0
	for _, f := range from {
		best := -1
		for _, t := range to {
			if d := pdqhash.Distance(f.Hash, t.Hash); best == -1 || d < best {
				best = d
			}
		}
		if best != -1 && best <= radius {
			matched++
		}
	}
	return float64(matched) / float64(len(from))
}
