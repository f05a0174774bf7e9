package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hydrusvideodeduplicator/hvdedup/internal/pdqhash"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/vpdq"
)

// Fingerprint BLOB wire format (spec §6), big-endian throughout:
//
//	media_id_len  uint16
//	media_id      []byte
//	flags         uint8
//	frame_count   uint32
//	frames        [frame_count] of:
//	    hash        [32]byte
//	    quality     uint8
//	    timestamp   float32

const frameRecordSize = 32 + 1 + 4

func encodeFingerprint(mediaID string, fp vpdq.Fingerprint) ([]byte, error) {
	if len(mediaID) > math.MaxUint16 {
		return nil, fmt.Errorf("store: media id too long: %d bytes", len(mediaID))
	}
	if len(fp) > math.MaxUint32 {
		return nil, fmt.Errorf("store: fingerprint too long: %d frames", len(fp))
	}

	size := 2 + len(mediaID) + 1 + 4 + len(fp)*frameRecordSize
	buf := make([]byte, size)
	off := 0

	binary.BigEndian.PutUint16(buf[off:], uint16(len(mediaID)))
	off += 2
	copy(buf[off:], mediaID)
	off += len(mediaID)

	buf[off] = 0 // reserved entry-level flags byte
	off++

	binary.BigEndian.PutUint32(buf[off:], uint32(len(fp)))
	off += 4

	for _, rec := range fp {
		copy(buf[off:off+32], rec.Hash[:])
		off += 32

		buf[off] = uint8(rec.Quality)
		off++

		binary.BigEndian.PutUint32(buf[off:], math.Float32bits(float32(rec.TimestampSeconds)))
		off += 4
	}

	return buf, nil
}

func decodeFingerprint(data []byte) (mediaID string, fp vpdq.Fingerprint, err error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("truncated header")
	}
	off := 0
	idLen := int(binary.BigEndian.Uint16(data[off:]))
	off += 2

	if len(data) < off+idLen+1+4 {
		return "", nil, fmt.Errorf("truncated media id / flags / frame count")
	}
	mediaID = string(data[off : off+idLen])
	off += idLen

	off++ // reserved flags byte

	frameCount := int(binary.BigEndian.Uint32(data[off:]))
	off += 4

	want := off + frameCount*frameRecordSize
	if len(data) != want {
		return "", nil, fmt.Errorf("length mismatch: have %d bytes, want %d for %d frames", len(data), want, frameCount)
	}

	fp = make(vpdq.Fingerprint, frameCount)
	for i := 0; i < frameCount; i++ {
		var rec vpdq.FrameRecord
		var h pdqhash.Hash
		copy(h[:], data[off:off+32])
		off += 32
		rec.Hash = h

		rec.Quality = int(data[off])
		off++

		bits := binary.BigEndian.Uint32(data[off:])
		off += 4
		rec.TimestampSeconds = float64(math.Float32frombits(bits))
		rec.LowQuality = rec.Quality < lowQualityThreshold

		fp[i] = rec
	}

	return mediaID, fp, nil
}

// lowQualityThreshold mirrors pdq.LowQualityThreshold without an import
// cycle (pdq does not depend on store, but vpdq.FrameRecord.LowQuality is
// recomputed on decode rather than persisted as a bit, to keep the wire
// format's flags byte free for future use).
const lowQualityThreshold = 50
