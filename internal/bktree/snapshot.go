package bktree

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// snapshotVersion is bumped whenever the flat snapshot layout changes.
// LoadFrom refuses a snapshot stamped with a different version rather than
// guessing at a compatible reinterpretation.
const snapshotVersion = 1

// Snapshot layout (spec §4.5), big-endian throughout:
//
//	version      uint32
//	count        uint32
//	items        [count] of:
//	    hash         [32]byte
//	    media_id_len uint16
//	    media_id     []byte
//	    frame_index  uint32

// SnapshotTo writes every item in the tree to path in the flat binary
// snapshot format, for fast startup without rehashing the full store.
func (t *Tree) SnapshotTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("bktree: create snapshot: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	items := t.order

	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], snapshotVersion)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(items)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("bktree: write header: %w", err)
	}

	for _, it := range items {
		if len(it.MediaID) > math.MaxUint16 {
			return fmt.Errorf("bktree: media id too long: %d bytes", len(it.MediaID))
		}
		if _, err := w.Write(it.Hash[:]); err != nil {
			return fmt.Errorf("bktree: write hash: %w", err)
		}
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(it.MediaID)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("bktree: write media id length: %w", err)
		}
		if _, err := io.WriteString(w, it.MediaID); err != nil {
			return fmt.Errorf("bktree: write media id: %w", err)
		}
		var idxBuf [4]byte
		binary.BigEndian.PutUint32(idxBuf[:], uint32(it.FrameIndex))
		if _, err := w.Write(idxBuf[:]); err != nil {
			return fmt.Errorf("bktree: write frame index: %w", err)
		}
	}

	return w.Flush()
}

// ErrSnapshotVersionMismatch is returned by LoadFrom when the snapshot on
// disk was written by an incompatible version of this package.
type ErrSnapshotVersionMismatch struct {
	Found, Want uint32
}

func (e *ErrSnapshotVersionMismatch) Error() string {
	return fmt.Sprintf("bktree: snapshot version %d on disk, this build understands %d", e.Found, e.Want)
}

// LoadFrom reads a flat binary snapshot written by SnapshotTo and returns a
// populated Tree. Items are replayed through RebuildFrom in the exact order
// SnapshotTo wrote them, so the reloaded tree has the same shape as the one
// that was snapshotted (spec §4.5).
func LoadFrom(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bktree: open snapshot: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("bktree: read header: %w", err)
	}
	version := binary.BigEndian.Uint32(header[0:4])
	count := binary.BigEndian.Uint32(header[4:8])
	if version != snapshotVersion {
		return nil, &ErrSnapshotVersionMismatch{Found: version, Want: snapshotVersion}
	}

	items := make([]Item, 0, count)
	for i := uint32(0); i < count; i++ {
		var it Item
		if _, err := io.ReadFull(r, it.Hash[:]); err != nil {
			return nil, fmt.Errorf("bktree: read hash %d: %w", i, err)
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("bktree: read media id length %d: %w", i, err)
		}
		idLen := binary.BigEndian.Uint16(lenBuf[:])
		idBuf := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBuf); err != nil {
			return nil, fmt.Errorf("bktree: read media id %d: %w", i, err)
		}
		it.MediaID = string(idBuf)

		var idxBuf [4]byte
		if _, err := io.ReadFull(r, idxBuf[:]); err != nil {
			return nil, fmt.Errorf("bktree: read frame index %d: %w", i, err)
		}
		it.FrameIndex = int(binary.BigEndian.Uint32(idxBuf[:]))

		items = append(items, it)
	}

	t := &Tree{}
	t.RebuildFrom(items)
	return t, nil
}
