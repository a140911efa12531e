// Package codec implements the wire framing and message encode/decode for
// the file-share protocol: a 4-byte big-endian length prefix followed by a
// tagged-union payload (spec.md §4.1), generalized from the teacher's
// single-byte-id BitTorrent framing (internal/protocol/message.go).
package codec

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxFrameSize is the hard cap on a single frame's payload length
// (spec.md §4.1, §6). Exceeding it on decode is a fatal protocol error.
const MaxFrameSize = 100 * 1024 * 1024

// ChunkSize is the producer-side size of a ReceiveFilePart payload
// (spec.md §4.1, §9 — a convention enforced by the uploader, not the wire).
const ChunkSize = 50 * 1024

var (
	// ErrFrameTooLarge is returned when a decoded length prefix exceeds
	// MaxFrameSize.
	ErrFrameTooLarge = errors.New("codec: frame exceeds maximum size")
	// ErrShortFrame is returned when the reader is closed or errors before
	// a full frame's payload is available.
	ErrShortFrame = errors.New("codec: short frame")
)

// ReadFrame reads one length-prefixed frame from r, capped at MaxFrameSize.
// The returned slice is exactly the frame's payload bytes, with no length
// header.
func ReadFrame(r io.Reader) ([]byte, error) {
	return ReadFrameLimited(r, MaxFrameSize)
}

// ReadFrameLimited is ReadFrame with a caller-supplied cap, letting a
// Session enforce its configured MaxFrameSize instead of the package
// default.
func ReadFrameLimited(r io.Reader, maxSize uint32) ([]byte, error) {
	var lp [4]byte
	if _, err := io.ReadFull(r, lp[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lp[:])
	if length > maxSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "length %d", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(ErrShortFrame, err.Error())
	}

	return buf, nil
}

// WriteFrame writes payload as one length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return errors.Wrapf(ErrFrameTooLarge, "length %d", len(payload))
	}

	var lp [4]byte
	binary.BigEndian.PutUint32(lp[:], uint32(len(payload)))

	if _, err := w.Write(lp[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
