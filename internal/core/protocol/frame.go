package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// WriteFrame writes p prefixed with its little-endian uint32 length.
func WriteFrame(w io.Writer, p []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(p)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(p)
	return err
}

// ReadFrame reads one frame written by WriteFrame. Frames larger than limit are
// rejected before their body is read.
func ReadFrame(r io.Reader, limit uint32) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > limit {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d > %d", n, limit)
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, errors.Wrap(ErrConnectionLost, err.Error())
	}
	return p, nil
}
