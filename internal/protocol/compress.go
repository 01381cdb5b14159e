package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// compressBlock returns uncompressed_length:u32 followed by a zlib stream.
// ok is false when the block is too small or does not shrink.
func compressBlock(block []byte) ([]byte, bool) {
	if len(block) <= CompressThreshold {
		return nil, false
	}
	var buf bytes.Buffer
	buf.Grow(len(block) / 2)
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(block)))
	buf.Write(prefix[:])

	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, false
	}
	if _, err := zw.Write(block); err != nil {
		return nil, false
	}
	if err := zw.Close(); err != nil {
		return nil, false
	}
	if buf.Len() >= len(block) {
		return nil, false
	}
	return buf.Bytes(), true
}

// decompressBlock inflates a compressed body. The declared uncompressed
// length is checked against limit before any allocation.
func decompressBlock(body []byte, limit uint32) ([]byte, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("%w: compressed body %d bytes", ErrLengthMismatch, len(body))
	}
	n := binary.BigEndian.Uint32(body[0:4])
	if n > limit {
		return nil, fmt.Errorf("%w: uncompressed %d bytes, limit %d", ErrFrameTooLarge, n, limit)
	}
	zr, err := zlib.NewReader(bytes.NewReader(body[4:]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCompressed, err)
	}
	defer zr.Close()

	out := make([]byte, n)
	if _, err := io.ReadFull(zr, out); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: inflated body shorter than %d bytes", ErrLengthMismatch, n)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptCompressed, err)
	}
	var probe [1]byte
	if k, err := zr.Read(probe[:]); k > 0 {
		return nil, fmt.Errorf("%w: inflated body longer than %d bytes", ErrLengthMismatch, n)
	} else if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCompressed, err)
	}
	return out, nil
}
