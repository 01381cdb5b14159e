package protocol

import (
	"fmt"

	"github.com/danmuck/nxwire/internal/protocol/tlv"
)

// Decode parses one complete frame. The buffer must hold exactly the header
// and the declared body; anything else is ErrLengthMismatch.
func Decode(b []byte) (*Message, error) {
	return DecodeLimit(b, DefaultMaxFrameSize)
}

// DecodeLimit is Decode with an explicit bound on body and inflated sizes.
func DecodeLimit(b []byte, limit uint32) (*Message, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if got := uint64(len(b) - HeaderSize); got != uint64(h.Length) {
		return nil, fmt.Errorf("%w: header declares %d body bytes, have %d", ErrLengthMismatch, h.Length, got)
	}
	if h.Flags&FlagEncrypted != 0 {
		return nil, ErrEncryptedBody
	}
	return DecodeBody(h, b[HeaderSize:], limit)
}

// DecodeBody parses a body that has already been separated from its header.
// Sealed bodies must be opened first, with h.Length set to the opened size.
func DecodeBody(h Header, body []byte, limit uint32) (*Message, error) {
	if limit == 0 {
		limit = DefaultMaxFrameSize
	}
	if uint64(len(body)) != uint64(h.Length) {
		return nil, fmt.Errorf("%w: header declares %d body bytes, have %d", ErrLengthMismatch, h.Length, len(body))
	}
	if uint64(len(body)) > uint64(limit) {
		return nil, fmt.Errorf("%w: body %d bytes, limit %d", ErrFrameTooLarge, len(body), limit)
	}
	block := body
	if h.Flags&FlagCompressed != 0 {
		var err error
		block, err = decompressBlock(body, limit)
		if err != nil {
			return nil, err
		}
	}

	m := New(h.Code, h.ID)
	m.Flags = h.Flags &^ (FlagCompressed | FlagEncrypted)
	if m.hasRawBody() {
		m.SetRaw(block)
		if m.IsControl() && !m.IsBinary() && len(block) != 4 {
			return nil, fmt.Errorf("%w: control body %d bytes", ErrLengthMismatch, len(block))
		}
		return m, nil
	}

	for cursor := 0; cursor < len(block); {
		f, next, err := tlv.DecodeField(block, cursor)
		if err != nil {
			return nil, FieldError{Offset: cursor, Err: err}
		}
		m.fields[f.ID] = f
		cursor = next
	}
	return m, nil
}
