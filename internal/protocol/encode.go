package protocol

import (
	"fmt"
	"math"

	"github.com/danmuck/nxwire/internal/protocol/tlv"
)

// Encode returns the complete frame for m: header followed by the body.
func (m *Message) Encode() ([]byte, error) {
	h, body, err := m.EncodeBody()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, HeaderSize+len(body))
	out = AppendHeader(out, h)
	return append(out, body...), nil
}

// EncodeBody builds the wire body and the header describing it. When
// FlagCompressed is requested the body is deflated only if that makes it
// smaller; otherwise the flag is cleared on the returned header.
func (m *Message) EncodeBody() (Header, []byte, error) {
	block, err := m.block()
	if err != nil {
		return Header{}, nil, err
	}
	flags := m.Flags &^ (FlagCompressed | FlagEncrypted)
	if m.Flags&FlagCompressed != 0 {
		if packed, ok := compressBlock(block); ok {
			block = packed
			flags |= FlagCompressed
		}
	}
	if uint64(len(block)) > math.MaxUint32 {
		return Header{}, nil, fmt.Errorf("%w: body %d bytes", ErrFrameTooLarge, len(block))
	}
	return Header{Code: m.Code, Flags: flags, Length: uint32(len(block)), ID: m.ID}, block, nil
}

// block returns the uncompressed body: the raw body for binary/control
// messages, otherwise all fields in ascending id order.
func (m *Message) block() ([]byte, error) {
	if m.hasRawBody() {
		if len(m.fields) > 0 {
			return nil, ErrMixedBody
		}
		return m.Raw(), nil
	}
	size := 0
	fields := m.Fields()
	for _, f := range fields {
		n, err := tlv.Size(f)
		if err != nil {
			return nil, fmt.Errorf("protocol: field %d: %w", f.ID, err)
		}
		size += n
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		var err error
		out, err = tlv.AppendField(out, f)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
