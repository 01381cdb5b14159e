package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// HeaderSize is the fixed frame header length.
const HeaderSize = 12

// Version is the protocol version advertised in capability replies.
const Version = 2

// DefaultMaxFrameSize bounds body and uncompressed body sizes when callers do
// not supply a limit.
const DefaultMaxFrameSize = 8 * 1024 * 1024

// CompressThreshold is the smallest body considered for compression.
const CompressThreshold = 128

// ExtensionFieldBase starts the extension field id range. Fields in this
// range are carried through unchanged by peers that do not know them.
const ExtensionFieldBase uint32 = 0x80000000

// Reserved field ids used by the core itself.
const (
	FieldTransferData   uint32 = 0x7FFFFF01
	FieldTransferOffset uint32 = 0x7FFFFF02
	FieldTransferSize   uint32 = 0x7FFFFF03
)

// Flags is the header flag bitset.
type Flags uint16

const (
	FlagCompressed      Flags = 0x0001
	FlagChunked         Flags = 0x0002
	FlagEndOfTransfer   Flags = 0x0004
	FlagStartOfTransfer Flags = 0x0008
	FlagBinary          Flags = 0x0010
	FlagControl         Flags = 0x0020
	FlagEncrypted       Flags = 0x0040
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagCompressed, "compressed"},
	{FlagChunked, "chunked"},
	{FlagEndOfTransfer, "end"},
	{FlagStartOfTransfer, "start"},
	{FlagBinary, "binary"},
	{FlagControl, "control"},
	{FlagEncrypted, "encrypted"},
}

// Has reports whether every bit of mask is set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	parts := make([]string, 0, 4)
	rest := f
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%04x", uint16(rest)))
	}
	return strings.Join(parts, "|")
}

// Header is the fixed wire header.
type Header struct {
	Code   uint16
	Flags  Flags
	Length uint32
	ID     uint32
}

// EncodeHeader returns the 12-byte wire form of h.
func EncodeHeader(h Header) []byte {
	return AppendHeader(make([]byte, 0, HeaderSize), h)
}

// AppendHeader appends the wire form of h to dst.
func AppendHeader(dst []byte, h Header) []byte {
	dst = binary.BigEndian.AppendUint16(dst, h.Code)
	dst = binary.BigEndian.AppendUint16(dst, uint16(h.Flags))
	dst = binary.BigEndian.AppendUint32(dst, h.Length)
	return binary.BigEndian.AppendUint32(dst, h.ID)
}

// ParseHeader decodes the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header (%d bytes)", ErrLengthMismatch, len(b))
	}
	return Header{
		Code:   binary.BigEndian.Uint16(b[0:2]),
		Flags:  Flags(binary.BigEndian.Uint16(b[2:4])),
		Length: binary.BigEndian.Uint32(b[4:8]),
		ID:     binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// Command codes the session core handles itself.
const (
	CodeAbortTransfer uint16 = 0x0072
	CodeGetCaps       uint16 = 0x00B6
	CodeCaps          uint16 = 0x00B7
)

// FallbackVersion is assumed for peers that do not answer CodeGetCaps.
const FallbackVersion = 1
