package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/nxwire/internal/protocol/tlv"
)

var (
	ErrLengthMismatch    = errors.New("protocol: length mismatch")
	ErrFrameTooLarge     = errors.New("protocol: frame too large")
	ErrFieldNotFound     = errors.New("protocol: field not found")
	ErrMixedBody         = errors.New("protocol: raw body and fields both set")
	ErrCorruptCompressed = errors.New("protocol: corrupt compressed body")
	ErrEncryptedBody     = errors.New("protocol: body is encrypted")
	ErrNotControl        = errors.New("protocol: not a control message")

	// Codec errors surface unchanged so callers can branch on one set.
	ErrTypeMismatch     = tlv.ErrTypeMismatch
	ErrUnknownFieldType = tlv.ErrUnknownFieldType
	ErrTruncatedField   = tlv.ErrTruncatedField
)

// FieldError reports a codec failure at a byte offset of the field block.
type FieldError struct {
	Offset int
	Err    error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("protocol: field block offset %d: %v", e.Offset, e.Err)
}

// Unwrap exposes the codec error. A truncated field is also a length
// mismatch of the enclosing block.
func (e FieldError) Unwrap() []error {
	if errors.Is(e.Err, tlv.ErrTruncatedField) {
		return []error{e.Err, ErrLengthMismatch}
	}
	return []error{e.Err}
}
