package tlv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderLen is id(4) + type(1).
const HeaderLen = 5

// lengthPrefixLen is the byte-count / element-count prefix of variable types.
const lengthPrefixLen = 4

var (
	ErrUnknownFieldType = errors.New("tlv: unknown field type")
	ErrTruncatedField   = errors.New("tlv: truncated field")
	ErrTypeMismatch     = errors.New("tlv: field type mismatch")
	ErrInvalidLength    = errors.New("tlv: invalid value length")
)

// Type is the on-wire type tag.
type Type uint8

// Type tags from the wire contract.
const (
	TypeInt16      Type = 1
	TypeUint16     Type = 2
	TypeInt32      Type = 3
	TypeUint32     Type = 4
	TypeInt64      Type = 5
	TypeUint64     Type = 6
	TypeFloat64    Type = 7
	TypeString     Type = 8
	TypeBinary     Type = 9
	TypeInt32Array Type = 10
)

var typeNames = map[Type]string{
	TypeInt16:      "int16",
	TypeUint16:     "uint16",
	TypeInt32:      "int32",
	TypeUint32:     "uint32",
	TypeInt64:      "int64",
	TypeUint64:     "uint64",
	TypeFloat64:    "float64",
	TypeString:     "string",
	TypeBinary:     "binary",
	TypeInt32Array: "int32array",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Known reports whether t is a type tag this codec can decode.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseType resolves a type name produced by Type.String.
func ParseType(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// fixedWidth returns the payload size of fixed-width types, or -1.
func fixedWidth(t Type) int {
	switch t {
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32:
		return 4
	case TypeInt64, TypeUint64, TypeFloat64:
		return 8
	default:
		return -1
	}
}

// Field is one typed value. Value holds the big-endian payload without the
// length/count prefix of variable types.
type Field struct {
	ID    uint32
	Type  Type
	Value []byte
}

// Equal reports whether two fields carry the same id, type and payload.
func (f Field) Equal(o Field) bool {
	return f.ID == o.ID && f.Type == o.Type && bytes.Equal(f.Value, o.Value)
}

// Size returns the encoded size of f.
func Size(f Field) (int, error) {
	if w := fixedWidth(f.Type); w >= 0 {
		if len(f.Value) != w {
			return 0, ErrInvalidLength
		}
		return HeaderLen + w, nil
	}
	switch f.Type {
	case TypeString, TypeBinary:
		if uint64(len(f.Value)) > math.MaxUint32 {
			return 0, ErrInvalidLength
		}
	case TypeInt32Array:
		if len(f.Value)%4 != 0 || uint64(len(f.Value)/4) > math.MaxUint32 {
			return 0, ErrInvalidLength
		}
	default:
		return 0, ErrUnknownFieldType
	}
	return HeaderLen + lengthPrefixLen + len(f.Value), nil
}

// EncodeField returns the wire form of f.
func EncodeField(f Field) ([]byte, error) {
	n, err := Size(f)
	if err != nil {
		return nil, err
	}
	return AppendField(make([]byte, 0, n), f)
}

// AppendField appends the wire form of f to dst.
func AppendField(dst []byte, f Field) ([]byte, error) {
	if _, err := Size(f); err != nil {
		return dst, fmt.Errorf("field %d: %w", f.ID, err)
	}
	dst = binary.BigEndian.AppendUint32(dst, f.ID)
	dst = append(dst, byte(f.Type))
	switch f.Type {
	case TypeString, TypeBinary:
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.Value)))
	case TypeInt32Array:
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.Value)/4))
	}
	return append(dst, f.Value...), nil
}

// DecodeField decodes one field starting at cursor. b must end at the
// enclosing field block boundary; nothing past len(b) is read.
func DecodeField(b []byte, cursor int) (Field, int, error) {
	if cursor < 0 || cursor > len(b) {
		return Field{}, cursor, ErrTruncatedField
	}
	if len(b)-cursor < HeaderLen {
		return Field{}, cursor, ErrTruncatedField
	}
	id := binary.BigEndian.Uint32(b[cursor : cursor+4])
	t := Type(b[cursor+4])
	pos := cursor + HeaderLen

	var n int
	if w := fixedWidth(t); w >= 0 {
		n = w
	} else {
		switch t {
		case TypeString, TypeBinary, TypeInt32Array:
		default:
			return Field{}, cursor, fmt.Errorf("%w: tag=%d id=%d", ErrUnknownFieldType, uint8(t), id)
		}
		if len(b)-pos < lengthPrefixLen {
			return Field{}, cursor, ErrTruncatedField
		}
		count := uint64(binary.BigEndian.Uint32(b[pos : pos+lengthPrefixLen]))
		pos += lengthPrefixLen
		if t == TypeInt32Array {
			count *= 4
		}
		if count > uint64(len(b)-pos) {
			return Field{}, cursor, ErrTruncatedField
		}
		n = int(count)
	}
	if len(b)-pos < n {
		return Field{}, cursor, ErrTruncatedField
	}
	value := make([]byte, n)
	copy(value, b[pos:pos+n])
	return Field{ID: id, Type: t, Value: value}, pos + n, nil
}

// DecodeFields decodes a whole field block. Later duplicates are kept in
// order; callers that index by id get last-wins semantics.
func DecodeFields(block []byte) ([]Field, error) {
	fields := make([]Field, 0, 4)
	for cursor := 0; cursor < len(block); {
		f, next, err := DecodeField(block, cursor)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		cursor = next
	}
	return fields, nil
}

// EncodeFields concatenates the wire form of fields in the given order.
func EncodeFields(fields []Field) ([]byte, error) {
	out := make([]byte, 0)
	for _, f := range fields {
		var err error
		out, err = AppendField(out, f)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func MustType(f Field, expected Type) error {
	if f.Type != expected {
		return fmt.Errorf("%w: field %d got %s want %s", ErrTypeMismatch, f.ID, f.Type, expected)
	}
	return nil
}
