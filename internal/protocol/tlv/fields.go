package tlv

import (
	"encoding/binary"
	"math"
)

// NewInt16 creates an int16 field.
func NewInt16(id uint32, v int16) Field {
	return NewUint16(id, uint16(v)).retag(TypeInt16)
}

// NewUint16 creates a uint16 field.
func NewUint16(id uint32, v uint16) Field {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return Field{ID: id, Type: TypeUint16, Value: buf}
}

// NewInt32 creates an int32 field.
func NewInt32(id uint32, v int32) Field {
	return NewUint32(id, uint32(v)).retag(TypeInt32)
}

// NewUint32 creates a uint32 field.
func NewUint32(id uint32, v uint32) Field {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return Field{ID: id, Type: TypeUint32, Value: buf}
}

// NewInt64 creates an int64 field.
func NewInt64(id uint32, v int64) Field {
	return NewUint64(id, uint64(v)).retag(TypeInt64)
}

// NewUint64 creates a uint64 field.
func NewUint64(id uint32, v uint64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return Field{ID: id, Type: TypeUint64, Value: buf}
}

// NewFloat64 creates an IEEE-754 double field.
func NewFloat64(id uint32, v float64) Field {
	return NewUint64(id, math.Float64bits(v)).retag(TypeFloat64)
}

// NewString creates a UTF-8 string field.
func NewString(id uint32, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

// NewBinary creates a binary field holding a copy of v.
func NewBinary(id uint32, v []byte) Field {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Field{ID: id, Type: TypeBinary, Value: buf}
}

// NewInt32Array creates an int32 array field.
func NewInt32Array(id uint32, v []int32) Field {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.BigEndian.PutUint32(buf[4*i:], uint32(x))
	}
	return Field{ID: id, Type: TypeInt32Array, Value: buf}
}

func (f Field) retag(t Type) Field {
	f.Type = t
	return f
}

func (f Field) fixed(t Type) ([]byte, error) {
	if err := MustType(f, t); err != nil {
		return nil, err
	}
	if len(f.Value) != fixedWidth(t) {
		return nil, ErrInvalidLength
	}
	return f.Value, nil
}

// Int16 returns the field value as int16.
func (f Field) Int16() (int16, error) {
	b, err := f.fixed(TypeInt16)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

// Uint16 returns the field value as uint16.
func (f Field) Uint16() (uint16, error) {
	b, err := f.fixed(TypeUint16)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// Int32 returns the field value as int32.
func (f Field) Int32() (int32, error) {
	b, err := f.fixed(TypeInt32)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// Uint32 returns the field value as uint32.
func (f Field) Uint32() (uint32, error) {
	b, err := f.fixed(TypeUint32)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Int64 returns the field value as int64.
func (f Field) Int64() (int64, error) {
	b, err := f.fixed(TypeInt64)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// Uint64 returns the field value as uint64.
func (f Field) Uint64() (uint64, error) {
	b, err := f.fixed(TypeUint64)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Float64 returns the field value as float64.
func (f Field) Float64() (float64, error) {
	b, err := f.fixed(TypeFloat64)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// Str returns the field value as string.
func (f Field) Str() (string, error) {
	if err := MustType(f, TypeString); err != nil {
		return "", err
	}
	return string(f.Value), nil
}

// Binary returns a copy of the field value.
func (f Field) Binary() ([]byte, error) {
	if err := MustType(f, TypeBinary); err != nil {
		return nil, err
	}
	buf := make([]byte, len(f.Value))
	copy(buf, f.Value)
	return buf, nil
}

// Int32Array returns the field value as a slice of int32.
func (f Field) Int32Array() ([]int32, error) {
	if err := MustType(f, TypeInt32Array); err != nil {
		return nil, err
	}
	if len(f.Value)%4 != 0 {
		return nil, ErrInvalidLength
	}
	out := make([]int32, len(f.Value)/4)
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(f.Value[4*i:]))
	}
	return out, nil
}
