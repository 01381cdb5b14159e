package protocol

import (
	"fmt"
	"time"

	"github.com/danmuck/nxwire/internal/protocol/tlv"
)

func (m *Message) SetInt16(id uint32, v int16)   { m.Set(tlv.NewInt16(id, v)) }
func (m *Message) SetUint16(id uint32, v uint16) { m.Set(tlv.NewUint16(id, v)) }
func (m *Message) SetInt32(id uint32, v int32)   { m.Set(tlv.NewInt32(id, v)) }
func (m *Message) SetUint32(id uint32, v uint32) { m.Set(tlv.NewUint32(id, v)) }
func (m *Message) SetInt64(id uint32, v int64)   { m.Set(tlv.NewInt64(id, v)) }
func (m *Message) SetUint64(id uint32, v uint64) { m.Set(tlv.NewUint64(id, v)) }
func (m *Message) SetFloat64(id uint32, v float64) {
	m.Set(tlv.NewFloat64(id, v))
}
func (m *Message) SetString(id uint32, v string)   { m.Set(tlv.NewString(id, v)) }
func (m *Message) SetBinary(id uint32, v []byte)   { m.Set(tlv.NewBinary(id, v)) }
func (m *Message) SetInt32Array(id uint32, v []int32) {
	m.Set(tlv.NewInt32Array(id, v))
}

// SetBool stores v as an int16 0/1 field.
func (m *Message) SetBool(id uint32, v bool) {
	var n int16
	if v {
		n = 1
	}
	m.SetInt16(id, n)
}

// SetTime stores t as int64 unix seconds. The zero time is stored as 0.
func (m *Message) SetTime(id uint32, t time.Time) {
	if t.IsZero() {
		m.SetInt64(id, 0)
		return
	}
	m.SetInt64(id, t.Unix())
}

// SetStrings stores the element count at countID and the elements at
// consecutive ids starting from baseID.
func (m *Message) SetStrings(countID, baseID uint32, values []string) {
	m.SetUint32(countID, uint32(len(values)))
	for i, v := range values {
		m.SetString(baseID+uint32(i), v)
	}
}

func (m *Message) field(id uint32) (tlv.Field, error) {
	f, ok := m.fields[id]
	if !ok {
		return tlv.Field{}, fmt.Errorf("%w: id=%d", ErrFieldNotFound, id)
	}
	return f, nil
}

func (m *Message) GetInt16(id uint32) (int16, error) {
	f, err := m.field(id)
	if err != nil {
		return 0, err
	}
	return f.Int16()
}

func (m *Message) GetUint16(id uint32) (uint16, error) {
	f, err := m.field(id)
	if err != nil {
		return 0, err
	}
	return f.Uint16()
}

func (m *Message) GetInt32(id uint32) (int32, error) {
	f, err := m.field(id)
	if err != nil {
		return 0, err
	}
	return f.Int32()
}

func (m *Message) GetUint32(id uint32) (uint32, error) {
	f, err := m.field(id)
	if err != nil {
		return 0, err
	}
	return f.Uint32()
}

func (m *Message) GetInt64(id uint32) (int64, error) {
	f, err := m.field(id)
	if err != nil {
		return 0, err
	}
	return f.Int64()
}

func (m *Message) GetUint64(id uint32) (uint64, error) {
	f, err := m.field(id)
	if err != nil {
		return 0, err
	}
	return f.Uint64()
}

func (m *Message) GetFloat64(id uint32) (float64, error) {
	f, err := m.field(id)
	if err != nil {
		return 0, err
	}
	return f.Float64()
}

func (m *Message) GetString(id uint32) (string, error) {
	f, err := m.field(id)
	if err != nil {
		return "", err
	}
	return f.Str()
}

func (m *Message) GetBinary(id uint32) ([]byte, error) {
	f, err := m.field(id)
	if err != nil {
		return nil, err
	}
	return f.Binary()
}

func (m *Message) GetInt32Array(id uint32) ([]int32, error) {
	f, err := m.field(id)
	if err != nil {
		return nil, err
	}
	return f.Int32Array()
}

// GetBool reads an int16 field as a boolean; any non-zero value is true.
func (m *Message) GetBool(id uint32) (bool, error) {
	v, err := m.GetInt16(id)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// GetTime reads an int64 unix-seconds field. Zero yields the zero time.
func (m *Message) GetTime(id uint32) (time.Time, error) {
	v, err := m.GetInt64(id)
	if err != nil {
		return time.Time{}, err
	}
	if v == 0 {
		return time.Time{}, nil
	}
	return time.Unix(v, 0), nil
}

// GetStrings reads a list written by SetStrings.
func (m *Message) GetStrings(countID, baseID uint32) ([]string, error) {
	n, err := m.GetUint32(countID)
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(len(m.fields)) {
		return nil, fmt.Errorf("%w: list count %d exceeds field count", ErrLengthMismatch, n)
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := m.GetString(baseID + i)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
