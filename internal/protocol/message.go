package protocol

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/danmuck/nxwire/internal/protocol/tlv"
)

// Message is one protocol message: a header plus either a set of fields
// keyed by id or, for binary and control messages, a raw body.
//
// A Message is not safe for concurrent mutation. Decoded messages are
// treated as read-only by consumers.
type Message struct {
	Code  uint16
	ID    uint32
	Flags Flags

	fields map[uint32]tlv.Field
	raw    []byte
}

// Filler is implemented by application objects that serialize themselves
// into a message starting at a base field id.
type Filler interface {
	FillMessage(m *Message, base uint32)
}

// Loader is implemented by application objects that restore themselves from
// a message starting at a base field id.
type Loader interface {
	LoadMessage(m *Message, base uint32) error
}

// New returns an empty field message.
func New(code uint16, id uint32) *Message {
	return &Message{Code: code, ID: id, fields: make(map[uint32]tlv.Field)}
}

// NewBinary returns a raw binary message holding a copy of data.
func NewBinary(code uint16, id uint32, data []byte) *Message {
	m := New(code, id)
	m.Flags = FlagBinary
	m.SetRaw(data)
	return m
}

// NewControl returns a control message carrying a single 32-bit word.
func NewControl(code uint16, id uint32, word uint32) *Message {
	m := New(code, id)
	m.Flags = FlagControl
	m.raw = binary.BigEndian.AppendUint32(nil, word)
	return m
}

// IsBinary reports whether the message body is a raw attachment.
func (m *Message) IsBinary() bool { return m.Flags&FlagBinary != 0 }

// IsControl reports whether the message is a control message.
func (m *Message) IsControl() bool { return m.Flags&FlagControl != 0 }

func (m *Message) hasRawBody() bool { return m.IsBinary() || m.IsControl() }

// Set upserts f; a field with the same id is replaced.
func (m *Message) Set(f tlv.Field) {
	if m.fields == nil {
		m.fields = make(map[uint32]tlv.Field)
	}
	m.fields[f.ID] = f
}

// Get returns the field with the given id.
func (m *Message) Get(id uint32) (tlv.Field, bool) {
	f, ok := m.fields[id]
	return f, ok
}

// Has reports whether a field with the given id is present.
func (m *Message) Has(id uint32) bool {
	_, ok := m.fields[id]
	return ok
}

// Delete removes a field. Deleting an absent id is a no-op.
func (m *Message) Delete(id uint32) {
	delete(m.fields, id)
}

// Len returns the number of fields.
func (m *Message) Len() int { return len(m.fields) }

// Fields returns all fields ordered by ascending id.
func (m *Message) Fields() []tlv.Field {
	out := make([]tlv.Field, 0, len(m.fields))
	for _, f := range m.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Extensions returns fields in the extension id range, ordered by id.
func (m *Message) Extensions() []tlv.Field {
	out := make([]tlv.Field, 0)
	for _, f := range m.Fields() {
		if f.ID >= ExtensionFieldBase {
			out = append(out, f)
		}
	}
	return out
}

// Raw returns a copy of the raw body of a binary or control message.
func (m *Message) Raw() []byte {
	buf := make([]byte, len(m.raw))
	copy(buf, m.raw)
	return buf
}

// RawLen returns the raw body length without copying.
func (m *Message) RawLen() int { return len(m.raw) }

// SetRaw replaces the raw body with a copy of data.
func (m *Message) SetRaw(data []byte) {
	m.raw = make([]byte, len(data))
	copy(m.raw, data)
}

// ControlWord returns the 32-bit word carried by a control message.
func (m *Message) ControlWord() (uint32, error) {
	if !m.IsControl() {
		return 0, ErrNotControl
	}
	if len(m.raw) != 4 {
		return 0, fmt.Errorf("%w: control body %d bytes", ErrLengthMismatch, len(m.raw))
	}
	return binary.BigEndian.Uint32(m.raw), nil
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	out := &Message{Code: m.Code, ID: m.ID, Flags: m.Flags, fields: make(map[uint32]tlv.Field, len(m.fields))}
	for id, f := range m.fields {
		v := make([]byte, len(f.Value))
		copy(v, f.Value)
		out.fields[id] = tlv.Field{ID: f.ID, Type: f.Type, Value: v}
	}
	if m.raw != nil {
		out.SetRaw(m.raw)
	}
	return out
}

// Reply returns an empty message with the given code and the correlation id of m.
func (m *Message) Reply(code uint16) *Message {
	return New(code, m.ID)
}

func (m *Message) String() string {
	if m.hasRawBody() {
		return fmt.Sprintf("msg(code=0x%04x id=%d flags=%s raw=%d)", m.Code, m.ID, m.Flags, len(m.raw))
	}
	return fmt.Sprintf("msg(code=0x%04x id=%d flags=%s fields=%d)", m.Code, m.ID, m.Flags, len(m.fields))
}
