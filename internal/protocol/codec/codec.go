// Package codec encodes structured objects into binary message fields.
package codec

import (
	"errors"
	"fmt"

	"github.com/danmuck/nxwire/internal/protocol"
)

var ErrUnknownContentType = errors.New("codec: unknown content type")

// Codec marshals typed values. Implementations must be deterministic.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry returns a registry holding the JSON and CBOR codecs.
func NewRegistry() (*Registry, error) {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	c, err := CBOR()
	if err != nil {
		return nil, err
	}
	r.Register(c)
	return r, nil
}

// Register adds c, replacing any codec with the same content type.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns the codec for contentType, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

// Attach marshals v with c into a binary field dataID and records the
// content type in string field typeID.
func Attach(msg *protocol.Message, dataID, typeID uint32, c Codec, v any) error {
	b, err := c.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: marshal %s: %w", c.ContentType(), err)
	}
	msg.SetBinary(dataID, b)
	msg.SetString(typeID, c.ContentType())
	return nil
}

// Detach reads an object written by Attach, choosing the codec from the
// content type field.
func (r *Registry) Detach(msg *protocol.Message, dataID, typeID uint32, v any) error {
	contentType, err := msg.GetString(typeID)
	if err != nil {
		return err
	}
	c := r.Get(contentType)
	if c == nil {
		return fmt.Errorf("%w: %q", ErrUnknownContentType, contentType)
	}
	data, err := msg.GetBinary(dataID)
	if err != nil {
		return err
	}
	if err := c.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: unmarshal %s: %w", contentType, err)
	}
	return nil
}
