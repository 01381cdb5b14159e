package protocol

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/danmuck/nxwire/internal/protocol/tlv"
)

// ErrBadDocument is returned for XML documents that do not describe a message.
var ErrBadDocument = errors.New("protocol: bad xml document")

type xmlDocument struct {
	XMLName xml.Name   `xml:"nxwire"`
	Version int        `xml:"version,attr"`
	Message xmlMessage `xml:"message"`
}

type xmlMessage struct {
	Code   uint16     `xml:"code,attr"`
	ID     uint32     `xml:"id,attr"`
	Flags  uint16     `xml:"flags,attr,omitempty"`
	Raw    string     `xml:"raw,omitempty"`
	Fields []xmlField `xml:"field"`
}

type xmlField struct {
	ID       uint32 `xml:"id,attr"`
	Type     string `xml:"type,attr"`
	Encoding string `xml:"encoding,attr,omitempty"`
	Value    string `xml:"value"`
}

const xmlBase64 = "base64"

// MarshalXMLDocument renders m as a human-readable XML document. Binary
// values and raw bodies are base64 encoded, as are strings that cannot be
// carried as XML text.
func MarshalXMLDocument(m *Message) ([]byte, error) {
	doc := xmlDocument{
		Version: Version,
		Message: xmlMessage{Code: m.Code, ID: m.ID, Flags: uint16(m.Flags &^ (FlagCompressed | FlagEncrypted))},
	}
	if m.hasRawBody() {
		doc.Message.Raw = base64.StdEncoding.EncodeToString(m.raw)
	}
	for _, f := range m.Fields() {
		xf := xmlField{ID: f.ID, Type: f.Type.String()}
		if f.Type == tlv.TypeString && !isXMLText(f.Value) {
			xf.Encoding = xmlBase64
			xf.Value = base64.StdEncoding.EncodeToString(f.Value)
		} else {
			text, err := formatXMLValue(f)
			if err != nil {
				return nil, err
			}
			xf.Value = text
		}
		doc.Message.Fields = append(doc.Message.Fields, xf)
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// ParseXMLDocument builds a message from a document produced by
// MarshalXMLDocument.
func ParseXMLDocument(data []byte) (*Message, error) {
	var doc xmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDocument, err)
	}
	m := New(doc.Message.Code, doc.Message.ID)
	m.Flags = Flags(doc.Message.Flags)
	if m.hasRawBody() {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(doc.Message.Raw))
		if err != nil {
			return nil, fmt.Errorf("%w: raw body: %v", ErrBadDocument, err)
		}
		m.raw = raw
		if len(doc.Message.Fields) > 0 {
			return nil, ErrMixedBody
		}
		return m, nil
	}
	for _, xf := range doc.Message.Fields {
		t, ok := tlv.ParseType(xf.Type)
		if !ok {
			return nil, fmt.Errorf("%w: field %d type %q", ErrUnknownFieldType, xf.ID, xf.Type)
		}
		var f tlv.Field
		var err error
		switch {
		case xf.Encoding == "":
			f, err = parseXMLValue(xf.ID, t, xf.Value)
		case xf.Encoding == xmlBase64 && t == tlv.TypeString:
			var raw []byte
			raw, err = base64.StdEncoding.DecodeString(strings.TrimSpace(xf.Value))
			f = tlv.Field{ID: xf.ID, Type: tlv.TypeString, Value: raw}
		default:
			err = fmt.Errorf("unsupported encoding %q", xf.Encoding)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: field %d: %v", ErrBadDocument, xf.ID, err)
		}
		m.Set(f)
	}
	return m, nil
}

// isXMLText reports whether b is valid UTF-8 made only of characters XML
// 1.0 allows in text.
func isXMLText(b []byte) bool {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size <= 1 {
			return false
		}
		switch {
		case r == '\t', r == '\n', r == '\r':
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= 0x10FFFF:
		default:
			return false
		}
		b = b[size:]
	}
	return true
}

func formatXMLValue(f tlv.Field) (string, error) {
	switch f.Type {
	case tlv.TypeInt16:
		v, err := f.Int16()
		return strconv.FormatInt(int64(v), 10), err
	case tlv.TypeUint16:
		v, err := f.Uint16()
		return strconv.FormatUint(uint64(v), 10), err
	case tlv.TypeInt32:
		v, err := f.Int32()
		return strconv.FormatInt(int64(v), 10), err
	case tlv.TypeUint32:
		v, err := f.Uint32()
		return strconv.FormatUint(uint64(v), 10), err
	case tlv.TypeInt64:
		v, err := f.Int64()
		return strconv.FormatInt(v, 10), err
	case tlv.TypeUint64:
		v, err := f.Uint64()
		return strconv.FormatUint(v, 10), err
	case tlv.TypeFloat64:
		v, err := f.Float64()
		return strconv.FormatFloat(v, 'g', -1, 64), err
	case tlv.TypeString:
		return f.Str()
	case tlv.TypeBinary:
		return base64.StdEncoding.EncodeToString(f.Value), nil
	case tlv.TypeInt32Array:
		vs, err := f.Int32Array()
		if err != nil {
			return "", err
		}
		parts := make([]string, len(vs))
		for i, v := range vs {
			parts[i] = strconv.FormatInt(int64(v), 10)
		}
		return strings.Join(parts, " "), nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnknownFieldType, f.Type)
	}
}

func parseXMLValue(id uint32, t tlv.Type, text string) (tlv.Field, error) {
	if t != tlv.TypeString {
		text = strings.TrimSpace(text)
	}
	switch t {
	case tlv.TypeInt16:
		v, err := strconv.ParseInt(text, 10, 16)
		return tlv.NewInt16(id, int16(v)), err
	case tlv.TypeUint16:
		v, err := strconv.ParseUint(text, 10, 16)
		return tlv.NewUint16(id, uint16(v)), err
	case tlv.TypeInt32:
		v, err := strconv.ParseInt(text, 10, 32)
		return tlv.NewInt32(id, int32(v)), err
	case tlv.TypeUint32:
		v, err := strconv.ParseUint(text, 10, 32)
		return tlv.NewUint32(id, uint32(v)), err
	case tlv.TypeInt64:
		v, err := strconv.ParseInt(text, 10, 64)
		return tlv.NewInt64(id, v), err
	case tlv.TypeUint64:
		v, err := strconv.ParseUint(text, 10, 64)
		return tlv.NewUint64(id, v), err
	case tlv.TypeFloat64:
		v, err := strconv.ParseFloat(text, 64)
		return tlv.NewFloat64(id, v), err
	case tlv.TypeString:
		return tlv.NewString(id, text), nil
	case tlv.TypeBinary:
		v, err := base64.StdEncoding.DecodeString(text)
		return tlv.NewBinary(id, v), err
	case tlv.TypeInt32Array:
		parts := strings.Fields(text)
		vs := make([]int32, len(parts))
		for i, p := range parts {
			v, err := strconv.ParseInt(p, 10, 32)
			if err != nil {
				return tlv.Field{}, err
			}
			vs[i] = int32(v)
		}
		return tlv.NewInt32Array(id, vs), nil
	default:
		return tlv.Field{}, fmt.Errorf("%w: %d", ErrUnknownFieldType, t)
	}
}
