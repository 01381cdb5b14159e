package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/nxwire/internal/protocol/tlv"
)

func frameBytes(h Header, body []byte) []byte {
	h.Length = uint32(len(body))
	return append(EncodeHeader(h), body...)
}

func TestRoundTripEncodeDecode(t *testing.T) {
	cases := []struct {
		name   string
		fields []tlv.Field
	}{
		{name: "empty"},
		{name: "single", fields: []tlv.Field{tlv.NewString(1, "hello")}},
		{name: "many", fields: []tlv.Field{
			tlv.NewInt16(1, -3),
			tlv.NewUint16(2, 65535),
			tlv.NewInt32(3, -17),
			tlv.NewUint32(4, 1<<31),
			tlv.NewInt64(5, -1),
			tlv.NewUint64(6, 1<<63),
			tlv.NewFloat64(7, 3.25),
			tlv.NewString(8, "grüße"),
			tlv.NewBinary(9, []byte{0, 1, 2}),
			tlv.NewInt32Array(10, []int32{4, -5, 6}),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := New(0x0100, 7)
			for _, f := range tc.fields {
				msg.Set(f)
			}
			frame, err := msg.Encode()
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			decoded, err := Decode(frame)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if decoded.Code != msg.Code || decoded.ID != msg.ID || decoded.Flags != msg.Flags {
				t.Fatalf("header mismatch: %s vs %s", decoded, msg)
			}
			if decoded.Len() != len(tc.fields) {
				t.Fatalf("expected %d fields, got %d", len(tc.fields), decoded.Len())
			}
			for _, want := range tc.fields {
				got, ok := decoded.Get(want.ID)
				if !ok || !got.Equal(want) {
					t.Fatalf("field %d mismatch: got %+v want %+v", want.ID, got, want)
				}
			}
			again, err := decoded.Encode()
			if err != nil {
				t.Fatalf("re-encode: %v", err)
			}
			if !bytes.Equal(frame, again) {
				t.Fatalf("round-trip mismatch")
			}
		})
	}
}

func TestEncodeOrdersFieldsByID(t *testing.T) {
	msg := New(1, 1)
	msg.SetUint16(9, 9)
	msg.SetUint16(2, 2)
	msg.SetUint16(5, 5)
	frame, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fields, err := tlv.DecodeFields(frame[HeaderSize:])
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	for i, id := range []uint32{2, 5, 9} {
		if fields[i].ID != id {
			t.Fatalf("field %d: expected id %d, got %d", i, id, fields[i].ID)
		}
	}
}

func TestSetReplacesExistingField(t *testing.T) {
	msg := New(1, 1)
	msg.SetString(4, "first")
	msg.SetInt32(4, 12)
	if msg.Len() != 1 {
		t.Fatalf("expected one field, got %d", msg.Len())
	}
	v, err := msg.GetInt32(4)
	if err != nil || v != 12 {
		t.Fatalf("expected 12, got %d err=%v", v, err)
	}
	if _, err := msg.GetString(4); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestDecodeDuplicateFieldLastWins(t *testing.T) {
	block, err := tlv.EncodeFields([]tlv.Field{tlv.NewString(3, "a"), tlv.NewString(3, "b")})
	if err != nil {
		t.Fatalf("encode fields: %v", err)
	}
	msg, err := Decode(frameBytes(Header{Code: 1, ID: 1}, block))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s, _ := msg.GetString(3); s != "b" {
		t.Fatalf("expected last value b, got %q", s)
	}
}

func TestGetMissingField(t *testing.T) {
	msg := New(1, 1)
	if _, err := msg.GetUint64(77); !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
}

func TestDecodeTruncatedFrame(t *testing.T) {
	msg := New(100, 42)
	msg.SetString(1, "hello")
	msg.SetInt32(2, -17)
	frame, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for k := 1; k < len(frame); k++ {
		if _, err := Decode(frame[:len(frame)-k]); !errors.Is(err, ErrLengthMismatch) {
			t.Fatalf("truncate %d: expected ErrLengthMismatch, got %v", k, err)
		}
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	frame, err := New(1, 1).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(append(frame, 0)); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestDecodeTruncatedFieldInsideBody(t *testing.T) {
	block, err := tlv.EncodeFields([]tlv.Field{tlv.NewString(1, "hello world")})
	if err != nil {
		t.Fatalf("encode fields: %v", err)
	}
	for k := 1; k < len(block); k++ {
		_, err := Decode(frameBytes(Header{Code: 1, ID: 1}, block[:len(block)-k]))
		if !errors.Is(err, ErrLengthMismatch) || !errors.Is(err, ErrTruncatedField) {
			t.Fatalf("cut %d: expected truncated field, got %v", k, err)
		}
		var fe FieldError
		if !errors.As(err, &fe) || fe.Offset != 0 {
			t.Fatalf("cut %d: expected FieldError at offset 0, got %v", k, err)
		}
	}
}

func TestDecodeUnknownFieldTypeFails(t *testing.T) {
	good, _ := tlv.EncodeFields([]tlv.Field{tlv.NewUint16(1, 1)})
	bad := append(append([]byte{}, good...), 0, 0, 0, 2, 0xEE, 0, 0)
	_, err := Decode(frameBytes(Header{Code: 1, ID: 1}, bad))
	if !errors.Is(err, ErrUnknownFieldType) {
		t.Fatalf("expected ErrUnknownFieldType, got %v", err)
	}
	var fe FieldError
	if !errors.As(err, &fe) || fe.Offset != len(good) {
		t.Fatalf("expected offset %d, got %v", len(good), err)
	}
}

func TestCompressionIsTransparent(t *testing.T) {
	msg := New(0x0100, 3)
	msg.Flags = FlagCompressed
	msg.SetString(1, strings.Repeat("abcdefgh", 200))
	msg.SetUint32(2, 99)

	frame, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h, err := ParseHeader(frame)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if !h.Flags.Has(FlagCompressed) {
		t.Fatalf("expected compressed flag on wire, got %s", h.Flags)
	}
	if h.Length >= 1600 {
		t.Fatalf("expected compressed body, got %d bytes", h.Length)
	}
	if binary.BigEndian.Uint32(frame[HeaderSize:]) <= h.Length {
		t.Fatalf("uncompressed length prefix not larger than body")
	}

	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Flags.Has(FlagCompressed) {
		t.Fatalf("decoded message still flagged compressed")
	}
	s, _ := decoded.GetString(1)
	if s != strings.Repeat("abcdefgh", 200) {
		t.Fatalf("string mismatch after inflate")
	}
	if v, _ := decoded.GetUint32(2); v != 99 {
		t.Fatalf("expected 99, got %d", v)
	}
}

func TestCompressionSkippedForSmallBody(t *testing.T) {
	msg := New(1, 1)
	msg.Flags = FlagCompressed
	msg.SetString(1, "tiny")
	h, body, err := msg.EncodeBody()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if h.Flags.Has(FlagCompressed) {
		t.Fatalf("small body should not be compressed")
	}
	if int(h.Length) != len(body) {
		t.Fatalf("header length %d, body %d", h.Length, len(body))
	}
}

func TestDecodeCorruptCompressedBody(t *testing.T) {
	body := binary.BigEndian.AppendUint32(nil, 100)
	body = append(body, 1, 2, 3, 4)
	_, err := Decode(frameBytes(Header{Code: 1, Flags: FlagCompressed, ID: 1}, body))
	if !errors.Is(err, ErrCorruptCompressed) {
		t.Fatalf("expected ErrCorruptCompressed, got %v", err)
	}
}

func TestDecodeCompressedSizeOverLimit(t *testing.T) {
	body := binary.BigEndian.AppendUint32(nil, 1<<30)
	body = append(body, 0x78, 0x9c)
	_, err := DecodeLimit(frameBytes(Header{Code: 1, Flags: FlagCompressed, ID: 1}, body), 1024)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeEncryptedWithoutSealer(t *testing.T) {
	_, err := Decode(frameBytes(Header{Code: 1, Flags: FlagEncrypted, ID: 1}, []byte{1, 2, 3}))
	if !errors.Is(err, ErrEncryptedBody) {
		t.Fatalf("expected ErrEncryptedBody, got %v", err)
	}
}

func TestReservedFlagBitsPreserved(t *testing.T) {
	msg := New(1, 1)
	msg.Flags = Flags(0x8000) | FlagChunked
	frame, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Flags != msg.Flags {
		t.Fatalf("flags mismatch: %s vs %s", decoded.Flags, msg.Flags)
	}
}

func TestExtensionFieldsPreserved(t *testing.T) {
	msg := New(1, 1)
	msg.SetString(1, "core")
	msg.SetBinary(ExtensionFieldBase+5, []byte{9, 9})
	msg.SetInt64(ExtensionFieldBase+1, 77)
	frame, _ := msg.Encode()
	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ext := decoded.Extensions()
	if len(ext) != 2 || ext[0].ID != ExtensionFieldBase+1 || ext[1].ID != ExtensionFieldBase+5 {
		t.Fatalf("unexpected extensions: %+v", ext)
	}
	again, _ := decoded.Encode()
	if !bytes.Equal(frame, again) {
		t.Fatalf("extension fields not forwarded unchanged")
	}
}

func TestBinaryMessageRoundTrip(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	msg := NewBinary(0x0102, 5, payload)
	payload[0] = 0
	frame, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.IsBinary() || !bytes.Equal(decoded.Raw(), []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("binary body mismatch: %x", decoded.Raw())
	}
}

func TestMixedBodyRejected(t *testing.T) {
	msg := NewBinary(1, 1, []byte{1})
	msg.SetUint16(1, 1)
	if _, err := msg.Encode(); !errors.Is(err, ErrMixedBody) {
		t.Fatalf("expected ErrMixedBody, got %v", err)
	}
}

func TestControlMessageRoundTrip(t *testing.T) {
	frame, err := NewControl(0x0061, 8, Version<<24).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frame) != HeaderSize+4 {
		t.Fatalf("expected 16-byte control frame, got %d", len(frame))
	}
	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	word, err := decoded.ControlWord()
	if err != nil || word>>24 != Version {
		t.Fatalf("unexpected control word %#x err=%v", word, err)
	}
	if _, err := New(1, 1).ControlWord(); !errors.Is(err, ErrNotControl) {
		t.Fatalf("expected ErrNotControl, got %v", err)
	}
}

func TestControlBodyWrongSize(t *testing.T) {
	_, err := Decode(frameBytes(Header{Code: 1, Flags: FlagControl, ID: 1}, []byte{1, 2}))
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestHelperFields(t *testing.T) {
	msg := New(1, 1)
	now := time.Unix(1700000000, 0)
	msg.SetBool(1, true)
	msg.SetTime(2, now)
	msg.SetTime(3, time.Time{})
	msg.SetStrings(10, 100, []string{"a", "b", "c"})

	if v, err := msg.GetBool(1); err != nil || !v {
		t.Fatalf("expected true, got %v err=%v", v, err)
	}
	if v, err := msg.GetTime(2); err != nil || !v.Equal(now) {
		t.Fatalf("expected %v, got %v err=%v", now, v, err)
	}
	if v, err := msg.GetTime(3); err != nil || !v.IsZero() {
		t.Fatalf("expected zero time, got %v err=%v", v, err)
	}
	list, err := msg.GetStrings(10, 100)
	if err != nil || strings.Join(list, ",") != "a,b,c" {
		t.Fatalf("unexpected list %v err=%v", list, err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	msg := New(1, 1)
	msg.SetBinary(1, []byte{1, 2})
	clone := msg.Clone()
	f, _ := clone.Get(1)
	f.Value[0] = 9
	orig, _ := msg.GetBinary(1)
	if orig[0] != 1 {
		t.Fatalf("clone shares field storage")
	}
}

func TestXMLDocumentRoundTrip(t *testing.T) {
	msg := New(0x0104, 11)
	msg.SetString(1, "a <b> & c")
	msg.SetInt32(2, -17)
	msg.SetUint64(3, 1<<40)
	msg.SetFloat64(4, 0.5)
	msg.SetBinary(5, []byte{0, 255})
	msg.SetInt32Array(6, []int32{1, -2})
	msg.SetString(7, "")

	doc, err := MarshalXMLDocument(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(doc, []byte(`<message code="260" id="11">`)) {
		t.Fatalf("unexpected document:\n%s", doc)
	}
	parsed, err := ParseXMLDocument(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want, _ := msg.Encode()
	got, _ := parsed.Encode()
	if !bytes.Equal(want, got) {
		t.Fatalf("xml round trip mismatch:\n%s", doc)
	}
}

func TestXMLDocumentKeepsNonTextStrings(t *testing.T) {
	msg := New(0x0104, 12)
	msg.SetString(1, "bad \xff utf8")
	msg.SetString(2, "bell\x07")
	msg.SetString(3, "plain\ttext\r\n")

	doc, err := MarshalXMLDocument(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if n := bytes.Count(doc, []byte(`encoding="base64"`)); n != 2 {
		t.Fatalf("expected two base64 strings, got %d:\n%s", n, doc)
	}
	parsed, err := ParseXMLDocument(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for id, want := range map[uint32]string{1: "bad \xff utf8", 2: "bell\x07", 3: "plain\ttext\r\n"} {
		f, ok := parsed.Get(id)
		if !ok || string(f.Value) != want {
			t.Fatalf("field %d: expected %q, got %q", id, want, f.Value)
		}
	}
}

func TestXMLDocumentUnknownEncoding(t *testing.T) {
	doc := `<nxwire version="2"><message code="1" id="1"><field id="1" type="string" encoding="hex"><value>00</value></field></message></nxwire>`
	if _, err := ParseXMLDocument([]byte(doc)); !errors.Is(err, ErrBadDocument) {
		t.Fatalf("expected ErrBadDocument, got %v", err)
	}
}

func TestXMLDocumentRawBody(t *testing.T) {
	doc, err := MarshalXMLDocument(NewBinary(2, 3, []byte("raw data")))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := ParseXMLDocument(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.IsBinary() || string(parsed.Raw()) != "raw data" {
		t.Fatalf("unexpected raw body %q", parsed.Raw())
	}
}

func TestXMLDocumentUnknownType(t *testing.T) {
	doc := `<nxwire version="2"><message code="1" id="1"><field id="1" type="nope"><value>1</value></field></message></nxwire>`
	if _, err := ParseXMLDocument([]byte(doc)); !errors.Is(err, ErrUnknownFieldType) {
		t.Fatalf("expected ErrUnknownFieldType, got %v", err)
	}
}

func TestFlagsString(t *testing.T) {
	if got := (FlagChunked | FlagEndOfTransfer).String(); got != "chunked|end" {
		t.Fatalf("unexpected flags string %q", got)
	}
	if got := Flags(0).String(); got != "none" {
		t.Fatalf("unexpected flags string %q", got)
	}
}
