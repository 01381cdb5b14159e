package frame

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/nxwire/internal/protocol"
	"github.com/danmuck/nxwire/internal/testutil/testlog"
)

type xorSealer struct{ key byte }

func (s xorSealer) Seal(p []byte) ([]byte, error) {
	out := make([]byte, len(p)+1)
	out[0] = 0xA5
	for i, b := range p {
		out[i+1] = b ^ s.key
	}
	return out, nil
}

func (s xorSealer) Open(p []byte) ([]byte, error) {
	if len(p) == 0 || p[0] != 0xA5 {
		return nil, errors.New("bad seal")
	}
	out := make([]byte, len(p)-1)
	for i, b := range p[1:] {
		out[i] = b ^ s.key
	}
	return out, nil
}

func sample(id uint32) *protocol.Message {
	msg := protocol.New(0x0100, id)
	msg.SetString(1, "intent-1")
	msg.SetUint32(2, id)
	return msg
}

func encode(t *testing.T, msg *protocol.Message) []byte {
	t.Helper()
	b, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestWriterReaderRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	w := NewWriter(&buf, Options{})
	for id := uint32(1); id <= 3; id++ {
		if err := w.Submit(sample(id)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	r := NewReader(Options{})
	r.Feed(buf.Bytes())
	for id := uint32(1); id <= 3; id++ {
		msg, err := r.Next()
		if err != nil {
			t.Fatalf("next %d: %v", id, err)
		}
		if msg.ID != id {
			t.Fatalf("expected id %d, got %d", id, msg.ID)
		}
	}
	if _, err := r.Next(); !errors.Is(err, ErrNeedMore) {
		t.Fatalf("expected ErrNeedMore, got %v", err)
	}
	if r.Buffered() != 0 || r.State() != AwaitingHeader {
		t.Fatalf("unexpected reader state buffered=%d state=%s", r.Buffered(), r.State())
	}
}

func TestReaderByteAtATime(t *testing.T) {
	testlog.Start(t)
	stream := append(encode(t, sample(7)), encode(t, sample(8))...)
	r := NewReader(Options{})
	var got []uint32
	for _, b := range stream {
		r.Feed([]byte{b})
		for {
			msg, err := r.Next()
			if errors.Is(err, ErrNeedMore) {
				break
			}
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			got = append(got, msg.ID)
		}
	}
	if len(got) != 2 || got[0] != 7 || got[1] != 8 {
		t.Fatalf("unexpected ids %v", got)
	}
}

func TestReaderStateTransitions(t *testing.T) {
	testlog.Start(t)
	frame := encode(t, sample(1))
	r := NewReader(Options{})
	r.Feed(frame[:protocol.HeaderSize+2])
	if _, err := r.Next(); !errors.Is(err, ErrNeedMore) {
		t.Fatalf("expected ErrNeedMore, got %v", err)
	}
	if r.State() != AwaitingBody {
		t.Fatalf("expected awaiting_body, got %s", r.State())
	}
	r.Feed(frame[protocol.HeaderSize+2:])
	if _, err := r.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if r.State() != AwaitingHeader {
		t.Fatalf("expected awaiting_header, got %s", r.State())
	}
}

func TestReaderOversizedHeaderPoisons(t *testing.T) {
	testlog.Start(t)
	head := protocol.EncodeHeader(protocol.Header{Code: 1, Length: 1 << 30, ID: 1})
	r := NewReader(Options{Limits: Limits{MaxFrameSize: 1024}})
	r.Feed(head)
	if _, err := r.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	r.Feed(encode(t, sample(2)))
	if _, err := r.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected poisoned reader, got %v", err)
	}
	if r.Buffered() != 0 {
		t.Fatalf("poisoned reader kept %d bytes", r.Buffered())
	}
}

func TestReaderMalformedFrameConsumed(t *testing.T) {
	testlog.Start(t)
	bad := protocol.EncodeHeader(protocol.Header{Code: 5, Length: 6, ID: 99})
	bad = append(bad, 0, 0, 0, 1, 0xEE, 0)
	r := NewReader(Options{})
	r.Feed(append(bad, encode(t, sample(3))...))

	_, err := r.Next()
	if !errors.Is(err, protocol.ErrUnknownFieldType) {
		t.Fatalf("expected ErrUnknownFieldType, got %v", err)
	}
	var de DecodeError
	if !errors.As(err, &de) || de.Header.ID != 99 || de.Header.Code != 5 {
		t.Fatalf("expected DecodeError for id 99, got %v", err)
	}
	msg, err := r.Next()
	if err != nil || msg.ID != 3 {
		t.Fatalf("reader did not recover: msg=%v err=%v", msg, err)
	}
}

func TestSealedRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	sealer := xorSealer{key: 0x5c}
	if err := NewWriter(&buf, Options{Sealer: sealer}).Submit(sample(4)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h, err := protocol.ParseHeader(buf.Bytes())
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if !h.Flags.Has(protocol.FlagEncrypted) {
		t.Fatalf("expected encrypted flag, got %s", h.Flags)
	}
	if bytes.Contains(buf.Bytes(), []byte("intent-1")) {
		t.Fatalf("plaintext visible in sealed frame")
	}

	r := NewReader(Options{Sealer: sealer})
	r.Feed(buf.Bytes())
	msg, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if s, _ := msg.GetString(1); s != "intent-1" {
		t.Fatalf("unexpected field %q", s)
	}
	if msg.Flags.Has(protocol.FlagEncrypted) {
		t.Fatalf("decoded message still flagged encrypted")
	}
}

func TestSealedFrameWithoutSealer(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := NewWriter(&buf, Options{Sealer: xorSealer{key: 1}}).Submit(sample(5)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	plain := encode(t, sample(6))

	r := NewReader(Options{})
	r.Feed(append(buf.Bytes(), plain...))
	if _, err := r.Next(); !errors.Is(err, ErrNoSealer) {
		t.Fatalf("expected ErrNoSealer, got %v", err)
	}
	msg, err := r.Next()
	if err != nil || msg.ID != 6 {
		t.Fatalf("reader did not continue: msg=%v err=%v", msg, err)
	}
}

func TestWriterRejectsOversizedFrame(t *testing.T) {
	testlog.Start(t)
	msg := protocol.New(1, 1)
	msg.SetString(1, strings.Repeat("x", 2048))
	var buf bytes.Buffer
	err := NewWriter(&buf, Options{Limits: Limits{MaxFrameSize: 1024}}).Submit(msg)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("oversized frame partially written")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func TestConcurrentSubmitKeepsFramesWhole(t *testing.T) {
	testlog.Start(t)
	var out lockedBuffer
	w := NewWriter(&out, Options{})
	const producers, each = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				msg := protocol.New(0x0100, uint32(p*each+i+1))
				msg.SetString(1, strings.Repeat("y", 10+i))
				if err := w.Submit(msg); err != nil {
					t.Errorf("submit: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	r := NewReader(Options{})
	r.Feed(out.buf.Bytes())
	seen := make(map[uint32]bool)
	for {
		msg, err := r.Next()
		if errors.Is(err, ErrNeedMore) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		seen[msg.ID] = true
	}
	if len(seen) != producers*each {
		t.Fatalf("expected %d frames, got %d", producers*each, len(seen))
	}
}

func TestReadWriteMessage(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteMessage(&buf, sample(9)); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg, err := ReadMessage(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.ID != 9 {
		t.Fatalf("expected id 9, got %d", msg.ID)
	}
	if _, err := ReadMessage(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadMessageTruncatedBody(t *testing.T) {
	testlog.Start(t)
	frame := encode(t, sample(1))
	_, err := ReadMessage(bytes.NewReader(frame[:len(frame)-2]), DefaultLimits())
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}
