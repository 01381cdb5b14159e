package frame

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/nxwire/internal/protocol"
)

var (
	ErrNeedMore = errors.New("frame: need more data")
	ErrNoSealer = errors.New("frame: encrypted frame without sealer")

	// ErrFrameTooLarge is shared with the message layer so a single
	// errors.Is covers declared and inflated sizes.
	ErrFrameTooLarge = protocol.ErrFrameTooLarge
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxFrameSize uint32
}

func DefaultLimits() Limits {
	return Limits{MaxFrameSize: protocol.DefaultMaxFrameSize}
}

func (l Limits) withDefaults() Limits {
	if l.MaxFrameSize == 0 {
		l.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	return l
}

// Sealer encrypts and decrypts whole frame bodies. Both ends of a session
// must use matching sealers; Seal output is carried with FlagEncrypted.
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Options configures a Reader or Writer.
type Options struct {
	Limits Limits
	Sealer Sealer
}

// DecodeError is a well-delimited frame whose body failed to decode. The
// frame has been consumed; Header identifies the request it belongs to.
type DecodeError struct {
	Header protocol.Header
	Err    error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("frame: decode code=0x%04x id=%d: %v", e.Header.Code, e.Header.ID, e.Err)
}

func (e DecodeError) Unwrap() error { return e.Err }

// Writer serializes messages onto a stream. Submit is safe for concurrent
// use; each frame reaches the stream in a single Write.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	limits Limits
	sealer Sealer
}

func NewWriter(w io.Writer, opts Options) *Writer {
	return &Writer{w: w, limits: opts.Limits.withDefaults(), sealer: opts.Sealer}
}

// Submit encodes msg, seals it when a sealer is configured and writes the
// whole frame.
func (w *Writer) Submit(msg *protocol.Message) error {
	buf, err := w.encode(msg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

func (w *Writer) encode(msg *protocol.Message) ([]byte, error) {
	h, body, err := msg.EncodeBody()
	if err != nil {
		return nil, err
	}
	if uint64(len(body)) > uint64(w.limits.MaxFrameSize) {
		return nil, fmt.Errorf("%w: body %d bytes, limit %d", ErrFrameTooLarge, len(body), w.limits.MaxFrameSize)
	}
	if w.sealer != nil {
		sealed, err := w.sealer.Seal(body)
		if err != nil {
			return nil, fmt.Errorf("frame: seal: %w", err)
		}
		if uint64(len(sealed)) > uint64(w.limits.MaxFrameSize) {
			return nil, fmt.Errorf("%w: sealed body %d bytes, limit %d", ErrFrameTooLarge, len(sealed), w.limits.MaxFrameSize)
		}
		body = sealed
		h.Flags |= protocol.FlagEncrypted
		h.Length = uint32(len(body))
	}
	out := make([]byte, 0, protocol.HeaderSize+len(body))
	out = protocol.AppendHeader(out, h)
	return append(out, body...), nil
}

// State is the Reader position within the current frame.
type State int

const (
	AwaitingHeader State = iota
	AwaitingBody
)

func (s State) String() string {
	switch s {
	case AwaitingHeader:
		return "awaiting_header"
	case AwaitingBody:
		return "awaiting_body"
	default:
		return "unknown"
	}
}

// Reader is an incremental frame decoder. Transport bytes are pushed with
// Feed and frames pulled with Next; neither call blocks. A Reader is owned
// by a single goroutine.
type Reader struct {
	limits Limits
	sealer Sealer

	buf   []byte
	off   int
	state State
	hdr   protocol.Header
	err   error
}

func NewReader(opts Options) *Reader {
	return &Reader{limits: opts.Limits.withDefaults(), sealer: opts.Sealer}
}

// Feed appends transport bytes. p is copied.
func (r *Reader) Feed(p []byte) {
	if r.err != nil || len(p) == 0 {
		return
	}
	if r.off > 0 && r.off >= len(r.buf)/2 {
		n := copy(r.buf, r.buf[r.off:])
		r.buf = r.buf[:n]
		r.off = 0
	}
	r.buf = append(r.buf, p...)
}

// Buffered returns the number of unconsumed bytes.
func (r *Reader) Buffered() int { return len(r.buf) - r.off }

func (r *Reader) State() State { return r.state }

// Err returns the error that poisoned the reader, if any.
func (r *Reader) Err() error { return r.err }

// Next returns the next complete message, or ErrNeedMore when the buffer
// does not yet hold one. A malformed frame is consumed and returned as a
// DecodeError; the reader stays usable. An oversized header poisons it.
func (r *Reader) Next() (*protocol.Message, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.state == AwaitingHeader {
		if r.Buffered() < protocol.HeaderSize {
			return nil, ErrNeedMore
		}
		h, err := protocol.ParseHeader(r.buf[r.off:])
		if err != nil {
			return nil, err
		}
		if h.Length > r.limits.MaxFrameSize {
			r.err = fmt.Errorf("%w: header declares %d bytes, limit %d", ErrFrameTooLarge, h.Length, r.limits.MaxFrameSize)
			r.buf = nil
			r.off = 0
			return nil, r.err
		}
		r.hdr = h
		r.off += protocol.HeaderSize
		r.state = AwaitingBody
	}

	n := int(r.hdr.Length)
	if r.Buffered() < n {
		return nil, ErrNeedMore
	}
	body := r.buf[r.off : r.off+n]
	r.off += n
	r.state = AwaitingHeader
	if r.off == len(r.buf) {
		r.buf = r.buf[:0]
		r.off = 0
	}

	msg, err := r.decode(r.hdr, body)
	if err != nil {
		return nil, DecodeError{Header: r.hdr, Err: err}
	}
	return msg, nil
}

func (r *Reader) decode(h protocol.Header, body []byte) (*protocol.Message, error) {
	if h.Flags&protocol.FlagEncrypted != 0 {
		if r.sealer == nil {
			return nil, ErrNoSealer
		}
		plain, err := r.sealer.Open(body)
		if err != nil {
			return nil, fmt.Errorf("frame: open: %w", err)
		}
		body = plain
		h.Length = uint32(len(plain))
		h.Flags &^= protocol.FlagEncrypted
	}
	return protocol.DecodeBody(h, body, r.limits.MaxFrameSize)
}

// ReadMessage reads exactly one unsealed frame from a blocking reader.
func ReadMessage(src io.Reader, limits Limits) (*protocol.Message, error) {
	limits = limits.withDefaults()
	var head [protocol.HeaderSize]byte
	if _, err := io.ReadFull(src, head[:]); err != nil {
		return nil, err
	}
	h, err := protocol.ParseHeader(head[:])
	if err != nil {
		return nil, err
	}
	if h.Length > limits.MaxFrameSize {
		return nil, fmt.Errorf("%w: header declares %d bytes, limit %d", ErrFrameTooLarge, h.Length, limits.MaxFrameSize)
	}
	body := make([]byte, h.Length)
	if _, err := io.ReadFull(src, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if h.Flags&protocol.FlagEncrypted != 0 {
		return nil, ErrNoSealer
	}
	return protocol.DecodeBody(h, body, limits.MaxFrameSize)
}

// WriteMessage writes one unsealed frame.
func WriteMessage(dst io.Writer, msg *protocol.Message) error {
	return NewWriter(dst, Options{}).Submit(msg)
}
