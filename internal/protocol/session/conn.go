package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/nxwire/internal/protocol"
	"github.com/danmuck/nxwire/internal/protocol/frame"
	"github.com/danmuck/nxwire/internal/protocol/transfer"
)

// Stats is a point-in-time snapshot of one connection.
type Stats struct {
	Name               string `json:"name"`
	FramesIn           uint64 `json:"frames_in"`
	FramesOut          uint64 `json:"frames_out"`
	FrameErrors        uint64 `json:"frame_errors"`
	Notifications      uint64 `json:"notifications"`
	TransfersCompleted uint64 `json:"transfers_completed"`
	TransfersFailed    uint64 `json:"transfers_failed"`
	Pending            int    `json:"pending"`
	OpenTransfers      int    `json:"open_transfers"`
	PeerVersion        int    `json:"peer_version,omitempty"`
	Closed             bool   `json:"closed"`
}

// Conn runs the protocol over one byte stream: a single reader loop, any
// number of concurrent senders.
type Conn struct {
	cfg    Config
	rw     io.ReadWriter
	reader *frame.Reader
	writer *frame.Writer
	corr   *Correlator
	asm    *transfer.Assembler

	onFrameError    func(error)
	onTransferError func(transfer.Outcome)

	framesIn      atomic.Uint64
	framesOut     atomic.Uint64
	frameErrors   atomic.Uint64
	notifications atomic.Uint64
	xferDone      atomic.Uint64
	xferFailed    atomic.Uint64
	peerVersion   atomic.Int32

	closeOnce sync.Once
	closed    chan struct{}
	cause     error
}

func NewConn(rw io.ReadWriter, cfg Config) *Conn {
	cfg = cfg.WithDefaults()
	opts := frame.Options{Limits: frame.Limits{MaxFrameSize: cfg.MaxFrameSize}, Sealer: cfg.Sealer}
	c := &Conn{
		cfg:    cfg,
		rw:     rw,
		reader: frame.NewReader(opts),
		writer: frame.NewWriter(rw, opts),
		asm: transfer.NewAssembler(transfer.Config{
			IdleTimeout:     cfg.TransferIdleTimeout,
			MaxTransferSize: cfg.MaxTransferSize,
		}),
		closed: make(chan struct{}),
	}
	c.corr = NewCorrelator(c.Send, cfg.Observer)
	c.corr.OnNotify(func(*protocol.Message) { c.notifications.Add(1) })
	return c
}

func (c *Conn) Name() string { return c.cfg.Name }

// Correlator exposes the pending table, mainly for tests and diagnostics.
func (c *Conn) Correlator() *Correlator { return c.corr }

// OnNotify registers a handler for unsolicited messages, including
// reassembled transfers that match no pending request.
func (c *Conn) OnNotify(h NotifyHandler) { c.corr.OnNotify(h) }

// OnFrameError sets the hook for frames that failed to decode. Must be set
// before Serve.
func (c *Conn) OnFrameError(fn func(error)) { c.onFrameError = fn }

// OnTransferError sets the hook for failed transfers that no pending
// request claims. Must be set before Serve.
func (c *Conn) OnTransferError(fn func(transfer.Outcome)) { c.onTransferError = fn }

// Send writes one message. Field messages are sent compressed when the
// connection is configured for it; msg itself is left unchanged.
func (c *Conn) Send(msg *protocol.Message) error {
	select {
	case <-c.closed:
		return c.closedErr()
	default:
	}
	if c.cfg.Compress && !msg.IsBinary() && !msg.IsControl() && !msg.Flags.Has(protocol.FlagCompressed) {
		flagged := *msg
		flagged.Flags |= protocol.FlagCompressed
		msg = &flagged
	}
	if err := c.writer.Submit(msg); err != nil {
		return err
	}
	c.framesOut.Add(1)
	c.cfg.Observer.FrameOut(msg.Code)
	return nil
}

// Reply sends reply with the correlation id of req.
func (c *Conn) Reply(req, reply *protocol.Message) error {
	reply.ID = req.ID
	return c.Send(reply)
}

// Submit sends msg as a request with the configured request timeout.
func (c *Conn) Submit(msg *protocol.Message) (*Call, error) {
	return c.corr.Submit(msg, c.cfg.RequestTimeout)
}

// Request sends msg and waits for the reply.
func (c *Conn) Request(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	return c.corr.Request(ctx, msg, c.cfg.RequestTimeout)
}

// SendStream uploads r as a chunked transfer with the given code and
// correlation id, then waits for the peer's reply to the reassembled
// message. An id of 0 selects a fresh one; size < 0 means unknown. If
// reading r fails the peer is told to abort the transfer.
func (c *Conn) SendStream(ctx context.Context, code uint16, id uint32, r io.Reader, size int64) (*protocol.Message, error) {
	head := protocol.New(code, id)
	call, err := c.corr.Expect(head, 0)
	if err != nil {
		return nil, err
	}
	parts := transfer.Split(code, call.ID, r, c.cfg.ChunkSize).WithSize(size)
	for {
		if err := ctx.Err(); err != nil {
			c.abortStream(call.ID)
			call.Cancel()
			return nil, err
		}
		part, err := parts.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.abortStream(call.ID)
			c.corr.Fail(call.ID, err)
			return nil, fmt.Errorf("session: stream read after %d bytes: %w", parts.Offset(), err)
		}
		if err := c.Send(part); err != nil {
			c.corr.Fail(call.ID, err)
			return nil, err
		}
	}
	call.arm(c.cfg.RequestTimeout)
	return call.Wait(ctx)
}

func (c *Conn) abortStream(id uint32) {
	abort := protocol.New(protocol.CodeAbortTransfer, id)
	abort.Flags = protocol.FlagChunked | protocol.FlagEndOfTransfer
	if err := c.Send(abort); err != nil {
		log.Warn().Str("conn", c.cfg.Name).Uint32("id", id).Err(err).Msg("session.Conn.abortStream send failed")
	}
}

// PeerVersion asks the peer for its protocol version once and caches the
// answer. Peers that do not answer in time are assumed to speak version 1.
func (c *Conn) PeerVersion(ctx context.Context) (int, error) {
	if v := c.peerVersion.Load(); v > 0 {
		return int(v), nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CapsTimeout)
	defer cancel()
	reply, err := c.corr.Request(ctx, protocol.NewControl(protocol.CodeGetCaps, 0, 0), c.cfg.CapsTimeout)
	version := protocol.FallbackVersion
	switch {
	case err == nil:
		word, werr := reply.ControlWord()
		if werr != nil {
			return 0, werr
		}
		version = int(word >> 24)
	case errors.Is(err, ErrRequestTimedOut), errors.Is(err, context.DeadlineExceeded):
		log.Debug().Str("conn", c.cfg.Name).Msg("session.Conn.PeerVersion no caps reply, assuming version 1")
	default:
		return 0, err
	}
	c.peerVersion.Store(int32(version))
	return version, nil
}

// Serve runs the reader loop until the stream ends, ctx is cancelled or the
// connection is torn down. It returns nil for an orderly end.
func (c *Conn) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		c.shutdown(ErrConnectionClosed)
	}()
	go c.janitor(ctx)

	buf := make([]byte, c.cfg.ReadBufferSize)
	consecutive := 0
	for {
		n, rerr := c.rw.Read(buf)
		if n > 0 {
			c.reader.Feed(buf[:n])
			if err := c.drain(&consecutive); err != nil {
				c.shutdown(err)
				return err
			}
		}
		if rerr != nil {
			select {
			case <-c.closed:
				return nil
			default:
			}
			if errors.Is(rerr, io.EOF) {
				c.shutdown(ErrConnectionClosed)
				return nil
			}
			c.shutdown(rerr)
			return rerr
		}
	}
}

func (c *Conn) drain(consecutive *int) error {
	for {
		msg, err := c.reader.Next()
		if errors.Is(err, frame.ErrNeedMore) {
			return nil
		}
		if err != nil {
			c.frameErrors.Add(1)
			c.cfg.Observer.FrameError(frameErrorKind(err))
			if errors.Is(err, frame.ErrFrameTooLarge) {
				log.Error().Str("conn", c.cfg.Name).Err(err).Msg("session.Conn.serve oversized frame, closing")
				return err
			}
			*consecutive++
			c.reportFrameError(err)
			if *consecutive >= c.cfg.MaxConsecutiveFrameErrors {
				return fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyFrameErrors, *consecutive, err)
			}
			continue
		}
		*consecutive = 0
		c.framesIn.Add(1)
		c.cfg.Observer.FrameIn(msg.Code)
		c.handle(msg)
	}
}

func (c *Conn) reportFrameError(err error) {
	var de frame.DecodeError
	if errors.As(err, &de) && de.Header.ID != 0 {
		c.corr.Fail(de.Header.ID, err)
	}
	if c.onFrameError != nil {
		c.onFrameError(err)
		return
	}
	log.Warn().Str("conn", c.cfg.Name).Err(err).Msg("session.Conn.serve frame decode failed")
}

func (c *Conn) handle(msg *protocol.Message) {
	if transfer.IsPart(msg) {
		c.handlePart(msg)
		return
	}
	if msg.IsControl() && msg.Code == protocol.CodeGetCaps {
		if err := c.Reply(msg, protocol.NewControl(protocol.CodeCaps, 0, uint32(protocol.Version)<<24)); err != nil {
			log.Warn().Str("conn", c.cfg.Name).Err(err).Msg("session.Conn.handle caps reply failed")
		}
		return
	}
	c.corr.Dispatch(msg)
}

func (c *Conn) handlePart(msg *protocol.Message) {
	if msg.Code == protocol.CodeAbortTransfer {
		if out, ok := c.asm.Abort(msg.ID); ok {
			c.transferFailed(out)
		}
		return
	}
	out := c.asm.OnPart(msg, time.Now())
	switch out.Status {
	case transfer.Complete:
		c.xferDone.Add(1)
		c.cfg.Observer.TransferDone("complete")
		c.corr.Dispatch(protocol.NewBinary(out.Code, out.ID, out.Data))
	case transfer.Failed:
		c.transferFailed(out)
	}
}

func (c *Conn) transferFailed(out transfer.Outcome) {
	c.xferFailed.Add(1)
	c.cfg.Observer.TransferDone(transferErrorKind(out.Err))
	if c.corr.Fail(out.ID, out.Err) {
		return
	}
	if c.onTransferError != nil {
		c.onTransferError(out)
		return
	}
	log.Warn().
		Str("conn", c.cfg.Name).
		Uint32("id", out.ID).
		Uint16("code", out.Code).
		Err(out.Err).
		Msg("session.Conn.transfer failed")
}

func (c *Conn) janitor(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case now := <-ticker.C:
			for _, out := range c.asm.Expire(now) {
				c.transferFailed(out)
			}
			c.corr.Prune(now, c.cfg.AbandonedTTL)
		}
	}
}

// Close tears the connection down and fails every pending request.
func (c *Conn) Close() error {
	c.shutdown(ErrConnectionClosed)
	return nil
}

// Done is closed once the connection has been torn down.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Err returns the teardown cause, or nil while the connection is open.
func (c *Conn) Err() error {
	select {
	case <-c.closed:
		return c.cause
	default:
		return nil
	}
}

func (c *Conn) closedErr() error {
	if c.cause != nil && !errors.Is(c.cause, ErrConnectionClosed) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, c.cause)
	}
	return ErrConnectionClosed
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.cause = cause
		close(c.closed)
		c.corr.CloseAll(cause)
		if closer, ok := c.rw.(io.Closer); ok {
			_ = closer.Close()
		}
		log.Debug().Str("conn", c.cfg.Name).AnErr("cause", cause).Msg("session.Conn closed")
	})
}

func (c *Conn) Stats() Stats {
	return Stats{
		Name:               c.cfg.Name,
		FramesIn:           c.framesIn.Load(),
		FramesOut:          c.framesOut.Load(),
		FrameErrors:        c.frameErrors.Load(),
		Notifications:      c.notifications.Load(),
		TransfersCompleted: c.xferDone.Load(),
		TransfersFailed:    c.xferFailed.Load(),
		Pending:            c.corr.Pending(),
		OpenTransfers:      c.asm.Open(),
		PeerVersion:        int(c.peerVersion.Load()),
		Closed:             c.Err() != nil,
	}
}

func frameErrorKind(err error) string {
	switch {
	case errors.Is(err, frame.ErrFrameTooLarge):
		return "frame_too_large"
	case errors.Is(err, frame.ErrNoSealer):
		return "no_sealer"
	case errors.Is(err, protocol.ErrUnknownFieldType):
		return "unknown_field_type"
	case errors.Is(err, protocol.ErrCorruptCompressed):
		return "corrupt_compressed"
	case errors.Is(err, protocol.ErrLengthMismatch):
		return "length_mismatch"
	default:
		return "other"
	}
}

func transferErrorKind(err error) string {
	switch {
	case errors.Is(err, transfer.ErrTransferTimedOut):
		return "timeout"
	case errors.Is(err, transfer.ErrTransferOverlap):
		return "overlap"
	case errors.Is(err, transfer.ErrTransferAborted):
		return "aborted"
	case errors.Is(err, transfer.ErrTransferTooLarge):
		return "too_large"
	default:
		return "error"
	}
}
