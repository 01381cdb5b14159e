package transfer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/nxwire/internal/protocol"
)

var (
	ErrTransferTimedOut = errors.New("transfer: timed out")
	ErrTransferOverlap  = errors.New("transfer: overlapping or out-of-order part")
	ErrTransferAborted  = errors.New("transfer: aborted")
	ErrTransferTooLarge = errors.New("transfer: size limit exceeded")
	ErrNotPart          = errors.New("transfer: message is not a transfer part")
)

// Status is the state reported for a transfer after a part is applied.
type Status int

const (
	InProgress Status = iota
	Complete
	Failed
)

func (s Status) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome reports the effect of a part, a timeout or an abort. Data is set
// only for Complete, Err only for Failed.
type Outcome struct {
	Status Status
	ID     uint32
	Code   uint16
	Data   []byte
	Err    error
}

type Config struct {
	IdleTimeout     time.Duration
	MaxTransferSize uint64
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout:     60 * time.Second,
		MaxTransferSize: 256 * 1024 * 1024,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.MaxTransferSize == 0 {
		c.MaxTransferSize = d.MaxTransferSize
	}
	return c
}

type record struct {
	code     uint16
	total    uint64
	hasTotal bool
	buf      []byte
	lastSeen time.Time
}

// Assembler reassembles chunked transfers keyed by correlation id. It is
// safe for concurrent use; parts of one transfer must be applied in arrival
// order.
//
// A transfer opens only on a start part. Once a transfer fails its id is
// rejected until the end part arrives or the idle window passes, so the
// remainder of a broken stream never reassembles into a new one.
type Assembler struct {
	cfg Config

	mu     sync.Mutex
	open   map[uint32]*record
	failed map[uint32]time.Time
}

func NewAssembler(cfg Config) *Assembler {
	return &Assembler{
		cfg:    cfg.WithDefaults(),
		open:   make(map[uint32]*record),
		failed: make(map[uint32]time.Time),
	}
}

// IsPart reports whether msg belongs to a chunked transfer.
func IsPart(msg *protocol.Message) bool {
	return msg.Flags&protocol.FlagChunked != 0
}

// OnPart applies one transfer part received at now.
func (a *Assembler) OnPart(msg *protocol.Message, now time.Time) Outcome {
	out := Outcome{ID: msg.ID, Code: msg.Code}
	if !IsPart(msg) {
		return failed(out, ErrNotPart)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dead := a.failed[msg.ID]; dead {
		if msg.Flags&protocol.FlagEndOfTransfer != 0 {
			delete(a.failed, msg.ID)
		} else {
			a.failed[msg.ID] = now
		}
		return failed(out, fmt.Errorf("%w: part for failed transfer", ErrTransferOverlap))
	}

	rec, ok := a.open[msg.ID]
	start := msg.Flags&protocol.FlagStartOfTransfer != 0
	switch {
	case ok && start && len(rec.buf) > 0:
		return a.reject(msg, now, out, fmt.Errorf("%w: restart after %d bytes", ErrTransferOverlap, len(rec.buf)))
	case !ok && !start:
		return a.reject(msg, now, out, fmt.Errorf("%w: part without start", ErrTransferOverlap))
	case !ok:
		rec = &record{code: msg.Code}
		a.open[msg.ID] = rec
	}
	out.Code = rec.code
	received := uint64(len(rec.buf))

	payload, err := partPayload(msg)
	if err != nil {
		return a.reject(msg, now, out, err)
	}
	if msg.Has(protocol.FieldTransferOffset) {
		off, err := msg.GetUint64(protocol.FieldTransferOffset)
		if err != nil {
			return a.reject(msg, now, out, err)
		}
		if off != received {
			return a.reject(msg, now, out, fmt.Errorf("%w: part offset %d, received %d", ErrTransferOverlap, off, received))
		}
	}
	if msg.Has(protocol.FieldTransferSize) {
		size, err := msg.GetUint64(protocol.FieldTransferSize)
		if err != nil {
			return a.reject(msg, now, out, err)
		}
		if rec.hasTotal && size != rec.total {
			return a.reject(msg, now, out, fmt.Errorf("%w: total size changed %d -> %d", ErrTransferOverlap, rec.total, size))
		}
		if size > a.cfg.MaxTransferSize {
			return a.reject(msg, now, out, fmt.Errorf("%w: declared %d bytes", ErrTransferTooLarge, size))
		}
		rec.total, rec.hasTotal = size, true
	}

	next := received + uint64(len(payload))
	if rec.hasTotal && next > rec.total {
		return a.reject(msg, now, out, fmt.Errorf("%w: %d bytes past declared size %d", ErrTransferOverlap, next-rec.total, rec.total))
	}
	if next > a.cfg.MaxTransferSize {
		return a.reject(msg, now, out, fmt.Errorf("%w: %d bytes", ErrTransferTooLarge, next))
	}
	rec.buf = append(rec.buf, payload...)
	rec.lastSeen = now

	if msg.Flags&protocol.FlagEndOfTransfer != 0 || (rec.hasTotal && next == rec.total) {
		delete(a.open, msg.ID)
		out.Status = Complete
		out.Data = rec.buf
		return out
	}
	out.Status = InProgress
	return out
}

// reject drops the open record for msg and, unless msg ends the transfer,
// marks the id failed. a.mu must be held.
func (a *Assembler) reject(msg *protocol.Message, now time.Time, out Outcome, err error) Outcome {
	delete(a.open, msg.ID)
	if msg.Flags&protocol.FlagEndOfTransfer == 0 {
		a.failed[msg.ID] = now
	}
	return failed(out, err)
}

// Expire drops transfers idle for longer than the configured window and
// forgets failed ids that have been quiet as long.
func (a *Assembler) Expire(now time.Time) []Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, at := range a.failed {
		if now.Sub(at) > a.cfg.IdleTimeout {
			delete(a.failed, id)
		}
	}
	var out []Outcome
	for id, rec := range a.open {
		if now.Sub(rec.lastSeen) <= a.cfg.IdleTimeout {
			continue
		}
		delete(a.open, id)
		a.failed[id] = now
		out = append(out, Outcome{
			Status: Failed,
			ID:     id,
			Code:   rec.code,
			Err:    fmt.Errorf("%w: idle %s after %d bytes", ErrTransferTimedOut, now.Sub(rec.lastSeen).Round(time.Millisecond), len(rec.buf)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Abort drops an open transfer. ok is false when id is not tracked.
func (a *Assembler) Abort(id uint32) (Outcome, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.failed, id)
	rec, ok := a.open[id]
	if !ok {
		return Outcome{}, false
	}
	delete(a.open, id)
	return Outcome{Status: Failed, ID: id, Code: rec.code, Err: ErrTransferAborted}, true
}

// Open returns the number of transfers in progress.
func (a *Assembler) Open() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}

// Received returns the bytes accumulated so far for id.
func (a *Assembler) Received(id uint32) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.open[id]
	if !ok {
		return 0, false
	}
	return uint64(len(rec.buf)), true
}

func failed(out Outcome, err error) Outcome {
	out.Status = Failed
	out.Err = err
	return out
}

func partPayload(msg *protocol.Message) ([]byte, error) {
	if msg.IsBinary() {
		return msg.Raw(), nil
	}
	if !msg.Has(protocol.FieldTransferData) {
		return nil, nil
	}
	return msg.GetBinary(protocol.FieldTransferData)
}
