package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/nxwire/internal/protocol"
)

// SendFunc writes one message to the peer.
type SendFunc func(*protocol.Message) error

// NotifyHandler receives messages that match no pending request. Handlers
// run on the reader goroutine and must not block on replies from the same
// connection.
type NotifyHandler func(*protocol.Message)

// Call is one outstanding request.
type Call struct {
	ID   uint32
	Code uint16
	Sent time.Time

	corr  *Correlator
	timer *time.Timer
	done  chan struct{}
	once  sync.Once
	reply *protocol.Message
	err   error
}

// Done is closed once the call has a reply or an error.
func (c *Call) Done() <-chan struct{} { return c.done }

// Result blocks until the call finishes.
func (c *Call) Result() (*protocol.Message, error) {
	<-c.done
	return c.reply, c.err
}

// Wait blocks until the call finishes or ctx ends; in the latter case the
// call is cancelled and ctx.Err is returned.
func (c *Call) Wait(ctx context.Context) (*protocol.Message, error) {
	select {
	case <-c.done:
		return c.reply, c.err
	case <-ctx.Done():
		c.Cancel()
		<-c.done
		if c.reply != nil {
			return c.reply, nil
		}
		return nil, ctx.Err()
	}
}

// Cancel abandons the call. Cancelling a finished call is a no-op.
func (c *Call) Cancel() {
	c.corr.abandon(c, ErrRequestCancelled)
}

// arm starts the timeout timer. A zero timeout never expires.
func (c *Call) arm(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	c.corr.mu.Lock()
	defer c.corr.mu.Unlock()
	if c.corr.pending[c.ID] != c {
		return
	}
	c.timer = time.AfterFunc(timeout, func() {
		c.corr.abandon(c, fmt.Errorf("%w: id=%d after %s", ErrRequestTimedOut, c.ID, timeout))
	})
}

func (c *Call) finish(reply *protocol.Message, err error) bool {
	finished := false
	c.once.Do(func() {
		c.reply, c.err = reply, err
		close(c.done)
		finished = true
	})
	return finished
}

// Correlator matches inbound messages to outstanding requests by
// correlation id and hands everything else to notification handlers.
type Correlator struct {
	send SendFunc
	obs  Observer

	nextID atomic.Uint32

	mu        sync.Mutex
	pending   map[uint32]*Call
	abandoned map[uint32]time.Time
	closed    error

	hmu      sync.RWMutex
	handlers []NotifyHandler
}

// NewCorrelator returns a correlator that writes through send. obs may be nil.
func NewCorrelator(send SendFunc, obs Observer) *Correlator {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Correlator{
		send:      send,
		obs:       obs,
		pending:   make(map[uint32]*Call),
		abandoned: make(map[uint32]time.Time),
	}
}

// NextID returns a fresh non-zero correlation id.
func (c *Correlator) NextID() uint32 {
	for {
		if id := c.nextID.Add(1); id != 0 {
			return id
		}
	}
}

// OnNotify registers a handler for unsolicited messages. Handlers are
// invoked in registration order.
func (c *Correlator) OnNotify(h NotifyHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Submit registers msg as a request and sends it. An id of 0 is replaced by
// a fresh one. A zero timeout never expires.
func (c *Correlator) Submit(msg *protocol.Message, timeout time.Duration) (*Call, error) {
	call, err := c.expect(msg, timeout)
	if err != nil {
		return nil, err
	}
	if err := c.send(msg); err != nil {
		c.remove(call)
		call.finish(nil, err)
		c.obs.RequestDone("send_error", time.Since(call.Sent))
		return nil, err
	}
	return call, nil
}

// Request submits msg and waits for its reply.
func (c *Correlator) Request(ctx context.Context, msg *protocol.Message, timeout time.Duration) (*protocol.Message, error) {
	call, err := c.Submit(msg, timeout)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Expect registers a pending entry for msg without sending it.
func (c *Correlator) Expect(msg *protocol.Message, timeout time.Duration) (*Call, error) {
	return c.expect(msg, timeout)
}

func (c *Correlator) expect(msg *protocol.Message, timeout time.Duration) (*Call, error) {
	if msg.ID == 0 {
		msg.ID = c.NextID()
	}
	call := &Call{ID: msg.ID, Code: msg.Code, Sent: time.Now(), corr: c, done: make(chan struct{})}

	c.mu.Lock()
	if c.closed != nil {
		err := c.closed
		c.mu.Unlock()
		return nil, err
	}
	if _, dup := c.pending[msg.ID]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: id=%d", ErrDuplicateID, msg.ID)
	}
	c.pending[msg.ID] = call
	delete(c.abandoned, msg.ID)
	c.mu.Unlock()

	call.arm(timeout)
	return call, nil
}

// Dispatch routes one inbound message. It reports whether the message
// completed a pending request.
func (c *Correlator) Dispatch(msg *protocol.Message) bool {
	c.mu.Lock()
	call, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
		if call.timer != nil {
			call.timer.Stop()
		}
	}
	_, late := c.abandoned[msg.ID]
	c.mu.Unlock()

	if ok {
		if call.finish(msg, nil) {
			c.obs.RequestDone("ok", time.Since(call.Sent))
		}
		return true
	}
	if late {
		log.Debug().
			Uint32("id", msg.ID).
			Uint16("code", msg.Code).
			Msg("session.Correlator.Dispatch dropped late reply")
		return false
	}

	c.hmu.RLock()
	handlers := append([]NotifyHandler(nil), c.handlers...)
	c.hmu.RUnlock()
	c.obs.Notification(msg.Code)
	if len(handlers) == 0 {
		log.Debug().
			Uint32("id", msg.ID).
			Uint16("code", msg.Code).
			Msg("session.Correlator.Dispatch unhandled notification")
	}
	for _, h := range handlers {
		h(msg)
	}
	return false
}

// Fail finishes one pending request with err. It reports whether id was
// pending.
func (c *Correlator) Fail(id uint32, err error) bool {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		if call.timer != nil {
			call.timer.Stop()
		}
	}
	c.mu.Unlock()
	if ok && call.finish(nil, err) {
		c.obs.RequestDone("error", time.Since(call.Sent))
	}
	return ok
}

// CloseAll fails every pending request with ErrConnectionClosed and rejects
// later submissions. cause is attached when it is not nil.
func (c *Correlator) CloseAll(cause error) {
	err := ErrConnectionClosed
	if cause != nil && !errors.Is(cause, ErrConnectionClosed) {
		err = fmt.Errorf("%w: %v", ErrConnectionClosed, cause)
	}

	c.mu.Lock()
	if c.closed != nil {
		c.mu.Unlock()
		return
	}
	c.closed = err
	calls := make([]*Call, 0, len(c.pending))
	for id, call := range c.pending {
		if call.timer != nil {
			call.timer.Stop()
		}
		calls = append(calls, call)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, call := range calls {
		if call.finish(nil, err) {
			c.obs.RequestDone("closed", time.Since(call.Sent))
		}
	}
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingIDs returns the outstanding correlation ids in ascending order.
func (c *Correlator) PendingIDs() []uint32 {
	c.mu.Lock()
	ids := make([]uint32, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Prune forgets abandoned ids older than ttl.
func (c *Correlator) Prune(now time.Time, ttl time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, at := range c.abandoned {
		if now.Sub(at) > ttl {
			delete(c.abandoned, id)
			n++
		}
	}
	return n
}

func (c *Correlator) remove(call *Call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[call.ID] == call {
		delete(c.pending, call.ID)
		if call.timer != nil {
			call.timer.Stop()
		}
	}
}

func (c *Correlator) abandon(call *Call, err error) {
	c.mu.Lock()
	current := c.pending[call.ID] == call
	if current {
		delete(c.pending, call.ID)
		c.abandoned[call.ID] = time.Now()
		if call.timer != nil {
			call.timer.Stop()
		}
	}
	c.mu.Unlock()
	if !current {
		return
	}
	if call.finish(nil, err) {
		outcome := "cancelled"
		if errors.Is(err, ErrRequestTimedOut) {
			outcome = "timeout"
		}
		c.obs.RequestDone(outcome, time.Since(call.Sent))
	}
}
