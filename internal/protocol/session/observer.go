package session

import "time"

// Observer receives connection events for instrumentation. Implementations
// must be safe for concurrent use and must not block.
type Observer interface {
	FrameIn(code uint16)
	FrameOut(code uint16)
	FrameError(kind string)
	RequestDone(outcome string, elapsed time.Duration)
	TransferDone(outcome string)
	Notification(code uint16)
}

type nopObserver struct{}

func (nopObserver) FrameIn(uint16)                    {}
func (nopObserver) FrameOut(uint16)                   {}
func (nopObserver) FrameError(string)                 {}
func (nopObserver) RequestDone(string, time.Duration) {}
func (nopObserver) TransferDone(string)               {}
func (nopObserver) Notification(uint16)               {}
