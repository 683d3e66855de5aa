package adcmt

import (
	"fmt"
	"sync"
	"time"
)

// ExchangeState is the completion state of one command exchange.
type ExchangeState uint8

const (
	ExchangePending   ExchangeState = iota // submitted, response outstanding
	ExchangeCompleted                      // response received and classified
	ExchangeTimedOut                       // deadline elapsed without a response
	ExchangeFailed                         // transport or frame failure
)

// String returns a readable name for the exchange state.
func (s ExchangeState) String() string {
	switch s {
	case ExchangePending:
		return "Pending"
	case ExchangeCompleted:
		return "Completed"
	case ExchangeTimedOut:
		return "TimedOut"
	case ExchangeFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Exchange records one in-flight command awaiting its response. The
// protocol is strictly half-duplex with no request identifiers, so a
// response correlates to a command only by issuance order; exactly one
// Exchange may be alive per device handle at any instant.
type Exchange struct {
	Command   string
	Submitted time.Time
	Deadline  time.Time

	mu    sync.Mutex
	state ExchangeState
	frame Frame
	err   error
	done  chan struct{}
}

// State returns the exchange's completion state.
func (e *Exchange) State() ExchangeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done is closed when the exchange resolves.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Result returns the response frame and error once the exchange has
// resolved.
func (e *Exchange) Result() (Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame, e.err
}

// resolve moves the exchange to a final state exactly once.
func (e *Exchange) resolve(state ExchangeState, frame Frame, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != ExchangePending {
		return
	}
	e.state = state
	e.frame = frame
	e.err = err
	close(e.done)
}

// ExchangeTracker enforces the single-pending-exchange invariant. The
// engine's submission mutex already serializes callers; the tracker is
// the backstop that turns any violation into an error instead of
// interleaved frames on the wire.
type ExchangeTracker struct {
	mu      sync.Mutex
	current *Exchange
}

// NewExchangeTracker creates an empty tracker.
func NewExchangeTracker() *ExchangeTracker {
	return &ExchangeTracker{}
}

// Begin registers a new pending exchange. It fails if one is already
// outstanding.
func (t *ExchangeTracker) Begin(command string, timeout time.Duration) (*Exchange, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil && t.current.State() == ExchangePending {
		return nil, fmt.Errorf("exchange %q still pending while submitting %q",
			t.current.Command, command)
	}

	now := time.Now()
	ex := &Exchange{
		Command:   command,
		Submitted: now,
		Deadline:  now.Add(timeout),
		done:      make(chan struct{}),
	}
	t.current = ex
	return ex, nil
}

// Current returns the most recent exchange, resolved or not.
func (t *ExchangeTracker) Current() *Exchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Pending reports whether an exchange is outstanding.
func (t *ExchangeTracker) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil && t.current.State() == ExchangePending
}

// Abort resolves any outstanding exchange as Failed with err. Used
// when the handle closes or the engine faults underneath a pending
// submission.
func (t *ExchangeTracker) Abort(err error) {
	t.mu.Lock()
	ex := t.current
	t.mu.Unlock()

	if ex != nil {
		ex.resolve(ExchangeFailed, Frame{}, err)
	}
}
