package adcmt

import (
	"sync"
	"sync/atomic"
	"time"
)

// StreamSpec configures a continuous-acquisition session.
type StreamSpec struct {
	// Interval is the minimum spacing between acquisition cycles. Zero
	// paces the stream by the instrument alone.
	Interval time.Duration

	// SkipTrigger omits the per-cycle initiate directive. Set when the
	// instrument is in continuous mode or free-running on an internal
	// trigger.
	SkipTrigger bool
}

// Stream is a pull-driven acquisition session. Each Next call performs
// one full trigger-and-read cycle on the wire; nothing is buffered and
// no background goroutine runs, so the caller's consumption rate is
// the acquisition rate. While a stream is active the engine rejects
// ordinary submissions with ErrBusy.
type Stream struct {
	client *Client
	spec   StreamSpec

	stopped atomic.Bool

	// Held for the duration of one cycle; Stop acquires it to wait out
	// a cycle already on the wire.
	cycleMu sync.Mutex

	lastCycle time.Time
}

// StartStream begins a continuous acquisition session. Fails with
// ErrBusy if one is already active.
func (c *Client) StartStream(spec StreamSpec) (*Stream, error) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()

	if c.stream != nil {
		return nil, ErrBusy
	}

	// The submission gate keeps the state flip from landing in the
	// middle of an in-flight exchange.
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	if err := c.precheck(false); err != nil {
		return nil, err
	}

	c.session.SetState(StateStreamActive)
	s := &Stream{client: c, spec: spec}
	c.stream = s
	c.log.Debugf("stream started (interval %s, skipTrigger %v)", spec.Interval, spec.SkipTrigger)
	return s, nil
}

// StopStream stops the active stream, if any.
func (c *Client) StopStream() error {
	c.streamMu.Lock()
	s := c.stream
	c.streamMu.Unlock()

	if s == nil {
		return nil
	}
	return s.Stop()
}

// Next performs one acquisition cycle and returns its sample. Returns
// ErrStreamStopped once the stream has been stopped; a stop issued
// during a cycle takes effect before the next one, never mid-cycle.
func (s *Stream) Next() (*Sample, error) {
	if s.stopped.Load() {
		return nil, ErrStreamStopped
	}

	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	// Re-check under the cycle lock: Stop may have won the race.
	if s.stopped.Load() {
		return nil, ErrStreamStopped
	}

	if s.spec.Interval > 0 && !s.lastCycle.IsZero() {
		if wait := s.spec.Interval - time.Since(s.lastCycle); wait > 0 {
			time.Sleep(wait)
		}
	}
	s.lastCycle = time.Now()

	c := s.client
	if !s.spec.SkipTrigger {
		cmd := CmdInitiate()
		if _, err := c.submit(&cmd, false, true); err != nil {
			if IsFatal(err) {
				s.fail(err)
			}
			return nil, err
		}
	}

	frame, err := c.submit(nil, true, true)
	if err != nil {
		if IsFatal(err) {
			s.fail(err)
		}
		return nil, err
	}

	res, err := c.buildResult(frame)
	if err != nil {
		return nil, err
	}
	if res.Status != nil {
		return nil, res.Status
	}
	if res.Sample == nil {
		return nil, ErrMalformedFrame
	}
	return res.Sample, nil
}

// Stop ends the session cooperatively. If a cycle is on the wire, Stop
// blocks until it completes; the sample from that cycle is delivered
// to its Next caller, and every later Next returns ErrStreamStopped.
// Idempotent.
func (s *Stream) Stop() error {
	if s.stopped.Swap(true) {
		return nil
	}

	// Wait for any in-flight cycle to finish its exchange.
	s.cycleMu.Lock()
	s.cycleMu.Unlock()

	c := s.client
	c.streamMu.Lock()
	if c.stream == s {
		c.stream = nil
	}
	c.streamMu.Unlock()

	if c.session.State() == StateStreamActive {
		c.session.SetState(StateIdle)
	}
	c.log.Debug("stream stopped")
	return nil
}

// fail tears the stream down after a fatal cycle error so the engine
// does not stay wedged in StreamActive.
func (s *Stream) fail(err error) {
	if s.stopped.Swap(true) {
		return
	}
	c := s.client
	c.streamMu.Lock()
	if c.stream == s {
		c.stream = nil
	}
	c.streamMu.Unlock()
	if c.session.State() == StateStreamActive {
		c.session.SetState(StateIdle)
	}
	c.log.Warnf("stream aborted: %v", err)
}
