package adcmt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Result is the outcome of one query. Exactly one of Sample and Status
// is set for Numeric and Status frames; Echo frames leave both nil. A
// device-reported error is an expected operating condition and is
// returned here as data, not as a Go error.
type Result struct {
	Frame  Frame
	Sample *Sample
	Status *DeviceError
}

// Client drives one multimeter over one exclusively owned device
// handle. All submissions serialize through it: the protocol carries
// no request identifiers, so responses correlate to commands only by
// issuance order and exactly one exchange may be in flight. Concurrent
// callers block until the previous exchange resolves.
type Client struct {
	cfg       *Config
	usbCtx    *Context
	transport Transport
	decoder   *Decoder
	tags      *TagCounter
	session   *Session
	tracker   *ExchangeTracker
	log       logrus.FieldLogger

	// submitMu is the half-duplex gate: a queue of effective length 1.
	submitMu sync.Mutex

	// Frames decoded beyond the exchange that consumed the read; the
	// next exchange drains these before touching the transport.
	backlog []Frame

	mu     sync.RWMutex
	closed bool

	seq atomic.Uint64

	streamMu sync.Mutex
	stream   *Stream
}

// Open opens the first matching device through ctx and returns a ready
// client. The caller owns ctx and must keep it alive for the client's
// lifetime.
func Open(ctx *Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	t, err := openUSB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c := newClient(t, cfg)
	c.usbCtx = ctx
	c.log.Debugf("opened device %04x:%04x", cfg.VendorID, cfg.ProductID)
	return c, nil
}

// NewClient builds a client over a caller-supplied Transport. Used by
// tests with a fake transport; Open is the production path.
func NewClient(t Transport, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return newClient(t, cfg), nil
}

func newClient(t Transport, cfg *Config) *Client {
	return &Client{
		cfg:       cfg,
		transport: t,
		decoder:   NewDecoder([]byte(cfg.ResponseTerminator), cfg.StatusPrefix, cfg.MaxFrameLen),
		tags:      NewTagCounter(),
		session:   NewSession(),
		tracker:   NewExchangeTracker(),
		log:       cfg.Logger.WithField("driver", "adcmt"),
	}
}

// Close releases the device handle. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.tracker.Abort(ErrClosed)
	err := c.transport.Close()
	c.log.Debug("session closed")
	return err
}

// IsConnected reports whether the client is open and not faulted.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.session.State() != StateFaulted
}

// State returns the engine state.
func (c *Client) State() State {
	return c.session.State()
}

// FaultReason returns the error that faulted the engine, or nil.
func (c *Client) FaultReason() error {
	return c.session.FaultReason()
}

// Session exposes the session state, including the shadow instrument
// configuration.
func (c *Client) Session() *Session {
	return c.session
}

// Reopen recreates the device handle after a fault, returns the engine
// to Idle and replays the shadow configuration onto the device.
// Requires a client created with Open.
func (c *Client) Reopen() error {
	if c.usbCtx == nil {
		return fmt.Errorf("%w: no USB context to reopen with", ErrDeviceUnavailable)
	}
	t, err := openUSB(c.usbCtx, c.cfg)
	if err != nil {
		return err
	}
	return c.ReopenWith(t)
}

// ReopenWith replaces the transport with an already-open one and
// recovers the engine. The previous transport is closed.
func (c *Client) ReopenWith(t Transport) error {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.transport.Close()
	c.transport = t
	c.decoder.Reset()
	c.backlog = nil
	c.session.Recover()

	c.mu.Lock()
	c.closed = false
	c.mu.Unlock()

	c.log.Info("device reopened, resyncing configuration")

	// The shadow configuration is stale from the device's point of
	// view after a power cycle or reconnect; replay it.
	for _, cmd := range c.session.RestoreCommands() {
		if _, err := c.exchangeLocked(&cmd, false, false); err != nil {
			return fmt.Errorf("resync %q: %w", cmd.String(), err)
		}
	}
	return nil
}

// Exec submits a set directive and does not wait for a response
// transfer. Blocks while another exchange is in flight.
func (c *Client) Exec(cmd Command) error {
	_, err := c.submit(&cmd, false, false)
	return err
}

// Query submits a directive and waits for its response frame. Blocks
// while another exchange is in flight.
func (c *Client) Query(cmd Command) (*Result, error) {
	frame, err := c.submit(&cmd, true, false)
	if err != nil {
		return nil, err
	}
	return c.buildResult(frame)
}

// Read requests the instrument's current reading without sending a
// command first.
func (c *Client) Read() (*Sample, error) {
	frame, err := c.submit(nil, true, false)
	if err != nil {
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
		return nil, fmt.Errorf("%w: expected a reading, got %s frame %q",
			ErrMalformedFrame, frame.Class, frame.Data)
	}
	return res.Sample, nil
}

// Measure initiates a single measurement and reads it back.
func (c *Client) Measure() (*Sample, error) {
	if err := c.Exec(CmdInitiate()); err != nil {
		return nil, err
	}
	return c.Read()
}

// DeviceClear recovers the device endpoints from a stall and discards
// any partial response state.
func (c *Client) DeviceClear() error {
	cl, ok := c.transport.(Clearer)
	if !ok {
		return fmt.Errorf("%w: transport cannot clear halt", ErrInvalidParameter)
	}
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	if err := cl.Clear(); err != nil {
		return err
	}
	c.decoder.Reset()
	c.backlog = nil
	return nil
}

// StatusByte reads the instrument status byte out of band.
func (c *Client) StatusByte() (byte, error) {
	sr, ok := c.transport.(StatusReader)
	if !ok {
		return 0, fmt.Errorf("%w: transport cannot read status byte", ErrInvalidParameter)
	}
	return sr.StatusByte()
}

// submit runs one serialized exchange. internal marks stream-cycle
// submissions, which are legal while the engine is StreamActive.
func (c *Client) submit(cmd *Command, wantResponse, internal bool) (Frame, error) {
	if err := c.precheck(internal); err != nil {
		return Frame{}, err
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	// State may have changed while blocked on the gate.
	if err := c.precheck(internal); err != nil {
		return Frame{}, err
	}
	return c.exchangeLocked(cmd, wantResponse, internal)
}

// precheck fails fast, without touching the transport, when the
// engine cannot accept a submission.
func (c *Client) precheck(internal bool) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	switch st := c.session.State(); st {
	case StateFaulted:
		if reason := c.session.FaultReason(); reason != nil {
			return fmt.Errorf("%w (fault: %v)", ErrDeviceUnavailable, reason)
		}
		return ErrDeviceUnavailable
	case StateStreamActive:
		if !internal {
			return ErrBusy
		}
	}
	return nil
}

// exchangeLocked performs one command exchange. Caller holds submitMu.
func (c *Client) exchangeLocked(cmd *Command, wantResponse, internal bool) (Frame, error) {
	name := "(read)"
	if cmd != nil {
		name = cmd.String()
	}

	ex, err := c.tracker.Begin(name, c.cfg.Timeout.Std())
	if err != nil {
		return Frame{}, err
	}

	if !internal {
		c.session.SetState(StateAwaitingResponse)
		defer func() {
			// A fault sticks; anything else returns the engine to Idle.
			if c.session.State() == StateAwaitingResponse {
				c.session.SetState(StateIdle)
			}
		}()
	}

	c.log.Debugf("submit %s (timeout %s)", name, c.cfg.Timeout)
	start := time.Now()
	frame, err := c.perform(ex, cmd, wantResponse)
	metricExchangeDuration.Observe(time.Since(start).Seconds())
	metricExchanges.WithLabelValues(ex.State().String()).Inc()
	return frame, err
}

// perform writes the command, requests the response and drives reads
// until a frame completes or the deadline elapses.
func (c *Client) perform(ex *Exchange, cmd *Command, wantResponse bool) (Frame, error) {
	if cmd != nil {
		pkt, err := EncodeCommand(cmd.String(), c.tags.Next(), []byte(c.cfg.CommandTerminator))
		if err != nil {
			ex.resolve(ExchangeFailed, Frame{}, err)
			return Frame{}, err
		}
		if err := c.writeFull(pkt, ex.Deadline); err != nil {
			return Frame{}, c.resolveError(ex, err)
		}
	}

	if !wantResponse {
		ex.resolve(ExchangeCompleted, Frame{}, nil)
		c.session.ResetTimeoutStreak()
		return Frame{}, nil
	}

	// A previous read may have delivered more than one frame.
	if len(c.backlog) > 0 {
		frame := c.backlog[0]
		c.backlog = c.backlog[1:]
		ex.resolve(ExchangeCompleted, frame, nil)
		c.session.ResetTimeoutStreak()
		return frame, nil
	}

	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		if time.Now().After(ex.Deadline) {
			return Frame{}, c.resolveTimeout(ex)
		}

		// One read request yields at most one transfer; re-issue it
		// until a frame completes.
		rr := EncodeReadRequest(c.tags.Next())
		if err := c.writeFull(rr, ex.Deadline); err != nil {
			return Frame{}, c.resolveError(ex, err)
		}
		time.Sleep(c.cfg.ReadSetupDelay.Std())

		remaining := time.Until(ex.Deadline)
		if remaining <= 0 {
			return Frame{}, c.resolveTimeout(ex)
		}

		n, err := c.transport.Read(buf, remaining)
		if n > 0 {
			metricBytesRead.Add(float64(n))
		}
		if err != nil && !IsTimeout(err) {
			return Frame{}, c.resolveError(ex, err)
		}

		frames, ferr := c.decoder.Feed(buf[:n])
		if len(frames) > 1 {
			c.backlog = append(c.backlog, frames[1:]...)
		}
		if len(frames) > 0 {
			frame := frames[0]
			c.log.Debugf("recv %s", frame)
			ex.resolve(ExchangeCompleted, frame, nil)
			c.session.ResetTimeoutStreak()
			return frame, nil
		}
		if ferr != nil {
			c.decoder.Reset()
			ex.resolve(ExchangeFailed, Frame{}, ferr)
			return Frame{}, &ExchangeError{Command: ex.Command, State: ExchangeFailed, Err: ferr}
		}
	}
}

// writeFull pushes p to the device, retrying partial writes, then
// waits out the instrument's processing pause.
func (c *Client) writeFull(p []byte, deadline time.Time) error {
	for len(p) > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		n, err := c.transport.Write(p, remaining)
		if n > 0 {
			metricBytesWritten.Add(float64(n))
		}
		if err != nil {
			return err
		}
		p = p[n:]
	}
	time.Sleep(c.cfg.PostWriteDelay.Std())
	return nil
}

// resolveTimeout resolves the exchange as TimedOut, returns the engine
// to Idle and escalates to Faulted past the configured streak. The
// engine never resubmits on its own: blind retries of a broken command
// could desynchronize device state, so the caller decides.
func (c *Client) resolveTimeout(ex *Exchange) error {
	ex.resolve(ExchangeTimedOut, Frame{}, ErrTimeout)
	metricTimeouts.Inc()

	// Drop partial bytes and parked frames. A response landing after
	// the deadline belongs to the timed-out command and must not be
	// attributed to the next submission.
	c.decoder.Reset()
	c.backlog = nil

	streak := c.session.RecordTimeout()
	c.log.Warnf("exchange %q timed out (%d consecutive)", ex.Command, streak)
	if streak > c.cfg.MaxTimeouts {
		c.fault(fmt.Errorf("%w (%d consecutive timeouts)", ErrTimeout, streak))
	}
	return &ExchangeError{Command: ex.Command, State: ExchangeTimedOut, Err: ErrTimeout}
}

// resolveError resolves the exchange as Failed. Transport timeouts on
// write degrade to the timeout path; everything else faults the
// engine.
func (c *Client) resolveError(ex *Exchange, err error) error {
	if IsTimeout(err) {
		return c.resolveTimeout(ex)
	}
	ex.resolve(ExchangeFailed, Frame{}, err)
	c.fault(err)
	return &ExchangeError{Command: ex.Command, State: ExchangeFailed, Err: err}
}

// fault moves the engine to Faulted.
func (c *Client) fault(err error) {
	c.log.Errorf("engine faulted: %v", err)
	c.session.Fault(err)
	metricFaults.Inc()
}

// buildResult decodes a completed frame into a Result, tagging numeric
// samples with the shadow configuration active at submission time.
func (c *Client) buildResult(frame Frame) (*Result, error) {
	res := &Result{Frame: frame}

	switch frame.Class {
	case FrameNumeric:
		value, err := parseValue(frame.Data)
		if err != nil {
			return nil, err
		}
		fn, _ := c.session.Function()
		rng, _ := c.session.Range()
		res.Sample = &Sample{
			Value:    value,
			Unit:     fn.Unit(),
			Function: fn,
			Range:    rng,
			Seq:      c.seq.Add(1),
			Time:     time.Now(),
		}
		metricSamples.Inc()

	case FrameStatus:
		res.Status = parseStatus(frame.Data, c.cfg.StatusPrefix)

	case FrameUnrecognized:
		c.log.Warnf("unrecognized frame %q", frame.Data)
	}
	return res, nil
}
