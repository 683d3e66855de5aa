package adcmt

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTransport scripts device behavior for engine tests. Writes are
// recorded; each Read pops one queued response. An empty queue behaves
// like a silent instrument: the read blocks briefly, then times out.
type fakeTransport struct {
	mu        sync.Mutex
	writes    [][]byte
	responses [][]byte
	readErr   error         // sticky error returned by every Read
	gate      chan struct{} // when set, each Read waits for a token
	closed    bool
}

func (f *fakeTransport) Write(p []byte, timeout time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrDisconnected
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	f.writes = append(f.writes, cp)
	return len(p), nil
}

func (f *fakeTransport) Read(p []byte, timeout time.Duration) (int, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, ErrDisconnected
	}
	if f.readErr != nil {
		err := f.readErr
		f.mu.Unlock()
		return 0, err
	}
	if len(f.responses) == 0 {
		f.mu.Unlock()
		wait := 2 * time.Millisecond
		if timeout < wait {
			wait = timeout
		}
		time.Sleep(wait)
		return 0, ErrTimeout
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	f.mu.Unlock()
	return copy(p, resp), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) queue(resp string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, []byte(resp))
}

// commands decodes the recorded writes back into the mnemonics that
// crossed the wire, skipping read requests.
func (f *fakeTransport) commands(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var cmds []string
	for _, w := range f.writes {
		h, err := ParseHeader(w)
		if err != nil {
			t.Fatalf("recorded write has bad header: %v", err)
		}
		if h.MsgID != MsgCommand {
			continue
		}
		payload := trimPadding(w[HeaderSize:])
		cmds = append(cmds, string(payload))
	}
	return cmds
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Timeout = Duration(50 * time.Millisecond)
	cfg.MaxTimeouts = 2
	cfg.PostWriteDelay = Duration(time.Nanosecond)
	cfg.ReadSetupDelay = Duration(time.Nanosecond)
	cfg.InitSettleDelay = Duration(time.Nanosecond)
	return cfg
}

func newTestClient(t *testing.T) (*Client, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	c, err := NewClient(ft, testConfig())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c, ft
}

func TestClient_ExecAndQuery(t *testing.T) {
	c, ft := newTestClient(t)
	defer c.Close()

	if err := c.SetFunction(FuncDCV); err != nil {
		t.Fatalf("SetFunction failed: %v", err)
	}
	if err := c.SetTriggerSource(TriggerBus); err != nil {
		t.Fatalf("SetTriggerSource failed: %v", err)
	}

	ft.queue("TRS3\r\n")
	src, err := c.TriggerSource()
	if err != nil {
		t.Fatalf("TriggerSource failed: %v", err)
	}
	if src != TriggerBus {
		t.Errorf("TriggerSource = %s, want Bus", src)
	}

	want := []string{"F1", "TRS3", "TRS?"}
	got := ft.commands(t)
	if len(got) != len(want) {
		t.Fatalf("commands on wire = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, got[i], want[i])
		}
	}

	if c.State() != StateIdle {
		t.Errorf("state = %s, want Idle", c.State())
	}
}

func TestClient_Measure(t *testing.T) {
	c, ft := newTestClient(t)
	defer c.Close()

	if err := c.SetFunction(FuncDCV); err != nil {
		t.Fatalf("SetFunction failed: %v", err)
	}

	ft.queue("+1.234567E+00\r\n")
	sample, err := c.Measure()
	if err != nil {
		t.Fatalf("Measure failed: %v", err)
	}

	if sample.Value != 1.234567 {
		t.Errorf("Value = %g, want 1.234567", sample.Value)
	}
	if sample.Unit != UnitVolt {
		t.Errorf("Unit = %s, want V", sample.Unit)
	}
	if sample.Function != FuncDCV {
		t.Errorf("Function = %s, want DCV", sample.Function)
	}
	if sample.Seq != 1 {
		t.Errorf("Seq = %d, want 1", sample.Seq)
	}

	// Sequence numbers are strictly increasing across reads.
	ft.queue("-5.0E-03\r\n")
	second, err := c.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if second.Seq != 2 {
		t.Errorf("Seq = %d, want 2", second.Seq)
	}
}

func TestClient_ReadTaggedReading(t *testing.T) {
	c, ft := newTestClient(t)
	defer c.Close()

	if err := c.SetFunction(FuncDCV); err != nil {
		t.Fatalf("SetFunction failed: %v", err)
	}

	// Readings prefixed with the instrument's header tag parse like
	// bare ones.
	ft.queue("DDC+1.23456E-3\r\n")
	sample, err := c.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if sample.Value != 0.00123456 {
		t.Errorf("Value = %g, want 0.00123456", sample.Value)
	}
	if sample.Unit != UnitVolt {
		t.Errorf("Unit = %s, want V", sample.Unit)
	}
}

func TestClient_DeviceStatusIsData(t *testing.T) {
	c, ft := newTestClient(t)
	defer c.Close()

	ft.queue("ERR12\r\n")
	res, err := c.Query(Raw("SPN?"))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Status == nil {
		t.Fatal("Status = nil for a status frame")
	}
	if res.Status.Code != 12 {
		t.Errorf("Code = %d, want 12", res.Status.Code)
	}
	if res.Sample != nil {
		t.Error("Sample set for a status frame")
	}

	// A device-reported error does not fault the engine.
	if c.State() != StateIdle {
		t.Errorf("state = %s, want Idle", c.State())
	}
}

func TestClient_TimeoutReturnsToIdle(t *testing.T) {
	c, _ := newTestClient(t)
	defer c.Close()

	_, err := c.Query(Raw("TRS?"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	var exErr *ExchangeError
	if !errors.As(err, &exErr) {
		t.Fatalf("err = %T, want *ExchangeError", err)
	}
	if exErr.State != ExchangeTimedOut {
		t.Errorf("exchange state = %s, want TimedOut", exErr.State)
	}
	if exErr.Command != "TRS?" {
		t.Errorf("exchange command = %q, want TRS?", exErr.Command)
	}

	// A single timeout leaves the engine usable.
	if c.State() != StateIdle {
		t.Errorf("state = %s, want Idle", c.State())
	}
	if c.session.TimeoutStreak() != 1 {
		t.Errorf("streak = %d, want 1", c.session.TimeoutStreak())
	}
}

func TestClient_SuccessResetsStreak(t *testing.T) {
	c, ft := newTestClient(t)
	defer c.Close()

	if _, err := c.Query(Raw("TRS?")); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if _, err := c.Query(Raw("TRS?")); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if c.session.TimeoutStreak() != 2 {
		t.Fatalf("streak = %d, want 2", c.session.TimeoutStreak())
	}

	ft.queue("TRS0\r\n")
	if _, err := c.Query(Raw("TRS?")); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if c.session.TimeoutStreak() != 0 {
		t.Errorf("streak = %d after success, want 0", c.session.TimeoutStreak())
	}
	if c.State() != StateIdle {
		t.Errorf("state = %s, want Idle", c.State())
	}
}

func TestClient_ConsecutiveTimeoutsFault(t *testing.T) {
	c, ft := newTestClient(t)
	defer c.Close()

	// MaxTimeouts is 2: the third consecutive timeout faults.
	for i := 0; i < 3; i++ {
		if _, err := c.Query(Raw("TRS?")); !errors.Is(err, ErrTimeout) {
			t.Fatalf("attempt %d: err = %v, want ErrTimeout", i, err)
		}
	}

	if c.State() != StateFaulted {
		t.Fatalf("state = %s, want Faulted", c.State())
	}
	if c.IsConnected() {
		t.Error("IsConnected = true on a faulted engine")
	}

	// A fourth submission short-circuits without touching the wire.
	before := ft.writeCount()
	_, err := c.Query(Raw("TRS?"))
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
	if after := ft.writeCount(); after != before {
		t.Errorf("faulted submission wrote %d packets", after-before)
	}
}

func TestClient_DisconnectFaults(t *testing.T) {
	c, ft := newTestClient(t)
	defer c.Close()

	ft.mu.Lock()
	ft.readErr = ErrDisconnected
	ft.mu.Unlock()

	_, err := c.Query(Raw("TRS?"))
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("err = %v, want ErrDisconnected", err)
	}
	if !IsFatal(errors.Unwrap(err)) {
		t.Errorf("unwrapped err not fatal: %v", err)
	}
	if c.State() != StateFaulted {
		t.Errorf("state = %s, want Faulted", c.State())
	}
}

func TestClient_ClosedRejectsSubmissions(t *testing.T) {
	c, _ := newTestClient(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close is idempotent.
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if err := c.Exec(CmdInitiate()); !errors.Is(err, ErrClosed) {
		t.Errorf("Exec err = %v, want ErrClosed", err)
	}
	if _, err := c.Query(Raw("TRS?")); !errors.Is(err, ErrClosed) {
		t.Errorf("Query err = %v, want ErrClosed", err)
	}
}

func TestClient_ConcurrentSubmissionsSerialize(t *testing.T) {
	c, ft := newTestClient(t)
	defer c.Close()

	const n = 8
	for i := 0; i < n; i++ {
		ft.queue("+1.0E+00\r\n")
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Query(Raw("TRS?"))
		}(i)
	}
	wg.Wait()

	// Every caller gets a response; the tracker never sees two pending
	// exchanges because the gate serializes them.
	for i, err := range errs {
		if err != nil {
			t.Errorf("query %d failed: %v", i, err)
		}
	}
	if c.State() != StateIdle {
		t.Errorf("state = %s, want Idle", c.State())
	}
}

func TestClient_ReopenReplaysShadow(t *testing.T) {
	c, ft := newTestClient(t)
	defer c.Close()

	if err := c.SetFunction(FuncACI); err != nil {
		t.Fatalf("SetFunction failed: %v", err)
	}
	if err := c.SetSamplingCount(10); err != nil {
		t.Fatalf("SetSamplingCount failed: %v", err)
	}

	// Fault the engine, then hand it a fresh transport.
	ft.mu.Lock()
	ft.readErr = ErrDisconnected
	ft.mu.Unlock()
	if _, err := c.Query(Raw("TRS?")); err == nil {
		t.Fatal("query on dead transport succeeded")
	}
	if c.State() != StateFaulted {
		t.Fatalf("state = %s, want Faulted", c.State())
	}

	fresh := &fakeTransport{}
	if err := c.ReopenWith(fresh); err != nil {
		t.Fatalf("ReopenWith failed: %v", err)
	}

	if c.State() != StateIdle {
		t.Errorf("state = %s, want Idle", c.State())
	}

	want := []string{"F6", "SPN10"}
	got := fresh.commands(t)
	if len(got) != len(want) {
		t.Fatalf("replayed commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("replayed command %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClient_ResetClearsShadow(t *testing.T) {
	c, _ := newTestClient(t)
	defer c.Close()

	if err := c.SetFunction(FuncDCV); err != nil {
		t.Fatalf("SetFunction failed: %v", err)
	}
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, ok := c.session.Function(); ok {
		t.Error("shadow function survived Reset")
	}
}

func TestClient_TimeoutFlushesPartialResponse(t *testing.T) {
	c, ft := newTestClient(t)
	defer c.Close()

	// The instrument starts a response but never finishes it; the
	// exchange times out with the partial bytes buffered.
	ft.queue("+1.2")
	if _, err := c.Query(Raw("TRS?")); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if n := c.decoder.Buffered(); n != 0 {
		t.Fatalf("%d stale bytes buffered after timeout", n)
	}

	// The next exchange must not inherit the timed-out command's
	// partial bytes.
	ft.queue("34E+00\r\n")
	res, err := c.Query(Raw("SPN?"))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if string(res.Frame.Data) != "34E+00" {
		t.Errorf("frame = %q, want 34E+00", res.Frame.Data)
	}
}

func TestClient_BacklogServesNextQuery(t *testing.T) {
	c, ft := newTestClient(t)
	defer c.Close()

	// Two responses arrive in one transfer; the second must serve the
	// next query without another wire read.
	ft.queue("TRS0\r\nSPN10\r\n")

	res, err := c.Query(Raw("TRS?"))
	if err != nil {
		t.Fatalf("first Query failed: %v", err)
	}
	if string(res.Frame.Data) != "TRS0" {
		t.Errorf("first frame = %q, want TRS0", res.Frame.Data)
	}

	res, err = c.Query(Raw("SPN?"))
	if err != nil {
		t.Fatalf("second Query failed: %v", err)
	}
	if string(res.Frame.Data) != "SPN10" {
		t.Errorf("second frame = %q, want SPN10", res.Frame.Data)
	}
}
