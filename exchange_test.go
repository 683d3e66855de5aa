package adcmt

import (
	"errors"
	"testing"
	"time"
)

func TestExchange_ResolveOnce(t *testing.T) {
	tr := NewExchangeTracker()
	ex, err := tr.Begin("TRS?", time.Second)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if ex.State() != ExchangePending {
		t.Fatalf("state = %s, want Pending", ex.State())
	}

	frame := Frame{Class: FrameEcho, Data: []byte("TRS0")}
	ex.resolve(ExchangeCompleted, frame, nil)

	// A late timeout must not overwrite the result.
	ex.resolve(ExchangeTimedOut, Frame{}, ErrTimeout)

	if ex.State() != ExchangeCompleted {
		t.Errorf("state = %s, want Completed", ex.State())
	}
	got, err := ex.Result()
	if err != nil {
		t.Errorf("Result err = %v", err)
	}
	if string(got.Data) != "TRS0" {
		t.Errorf("Result frame = %q, want TRS0", got.Data)
	}

	select {
	case <-ex.Done():
	default:
		t.Error("Done channel not closed after resolve")
	}
}

func TestExchangeTracker_SinglePending(t *testing.T) {
	tr := NewExchangeTracker()

	first, err := tr.Begin("INI", time.Second)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if !tr.Pending() {
		t.Fatal("Pending = false with an outstanding exchange")
	}

	// A second submission while one is outstanding is a bug upstream.
	if _, err := tr.Begin("TRS?", time.Second); err == nil {
		t.Fatal("Begin allowed a second pending exchange")
	}

	first.resolve(ExchangeCompleted, Frame{}, nil)
	if tr.Pending() {
		t.Error("Pending = true after resolve")
	}

	if _, err := tr.Begin("TRS?", time.Second); err != nil {
		t.Errorf("Begin after resolve failed: %v", err)
	}
}

func TestExchangeTracker_Abort(t *testing.T) {
	tr := NewExchangeTracker()
	ex, err := tr.Begin("SPN?", time.Second)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	tr.Abort(ErrClosed)

	if ex.State() != ExchangeFailed {
		t.Errorf("state = %s, want Failed", ex.State())
	}
	if _, err := ex.Result(); !errors.Is(err, ErrClosed) {
		t.Errorf("Result err = %v, want ErrClosed", err)
	}
}

func TestExchangeState_String(t *testing.T) {
	tests := []struct {
		state ExchangeState
		want  string
	}{
		{ExchangePending, "Pending"},
		{ExchangeCompleted, "Completed"},
		{ExchangeTimedOut, "TimedOut"},
		{ExchangeFailed, "Failed"},
		{ExchangeState(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
