package adcmt

import (
	"errors"
	"testing"
)

func TestSession_StateTransitions(t *testing.T) {
	s := NewSession()
	if s.State() != StateIdle {
		t.Fatalf("initial state = %s, want Idle", s.State())
	}

	s.SetState(StateAwaitingResponse)
	if s.State() != StateAwaitingResponse {
		t.Errorf("state = %s, want AwaitingResponse", s.State())
	}

	s.SetState(StateStreamActive)
	if s.State() != StateStreamActive {
		t.Errorf("state = %s, want StreamActive", s.State())
	}
}

func TestSession_FaultAndRecover(t *testing.T) {
	s := NewSession()

	cause := errors.New("endpoint stalled")
	s.Fault(cause)

	if s.State() != StateFaulted {
		t.Fatalf("state = %s, want Faulted", s.State())
	}
	if !errors.Is(s.FaultReason(), cause) {
		t.Errorf("FaultReason = %v, want %v", s.FaultReason(), cause)
	}

	s.RecordTimeout()
	s.Recover()
	if s.State() != StateIdle {
		t.Errorf("state after Recover = %s, want Idle", s.State())
	}
	if s.FaultReason() != nil {
		t.Errorf("FaultReason not cleared: %v", s.FaultReason())
	}
	if s.TimeoutStreak() != 0 {
		t.Errorf("timeout streak not cleared: %d", s.TimeoutStreak())
	}
}

func TestSession_TimeoutStreak(t *testing.T) {
	s := NewSession()

	if got := s.RecordTimeout(); got != 1 {
		t.Errorf("first RecordTimeout = %d, want 1", got)
	}
	if got := s.RecordTimeout(); got != 2 {
		t.Errorf("second RecordTimeout = %d, want 2", got)
	}

	s.ResetTimeoutStreak()
	if got := s.TimeoutStreak(); got != 0 {
		t.Errorf("streak after reset = %d, want 0", got)
	}
	if got := s.RecordTimeout(); got != 1 {
		t.Errorf("RecordTimeout after reset = %d, want 1", got)
	}
}

func TestSession_Shadow(t *testing.T) {
	s := NewSession()

	if _, ok := s.Function(); ok {
		t.Error("Function set on a fresh session")
	}

	s.SetFunction(FuncACV)
	s.SetRange(Range(3))
	s.SetTrigger(TriggerBus)
	s.SetSamplingCount(10)
	s.SetContinuous(true)

	if f, ok := s.Function(); !ok || f != FuncACV {
		t.Errorf("Function = %v, %v", f, ok)
	}
	if r, ok := s.Range(); !ok || r != Range(3) {
		t.Errorf("Range = %v, %v", r, ok)
	}
	if tr, ok := s.Trigger(); !ok || tr != TriggerBus {
		t.Errorf("Trigger = %v, %v", tr, ok)
	}
	if n, ok := s.SamplingCount(); !ok || n != 10 {
		t.Errorf("SamplingCount = %v, %v", n, ok)
	}
	if on, ok := s.Continuous(); !ok || !on {
		t.Errorf("Continuous = %v, %v", on, ok)
	}
}

func TestSession_RestoreCommands(t *testing.T) {
	s := NewSession()

	if cmds := s.RestoreCommands(); len(cmds) != 0 {
		t.Fatalf("fresh session restore = %v, want none", cmds)
	}

	s.SetFunction(FuncDCV)
	s.SetTrigger(TriggerBus)
	s.SetContinuous(false)

	var got []string
	for _, c := range s.RestoreCommands() {
		got = append(got, c.String())
	}
	want := []string{"F1", "TRS3", "INIC0"}
	if len(got) != len(want) {
		t.Fatalf("restore commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("restore command %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSession_ClearShadow(t *testing.T) {
	s := NewSession()
	s.SetFunction(FuncResistance)
	s.SetRange(Range(2))
	s.SetSamplingCount(5)

	s.ClearShadow()

	if _, ok := s.Function(); ok {
		t.Error("Function survived ClearShadow")
	}
	if _, ok := s.Range(); ok {
		t.Error("Range survived ClearShadow")
	}
	if cmds := s.RestoreCommands(); len(cmds) != 0 {
		t.Errorf("restore after ClearShadow = %v, want none", cmds)
	}
}
