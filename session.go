package adcmt

import (
	"sync"
)

// State is the Protocol Engine's state.
type State uint8

const (
	StateIdle             State = iota // ready for a submission
	StateAwaitingResponse              // one exchange in flight
	StateStreamActive                  // continuous acquisition running
	StateFaulted                       // unusable until reopened
)

// String returns a readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingResponse:
		return "AwaitingResponse"
	case StateStreamActive:
		return "StreamActive"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Session holds the engine state for one device handle plus the local
// shadow of the instrument configuration. The instrument never echoes
// its active function or range in read responses, so measurement
// tagging depends on this shadow; it is replayed to the device when a
// faulted session is reopened.
type Session struct {
	mu sync.RWMutex

	state    State
	faultErr error

	// Consecutive exchange timeouts since the last success.
	timeoutStreak int

	// Shadow configuration. The ok flags distinguish "never set" from
	// a zero value.
	function      Function
	functionOK    bool
	rng           Range
	rngOK         bool
	trigger       TriggerSource
	triggerOK     bool
	samplingCount int
	samplingOK    bool
	continuous    bool
	continuousOK  bool
}

// NewSession creates a session in the Idle state.
func NewSession() *Session {
	return &Session{state: StateIdle}
}

// State returns the current engine state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState moves the engine to st.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Fault moves the engine to Faulted and records the reason. All
// submissions fail with ErrDeviceUnavailable until Recover.
func (s *Session) Fault(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFaulted
	s.faultErr = err
}

// FaultReason returns the error that faulted the engine, or nil.
func (s *Session) FaultReason() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.faultErr
}

// Recover clears a fault and returns the engine to Idle. Called only
// after the device handle has been reopened.
func (s *Session) Recover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.faultErr = nil
	s.timeoutStreak = 0
}

// RecordTimeout increments the consecutive-timeout streak and returns
// its new value.
func (s *Session) RecordTimeout() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeoutStreak++
	return s.timeoutStreak
}

// ResetTimeoutStreak clears the streak after a successful exchange.
func (s *Session) ResetTimeoutStreak() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeoutStreak = 0
}

// TimeoutStreak returns the current consecutive-timeout count.
func (s *Session) TimeoutStreak() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeoutStreak
}

// SetFunction records the last function sent to the device.
func (s *Session) SetFunction(f Function) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.function = f
	s.functionOK = true
}

// Function returns the shadowed measurement function, if one was set.
func (s *Session) Function() (Function, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.function, s.functionOK
}

// SetRange records the last range sent to the device.
func (s *Session) SetRange(r Range) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = r
	s.rngOK = true
}

// Range returns the shadowed range, if one was set.
func (s *Session) Range() (Range, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rng, s.rngOK
}

// SetTrigger records the last trigger source sent to the device.
func (s *Session) SetTrigger(t TriggerSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trigger = t
	s.triggerOK = true
}

// Trigger returns the shadowed trigger source, if one was set.
func (s *Session) Trigger() (TriggerSource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trigger, s.triggerOK
}

// SetSamplingCount records the last sampling count sent to the device.
func (s *Session) SetSamplingCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samplingCount = n
	s.samplingOK = true
}

// SamplingCount returns the shadowed sampling count, if one was set.
func (s *Session) SamplingCount() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samplingCount, s.samplingOK
}

// SetContinuous records the last continuous-measurement setting.
func (s *Session) SetContinuous(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.continuous = on
	s.continuousOK = true
}

// Continuous returns the shadowed continuous setting, if one was set.
func (s *Session) Continuous() (bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.continuous, s.continuousOK
}

// ClearShadow forgets the shadow configuration. Called after *RST,
// which returns the instrument to its power-on defaults.
func (s *Session) ClearShadow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.functionOK = false
	s.rngOK = false
	s.triggerOK = false
	s.samplingOK = false
	s.continuousOK = false
}

// RestoreCommands returns the commands that replay the shadow
// configuration onto the device, in a safe order. Empty if nothing was
// ever set.
func (s *Session) RestoreCommands() []Command {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cmds []Command
	if s.functionOK {
		if c, err := CmdSetFunction(s.function); err == nil {
			cmds = append(cmds, c)
		}
	}
	if s.rngOK {
		if c, err := CmdSetRange(s.rng); err == nil {
			cmds = append(cmds, c)
		}
	}
	if s.triggerOK {
		if c, err := CmdSetTrigger(s.trigger); err == nil {
			cmds = append(cmds, c)
		}
	}
	if s.samplingOK {
		if c, err := CmdSetSamplingCount(s.samplingCount); err == nil {
			cmds = append(cmds, c)
		}
	}
	if s.continuousOK {
		cmds = append(cmds, CmdSetContinuous(s.continuous))
	}
	return cmds
}
