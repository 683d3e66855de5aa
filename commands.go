package adcmt

import (
	"fmt"
	"strconv"
	"strings"
)

// Function is a measurement function of the 7351A.
type Function uint8

const (
	FuncDCV         Function = iota // DC voltage
	FuncACV                         // AC voltage
	FuncResistance                  // 2-wire resistance
	FuncDCI                         // DC current
	FuncACI                         // AC current
	FuncACVCoupled                  // AC voltage, AC+DC coupling
	FuncACICoupled                  // AC current, AC+DC coupling
	FuncDiode                       // diode test
	FuncLowPowerRes                 // low-power 2-wire resistance
	FuncContinuity                  // continuity test
	FuncFrequency                   // frequency
)

// functionCodes maps functions to the instrument's F-mnemonics.
var functionCodes = map[Function]string{
	FuncDCV:         "F1",
	FuncACV:         "F2",
	FuncResistance:  "F3",
	FuncDCI:         "F5",
	FuncACI:         "F6",
	FuncACVCoupled:  "F7",
	FuncACICoupled:  "F8",
	FuncDiode:       "F13",
	FuncLowPowerRes: "F20",
	FuncContinuity:  "F22",
	FuncFrequency:   "F50",
}

var functionNames = map[Function]string{
	FuncDCV:         "DCV",
	FuncACV:         "ACV",
	FuncResistance:  "2WOhm",
	FuncDCI:         "DCI",
	FuncACI:         "ACI",
	FuncACVCoupled:  "ACV(AC+DC)",
	FuncACICoupled:  "ACI(AC+DC)",
	FuncDiode:       "Diode",
	FuncLowPowerRes: "2WOhm(Low)",
	FuncContinuity:  "Cont",
	FuncFrequency:   "Freq",
}

// String returns the function's front-panel name.
func (f Function) String() string {
	if name, ok := functionNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Function(%d)", uint8(f))
}

// Valid reports whether f is a function the device accepts.
func (f Function) Valid() bool {
	_, ok := functionCodes[f]
	return ok
}

// Unit returns the unit of samples taken under this function.
func (f Function) Unit() Unit {
	switch f {
	case FuncDCV, FuncACV, FuncACVCoupled, FuncDiode:
		return UnitVolt
	case FuncDCI, FuncACI, FuncACICoupled:
		return UnitAmpere
	case FuncResistance, FuncLowPowerRes, FuncContinuity:
		return UnitOhm
	case FuncFrequency:
		return UnitHertz
	default:
		return UnitNone
	}
}

// Range selects a measurement range, R0 (auto) through R8. The R-code
// family follows the ADCMT mnemonic convention; which codes a given
// firmware accepts per function should be confirmed against hardware.
type Range int

const (
	RangeAuto Range = 0
	RangeMin  Range = 0
	RangeMax  Range = 8
)

// String returns the range's mnemonic.
func (r Range) String() string {
	if r == RangeAuto {
		return "Auto"
	}
	return fmt.Sprintf("R%d", int(r))
}

// Valid reports whether r is within the accepted range codes.
func (r Range) Valid() bool {
	return r >= RangeMin && r <= RangeMax
}

// TriggerSource selects what initiates a measurement.
type TriggerSource uint8

const (
	TriggerImmediate TriggerSource = 0
	TriggerManual    TriggerSource = 1
	TriggerExternal  TriggerSource = 2
	TriggerBus       TriggerSource = 3
)

// String returns a readable name for the trigger source.
func (t TriggerSource) String() string {
	switch t {
	case TriggerImmediate:
		return "Immediate"
	case TriggerManual:
		return "Manual"
	case TriggerExternal:
		return "External"
	case TriggerBus:
		return "Bus"
	default:
		return fmt.Sprintf("TriggerSource(%d)", uint8(t))
	}
}

// Valid reports whether t is a trigger source the device accepts.
func (t TriggerSource) Valid() bool {
	return t <= TriggerBus
}

// Sampling count limits per the 7351 front panel.
const (
	SamplingCountMin = 1
	SamplingCountMax = 9999
)

// Command is one immutable GPIB-style directive: an ASCII mnemonic
// with its parameters already formatted. Built by the typed
// constructors below, consumed by the Protocol Engine.
type Command struct {
	mnemonic string
	query    bool
}

// String returns the wire mnemonic.
func (c Command) String() string {
	return c.mnemonic
}

// IsQuery reports whether the directive expects a response transfer.
func (c Command) IsQuery() bool {
	return c.query
}

// Raw builds a command from a literal mnemonic, bypassing validation.
// Escape hatch for directives this model does not cover; a trailing
// '?' marks it as a query.
func Raw(mnemonic string) Command {
	return Command{mnemonic: mnemonic, query: strings.HasSuffix(mnemonic, "?")}
}

// CmdSetFunction builds the function-select directive.
func CmdSetFunction(f Function) (Command, error) {
	code, ok := functionCodes[f]
	if !ok {
		return Command{}, fmt.Errorf("%w: unknown measurement function %d", ErrInvalidParameter, uint8(f))
	}
	return Command{mnemonic: code}, nil
}

// CmdSetRange builds the range-select directive.
func CmdSetRange(r Range) (Command, error) {
	if !r.Valid() {
		return Command{}, fmt.Errorf("%w: range %d outside R%d..R%d",
			ErrInvalidParameter, int(r), int(RangeMin), int(RangeMax))
	}
	return Command{mnemonic: "R" + strconv.Itoa(int(r))}, nil
}

// CmdSetTrigger builds the trigger-source directive.
func CmdSetTrigger(t TriggerSource) (Command, error) {
	if !t.Valid() {
		return Command{}, fmt.Errorf("%w: unknown trigger source %d", ErrInvalidParameter, uint8(t))
	}
	return Command{mnemonic: "TRS" + strconv.Itoa(int(t))}, nil
}

// CmdTriggerQuery builds the trigger-source query.
func CmdTriggerQuery() Command {
	return Command{mnemonic: "TRS?", query: true}
}

// CmdSetTriggerDelay builds the trigger-delay directive (milliseconds).
func CmdSetTriggerDelay(ms int) (Command, error) {
	if ms < 0 || ms > 0xFFFF {
		return Command{}, fmt.Errorf("%w: trigger delay %d out of range", ErrInvalidParameter, ms)
	}
	return Command{mnemonic: "TRD" + strconv.Itoa(ms)}, nil
}

// CmdTriggerDelayQuery builds the trigger-delay query.
func CmdTriggerDelayQuery() Command {
	return Command{mnemonic: "TRD?", query: true}
}

// CmdSetSamplingCount builds the sampling-count directive.
func CmdSetSamplingCount(n int) (Command, error) {
	if n < SamplingCountMin || n > SamplingCountMax {
		return Command{}, fmt.Errorf("%w: sampling count %d outside %d..%d",
			ErrInvalidParameter, n, SamplingCountMin, SamplingCountMax)
	}
	return Command{mnemonic: "SPN" + strconv.Itoa(n)}, nil
}

// CmdSamplingCountQuery builds the sampling-count query.
func CmdSamplingCountQuery() Command {
	return Command{mnemonic: "SPN?", query: true}
}

// CmdSetContinuous builds the continuous-measurement enable/disable
// directive.
func CmdSetContinuous(on bool) Command {
	if on {
		return Command{mnemonic: "INIC1"}
	}
	return Command{mnemonic: "INIC0"}
}

// CmdContinuousQuery builds the continuous-measurement query.
func CmdContinuousQuery() Command {
	return Command{mnemonic: "INIC?", query: true}
}

// CmdInitiate builds the directive that leaves the IDLE state and
// starts a measurement.
func CmdInitiate() Command {
	return Command{mnemonic: "INI"}
}

// CmdAbort builds the directive that returns the device to IDLE.
func CmdAbort() Command {
	return Command{mnemonic: "ABO"}
}

// CmdReset builds the *RST directive.
func CmdReset() Command {
	return Command{mnemonic: "*RST"}
}

// parseEchoInt extracts the integer from a mnemonic-echo reply such as
// "TRS0", "INIC1" or "SPN10". A bare integer is accepted too.
func parseEchoInt(prefix string, data []byte) (int, error) {
	s := strings.TrimSpace(string(data))
	s = strings.TrimPrefix(s, prefix)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot parse %q as %s reply", ErrMalformedFrame, data, prefix)
	}
	return n, nil
}
