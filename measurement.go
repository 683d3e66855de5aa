package adcmt

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit is the physical unit of a measurement sample.
type Unit uint8

const (
	UnitNone Unit = iota
	UnitVolt
	UnitAmpere
	UnitOhm
	UnitHertz
)

// String returns the unit symbol.
func (u Unit) String() string {
	switch u {
	case UnitVolt:
		return "V"
	case UnitAmpere:
		return "A"
	case UnitOhm:
		return "Ohm"
	case UnitHertz:
		return "Hz"
	default:
		return ""
	}
}

// Sample is one decoded reading. Function and Range come from the
// session's shadow configuration active at submission time; the
// instrument does not echo them. Immutable once produced.
type Sample struct {
	Value    float64
	Unit     Unit
	Function Function
	Range    Range
	Seq      uint64
	Time     time.Time
}

// String returns a readable representation of the sample.
func (s Sample) String() string {
	return fmt.Sprintf("#%d %g %s (%s)", s.Seq, s.Value, s.Unit, s.Function)
}

// parseValue extracts the numeric value from a Numeric frame. The
// instrument formats readings in scientific notation, optionally
// prefixed with an alphabetic header tag (e.g. "DDC+1.23456E-3").
func parseValue(data []byte) (float64, error) {
	s := strings.TrimSpace(string(data))

	// Skip a leading alphabetic header tag, if present.
	i := 0
	for i < len(s) && (s[i] >= 'A' && s[i] <= 'Z') {
		i++
	}
	s = strings.TrimSpace(s[i:])
	if s == "" {
		return 0, fmt.Errorf("%w: empty numeric frame", ErrMalformedFrame)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot parse reading %q", ErrMalformedFrame, data)
	}
	return v, nil
}

// parseStatus decodes a Status frame into the device-error taxonomy.
// The frame shape is "<prefix><code>"; a missing or non-numeric code
// yields code 0 with the raw text preserved.
func parseStatus(data []byte, prefix string) *DeviceError {
	s := strings.TrimSpace(string(data))
	raw := s
	s = strings.TrimPrefix(s, prefix)
	s = strings.TrimSpace(strings.TrimPrefix(s, ","))

	code, err := strconv.Atoi(s)
	if err != nil {
		return &DeviceError{Code: 0, Raw: raw}
	}
	return &DeviceError{Code: code, Raw: raw}
}
