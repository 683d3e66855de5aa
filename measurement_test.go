package adcmt

import (
	"errors"
	"testing"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    float64
		wantErr bool
	}{
		{"PositiveExponent", "+1.234567E+00", 1.234567, false},
		{"NegativeExponent", "-9.99999E-03", -0.00999999, false},
		{"HeaderTag", "DDC+1.23456E-3", 0.00123456, false},
		{"PlainDecimal", "0.125", 0.125, false},
		{"Whitespace", "  +2.5E+01 ", 25, false},
		{"Empty", "", 0, true},
		{"TagOnly", "DDC", 0, true},
		{"Garbage", "+1.2.3", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseValue([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedFrame) {
					t.Fatalf("err = %v, want ErrMalformedFrame", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseValue failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("value = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name string
		data string
		code int
		raw  string
	}{
		{"Plain", "ERR12", 12, "ERR12"},
		{"CommaSeparated", "ERR, 3", 3, "ERR, 3"},
		{"NoCode", "ERR", 0, "ERR"},
		{"NonNumeric", "ERRX", 0, "ERRX"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := parseStatus([]byte(tt.data), "ERR")
			if de.Code != tt.code {
				t.Errorf("Code = %d, want %d", de.Code, tt.code)
			}
			if de.Raw != tt.raw {
				t.Errorf("Raw = %q, want %q", de.Raw, tt.raw)
			}
		})
	}
}

func TestDeviceError_AsData(t *testing.T) {
	var err error = &DeviceError{Code: 12, Raw: "ERR12"}

	if !IsDeviceError(err) {
		t.Error("IsDeviceError = false for a DeviceError")
	}
	if IsDeviceError(ErrTimeout) {
		t.Error("IsDeviceError = true for ErrTimeout")
	}

	var de *DeviceError
	if !errors.As(err, &de) || de.Code != 12 {
		t.Errorf("errors.As failed: %v", err)
	}
}
