package adcmt

import (
	"errors"
	"fmt"
)

// Transport errors.
var (
	ErrDeviceNotFound   = errors.New("adcmt: device not found")
	ErrPermissionDenied = errors.New("adcmt: permission denied opening device")
	ErrDisconnected     = errors.New("adcmt: device disconnected")
	ErrTimeout          = errors.New("adcmt: operation timeout")
)

// Frame errors.
var (
	ErrFrameTooLong   = errors.New("adcmt: unterminated frame exceeds buffer limit")
	ErrMalformedFrame = errors.New("adcmt: malformed frame")
)

// Protocol errors.
var (
	ErrClosed            = errors.New("adcmt: session closed")
	ErrDeviceUnavailable = errors.New("adcmt: device unavailable until reopened")
	ErrInvalidParameter  = errors.New("adcmt: invalid parameter")
	ErrStreamStopped     = errors.New("adcmt: stream stopped")
	ErrBusy              = errors.New("adcmt: stream active, submissions blocked")
)

// DeviceError is an error status reported by the instrument itself, in
// a status frame rather than a measurement. It is an expected operating
// condition, returned to the caller as data.
type DeviceError struct {
	Code int
	Raw  string
}

func (e *DeviceError) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("adcmt: device reported error %d (%q)", e.Code, e.Raw)
	}
	return fmt.Sprintf("adcmt: device reported error %d", e.Code)
}

// IsDeviceError checks whether err is a DeviceError.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

// ExchangeError wraps the failure of one command exchange with the
// command that was in flight.
type ExchangeError struct {
	Command string
	State   ExchangeState
	Err     error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("adcmt: exchange %q %s: %v", e.Command, e.State, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err makes the device handle unusable until it
// is reopened.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDisconnected) || errors.Is(err, ErrDeviceUnavailable)
}

// IsTimeout reports whether err resolves to an exchange or transport
// timeout. Timeouts are retryable by the caller; the engine never
// retries on its own.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
