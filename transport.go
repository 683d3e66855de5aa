package adcmt

import "time"

// Transport is the raw byte boundary to the instrument. One Transport
// owns one open device handle; at most one handle exists per physical
// device. Framing is the codec's job, not the transport's: each call
// transfers exactly the bytes it was given.
//
// Read returning (0, ErrTimeout) is not fatal; ErrDisconnected is, and
// the handle must be reopened. The Protocol Engine owns the Transport
// exclusively; no other component touches it.
type Transport interface {
	// Write sends p to the instrument's OUT endpoint.
	Write(p []byte, timeout time.Duration) (int, error)

	// Read fills p from the instrument's IN endpoint. It may return
	// fewer bytes than requested, or (0, ErrTimeout).
	Read(p []byte, timeout time.Duration) (int, error)

	// Close releases the endpoint claim and the device handle.
	Close() error
}

// Clearer is implemented by transports that can recover the device's
// endpoints from a stall without reopening the handle.
type Clearer interface {
	Clear() error
}

// StatusReader is implemented by transports that can read the
// instrument status byte out of band.
type StatusReader interface {
	StatusByte() (byte, error)
}
