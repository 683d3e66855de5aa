package adcmt

import (
	"bytes"
	"fmt"
)

// FrameClass classifies a completed response frame.
type FrameClass uint8

const (
	FrameNumeric      FrameClass = iota // a measurement value
	FrameStatus                         // a device-reported error status
	FrameEcho                           // a mnemonic echo or bare acknowledge
	FrameUnrecognized                   // anything else; surfaced, never dropped
)

// String returns a readable name for the frame class.
func (c FrameClass) String() string {
	switch c {
	case FrameNumeric:
		return "Numeric"
	case FrameStatus:
		return "Status"
	case FrameEcho:
		return "Echo"
	default:
		return "Unrecognized"
	}
}

// Frame is one complete terminator-delimited response with the packet
// header, terminator and trailing CR/LF already stripped.
type Frame struct {
	Class FrameClass
	Data  []byte
}

// String returns a readable representation of the frame.
func (f Frame) String() string {
	return fmt.Sprintf("Frame{%s %q}", f.Class, f.Data)
}

// Decoder reassembles the instrument's byte stream into complete
// frames. USB reads may deliver a response split across transfers or
// several responses back to back, so Feed is a stateful accumulator:
// partial trailing bytes are retained for the next call.
type Decoder struct {
	terminator   []byte
	statusPrefix []byte
	maxFrameLen  int

	buf       []byte
	inPacket  bool
	remaining int // declared payload bytes left in the current packet
}

// NewDecoder creates a decoder with the given response terminator,
// status prefix and buffered-byte cap.
func NewDecoder(terminator []byte, statusPrefix string, maxFrameLen int) *Decoder {
	if len(terminator) == 0 {
		terminator = []byte(DefaultResponseTerminator)
	}
	if maxFrameLen <= 0 {
		maxFrameLen = DefaultMaxFrameLen
	}
	return &Decoder{
		terminator:   terminator,
		statusPrefix: []byte(statusPrefix),
		maxFrameLen:  maxFrameLen,
	}
}

// Feed appends chunk to the accumulator and returns all frames
// completed by it. The split of a byte stream across Feed calls never
// changes the frames produced. Exceeding the frame length cap without
// observing a terminator returns ErrFrameTooLong.
func (d *Decoder) Feed(chunk []byte) ([]Frame, error) {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		f, ok, err := d.next()
		if err != nil {
			return frames, err
		}
		if !ok {
			break
		}
		frames = append(frames, f)
	}

	if len(d.buf) > d.maxFrameLen {
		return frames, fmt.Errorf("%w: %d bytes buffered without a terminator",
			ErrFrameTooLong, len(d.buf))
	}
	return frames, nil
}

// next extracts a single frame from the front of the buffer, if one is
// complete.
func (d *Decoder) next() (Frame, bool, error) {
	if !d.inPacket {
		if len(d.buf) == 0 {
			return Frame{}, false, nil
		}
		// Responses may carry a packet header. Printable ASCII never
		// starts with the response message ID byte, so wait for a full
		// header before deciding.
		if d.buf[0] == MsgResponse {
			if len(d.buf) < HeaderSize {
				return Frame{}, false, nil
			}
			h, err := ParseHeader(d.buf)
			if err != nil {
				return Frame{}, false, err
			}
			d.buf = d.buf[HeaderSize:]
			d.inPacket = true
			d.remaining = int(h.TransferSize)
		}
	}

	if d.inPacket && d.remaining > 0 {
		// The header declared the payload length; the frame is complete
		// once every declared byte arrived. The payload carries the
		// terminator plus zero padding to the alignment boundary, both
		// trimmed here.
		if len(d.buf) < d.remaining {
			return Frame{}, false, nil
		}
		data := trimPadding(d.buf[:d.remaining])
		d.buf = d.buf[d.remaining:]
		d.inPacket = false
		d.remaining = 0
		return d.emit(data), true, nil
	}

	// Raw (or zero-length-declared) responses end at the terminator.
	if i := bytes.Index(d.buf, d.terminator); i >= 0 {
		data := trimEOL(d.buf[:i])
		d.buf = d.buf[i+len(d.terminator):]
		d.inPacket = false
		return d.emit(data), true, nil
	}
	return Frame{}, false, nil
}

func (d *Decoder) emit(data []byte) Frame {
	out := make([]byte, len(data))
	copy(out, data)
	return Frame{Class: d.classify(out), Data: out}
}

// classify applies the prefix/shape checks that sort completed frames.
func (d *Decoder) classify(data []byte) FrameClass {
	if len(data) == 0 {
		// A bare terminator is the instrument's acknowledge.
		return FrameEcho
	}
	if len(d.statusPrefix) > 0 && bytes.HasPrefix(data, d.statusPrefix) {
		return FrameStatus
	}
	switch c := data[0]; {
	case c == '+' || c == '-' || (c >= '0' && c <= '9'):
		return FrameNumeric
	case c >= 'A' && c <= 'Z':
		// Readings may carry an alphabetic header tag ("DDC+1.23E-3").
		// The explicit sign separates them from mnemonic echoes, which
		// run letters straight into digits ("TRS0", "SPN10").
		i := 0
		for i < len(data) && data[i] >= 'A' && data[i] <= 'Z' {
			i++
		}
		if i < len(data) && (data[i] == '+' || data[i] == '-') {
			return FrameNumeric
		}
		if isPrintable(data) {
			return FrameEcho
		}
	case c == '*':
		if isPrintable(data) {
			return FrameEcho
		}
	}
	return FrameUnrecognized
}

// Buffered returns the number of retained partial bytes.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards all accumulator state. Called when the engine reopens
// the device so stale partial bytes cannot leak into a new session.
func (d *Decoder) Reset() {
	d.buf = nil
	d.inPacket = false
	d.remaining = 0
}

// trimEOL strips trailing CR/LF bytes.
func trimEOL(data []byte) []byte {
	return bytes.TrimRight(data, "\r\n")
}

// trimPadding strips alignment padding and the terminator from a
// packet payload.
func trimPadding(data []byte) []byte {
	return bytes.TrimRight(data, "\x00\r\n")
}

func isPrintable(data []byte) bool {
	for _, b := range data {
		if b < 0x20 || b > 0x7E {
			return false
		}
	}
	return true
}
