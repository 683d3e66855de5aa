// Package adcmt implements a host-side driver for the ADCMT 7351A/E+03
// digital multimeter, controlled over its USB port without the vendor's
// GPIB-over-USB adapter.
package adcmt

import (
	"fmt"
	"time"
)

// Protocol constants.
const (
	// Packet header size (bytes), little-endian on the wire.
	HeaderSize = 12

	// Payloads are zero-padded to this boundary.
	Alignment = 4

	// Maximum length of a command mnemonic plus parameters.
	MaxCommandLen = 64

	// Default USB identity of the 7351A/E+03.
	DefaultVendorID  uint16 = 0x1334
	DefaultProductID uint16 = 0x0203

	// Tags cycle 1..255; 0 is never a valid tag.
	TagMin uint8 = 1
	TagMax uint8 = 255

	// Default per-exchange timeout.
	DefaultTimeout = 2 * time.Second

	// Default cap on buffered bytes while waiting for a terminator.
	DefaultMaxFrameLen = 4096

	// Default size of a read request / bulk-in buffer.
	DefaultReadBufferSize = 128

	// Consecutive exchange timeouts tolerated before the engine faults.
	DefaultMaxTimeouts = 2
)

// Message IDs (header byte 0).
const (
	MsgCommand     uint8 = 0x01 // host -> device: command payload
	MsgReadRequest uint8 = 0x02 // host -> device: request a response transfer
	MsgResponse    uint8 = 0x02 // device -> host: response transfer
)

// Attribute bits (header byte 8).
const (
	AttrEndOfMessage uint8 = 0x01 // command payload is complete
)

// Timing constants observed against real hardware. All overridable via
// Config; firmware revisions may need different values.
const (
	DefaultInitSettleDelay = 100 * time.Millisecond // after init control transfers
	DefaultPostWriteDelay  = 20 * time.Millisecond  // after each bulk write
	DefaultReadSetupDelay  = 10 * time.Millisecond  // between read request and read
)

// Init control transfer requests. The instrument will not answer bulk
// transfers until both have been issued.
const (
	initVendorRequest uint8  = 0xF5
	initClassRequest  uint8  = 0xA0
	initClassValue    uint16 = 0x0001
)

// Default framing bytes. The command terminator is appended on encode;
// the response terminator delimits incoming frames.
var (
	DefaultCommandTerminator  = []byte{'\n'}
	DefaultResponseTerminator = []byte{'\r', '\n'}
)

// DefaultStatusPrefix marks device-reported error frames.
const DefaultStatusPrefix = "ERR"

// msgIDNames maps message IDs to readable names for logging.
var msgIDNames = map[uint8]string{
	MsgCommand:     "Command",
	MsgReadRequest: "ReadRequest",
}

// MsgIDName returns a readable name for a message ID.
func MsgIDName(id uint8) string {
	if name, ok := msgIDNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", id)
}
