package adcmt

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Header represents the 12-byte packet header that prefixes every
// transfer to or from the instrument. All multi-byte fields are
// little-endian on the wire. Byte 2 carries the bitwise inverse of the
// tag; byte 3 and bytes 9-11 are reserved zero.
type Header struct {
	MsgID        uint8  // message ID
	Tag          uint8  // transfer tag, 1..255
	TransferSize uint32 // payload byte count (or requested read size)
	Attributes   uint8  // attribute bits (AttrEndOfMessage)
}

// String returns a readable representation of the header.
func (h *Header) String() string {
	return fmt.Sprintf("Header{ID:%s Tag:%d Size:%d Attr:0x%02x}",
		MsgIDName(h.MsgID), h.Tag, h.TransferSize, h.Attributes)
}

// InvertTag computes the inverse-tag check byte for a tag.
func InvertTag(tag uint8) uint8 {
	return tag ^ 0xFF
}

// EncodeHeader serializes h into its 12-byte wire form.
func EncodeHeader(h *Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = h.MsgID
	buf[1] = h.Tag
	buf[2] = InvertTag(h.Tag)
	binary.LittleEndian.PutUint32(buf[4:8], h.TransferSize)
	buf[8] = h.Attributes
	return buf
}

// ParseHeader deserializes a 12-byte wire header. It verifies the
// inverse-tag check byte; a mismatch means the bytes are not a header.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, got %d",
			ErrMalformedFrame, HeaderSize, len(buf))
	}
	if buf[2] != InvertTag(buf[1]) {
		return nil, fmt.Errorf("%w: tag check failed (tag=0x%02x inv=0x%02x)",
			ErrMalformedFrame, buf[1], buf[2])
	}
	return &Header{
		MsgID:        buf[0],
		Tag:          buf[1],
		TransferSize: binary.LittleEndian.Uint32(buf[4:8]),
		Attributes:   buf[8],
	}, nil
}

// EncodeCommand builds the wire packet for one command directive:
// header, ASCII mnemonic, terminator, zero padding to the alignment
// boundary. The encoding is deterministic for a given command and tag.
func EncodeCommand(cmd string, tag uint8, terminator []byte) ([]byte, error) {
	if cmd == "" {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidParameter)
	}
	if len(cmd) > MaxCommandLen {
		return nil, fmt.Errorf("%w: command %q exceeds %d bytes",
			ErrInvalidParameter, cmd, MaxCommandLen)
	}

	raw := len(cmd) + len(terminator)
	aligned := (raw + Alignment - 1) &^ (Alignment - 1)

	h := EncodeHeader(&Header{
		MsgID:        MsgCommand,
		Tag:          tag,
		TransferSize: uint32(aligned),
		Attributes:   AttrEndOfMessage,
	})

	packet := make([]byte, HeaderSize+aligned)
	copy(packet, h[:])
	copy(packet[HeaderSize:], cmd)
	copy(packet[HeaderSize+len(cmd):], terminator)
	return packet, nil
}

// EncodeReadRequest builds the wire packet that asks the instrument
// for a response transfer. The packet carries no command data, only an
// aligned block of zero padding after the header; the declared size
// covers that padding.
func EncodeReadRequest(tag uint8) []byte {
	h := EncodeHeader(&Header{
		MsgID:        MsgReadRequest,
		Tag:          tag,
		TransferSize: Alignment,
	})

	packet := make([]byte, HeaderSize+Alignment)
	copy(packet, h[:])
	return packet
}

// TagCounter issues transfer tags, cycling 1..255 and never 0.
type TagCounter struct {
	mu    sync.Mutex
	value uint8
}

// NewTagCounter creates a counter whose first tag is 1.
func NewTagCounter() *TagCounter {
	return &TagCounter{}
}

// Next returns the next tag and advances the counter.
func (c *TagCounter) Next() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value++
	if c.value < TagMin {
		c.value = TagMin
	}
	return c.value
}

// Current returns the most recently issued tag without advancing.
func (c *TagCounter) Current() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
