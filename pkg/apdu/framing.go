package apdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// DefaultChannel is the HID channel used for all exchanges.
	DefaultChannel uint16 = 0x0101

	// PacketSize is the HID report size, not counting the report ID.
	PacketSize = 64

	tagAPDU = 0x05

	headerSize = 5 // channel(2) tag(1) sequence(2)
)

var (
	ErrBadChannel  = errors.New("unexpected HID channel")
	ErrBadTag      = errors.New("unexpected HID tag")
	ErrBadSequence = errors.New("unexpected HID sequence index")
)

// wrap splits an APDU into HID packets. The first packet carries the total
// length; every packet is zero padded to PacketSize.
func wrap(channel uint16, apdu []byte) [][]byte {
	payload := make([]byte, 2, len(apdu)+2)
	binary.BigEndian.PutUint16(payload, uint16(len(apdu)))
	payload = append(payload, apdu...)

	var packets [][]byte
	for seq := uint16(0); len(payload) > 0; seq++ {
		p := make([]byte, PacketSize)
		binary.BigEndian.PutUint16(p[0:2], channel)
		p[2] = tagAPDU
		binary.BigEndian.PutUint16(p[3:5], seq)
		n := copy(p[headerSize:], payload)
		payload = payload[n:]
		packets = append(packets, p)
	}
	return packets
}

// unwrapper reassembles a response from HID packets.
type unwrapper struct {
	channel  uint16
	seq      uint16
	expected int
	data     []byte
}

// add consumes one packet and reports whether the response is complete.
func (u *unwrapper) add(p []byte) (bool, error) {
	if len(p) < headerSize {
		return false, fmt.Errorf("short HID packet (%d bytes)", len(p))
	}
	if ch := binary.BigEndian.Uint16(p[0:2]); ch != u.channel {
		return false, fmt.Errorf("%w: 0x%04X", ErrBadChannel, ch)
	}
	if p[2] != tagAPDU {
		return false, fmt.Errorf("%w: 0x%02X", ErrBadTag, p[2])
	}
	if seq := binary.BigEndian.Uint16(p[3:5]); seq != u.seq {
		return false, fmt.Errorf("%w: got %d, want %d", ErrBadSequence, seq, u.seq)
	}

	body := p[headerSize:]
	if u.seq == 0 {
		if len(body) < 2 {
			return false, fmt.Errorf("short HID packet (%d bytes)", len(p))
		}
		u.expected = int(binary.BigEndian.Uint16(body[0:2]))
		u.data = make([]byte, 0, u.expected)
		body = body[2:]
	}
	u.seq++

	remaining := u.expected - len(u.data)
	if len(body) > remaining {
		body = body[:remaining]
	}
	u.data = append(u.data, body...)
	return len(u.data) == u.expected, nil
}
