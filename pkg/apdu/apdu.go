// Package apdu implements the APDU exchange with a Ledger device over HID,
// including the Ledger HID transport framing.
package apdu

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// CLA used by the dashboard (BOLOS) commands.
	ClassDashboard = 0xE0

	StatusOK = 0x9000
)

var statusText = map[uint16]string{
	0x5501: "user refused on device",
	0x5515: "device is locked",
	0x6484: "app not compatible with firmware",
	0x6511: "no app opened",
	0x6581: "invalid data",
	0x6700: "incorrect length",
	0x6807: "app not found on device",
	0x6985: "condition of use not satisfied (denied by the user?)",
	0x6a80: "invalid data",
	0x6a84: "not enough space on device",
	0x6a85: "not enough space on device",
	0x6d00: "instruction not supported (is the dashboard open?)",
	0x6e00: "class not supported (is the dashboard open?)",
	0x6e01: "app not open",
}

// StatusError is returned when the device answers with a status word other
// than 0x9000.
type StatusError struct {
	Code uint16
}

func (e *StatusError) Error() string {
	if text, ok := statusText[e.Code]; ok {
		return fmt.Sprintf("device returned status 0x%04X (%s)", e.Code, text)
	}
	return fmt.Sprintf("device returned status 0x%04X", e.Code)
}

// IsStatus reports whether err carries the given status word.
func IsStatus(err error, code uint16) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// MaxData is the largest payload a short APDU carries.
const MaxData = 255

// Command is a short APDU: CLA INS P1 P2 Lc data.
type Command struct {
	Class byte
	Ins   byte
	P1    byte
	P2    byte
	Data  []byte
}

// Bytes encodes c. It panics if Data does not fit the one-byte Lc field.
func (c Command) Bytes() []byte {
	if len(c.Data) > MaxData {
		panic(fmt.Sprintf("apdu: %d data bytes exceed the short APDU limit of %d", len(c.Data), MaxData))
	}
	b := []byte{c.Class, c.Ins, c.P1, c.P2, byte(len(c.Data))}
	return append(b, c.Data...)
}

// SplitStatus separates the trailing status word from a raw response.
func SplitStatus(resp []byte) ([]byte, uint16, error) {
	if len(resp) < 2 {
		return nil, 0, fmt.Errorf("response too short (%d bytes)", len(resp))
	}
	return resp[:len(resp)-2], binary.BigEndian.Uint16(resp[len(resp)-2:]), nil
}

// EncodeToString renders bytes as dash-separated hex for logging.
func EncodeToString(b []byte) string {
	hexDigits := hex.EncodeToString(b)
	var builder strings.Builder
	for i, r := range hexDigits {
		if i > 0 && i%2 == 0 {
			builder.WriteString("-")
		}
		builder.WriteRune(r)
	}
	return builder.String()
}
