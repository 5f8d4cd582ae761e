package hid

import (
	"errors"
	"fmt"
	"strings"
)

// Device represents an opened HID device capable of report I/O.
type Device interface {
	Write([]byte) (int, error) // send output report, p[0] is the report ID
	Read([]byte) (int, error)  // read input report, p[0] receives the report ID
	Close() error
}

// Info represents a HID device descriptor.
type Info struct {
	Path         string
	VendorID     uint16
	ProductID    uint16
	Product      string
	Manufacturer string
	Serial       string

	// UsagePage and Interface are zero when the backend can't report them.
	UsagePage uint16
	Interface int
}

// Manager enumerates and opens HID devices.
type Manager interface {
	List(vendorID uint16) ([]Info, error)
	Open(info Info) (Device, error)
	Close() error
}

type Backend string

const (
	BackendUSBHID   Backend = "usbhid"
	BackendHIDAPI   Backend = "hidapi"
	BackendKaralabe Backend = "karalabe"
)

var ErrUnknownBackend = errors.New("unknown HID backend")

// ParseBackend maps a configuration value onto a Backend. The empty string selects usbhid.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendUSBHID, nil
	case BackendUSBHID, BackendHIDAPI, BackendKaralabe:
		return b, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownBackend, s)
	}
}

// NewManager initializes the given backend and returns its manager.
func NewManager(b Backend) (Manager, error) {
	switch b {
	case BackendUSBHID, "":
		return newUSBHIDManager()
	case BackendHIDAPI:
		return newHIDAPIManager()
	case BackendKaralabe:
		return newKaralabeManager()
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, string(b))
	}
}
