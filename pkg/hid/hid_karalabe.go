package hid

import (
	"errors"
	"fmt"

	"github.com/karalabe/usb"
)

type karalabeManager struct{}

func newKaralabeManager() (Manager, error) {
	if !usb.Supported() {
		return nil, errors.New("karalabe/usb: platform not supported")
	}
	return &karalabeManager{}, nil
}

func (m *karalabeManager) List(vendorID uint16) ([]Info, error) {
	infos, err := usb.EnumerateHid(vendorID, 0)
	if err != nil {
		return nil, fmt.Errorf("usb enumerate: %w", err)
	}
	out := make([]Info, 0, len(infos))
	for _, i := range infos {
		out = append(out, Info{
			Path:         i.Path,
			VendorID:     i.VendorID,
			ProductID:    i.ProductID,
			Product:      i.Product,
			Manufacturer: i.Manufacturer,
			Serial:       i.Serial,
			UsagePage:    i.UsagePage,
			Interface:    i.Interface,
		})
	}
	return out, nil
}

func (m *karalabeManager) Open(info Info) (Device, error) {
	infos, err := usb.EnumerateHid(info.VendorID, info.ProductID)
	if err != nil {
		return nil, fmt.Errorf("usb enumerate: %w", err)
	}
	for _, i := range infos {
		if i.Path != info.Path {
			continue
		}
		dev, err := i.Open()
		if err != nil {
			return nil, fmt.Errorf("open device: %w", err)
		}
		return &karalabeDevice{dev}, nil
	}
	return nil, fmt.Errorf("device not found (VID:0x%04X PID:0x%04X path %s)", info.VendorID, info.ProductID, info.Path)
}

func (m *karalabeManager) Close() error { return nil }

// karalabeDevice adapts usb.Device, which adds the report ID itself where the
// platform needs one.
type karalabeDevice struct{ dev usb.Device }

func (d *karalabeDevice) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := d.dev.Write(p[1:])
	if err != nil {
		return 0, fmt.Errorf("usb write: %w", err)
	}
	return n + 1, nil
}

func (d *karalabeDevice) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := d.dev.Read(p[1:])
	if err != nil {
		return 0, fmt.Errorf("usb read: %w", err)
	}
	p[0] = 0
	return n + 1, nil
}

func (d *karalabeDevice) Close() error { return d.dev.Close() }
