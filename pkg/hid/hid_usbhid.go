package hid

import (
	usbhid "rafaelmartins.com/p/usbhid"
)

type usbManager struct{}

func newUSBHIDManager() (Manager, error) { return &usbManager{}, nil }

func (m *usbManager) List(vendorID uint16) ([]Info, error) {
	devs, err := usbhid.Enumerate(func(dev *usbhid.Device) bool {
		return vendorID == 0 || dev.VendorId() == vendorID
	})
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(devs))
	for _, d := range devs {
		out = append(out, Info{
			Path:         d.Path(),
			VendorID:     d.VendorId(),
			ProductID:    d.ProductId(),
			Product:      d.Product(),
			Manufacturer: d.Manufacturer(),
			Serial:       d.SerialNumber(),
			UsagePage:    d.UsagePage(),
		})
	}
	return out, nil
}

func (m *usbManager) Open(info Info) (Device, error) {
	d, err := usbhid.Get(func(dev *usbhid.Device) bool {
		return dev.Path() == info.Path
	}, true, true)
	if err != nil {
		return nil, err
	}
	return &usbDevice{d}, nil
}

func (m *usbManager) Close() error { return nil }

type usbDevice struct{ d *usbhid.Device }

func (d *usbDevice) Write(p []byte) (int, error) {
	// p should include report ID at p[0]; extract rid and data
	if len(p) == 0 {
		return 0, nil
	}
	if err := d.d.SetOutputReport(p[0], p[1:]); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (d *usbDevice) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	id, buf, err := d.d.GetInputReport()
	if err != nil {
		return 0, err
	}
	p[0] = id
	n := copy(p[1:], buf)
	return n + 1, nil
}

func (d *usbDevice) Close() error { return d.d.Close() }
