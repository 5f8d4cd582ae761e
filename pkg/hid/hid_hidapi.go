package hid

import (
	"fmt"

	gohid "github.com/sstallion/go-hid"
)

// hidapiManager wraps the C hidapi library, which must be initialized before
// enumeration and released with Close.
type hidapiManager struct{}

func newHIDAPIManager() (Manager, error) {
	if err := gohid.Init(); err != nil {
		return nil, fmt.Errorf("hid init: %w", err)
	}
	return &hidapiManager{}, nil
}

func (m *hidapiManager) List(vendorID uint16) ([]Info, error) {
	vid := uint16(gohid.VendorIDAny)
	if vendorID != 0 {
		vid = vendorID
	}

	var out []Info
	err := gohid.Enumerate(vid, gohid.ProductIDAny, func(info *gohid.DeviceInfo) error {
		out = append(out, Info{
			Path:         info.Path,
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			Product:      info.ProductStr,
			Manufacturer: info.MfrStr,
			Serial:       info.SerialNbr,
			UsagePage:    info.UsagePage,
			Interface:    info.InterfaceNbr,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *hidapiManager) Open(info Info) (Device, error) {
	d, err := gohid.OpenPath(info.Path)
	if err != nil {
		return nil, err
	}
	return &hidapiDevice{d}, nil
}

func (m *hidapiManager) Close() error { return gohid.Exit() }

type hidapiDevice struct{ d *gohid.Device }

func (d *hidapiDevice) Write(p []byte) (int, error) { return d.d.Write(p) }

// hidapi omits the report ID for unnumbered reports, so a zero ID is put back
// in front to keep the Device contract.
func (d *hidapiDevice) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := d.d.Read(p[1:])
	if err != nil {
		return 0, err
	}
	p[0] = 0
	return n + 1, nil
}

func (d *hidapiDevice) Close() error { return d.d.Close() }
