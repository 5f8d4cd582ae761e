// Package ledger implements the Ledger device management primitives: device
// information, installed application listing, application open, and the
// HSM-driven genuine check, install and update flows.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/seagrayinc/ledgerctl/pkg/apdu"
	"github.com/seagrayinc/ledgerctl/pkg/hid"
)

const (
	VendorID uint16 = 0x2c97

	// usage page of the generic (non-FIDO) HID interface
	usagePageGeneric uint16 = 0xffa0
)

var ErrNoDevice = errors.New("no Ledger device found")

// Device is a session with one Ledger over one transport. It is not safe for
// concurrent use.
type Device struct {
	transport apdu.Exchanger
	closer    func() error

	catalog *Catalog
	relay   *ScriptRunner
}

// NewDevice builds a session over an already open exchanger.
func NewDevice(x apdu.Exchanger, ep Endpoints) *Device {
	return &Device{
		transport: x,
		closer:    func() error { return nil },
		catalog:   NewCatalog(ep),
		relay:     NewScriptRunner(ep, x),
	}
}

// Open claims the first Ledger HID interface that opens successfully.
func Open(mgr hid.Manager, ep Endpoints) (*Device, error) {
	infos, err := mgr.List(VendorID)
	if err != nil {
		return nil, fmt.Errorf("hid enumerate: %w", err)
	}
	if len(infos) == 0 {
		return nil, ErrNoDevice
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return preferred(infos[i]) && !preferred(infos[j])
	})

	var errs *multierror.Error
	for _, info := range infos {
		dev, err := mgr.Open(info)
		if err != nil {
			slog.Debug("skipping HID interface", slog.String("path", info.Path), slog.Any("error", err))
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", info.Path, err))
			continue
		}
		slog.Debug("opened Ledger", slog.String("path", info.Path), slog.String("product", info.Product))

		t := apdu.NewTransport(dev)
		d := NewDevice(t, ep)
		d.closer = t.Close
		return d, nil
	}
	errs.ErrorFormat = joinErrors
	return nil, errs
}

// joinErrors keeps aggregated open failures on one line.
func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func preferred(info hid.Info) bool {
	if info.UsagePage != 0 {
		return info.UsagePage == usagePageGeneric
	}
	return info.Interface == 0
}

// Close releases the transport.
func (d *Device) Close() error {
	return d.closer()
}
