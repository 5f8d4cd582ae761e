package main

import (
	"errors"

	"github.com/seagrayinc/ledgerctl/internal/report"
	"github.com/seagrayinc/ledgerctl/internal/workflow"
	"github.com/seagrayinc/ledgerctl/pkg/hid"
	"github.com/seagrayinc/ledgerctl/pkg/ledger"
)

type device interface {
	workflow.Manager
	Close() error
}

// acquirer opens the device session for the run.
type acquirer func(backend string, ep ledger.Endpoints) (device, error)

type session struct {
	*ledger.Device
	mgr hid.Manager
}

func (s *session) Close() error {
	return errors.Join(s.Device.Close(), s.mgr.Close())
}

// openDevice initializes the HID backend and claims the Ledger. There is no
// retry: the operator fixes the connection and runs again.
func openDevice(backend string, ep ledger.Endpoints) (device, error) {
	b, err := hid.ParseBackend(backend)
	if err != nil {
		return nil, report.Errorf(report.Configuration, err, "Invalid HID backend %q: use usbhid, hidapi or karalabe.", backend)
	}
	mgr, err := hid.NewManager(b)
	if err != nil {
		return nil, report.Errorf(report.Transport, err, "Error initializing HID API: %v.", err)
	}

	dev, err := ledger.Open(mgr, ep)
	if err != nil {
		_ = mgr.Close()
		return nil, report.Errorf(report.Transport, err, "Error connecting to Ledger device: %v.", err)
	}
	return &session{Device: dev, mgr: mgr}, nil
}
