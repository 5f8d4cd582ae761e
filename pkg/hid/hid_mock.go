package hid

import (
	"errors"
	"io"
	"sync"
)

// MockDevice is an in-memory Device. Written reports are recorded and reads
// are served from reports queued with Emit.
type MockDevice struct {
	mu      sync.Mutex
	written [][]byte
	reports [][]byte
	closed  bool

	// OnWrite, when set, is called with every written report and may queue
	// replies through Emit.
	OnWrite func(m *MockDevice, report []byte)
}

func NewMockDevice() *MockDevice {
	return &MockDevice{}
}

func (m *MockDevice) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, errors.New("mock device closed")
	}
	m.written = append(m.written, append([]byte(nil), p...))
	hook := m.OnWrite
	m.mu.Unlock()

	if hook != nil {
		hook(m, p)
	}
	return len(p), nil
}

func (m *MockDevice) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reports) == 0 {
		return 0, io.EOF
	}
	r := m.reports[0]
	m.reports = m.reports[1:]
	return copy(p, r), nil
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Emit queues an input report, report ID included.
func (m *MockDevice) Emit(report []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, append([]byte(nil), report...))
}

// Written returns the reports written so far.
func (m *MockDevice) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.written...)
}

func (m *MockDevice) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockManager serves a fixed device list. Devices maps a path to the device
// returned by Open; paths listed in OpenErrors fail instead.
type MockManager struct {
	Infos      []Info
	Devices    map[string]Device
	OpenErrors map[string]error
	ListErr    error
	Opened     []string
}

func (m *MockManager) List(vendorID uint16) ([]Info, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []Info
	for _, i := range m.Infos {
		if vendorID == 0 || i.VendorID == vendorID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *MockManager) Open(info Info) (Device, error) {
	m.Opened = append(m.Opened, info.Path)
	if err, ok := m.OpenErrors[info.Path]; ok {
		return nil, err
	}
	d, ok := m.Devices[info.Path]
	if !ok {
		return nil, errors.New("no such device")
	}
	return d, nil
}

func (m *MockManager) Close() error { return nil }
