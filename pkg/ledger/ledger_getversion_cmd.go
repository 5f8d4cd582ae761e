package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/seagrayinc/ledgerctl/pkg/apdu"
)

const ledger_GETVERSION_INS = 0x01

type getVersion struct{}

func (getVersion) Marshall() []byte {
	return apdu.Command{Class: apdu.ClassDashboard, Ins: ledger_GETVERSION_INS}.Bytes()
}

func (getVersion) Unmarshall(b []byte) (DeviceInfo, error) {
	return parseGetVersionResponse(b)
}

// DeviceInfo is the dashboard's answer to GET VERSION.
type DeviceInfo struct {
	TargetID   uint32
	SEVersion  string
	Flags      []byte
	MCUVersion string
}

var modelNames = map[uint32]string{
	0x31100002: "Nano S",
	0x33000004: "Nano X",
	0x33100004: "Nano S Plus",
	0x33200004: "Stax",
	0x33300004: "Flex",
}

// Model returns the device model, or "unknown" for unlisted target ids.
func (i DeviceInfo) Model() string {
	if name, ok := modelNames[i.TargetID]; ok {
		return name
	}
	return "unknown"
}

// Bootloader reports whether the device answered from its bootloader.
func (i DeviceInfo) Bootloader() bool {
	return i.TargetID&0xF0000000 != 0x30000000
}

func parseGetVersionResponse(b []byte) (DeviceInfo, error) {
	r := bytes.NewReader(b)

	var info DeviceInfo
	if err := binary.Read(r, binary.BigEndian, &info.TargetID); err != nil {
		return DeviceInfo{}, fmt.Errorf("target id: %w", err)
	}
	se, err := readLV(r)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("se version: %w", err)
	}
	info.SEVersion = string(se)

	// flags and MCU version are absent on old firmwares
	if r.Len() == 0 {
		return info, nil
	}
	if info.Flags, err = readLV(r); err != nil {
		return DeviceInfo{}, fmt.Errorf("flags: %w", err)
	}
	if r.Len() == 0 {
		return info, nil
	}
	mcu, err := readLV(r)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("mcu version: %w", err)
	}
	info.MCUVersion = string(bytes.TrimRight(mcu, "\x00"))
	return info, nil
}

// readLV reads a one byte length followed by that many bytes.
func readLV(r *bytes.Reader) ([]byte, error) {
	n, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, fmt.Errorf("length %d exceeds remaining %d bytes", n, r.Len())
	}
	v := make([]byte, n)
	_, _ = r.Read(v)
	return v, nil
}

// Info fetches the device information.
func (d *Device) Info(ctx context.Context) (DeviceInfo, error) {
	return apdu.Send[DeviceInfo](ctx, d.transport, getVersion{})
}
