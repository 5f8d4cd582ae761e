package apdu

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seagrayinc/ledgerctl/pkg/hid"
)

// Transport exchanges APDUs with a device over HID. It is not safe for
// concurrent use; a device answers one APDU at a time.
type Transport struct {
	Device  hid.Device
	Channel uint16
}

func NewTransport(d hid.Device) *Transport {
	return &Transport{Device: d, Channel: DefaultChannel}
}

func (t *Transport) Close() error {
	return t.Device.Close()
}

// Exchange sends a raw APDU and returns the raw response, status word
// included. It blocks until the device answers, which may require user
// confirmation on the device.
func (t *Transport) Exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slog.Debug("apdu =>", slog.String("data", EncodeToString(apdu)))

	for _, p := range wrap(t.Channel, apdu) {
		report := make([]byte, len(p)+1) // report ID 0, Ledger reports are unnumbered
		copy(report[1:], p)
		if _, err := t.Device.Write(report); err != nil {
			return nil, fmt.Errorf("send failed: %w", err)
		}
	}

	u := unwrapper{channel: t.Channel}
	buf := make([]byte, PacketSize+1)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := t.Device.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("receive failed: %w", err)
		}
		if n == 0 {
			continue
		}
		done, err := u.add(buf[1:n])
		if err != nil {
			return nil, fmt.Errorf("failed to parse HID response: %w", err)
		}
		if done {
			break
		}
	}

	slog.Debug("apdu <=", slog.String("data", EncodeToString(u.data)))
	return u.data, nil
}

// Exchanger is anything able to exchange raw APDUs with a device.
type Exchanger interface {
	Exchange(ctx context.Context, apdu []byte) ([]byte, error)
}

// Request pairs an APDU with the decoder for its response payload.
type Request[T any] interface {
	Marshall() []byte
	Unmarshall([]byte) (T, error)
}

// Send exchanges req and decodes the payload of a successful response. A
// status word other than 0x9000 is returned as *StatusError.
func Send[T any](ctx context.Context, t Exchanger, req Request[T]) (T, error) {
	var zero T

	resp, err := t.Exchange(ctx, req.Marshall())
	if err != nil {
		return zero, err
	}
	data, sw, err := SplitStatus(resp)
	if err != nil {
		return zero, err
	}
	if sw != StatusOK {
		return zero, &StatusError{Code: sw}
	}
	return req.Unmarshall(data)
}
