package ledger

import (
	"context"

	"github.com/seagrayinc/ledgerctl/pkg/apdu"
)

const ledger_OPENAPP_INS = 0xD8

type openApp struct{ name string }

func (c openApp) Marshall() []byte {
	return apdu.Command{Class: apdu.ClassDashboard, Ins: ledger_OPENAPP_INS, Data: []byte(c.name)}.Bytes()
}

func (openApp) Unmarshall([]byte) (struct{}, error) { return struct{}{}, nil }

// OpenApp asks the dashboard to launch the named application.
func (d *Device) OpenApp(ctx context.Context, app AppID) error {
	_, err := apdu.Send[struct{}](ctx, d.transport, openApp{name: string(app)})
	return err
}
