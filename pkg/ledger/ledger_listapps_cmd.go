package ledger

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/seagrayinc/ledgerctl/pkg/apdu"
)

const (
	ledger_LISTAPPS_FIRST_INS = 0xDE
	ledger_LISTAPPS_NEXT_INS  = 0xDF
)

type listApps struct{ first bool }

func (c listApps) Marshall() []byte {
	ins := byte(ledger_LISTAPPS_NEXT_INS)
	if c.first {
		ins = ledger_LISTAPPS_FIRST_INS
	}
	return apdu.Command{Class: apdu.ClassDashboard, Ins: ins}.Bytes()
}

func (listApps) Unmarshall(b []byte) ([]InstalledApp, error) {
	return parseListAppsResponse(b)
}

// InstalledApp describes an application installed on the device.
type InstalledApp struct {
	Name     string
	Flags    uint32
	CodeHash string
	Hash     string
}

func (a InstalledApp) String() string {
	return fmt.Sprintf("%s (hash %s)", a.Name, a.Hash)
}

// parseListAppsResponse decodes one page of the listing: a format byte
// followed by length-prefixed entries of
// flags(4) | code hash(32) | full hash(32) | name length(1) | name.
func parseListAppsResponse(b []byte) ([]InstalledApp, error) {
	if len(b) == 0 {
		return nil, nil
	}

	var apps []InstalledApp
	for i := 1; i < len(b); {
		n := int(b[i])
		i++
		if i+n > len(b) || n < 4+32+32+1 {
			return nil, fmt.Errorf("malformed app entry at offset %d", i-1)
		}
		entry := b[i : i+n]
		i += n

		nameLen := int(entry[68])
		if 69+nameLen > len(entry) {
			return nil, fmt.Errorf("malformed app name at offset %d", i-n-1)
		}
		apps = append(apps, InstalledApp{
			Flags:    binary.BigEndian.Uint32(entry[0:4]),
			CodeHash: hex.EncodeToString(entry[4:36]),
			Hash:     hex.EncodeToString(entry[36:68]),
			Name:     string(entry[69 : 69+nameLen]),
		})
	}
	return apps, nil
}

// ListApps returns the installed applications. The device asks the user to
// allow the manager before answering.
func (d *Device) ListApps(ctx context.Context) ([]InstalledApp, error) {
	var apps []InstalledApp
	for first := true; ; first = false {
		page, err := apdu.Send[[]InstalledApp](ctx, d.transport, listApps{first: first})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return apps, nil
		}
		apps = append(apps, page...)
	}
}

func findInstalled(apps []InstalledApp, name string) (InstalledApp, bool) {
	for _, a := range apps {
		if a.Name == name {
			return a, true
		}
	}
	return InstalledApp{}, false
}
