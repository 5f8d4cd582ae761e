package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
)

// AppID is the on-device name of an application.
type AppID string

const (
	AppBitcoin     AppID = "Bitcoin"
	AppBitcoinTest AppID = "Bitcoin Test"
	AppSolana      AppID = "Solana"
)

var (
	ErrNotGenuine       = errors.New("device is not genuine")
	ErrAlreadyInstalled = errors.New("app already installed")
	ErrNotInstalled     = errors.New("app not installed")
	ErrAppNotFound      = errors.New("app not found in catalog")
	ErrAlreadyLatest    = errors.New("app already at latest version")
)

const genuineResultOK = "0000"

// target is what the manager API and the HSM need to know about the device.
type target struct {
	info     DeviceInfo
	device   DeviceVersion
	firmware FirmwareVersion
}

func (d *Device) resolveTarget(ctx context.Context) (target, error) {
	info, err := d.Info(ctx)
	if err != nil {
		return target{}, fmt.Errorf("device info: %w", err)
	}
	dv, err := d.catalog.DeviceVersion(ctx, info.TargetID)
	if err != nil {
		return target{}, err
	}
	fw, err := d.catalog.FirmwareVersion(ctx, dv, info.SEVersion)
	if err != nil {
		return target{}, err
	}
	return target{info: info, device: dv, firmware: fw}, nil
}

func (t target) targetID() string {
	return strconv.FormatUint(uint64(t.info.TargetID), 10)
}

// GenuineCheck runs the authenticity challenge between the device and
// Ledger's HSM. Any result other than a positive verdict is an error.
func (d *Device) GenuineCheck(ctx context.Context) error {
	t, err := d.resolveTarget(ctx)
	if err != nil {
		return err
	}

	res, err := d.relay.Run(ctx, "/genuine", url.Values{
		"targetId": {t.targetID()},
		"perso":    {t.firmware.Perso},
	})
	if err != nil {
		return err
	}
	if res != genuineResultOK {
		return fmt.Errorf("%w (result %q)", ErrNotGenuine, res)
	}
	return nil
}

// InstallApp installs app. It fails with ErrAlreadyInstalled or
// ErrAppNotFound before anything is sent to the HSM.
func (d *Device) InstallApp(ctx context.Context, app AppID) error {
	installed, err := d.ListApps(ctx)
	if err != nil {
		return fmt.Errorf("list installed apps: %w", err)
	}
	if _, ok := findInstalled(installed, string(app)); ok {
		return ErrAlreadyInstalled
	}

	t, latest, err := d.lookup(ctx, app)
	if err != nil {
		return err
	}
	return d.install(ctx, t, latest)
}

// UpdateApp replaces an installed app by the latest catalog version. It fails
// with ErrNotInstalled, ErrAppNotFound or ErrAlreadyLatest before anything is
// sent to the HSM.
func (d *Device) UpdateApp(ctx context.Context, app AppID) error {
	installed, err := d.ListApps(ctx)
	if err != nil {
		return fmt.Errorf("list installed apps: %w", err)
	}
	current, ok := findInstalled(installed, string(app))
	if !ok {
		return ErrNotInstalled
	}

	t, latest, err := d.lookup(ctx, app)
	if err != nil {
		return err
	}
	if strings.EqualFold(current.Hash, latest.Hash) {
		return ErrAlreadyLatest
	}

	slog.Debug("updating app", slog.String("app", string(app)), slog.String("version", latest.Version))
	if err := d.uninstall(ctx, t, latest); err != nil {
		return fmt.Errorf("uninstall: %w", err)
	}
	return d.install(ctx, t, latest)
}

func (d *Device) lookup(ctx context.Context, app AppID) (target, AppVersion, error) {
	t, err := d.resolveTarget(ctx)
	if err != nil {
		return target{}, AppVersion{}, err
	}
	apps, err := d.catalog.Apps(ctx, t.device, t.firmware)
	if err != nil {
		return target{}, AppVersion{}, err
	}
	for _, a := range apps {
		if a.Name == string(app) {
			return t, a, nil
		}
	}
	return target{}, AppVersion{}, ErrAppNotFound
}

func (d *Device) install(ctx context.Context, t target, app AppVersion) error {
	_, err := d.relay.Run(ctx, "/install", url.Values{
		"targetId":    {t.targetID()},
		"perso":       {app.Perso},
		"deleteKey":   {app.DeleteKey},
		"firmware":    {app.Firmware},
		"firmwareKey": {app.FirmwareKey},
		"hash":        {app.Hash},
	})
	return err
}

// uninstall runs the install script with the app's delete payload.
func (d *Device) uninstall(ctx context.Context, t target, app AppVersion) error {
	_, err := d.relay.Run(ctx, "/install", url.Values{
		"targetId":    {t.targetID()},
		"perso":       {app.Perso},
		"deleteKey":   {app.DeleteKey},
		"firmware":    {app.Delete},
		"firmwareKey": {app.DeleteKey},
		"hash":        {app.Hash},
	})
	return err
}
