// Package workflow runs one resolved operation against a device. Every
// procedure is a flat sequence of primitive calls; failures come back as
// *report.Error and nothing here terminates the process.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/seagrayinc/ledgerctl/internal/command"
	"github.com/seagrayinc/ledgerctl/internal/report"
	"github.com/seagrayinc/ledgerctl/pkg/ledger"
)

// Manager is the device management surface the workflows are built from.
// *ledger.Device implements it.
type Manager interface {
	Info(ctx context.Context) (ledger.DeviceInfo, error)
	ListApps(ctx context.Context) ([]ledger.InstalledApp, error)
	GenuineCheck(ctx context.Context) error
	InstallApp(ctx context.Context, app ledger.AppID) error
	UpdateApp(ctx context.Context, app ledger.AppID) error
	OpenApp(ctx context.Context, app ledger.AppID) error
}

const confirmInstall = "You may have to allow on your device 1) listing installed apps 2) the Ledger manager to install the app."

// NeedsDevice reports whether op talks to the device at all.
func NeedsDevice(op command.Operation) bool {
	return op.Kind != command.UpdateFirmware
}

// Run dispatches op. Progress and results go to out.
func Run(ctx context.Context, op command.Operation, m Manager, out io.Writer) error {
	slog.Debug("running operation", slog.String("operation", op.String()))

	switch op.Kind {
	case command.GetInfo:
		return getInfo(ctx, m, out)
	case command.GenuineCheck:
		return genuineCheck(ctx, m, out)
	case command.Install:
		return install(ctx, m, out, op)
	case command.Update:
		return update(ctx, m, out, op)
	case command.Open:
		return open(ctx, m, op)
	case command.UpdateFirmware:
		return &report.Error{Kind: report.Unimplemented, Message: "Firmware update is not implemented."}
	default:
		return &report.Error{Kind: report.Configuration, Message: fmt.Sprintf("Unsupported operation %s.", op)}
	}
}

// appFor returns the on-device app and the name used in messages.
func appFor(op command.Operation) (ledger.AppID, string) {
	switch {
	case op.Target == command.SolanaApp:
		return ledger.AppSolana, "Solana"
	case op.Network == command.Test:
		return ledger.AppBitcoinTest, "Bitcoin"
	default:
		return ledger.AppBitcoin, "Bitcoin"
	}
}

func getInfo(ctx context.Context, m Manager, out io.Writer) error {
	info, err := m.Info(ctx)
	if err != nil {
		return report.Errorf(report.DeviceQuery, err, "Error fetching device info: %v", err)
	}
	fmt.Fprintln(out, "Information about the device:")
	fmt.Fprintf(out, "  model:       %s\n", info.Model())
	fmt.Fprintf(out, "  target id:   0x%08x\n", info.TargetID)
	fmt.Fprintf(out, "  se version:  %s\n", info.SEVersion)
	fmt.Fprintf(out, "  mcu version: %s\n", info.MCUVersion)
	fmt.Fprintf(out, "  flags:       %x\n", info.Flags)
	fmt.Fprintf(out, "  bootloader:  %t\n", info.Bootloader())

	fmt.Fprintln(out, "Querying installed applications from your Ledger. You might have to confirm on your device.")
	apps, err := m.ListApps(ctx)
	if err != nil {
		return report.Errorf(report.DeviceQuery, err, "Error listing installed applications: %v.", err)
	}
	fmt.Fprintln(out, "Installed applications:")
	for _, app := range apps {
		fmt.Fprintf(out, "  - %s\n", app)
	}
	return nil
}

func genuineCheck(ctx context.Context, m Manager, out io.Writer) error {
	fmt.Fprintln(out, "Querying Ledger's remote HSM to perform the genuine check. You might have to confirm the operation on your device.")
	if err := m.GenuineCheck(ctx); err != nil {
		return report.Errorf(report.GenuineCheck, err, "Error when performing genuine check: %v", err)
	}
	fmt.Fprintln(out, "Success. Your Ledger is genuine.")
	return nil
}

func install(ctx context.Context, m Manager, out io.Writer, op command.Operation) error {
	app, name := appFor(op)
	fmt.Fprintln(out, confirmInstall)

	err := m.InstallApp(ctx, app)
	switch {
	case err == nil:
		fmt.Fprintf(out, "Successfully installed the %s app.\n", name)
		return nil
	case errors.Is(err, ledger.ErrAlreadyInstalled):
		return &report.Error{Kind: report.Install, Reason: report.AlreadyInstalled, Err: err,
			Message: fmt.Sprintf("%s app already installed. Use the update command to update it.", name)}
	case errors.Is(err, ledger.ErrAppNotFound):
		return &report.Error{Kind: report.Install, Reason: report.AppNotFound, Err: err,
			Message: fmt.Sprintf("Could not get info about %s app.", name)}
	default:
		return report.Errorf(report.Install, err, "Error installing %s app: %v.", name, err)
	}
}

func update(ctx context.Context, m Manager, out io.Writer, op command.Operation) error {
	app, name := appFor(op)
	fmt.Fprintln(out, confirmInstall)

	err := m.UpdateApp(ctx, app)
	switch {
	case err == nil:
		fmt.Fprintf(out, "Successfully updated the %s app.\n", name)
		return nil
	case errors.Is(err, ledger.ErrNotInstalled):
		return &report.Error{Kind: report.Update, Reason: report.NotInstalled, Err: err,
			Message: fmt.Sprintf("%s app isn't installed. Use the install command instead.", name)}
	case errors.Is(err, ledger.ErrAppNotFound):
		return &report.Error{Kind: report.Update, Reason: report.AppNotFound, Err: err,
			Message: fmt.Sprintf("Could not get info about %s app.", name)}
	case errors.Is(err, ledger.ErrAlreadyLatest):
		return &report.Error{Kind: report.Update, Reason: report.AlreadyLatest, Err: err,
			Message: fmt.Sprintf("%s app is already at the latest version.", name)}
	default:
		return report.Errorf(report.Update, err, "Error updating %s app: %v.", name, err)
	}
}

func open(ctx context.Context, m Manager, op command.Operation) error {
	app, name := appFor(op)
	if err := m.OpenApp(ctx, app); err != nil {
		return report.Errorf(report.Open, err, "Error opening %s app: %v", name, err)
	}
	return nil
}
