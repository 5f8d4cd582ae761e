package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/seagrayinc/ledgerctl/internal/command"
	"github.com/seagrayinc/ledgerctl/internal/config"
	"github.com/seagrayinc/ledgerctl/internal/report"
	"github.com/seagrayinc/ledgerctl/internal/workflow"
)

const usage = "Invalid or no command specified. The command must be passed through the LEDGER_COMMAND env var " +
	"(getinfo, genuinecheck, installapp, updateapp, openapp, updatefirm). Set LEDGER_TESTNET to use the Bitcoin " +
	"testnet app instead where applicable, or LEDGER_SOLANA to target the Solana app."

type flags struct {
	command string
	testnet bool
	solana  bool
	backend string
	config  string
	envFile string
	verbose bool
}

// execute runs the CLI and returns the process exit status. It is the only
// place where an outcome turns into an exit status.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer, env config.LookupFunc, open acquirer) int {
	var (
		f      flags
		runErr error
	)

	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Manage a Ledger hardware wallet: device info, genuine check, app install/update/open",
		Long: `ledgerctl drives one device management operation per run.

The operation is read from the environment:
  LEDGER_COMMAND   getinfo | genuinecheck | installapp | updateapp | openapp | updatefirm
  LEDGER_TESTNET   (set) use the Bitcoin testnet app
  LEDGER_SOLANA    (set) use the Solana app, takes precedence over LEDGER_TESTNET

Flags override the environment.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := config.LoadDotEnv(f.envFile); err != nil {
				runErr = report.Errorf(report.Configuration, err, "Error loading env file: %v.", err)
				return
			}

			cfg := config.FromEnv(env)
			fs := cmd.Flags()
			if fs.Changed("command") {
				cfg.Command = f.command
			}
			if fs.Changed("testnet") {
				cfg.Testnet = f.testnet
			}
			if fs.Changed("solana") {
				cfg.Solana = f.solana
			}
			if fs.Changed("backend") {
				cfg.Backend = f.backend
			}
			if fs.Changed("config") {
				cfg.ConfigFile = f.config
			}
			if fs.Changed("verbose") {
				cfg.Verbose = f.verbose
			}

			setupLogging(stderr, cfg.Verbose)
			runErr = run(cmd.Context(), cfg, env, stdout, open)
		},
	}
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	fs := root.Flags()
	fs.StringVar(&f.command, "command", "", "operation to run (overrides "+config.EnvCommand+")")
	fs.BoolVar(&f.testnet, "testnet", false, "use the Bitcoin testnet app (overrides "+config.EnvTestnet+")")
	fs.BoolVar(&f.solana, "solana", false, "use the Solana app (overrides "+config.EnvSolana+")")
	fs.StringVar(&f.backend, "backend", "", "HID backend: usbhid, hidapi or karalabe (overrides "+config.EnvBackend+")")
	fs.StringVar(&f.config, "config", "", "YAML file with manager endpoints (overrides "+config.EnvConfigFile+")")
	fs.StringVar(&f.envFile, "env-file", "", "load environment variables from this file first")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "log device traffic to stderr")

	if err := root.ExecuteContext(ctx); err != nil {
		return report.Exit(stderr, report.Errorf(report.Configuration, err, "%v", err))
	}
	return report.Exit(stderr, runErr)
}

// run resolves the operation, acquires the device when the operation needs
// one, and runs the workflow.
func run(ctx context.Context, cfg config.Config, env config.LookupFunc, stdout io.Writer, open acquirer) error {
	op, err := command.Resolve(cfg)
	if err != nil {
		return report.Errorf(report.Configuration, err, usage)
	}
	slog.Debug("resolved operation", slog.String("operation", op.String()))

	if !workflow.NeedsDevice(op) {
		return workflow.Run(ctx, op, nil, stdout)
	}

	file, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return report.Errorf(report.Configuration, err, "Error loading configuration: %v.", err)
	}

	dev, err := open(config.Backend(cfg, file), config.Endpoints(file, env))
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			slog.Info("closing device failed", slog.Any("error", err))
		}
	}()

	return workflow.Run(ctx, op, dev, stdout)
}

func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
