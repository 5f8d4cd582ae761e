// Package config reads the process configuration once at startup.
package config

import (
	"github.com/joho/godotenv"
)

const (
	EnvCommand      = "LEDGER_COMMAND"
	EnvTestnet      = "LEDGER_TESTNET"
	EnvSolana       = "LEDGER_SOLANA"
	EnvBackend      = "LEDGER_HID_BACKEND"
	EnvConfigFile   = "LEDGER_CONFIG"
	EnvVerbose      = "LEDGER_VERBOSE"
	EnvManagerAPI   = "LEDGER_MANAGER_API"
	EnvScriptRunner = "LEDGER_SCRIPT_RUNNER"
)

// Config is the operator's selection for one run.
type Config struct {
	Command string

	// Presence-only flags: set means true whatever the value.
	Testnet bool
	Solana  bool

	Backend    string
	ConfigFile string
	Verbose    bool
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnv builds a Config from environment lookups.
func FromEnv(lookup LookupFunc) Config {
	var cfg Config
	if v, ok := lookup(EnvCommand); ok {
		cfg.Command = v
	}
	_, cfg.Testnet = lookup(EnvTestnet)
	_, cfg.Solana = lookup(EnvSolana)
	_, cfg.Verbose = lookup(EnvVerbose)
	cfg.Backend, _ = lookup(EnvBackend)
	cfg.ConfigFile, _ = lookup(EnvConfigFile)
	return cfg
}

// LoadDotEnv loads variables from an env file into the process environment.
// Variables already set are left untouched.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	return godotenv.Load(path)
}
