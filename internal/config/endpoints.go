package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seagrayinc/ledgerctl/pkg/ledger"
)

// File is the optional YAML configuration file.
type File struct {
	ManagerAPI   string `yaml:"managerApi"`
	ScriptRunner string `yaml:"scriptRunner"`
	Provider     int    `yaml:"provider"`
	HIDBackend   string `yaml:"hidBackend"`
}

// LoadFile reads path. An empty path yields an empty File.
func LoadFile(path string) (File, error) {
	if path == "" {
		return File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

// Endpoints merges the file over the defaults, then applies env overrides.
func Endpoints(f File, lookup LookupFunc) ledger.Endpoints {
	ep := ledger.DefaultEndpoints
	if f.ManagerAPI != "" {
		ep.ManagerAPI = f.ManagerAPI
	}
	if f.ScriptRunner != "" {
		ep.ScriptRunner = f.ScriptRunner
	}
	if f.Provider != 0 {
		ep.Provider = f.Provider
	}

	if v, ok := lookup(EnvManagerAPI); ok && strings.TrimSpace(v) != "" {
		ep.ManagerAPI = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvScriptRunner); ok && strings.TrimSpace(v) != "" {
		ep.ScriptRunner = strings.TrimSpace(v)
	}
	return ep
}

// Backend returns the HID backend name, env taking precedence over the file.
func Backend(cfg Config, f File) string {
	if cfg.Backend != "" {
		return cfg.Backend
	}
	return f.HIDBackend
}
