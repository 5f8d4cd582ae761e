// Package command turns the configuration into the one operation to run.
package command

import (
	"errors"

	"github.com/seagrayinc/ledgerctl/internal/config"
)

type Kind int

const (
	GetInfo Kind = iota + 1
	GenuineCheck
	Install
	Update
	Open
	UpdateFirmware
)

var kindNames = map[Kind]string{
	GetInfo:        "getinfo",
	GenuineCheck:   "genuinecheck",
	Install:        "installapp",
	Update:         "updateapp",
	Open:           "openapp",
	UpdateFirmware: "updatefirm",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

type Target int

const (
	BitcoinApp Target = iota
	SolanaApp
)

type Network int

const (
	Main Network = iota
	Test
)

// Operation is the resolved action. Target and Network only mean something
// for Install, Update and Open; Network is ignored for SolanaApp.
type Operation struct {
	Kind    Kind
	Target  Target
	Network Network
}

func (o Operation) String() string {
	switch o.Kind {
	case Install, Update, Open:
		switch {
		case o.Target == SolanaApp:
			return o.Kind.String() + "(solana)"
		case o.Network == Test:
			return o.Kind.String() + "(bitcoin, testnet)"
		default:
			return o.Kind.String() + "(bitcoin, mainnet)"
		}
	}
	return o.Kind.String()
}

var ErrUnresolved = errors.New("invalid or no command specified")

// Resolve maps cfg onto exactly one Operation. The Solana flag wins over the
// testnet flag.
func Resolve(cfg config.Config) (Operation, error) {
	var kind Kind
	for k, name := range kindNames {
		if name == cfg.Command {
			kind = k
		}
	}

	switch kind {
	case GetInfo, GenuineCheck, UpdateFirmware:
		return Operation{Kind: kind}, nil
	case Install, Update, Open:
		op := Operation{Kind: kind, Target: BitcoinApp, Network: Main}
		switch {
		case cfg.Solana:
			op.Target = SolanaApp
		case cfg.Testnet:
			op.Network = Test
		}
		return op, nil
	default:
		return Operation{}, ErrUnresolved
	}
}
