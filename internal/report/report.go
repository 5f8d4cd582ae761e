// Package report holds the failure taxonomy and the single place where an
// outcome becomes a message and an exit status.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

type Kind int

const (
	Configuration Kind = iota + 1
	Transport
	DeviceQuery
	GenuineCheck
	Install
	Update
	Open
	Unimplemented
)

var kindNames = map[Kind]string{
	Configuration: "configuration",
	Transport:     "transport",
	DeviceQuery:   "device query",
	GenuineCheck:  "genuine check",
	Install:       "install",
	Update:        "update",
	Open:          "open",
	Unimplemented: "unimplemented",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Reason refines Install and Update failures.
type Reason int

const (
	ReasonOther Reason = iota
	AlreadyInstalled
	NotInstalled
	AppNotFound
	AlreadyLatest
)

// Error is a terminal outcome. Message is the complete line shown to the
// operator; Err, when set, is the underlying cause.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error wrapping cause. The format should mention cause
// (usually with %v) if the operator needs to see it.
func Errorf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

const (
	ExitOK      = 0
	ExitFailure = 1
)

// Exit writes the message for err to w and returns the process exit status.
// A nil err writes nothing and returns ExitOK.
func Exit(w io.Writer, err error) int {
	if err == nil {
		return ExitOK
	}

	msg := err.Error()
	var re *Error
	if !errors.As(err, &re) {
		msg = "Error: " + msg
	}
	fmt.Fprintln(w, strings.TrimRight(msg, "\n"))
	return ExitFailure
}
