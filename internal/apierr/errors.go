// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package apierr defines the error kinds surfaced by the agent core. Callers
// should match on the kind (errors.Is against a sentinel, or KindOf) rather
// than inspecting message text.
package apierr

import (
	"errors"
	"strings"
)

// Kind classifies an agent error.
type Kind int

const (
	// Unknown is reported for errors that did not originate in the core.
	Unknown Kind = iota
	// NotConfigured means a required scalar or the identity is missing. Run link.
	NotConfigured
	// MissConfigured means the patterns or the schedule are missing. Run default-config.
	MissConfigured
	// InvalidComputerName is an input validation failure on link.
	InvalidComputerName
	// CryptoFailure is a key generation or encoding failure.
	CryptoFailure
	// MalformedKey is raised when decoding key material fails.
	MalformedKey
	// InvalidPattern is raised for a glob pattern that cannot be used.
	InvalidPattern
	// RemoteRegistrationFailure is a network or auth failure while registering the key.
	RemoteRegistrationFailure
	// PersistFailure is a disk write (or hard read) failure.
	PersistFailure
)

var kindNames = map[Kind]string{
	Unknown:                   "unknown",
	NotConfigured:             "not configured",
	MissConfigured:            "miss configured",
	InvalidComputerName:       "invalid computer name",
	CryptoFailure:             "crypto failure",
	MalformedKey:              "malformed key",
	InvalidPattern:            "invalid pattern",
	RemoteRegistrationFailure: "remote registration failure",
	PersistFailure:            "persist failure",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Recoverable reports whether the kind describes an expected configuration
// state rather than a fault.
func (k Kind) Recoverable() bool {
	return k == NotConfigured || k == MissConfigured
}

// Error is the tagged error value returned by the core packages.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "link" or "store.save".
	Op string
	// Msg is a short human readable description.
	Msg string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare sentinel of the same kind, so that
// errors.Is(err, apierr.ErrNotConfigured) works for any NotConfigured error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" && t.Msg == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return e == t
}

// Sentinels for errors.Is matching.
var (
	ErrNotConfigured             = &Error{Kind: NotConfigured}
	ErrMissConfigured            = &Error{Kind: MissConfigured}
	ErrInvalidComputerName       = &Error{Kind: InvalidComputerName}
	ErrCryptoFailure             = &Error{Kind: CryptoFailure}
	ErrMalformedKey              = &Error{Kind: MalformedKey}
	ErrInvalidPattern            = &Error{Kind: InvalidPattern}
	ErrRemoteRegistrationFailure = &Error{Kind: RemoteRegistrationFailure}
	ErrPersistFailure            = &Error{Kind: PersistFailure}
)

// New returns an error of the given kind without an underlying cause.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
