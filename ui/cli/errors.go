// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"github.com/toeirei/minarca/internal/apierr"
)

// Exit codes returned by Execute.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitNotConfigured  = 2
	ExitMissConfigured = 3
	ExitInvalidInput   = 4
	ExitRemote         = 5
)

var hints = map[apierr.Kind]string{
	apierr.NotConfigured:             "this computer is not linked, run `minarca link <computer-name>`",
	apierr.MissConfigured:            "the backup selection or schedule is missing, run `minarca default-config`",
	apierr.InvalidComputerName:       "use letters, digits, '-', '_' or '.' and start with a letter",
	apierr.RemoteRegistrationFailure: "check the remote host, the username and the password",
}

// ExitMessage renders err with a hint for the kinds a user can act on.
func ExitMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if hint, ok := hints[apierr.KindOf(err)]; ok {
		msg += " (" + hint + ")"
	}
	return msg
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch apierr.KindOf(err) {
	case apierr.NotConfigured:
		return ExitNotConfigured
	case apierr.MissConfigured:
		return ExitMissConfigured
	case apierr.InvalidComputerName, apierr.InvalidPattern:
		return ExitInvalidInput
	case apierr.RemoteRegistrationFailure:
		return ExitRemote
	}
	return ExitFailure
}
