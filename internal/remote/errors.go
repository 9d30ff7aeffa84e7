// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import (
	"errors"
	"strings"
)

// IsConnectionTimeoutError reports whether err looks like a connect or
// handshake timeout.
func IsConnectionTimeoutError(err error) bool {
	return containsAny(err, "timeout", "deadline exceeded")
}

// IsConnectionRefusedError reports whether the host could not be reached.
func IsConnectionRefusedError(err error) bool {
	return containsAny(err, "connection refused", "no route to host", "no such host")
}

// IsAuthenticationError reports whether the server rejected the credentials.
func IsAuthenticationError(err error) bool {
	return containsAny(err, "unable to authenticate", "authentication failed", "permission denied")
}

// IsHostKeyError reports whether the server key was not trusted.
func IsHostKeyError(err error) bool {
	if errors.Is(err, ErrUnknownHostKey) {
		return true
	}
	return containsAny(err, "host key")
}

func containsAny(err error, needles ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

// classify turns a dial error into a short message for the user.
func classify(addr string, err error) string {
	switch {
	case IsHostKeyError(err):
		return "the identity of " + addr + " can't be verified"
	case IsAuthenticationError(err):
		return "invalid username or password"
	case IsConnectionTimeoutError(err):
		return "connection to " + addr + " timed out"
	case IsConnectionRefusedError(err):
		return addr + " is unreachable"
	}
	return "can't connect to " + addr
}
