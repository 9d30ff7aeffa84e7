// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package security holds the redacting wrapper used for account passwords.
package security

import (
	"encoding/json"
	"fmt"
	"io"
)

const redacted = "[SECRET]"

// Secret holds sensitive bytes such as the account password typed at link
// time. Formatting and marshaling never reveal the content.
type Secret []byte

// String redacts the secret for fmt.Print* convenience.
func (s Secret) String() string { return redacted }

// Format implements fmt.Formatter so every verb is redacted.
func (s Secret) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

// Bytes returns a copy of the underlying bytes.
func (s Secret) Bytes() []byte {
	out := make([]byte, len(s))
	copy(out, s)
	return out
}

// Empty reports whether no secret was provided.
func (s Secret) Empty() bool { return len(s) == 0 }

// Zero overwrites the underlying byte slice with zeros.
func (s *Secret) Zero() {
	if s == nil || *s == nil {
		return
	}
	for i := range *s {
		(*s)[i] = 0
	}
}

// Use executes fn with the underlying bytes (not a copy).
func (s Secret) Use(fn func([]byte) error) error {
	return fn([]byte(s))
}

// MarshalJSON redacts secrets in JSON marshaling.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

// MarshalText redacts secrets for text encoding, which covers YAML too.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// FromString wraps a string.
func FromString(in string) Secret { return Secret([]byte(in)) }

// FromBytes copies in into a new Secret.
func FromBytes(in []byte) Secret {
	out := make([]byte, len(in))
	copy(out, in)
	return Secret(out)
}
