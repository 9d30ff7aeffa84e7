// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package patterns parses and renders the ordered glob lists that scope a
// backup. Order and duplicates are significant to the backup engine and are
// preserved as-is.
package patterns

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/toeirei/minarca/internal/apierr"
	"github.com/toeirei/minarca/internal/logging"
	"golang.org/x/text/encoding/charmap"
)

// Pattern is one validated glob line.
type Pattern struct {
	value string
}

// New validates value and returns it as a Pattern. A value is valid when it
// is non-empty after trimming and compiles as a glob.
func New(value string) (Pattern, error) {
	if strings.TrimSpace(value) == "" {
		return Pattern{}, apierr.New(apierr.InvalidPattern, "pattern", "pattern is empty")
	}
	if _, err := glob.Compile(value, '/'); err != nil {
		return Pattern{}, apierr.Wrap(apierr.InvalidPattern, "pattern", "invalid glob "+value, err)
	}
	return Pattern{value: value}, nil
}

// MustNew is New for literals known to be valid. It panics otherwise.
func MustNew(value string) Pattern {
	p, err := New(value)
	if err != nil {
		panic(err)
	}
	return p
}

// FromStrings validates every value, failing on the first invalid one.
func FromStrings(values []string) ([]Pattern, error) {
	out := make([]Pattern, 0, len(values))
	for _, v := range values {
		p, err := New(v)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Value returns the pattern text.
func (p Pattern) Value() string { return p.value }

func (p Pattern) String() string { return p.value }

// Strings returns the pattern texts in order.
func Strings(ps []Pattern) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.value
	}
	return out
}

// Parse splits text into patterns. Blank lines and lines whose first
// non-blank character is '#' are skipped. Invalid lines are logged and
// dropped; they never fail the whole parse.
func Parse(text string) []Pattern {
	var out []Pattern
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		p, err := New(line)
		if err != nil {
			logging.Warnf("invalid pattern [%s] discarded: %v", line, err)
			continue
		}
		out = append(out, p)
	}
	return out
}

// Serialize renders one pattern per line terminated by "\n".
func Serialize(ps []Pattern) string {
	return SerializeWith(ps, "\n")
}

// SerializeWith renders one pattern per line terminated by eol.
func SerializeWith(ps []Pattern, eol string) string {
	var b strings.Builder
	for _, p := range ps {
		b.WriteString(p.value)
		b.WriteString(eol)
	}
	return b.String()
}

// Decode converts the single-byte file content to a Go string.
func Decode(data []byte) (string, error) {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Encode converts text to the single-byte file encoding. Characters outside
// ISO-8859-1 cannot be stored and make Encode fail.
func Encode(text string) ([]byte, error) {
	out, err := charmap.ISO8859_1.NewEncoder().String(text)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidPattern, "pattern", "text is not representable in ISO-8859-1", err)
	}
	return []byte(out), nil
}
