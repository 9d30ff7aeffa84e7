// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/toeirei/minarca/internal/logging"
)

// CronTag marks the line owned by minarca in the user crontab.
const CronTag = "# minarca-backup"

// Cron keeps one tagged line in the current user's crontab.
type Cron struct {
	opts Options
}

// Line is the crontab entry Create installs.
func (c *Cron) Line() string {
	words := []string{"@" + string(c.opts.Interval), shellQuote(c.opts.Executable)}
	for _, a := range c.opts.args() {
		words = append(words, shellQuote(a))
	}
	return strings.Join(append(words, CronTag), " ")
}

func (c *Cron) read() ([]string, error) {
	out, err := c.opts.run(nil, "crontab", "-l")
	if err != nil {
		var exitErr *ExitError
		// "no crontab for <user>" is an empty table, not a failure.
		if errors.As(err, &exitErr) && strings.Contains(strings.ToLower(exitErr.Output), "no crontab") {
			return nil, nil
		}
		return nil, fmt.Errorf("read crontab: %w", err)
	}
	text := strings.TrimRight(strings.ReplaceAll(string(out), "\r\n", "\n"), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

func (c *Cron) write(lines []string) error {
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if _, err := c.opts.run([]byte(content), "crontab", "-"); err != nil {
		return fmt.Errorf("write crontab: %w", err)
	}
	return nil
}

func withoutTag(lines []string) ([]string, bool) {
	out := make([]string, 0, len(lines))
	found := false
	for _, l := range lines {
		if strings.Contains(l, CronTag) {
			found = true
			continue
		}
		out = append(out, l)
	}
	return out, found
}

func (c *Cron) Exists() (bool, error) {
	lines, err := c.read()
	if err != nil {
		return false, err
	}
	_, found := withoutTag(lines)
	return found, nil
}

// Create installs or replaces the tagged line. Other entries are kept.
func (c *Cron) Create() error {
	lines, err := c.read()
	if err != nil {
		return err
	}
	lines, _ = withoutTag(lines)
	lines = append(lines, c.Line())
	logging.Debugf("installing crontab entry %q", c.Line())
	return c.write(lines)
}

// Delete removes the tagged line. Nothing is written when it is absent.
func (c *Cron) Delete() error {
	lines, err := c.read()
	if err != nil {
		return err
	}
	rest, found := withoutTag(lines)
	if !found {
		return nil
	}
	return c.write(rest)
}

// shellQuote quotes s for /bin/sh when it holds anything but safe characters.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("/._-+:@", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
