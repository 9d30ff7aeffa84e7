// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package scheduler registers the periodic "minarca backup" run with the
// host OS: one tagged crontab line on POSIX systems, one scheduled task on
// Windows.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/toeirei/minarca/internal/core"
	"github.com/toeirei/minarca/internal/platform"
)

// Interval is how often the backup runs.
type Interval string

const (
	Hourly Interval = "hourly"
	Daily  Interval = "daily"
	Weekly Interval = "weekly"
)

// ParseInterval accepts hourly, daily or weekly in any case. Empty means
// Hourly.
func ParseInterval(s string) (Interval, error) {
	switch Interval(strings.ToLower(strings.TrimSpace(s))) {
	case "", Hourly:
		return Hourly, nil
	case Daily:
		return Daily, nil
	case Weekly:
		return Weekly, nil
	}
	return "", fmt.Errorf("invalid schedule interval %q (want hourly, daily or weekly)", s)
}

// DefaultTimeout bounds each crontab or schtasks invocation.
const DefaultTimeout = 30 * time.Second

// Options configures the scheduled command.
type Options struct {
	// Executable is the absolute path of the minarca binary.
	Executable string
	// ConfigDir and SettingsFile are passed on to the scheduled run so it
	// uses the same configuration as the command that installed it. Empty
	// values are left out.
	ConfigDir    string
	SettingsFile string
	Interval     Interval
	Runner       Runner
	Timeout      time.Duration
}

// args is the argument list of the scheduled command, executable excluded.
func (o Options) args() []string {
	var args []string
	if o.SettingsFile != "" {
		args = append(args, "--config", o.SettingsFile)
	}
	if o.ConfigDir != "" {
		args = append(args, "--config-dir", o.ConfigDir)
	}
	return append(args, "backup")
}

func (o Options) withDefaults() Options {
	if o.Interval == "" {
		o.Interval = Hourly
	}
	if o.Runner == nil {
		o.Runner = ExecRunner{}
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

func (o Options) run(stdin []byte, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.Timeout)
	defer cancel()
	return o.Runner.Run(ctx, stdin, name, args...)
}

// New returns the scheduler matching p.
func New(p platform.Platform, opts Options) core.Scheduler {
	opts = opts.withDefaults()
	if p.Name() == "windows" {
		return &Tasks{opts: opts}
	}
	return &Cron{opts: opts}
}
