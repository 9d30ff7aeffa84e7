// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package engine drives the external rdiff-backup process that transfers
// the data. It only builds the command line; the protocol is rdiff-backup's.
package engine

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/toeirei/minarca/internal/core"
	"github.com/toeirei/minarca/internal/platform"
)

// Options configures the external tools.
type Options struct {
	// Command is the rdiff-backup executable. Default "rdiff-backup".
	Command string
	// SSHCommand is ssh on POSIX and plink on Windows by default.
	SSHCommand string
	// Source is the tree scoped by the pattern files. Default "/" on POSIX
	// and "C:/" on Windows.
	Source string
	Runner Runner
}

// Engine implements core.BackupEngine on top of rdiff-backup.
type Engine struct {
	opts  Options
	plink bool
}

var _ core.BackupEngine = (*Engine)(nil)

// New returns an engine for p.
func New(p platform.Platform, opts Options) *Engine {
	e := &Engine{opts: opts, plink: p.Name() == "windows"}
	if e.opts.Command == "" {
		e.opts.Command = "rdiff-backup"
	}
	if e.opts.SSHCommand == "" {
		e.opts.SSHCommand = "ssh"
		if e.plink {
			e.opts.SSHCommand = "plink"
		}
	}
	if e.opts.Source == "" {
		e.opts.Source = "/"
		if e.plink {
			e.opts.Source = "C:/"
		}
	}
	if e.opts.Runner == nil {
		e.opts.Runner = ExecRunner{}
	}
	return e
}

func splitHost(remote string) (host, port string) {
	if h, p, err := net.SplitHostPort(remote); err == nil {
		return h, p
	}
	return remote, ""
}

// RemoteSchema is the --remote-schema template; rdiff-backup substitutes
// %s with the host part of the destination.
func (e *Engine) RemoteSchema(t core.Target) string {
	_, port := splitHost(t.RemoteHost)
	var b strings.Builder
	b.WriteString(quote(e.opts.SSHCommand))
	if e.plink {
		b.WriteString(" -batch")
		if port != "" {
			b.WriteString(" -P " + port)
		}
	} else {
		b.WriteString(" -o BatchMode=yes")
		if port != "" {
			b.WriteString(" -p " + port)
		}
	}
	b.WriteString(" -i " + quote(t.IdentityFile))
	b.WriteString(" %s rdiff-backup --server")
	return b.String()
}

// Destination renders user@host::path.
func (e *Engine) Destination(t core.Target) string {
	host, _ := splitHost(t.RemoteHost)
	return fmt.Sprintf("%s@%s::%s", t.Username, host, t.RemotePath)
}

// TestServerArgs returns the rdiff-backup arguments probing the server.
func (e *Engine) TestServerArgs(t core.Target) []string {
	return []string{"--remote-schema", e.RemoteSchema(t), "--test-server", e.Destination(t)}
}

// BackupArgs returns the rdiff-backup arguments of one backup. Excludes are
// listed first so they win over a broader include; everything not included
// is skipped.
func (e *Engine) BackupArgs(t core.Target, includesFile, excludesFile string) []string {
	return []string{
		"--remote-schema", e.RemoteSchema(t),
		"--exclude-globbing-filelist", excludesFile,
		"--include-globbing-filelist", includesFile,
		"--exclude", "**",
		e.opts.Source,
		e.Destination(t),
	}
}

func (e *Engine) TestServer(ctx context.Context, t core.Target) error {
	if err := e.opts.Runner.Run(ctx, e.opts.Command, e.TestServerArgs(t)...); err != nil {
		return fmt.Errorf("test server %s: %w", t.RemoteHost, err)
	}
	return nil
}

func (e *Engine) Backup(ctx context.Context, t core.Target, includesFile, excludesFile string) error {
	if err := e.opts.Runner.Run(ctx, e.opts.Command, e.BackupArgs(t, includesFile, excludesFile)...); err != nil {
		return fmt.Errorf("backup to %s: %w", t.RemoteHost, err)
	}
	return nil
}

// quote wraps s in double quotes when it contains a space; rdiff-backup
// splits the schema like a shell.
func quote(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}
