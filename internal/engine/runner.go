// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/toeirei/minarca/internal/logging"
)

// Runner starts a long running command and waits for it.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs the process and forwards its output to the log, one
// record per line.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out := &lineLogger{prefix: name}
	cmd.Stdout = out
	cmd.Stderr = out
	logging.Debugf("running %s %s", name, strings.Join(args, " "))
	err := cmd.Run()
	out.flush()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

type lineLogger struct {
	prefix string
	mu     sync.Mutex
	buf    bytes.Buffer
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(p)
	for {
		i := bytes.IndexByte(l.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(l.buf.Next(i+1)), "\r\n")
		if line != "" {
			logging.Infof("%s: %s", l.prefix, line)
		}
	}
	return len(p), nil
}

func (l *lineLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rest := strings.TrimSpace(l.buf.String()); rest != "" {
		logging.Infof("%s: %s", l.prefix, rest)
	}
	l.buf.Reset()
}
