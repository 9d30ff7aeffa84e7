// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// POSIXEnv carries the environment the POSIX variant derives its defaults from.
type POSIXEnv struct {
	Home          string
	XDGConfigHome string
}

type posix struct {
	env POSIXEnv
}

// POSIX returns the Linux/BSD/macOS variant for the given environment.
func POSIX(env POSIXEnv) Platform {
	return &posix{env: env}
}

func (p *posix) Name() string { return "posix" }

func (p *posix) ConfigDir() (string, error) {
	base := p.env.XDGConfigHome
	if base == "" {
		if p.env.Home == "" {
			return "", errors.New("cannot locate configuration directory: home is unknown")
		}
		base = filepath.Join(p.env.Home, ".config")
	}
	return filepath.Join(base, AppName), nil
}

func (p *posix) DefaultIncludes() []string {
	return []string{p.env.Home}
}

func (p *posix) DefaultExcludes() []string {
	return []string{
		".*",
		"*~",
		slashDir(p.env.Home, "Downloads"),
	}
}

func (p *posix) IdentityFile() string { return PEMKeyFile }

func (p *posix) WritesPEM() bool { return true }

func (p *posix) TightenPermissions(paths ...string) error {
	for _, path := range paths {
		if err := os.Chmod(path, 0o400); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}
	}
	return nil
}

func (p *posix) LineSeparator() string { return "\n" }
