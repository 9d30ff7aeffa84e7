// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package platform collects everything that differs between the operating
// systems the agent supports. Call sites ask the Platform value instead of
// branching on runtime.GOOS; adding an OS means adding a variant here.
package platform

import (
	"os"
	"path/filepath"
	"strings"
)

// AppName is used for the configuration sub folder.
const AppName = "minarca"

// Platform is the capability set one operating system variant supplies.
type Platform interface {
	// Name identifies the variant ("posix", "windows").
	Name() string
	// ConfigDir returns the directory holding the agent files.
	ConfigDir() (string, error)
	// DefaultIncludes is the include list written by default-config.
	DefaultIncludes() []string
	// DefaultExcludes is the union of system and downloads excludes.
	DefaultExcludes() []string
	// IdentityFile is the private key file consumed by the native SSH client.
	IdentityFile() string
	// WritesPEM reports whether the PKCS#1 id_rsa file is produced.
	WritesPEM() bool
	// TightenPermissions restricts the given files to owner read-only.
	TightenPermissions(paths ...string) error
	// LineSeparator terminates lines in the pattern files.
	LineSeparator() string
}

// File names inside the configuration directory. External tools read these
// names directly, so they must not change.
const (
	PropertiesFile = "minarca.properties"
	IncludesFile   = "includes"
	ExcludesFile   = "excludes"
	PublicKeyFile  = "id_rsa.pub"
	PEMKeyFile     = "id_rsa"
	PuttyKeyFile   = "key.ppk"
)

// EnsureDir creates dir (and parents) with owner-only access if missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o700)
}

// DefaultComputerName guesses a friendly name for this machine from the
// COMPUTERNAME and HOSTNAME variables, then the OS hostname. It returns an
// empty string when nothing is available.
func DefaultComputerName() string {
	for _, env := range []string{"COMPUTERNAME", "HOSTNAME"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return strings.ToLower(v)
		}
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return strings.ToLower(h)
	}
	return ""
}

// slashDir renders a directory as a glob prefix with forward slashes and a
// trailing slash, the form the backup engine expects for folder patterns.
func slashDir(parts ...string) string {
	p := filepath.ToSlash(filepath.Join(parts...))
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
