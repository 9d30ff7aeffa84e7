//go:build !windows
// +build !windows

// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package platform

import "os"

// Current returns the variant for the running operating system.
func Current() Platform {
	home, _ := os.UserHomeDir()
	return POSIX(POSIXEnv{
		Home:          home,
		XDGConfigHome: os.Getenv("XDG_CONFIG_HOME"),
	})
}
