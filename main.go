// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for Minarca.
//
// Usage:
//
//	go run . [flags]
//	./minarca [flags]
//
// This launches the Minarca CLI. See --help for options.
package main

import (
	"os"

	"github.com/toeirei/minarca/ui/cli"
)

func main() {
	os.Exit(cli.Execute())
}
