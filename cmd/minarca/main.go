// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Command minarca is the installable form of the agent:
//
//	go install github.com/toeirei/minarca/cmd/minarca@latest
package main

import (
	"os"

	"github.com/toeirei/minarca/ui/cli"
)

func main() {
	os.Exit(cli.Execute())
}
