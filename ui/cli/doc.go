// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the minarca command-line interface using Cobra.
// It loads the agent settings, wires the default collaborators and
// delegates every operation to the lifecycle controller in internal/core.
// CLI code should remain thin.
package cli
