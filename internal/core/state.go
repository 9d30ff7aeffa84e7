// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package core

// State is the lifecycle position of the agent, derived from what is on disk.
type State int

const (
	// Unconfigured: no scalar setting is present.
	Unconfigured State = iota
	// Configuring: some settings exist but CheckConfig does not pass.
	Configuring
	// Linked: CheckConfig passes.
	Linked
	// Unlinking: the settings were cleared but the scheduled task could not
	// be removed yet.
	Unlinking
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configuring:
		return "configuring"
	case Linked:
		return "linked"
	case Unlinking:
		return "unlinking"
	}
	return "unknown"
}
