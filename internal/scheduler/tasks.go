// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/toeirei/minarca/internal/logging"
)

// TaskName is the Windows scheduled task owned by minarca.
const TaskName = "Minarca backup"

// Tasks drives schtasks.exe.
type Tasks struct {
	opts Options
}

func (t *Tasks) Exists() (bool, error) {
	_, err := t.opts.run(nil, "schtasks", "/Query", "/TN", TaskName)
	if err == nil {
		return true, nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("query scheduled task: %w", err)
}

// Command is the action registered with the task.
func (t *Tasks) Command() string {
	words := []string{`"` + t.opts.Executable + `"`}
	for _, a := range t.opts.args() {
		if a == "" || strings.ContainsAny(a, " \t") {
			a = `"` + a + `"`
		}
		words = append(words, a)
	}
	return strings.Join(words, " ")
}

// Create registers the task, replacing an existing one.
func (t *Tasks) Create() error {
	logging.Debugf("creating scheduled task %q", TaskName)
	_, err := t.opts.run(nil, "schtasks", "/Create", "/F",
		"/TN", TaskName,
		"/SC", strings.ToUpper(string(t.opts.Interval)),
		"/TR", t.Command())
	if err != nil {
		return fmt.Errorf("create scheduled task: %w", err)
	}
	return nil
}

// Delete removes the task. A missing task is not an error.
func (t *Tasks) Delete() error {
	exists, err := t.Exists()
	if err != nil || !exists {
		return err
	}
	if _, err := t.opts.run(nil, "schtasks", "/Delete", "/F", "/TN", TaskName); err != nil {
		return fmt.Errorf("delete scheduled task: %w", err)
	}
	return nil
}
