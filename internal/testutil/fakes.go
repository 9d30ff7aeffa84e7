// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil provides in-memory collaborators for the lifecycle
// controller so tests never touch the network, the OS scheduler or an
// external backup process.
package testutil

import (
	"context"
	"sync"

	"github.com/toeirei/minarca/internal/core"
)

// FakeClient records registered keys.
type FakeClient struct {
	User string
	// Err, if set, is returned by AddSSHKey.
	Err error

	mu    sync.Mutex
	Calls []KeyCall
}

// KeyCall is one AddSSHKey invocation.
type KeyCall struct {
	ComputerName string
	PublicKey    string
}

func (f *FakeClient) AddSSHKey(_ context.Context, computerName, publicKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, KeyCall{ComputerName: computerName, PublicKey: publicKey})
	return f.Err
}

func (f *FakeClient) Username() string { return f.User }

// FakeScheduler keeps the task existence in a bool.
type FakeScheduler struct {
	Present bool

	ExistsErr, CreateErr, DeleteErr error

	Creates, Deletes int
}

func (f *FakeScheduler) Exists() (bool, error) {
	if f.ExistsErr != nil {
		return false, f.ExistsErr
	}
	return f.Present, nil
}

func (f *FakeScheduler) Create() error {
	f.Creates++
	if f.CreateErr != nil {
		return f.CreateErr
	}
	f.Present = true
	return nil
}

func (f *FakeScheduler) Delete() error {
	f.Deletes++
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.Present = false
	return nil
}

// EngineCall captures the arguments of one engine invocation.
type EngineCall struct {
	Op           string
	Target       core.Target
	IncludesFile string
	ExcludesFile string
}

// FakeEngine records TestServer and Backup calls.
type FakeEngine struct {
	Err   error
	Calls []EngineCall
}

func (f *FakeEngine) TestServer(_ context.Context, t core.Target) error {
	f.Calls = append(f.Calls, EngineCall{Op: "test-server", Target: t})
	return f.Err
}

func (f *FakeEngine) Backup(_ context.Context, t core.Target, includesFile, excludesFile string) error {
	f.Calls = append(f.Calls, EngineCall{Op: "backup", Target: t, IncludesFile: includesFile, ExcludesFile: excludesFile})
	return f.Err
}

var (
	_ core.Client       = (*FakeClient)(nil)
	_ core.Scheduler    = (*FakeScheduler)(nil)
	_ core.BackupEngine = (*FakeEngine)(nil)
)
