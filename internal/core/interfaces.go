// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package core holds the lifecycle controller and the small interfaces it
// talks to. Keep these interfaces minimal; they describe side-effect
// boundaries implemented by internal/remote, internal/scheduler,
// internal/engine and by test fakes.
package core

import (
	"context"

	"github.com/toeirei/minarca/internal/crypto/ssh"
	"github.com/toeirei/minarca/internal/patterns"
	"github.com/toeirei/minarca/internal/store"
)

// Client registers the agent public key with the remote account. It is
// authenticated before being handed to Link.
type Client interface {
	AddSSHKey(ctx context.Context, computerName, publicKey string) error
	// Username is the remote account name that owns the backups.
	Username() string
}

// Scheduler manages the periodic backup task of the host OS.
type Scheduler interface {
	Exists() (bool, error)
	Create() error
	Delete() error
}

// Target describes where and as whom a backup engine connects.
type Target struct {
	RemoteHost   string
	Username     string
	RemotePath   string
	IdentityFile string
}

// BackupEngine runs the external transfer tool.
type BackupEngine interface {
	TestServer(ctx context.Context, target Target) error
	Backup(ctx context.Context, target Target, includesFile, excludesFile string) error
}

// KeyGenerator creates a fresh identity. ssh.GenerateKeyPair is the default.
type KeyGenerator interface {
	GenerateKeyPair(comment string) (*ssh.Identity, error)
}

// KeyGeneratorFunc adapts a function to KeyGenerator.
type KeyGeneratorFunc func(comment string) (*ssh.Identity, error)

func (f KeyGeneratorFunc) GenerateKeyPair(comment string) (*ssh.Identity, error) {
	return f(comment)
}

// ConfigStore is the persistence the controller needs. *store.Store
// implements it.
type ConfigStore interface {
	Config() store.Configuration
	SetAll(store.Configuration) error
	Includes() ([]patterns.Pattern, error)
	Excludes() ([]patterns.Pattern, error)
	// SetPatterns replaces the include and exclude lists together.
	SetPatterns(inc, exc []patterns.Pattern) error
}

var _ ConfigStore = (*store.Store)(nil)
