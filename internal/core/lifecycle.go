// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/toeirei/minarca/internal/apierr"
	"github.com/toeirei/minarca/internal/crypto/ssh"
	"github.com/toeirei/minarca/internal/logging"
	"github.com/toeirei/minarca/internal/patterns"
	"github.com/toeirei/minarca/internal/platform"
	"github.com/toeirei/minarca/internal/store"
)

var computerNameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

// ValidComputerName reports whether name can be used as a computer name.
func ValidComputerName(name string) bool {
	return computerNameRE.MatchString(name)
}

// Options wires a Controller. Dir, Scheduler, Engine and RemoteHost are
// required; the rest default to the current platform, a store opened on Dir
// and RSA generation from internal/crypto/ssh.
type Options struct {
	Dir        string
	Platform   platform.Platform
	Store      ConfigStore
	Scheduler  Scheduler
	Engine     BackupEngine
	RemoteHost string
	Keygen     KeyGenerator
}

// Controller drives the agent lifecycle for one configuration directory. It
// is not safe for concurrent use.
type Controller struct {
	dir        string
	platform   platform.Platform
	store      ConfigStore
	scheduler  Scheduler
	engine     BackupEngine
	remoteHost string
	keygen     KeyGenerator

	// set when Unlink cleared the settings but the task removal failed
	unlinkPending bool
}

// New builds a Controller from opts.
func New(opts Options) (*Controller, error) {
	if opts.Dir == "" {
		return nil, errors.New("core: configuration directory is required")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("core: scheduler is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("core: backup engine is required")
	}
	if opts.RemoteHost == "" {
		return nil, errors.New("core: remote host is required")
	}
	c := &Controller{
		dir:        opts.Dir,
		platform:   opts.Platform,
		store:      opts.Store,
		scheduler:  opts.Scheduler,
		engine:     opts.Engine,
		remoteHost: opts.RemoteHost,
		keygen:     opts.Keygen,
	}
	if c.platform == nil {
		c.platform = platform.Current()
	}
	if c.keygen == nil {
		c.keygen = KeyGeneratorFunc(ssh.GenerateKeyPair)
	}
	if c.store == nil {
		s, err := store.Open(c.dir, store.WithLineSeparator(c.platform.LineSeparator()))
		if err != nil {
			return nil, err
		}
		c.store = s
	}
	return c, nil
}

// Dir returns the configuration directory.
func (c *Controller) Dir() string { return c.dir }

// Config returns the persisted scalar settings.
func (c *Controller) Config() store.Configuration { return c.store.Config() }

// Includes returns the persisted include patterns.
func (c *Controller) Includes() ([]patterns.Pattern, error) { return c.store.Includes() }

// Excludes returns the persisted exclude patterns.
func (c *Controller) Excludes() ([]patterns.Pattern, error) { return c.store.Excludes() }

func (c *Controller) path(name string) string { return filepath.Join(c.dir, name) }

// IdentityFile is the private key file handed to the backup engine.
func (c *Controller) IdentityFile() string { return c.path(c.platform.IdentityFile()) }

// CheckConfig verifies the agent is ready to run a backup. It returns a
// NotConfigured error when a setting or the identity is missing, and a
// MissConfigured error when the patterns or the scheduled task are not in
// place. It is the only authority on the Linked state.
func (c *Controller) CheckConfig() error {
	const op = "check-config"
	cfg := c.store.Config()
	if !cfg.Complete() {
		return apierr.New(apierr.NotConfigured, op, "computer name, username or remote host is not set")
	}
	if err := readableFile(c.IdentityFile()); err != nil {
		return apierr.Wrap(apierr.NotConfigured, op, "identity file is not readable", err)
	}

	inc, err := c.store.Includes()
	if err != nil {
		return apierr.Wrap(apierr.MissConfigured, op, "includes can't be read", err)
	}
	if len(inc) == 0 {
		return apierr.New(apierr.MissConfigured, op, "includes pattern list is empty")
	}
	exc, err := c.store.Excludes()
	if err != nil {
		return apierr.Wrap(apierr.MissConfigured, op, "excludes can't be read", err)
	}
	if len(exc) == 0 {
		return apierr.New(apierr.MissConfigured, op, "excludes pattern list is empty")
	}

	exists, err := c.scheduler.Exists()
	if err != nil {
		return apierr.Wrap(apierr.MissConfigured, op, "can't query the scheduled task", err)
	}
	if !exists {
		return apierr.New(apierr.MissConfigured, op, "scheduled task is missing")
	}
	return nil
}

func readableFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// DefaultConfig restores the platform default patterns and registers the
// scheduled task. Identity and settings are left alone. When the task
// cannot be created the patterns stay written; calling it again converges.
func (c *Controller) DefaultConfig() error {
	inc, err := patterns.FromStrings(c.platform.DefaultIncludes())
	if err != nil {
		return err
	}
	exc, err := patterns.FromStrings(c.platform.DefaultExcludes())
	if err != nil {
		return err
	}
	if err := c.store.SetPatterns(inc, exc); err != nil {
		return err
	}
	logging.Debugf("default patterns written to %s", c.dir)
	if err := c.scheduler.Create(); err != nil {
		return fmt.Errorf("create scheduled task: %w", err)
	}
	return nil
}

// Link generates a new identity for computerName, registers its public key
// with the remote account behind client and persists the settings.
//
// When registration fails the new key files stay on disk and no setting is
// written, so a retry simply replaces them.
func (c *Controller) Link(ctx context.Context, computerName string, client Client) error {
	const op = "link"
	if !ValidComputerName(computerName) {
		return apierr.New(apierr.InvalidComputerName, op, fmt.Sprintf("invalid computer name %q", computerName))
	}
	if client == nil {
		return apierr.New(apierr.RemoteRegistrationFailure, op, "no remote client")
	}
	if err := platform.EnsureDir(c.dir); err != nil {
		return apierr.Wrap(apierr.PersistFailure, op, "create configuration directory", err)
	}

	logging.Debugf("generating public and private key for %s", computerName)
	id, err := c.keygen.GenerateKeyPair(computerName)
	if err != nil {
		if apierr.KindOf(err) == apierr.Unknown {
			err = apierr.Wrap(apierr.CryptoFailure, op, "fail to generate the keys", err)
		}
		return err
	}
	pubLine, err := c.writeIdentity(id)
	if err != nil {
		return err
	}

	logging.Debugf("sending public key to %s", c.remoteHost)
	if err := client.AddSSHKey(ctx, computerName, strings.TrimSpace(string(pubLine))); err != nil {
		if apierr.KindOf(err) != apierr.RemoteRegistrationFailure {
			err = apierr.Wrap(apierr.RemoteRegistrationFailure, op, "fail to register the public key", err)
		}
		return err
	}

	username := client.Username()
	logging.Debugf("saving configuration [%s][%s][%s]", computerName, username, c.remoteHost)
	err = c.store.SetAll(store.Configuration{
		ComputerName: store.Ptr(computerName),
		Username:     store.Ptr(username),
		RemoteHost:   store.Ptr(c.remoteHost),
	})
	if err != nil {
		return err
	}
	c.unlinkPending = false
	return nil
}

// writeIdentity stores the key files and restricts their permissions. It
// returns the public key line.
func (c *Controller) writeIdentity(id *ssh.Identity) ([]byte, error) {
	const op = "link"
	pubLine, err := ssh.EncodePublicOpenSSH(id.Public(), id.Comment)
	if err != nil {
		return nil, err
	}
	ppk, err := ssh.EncodePrivatePutty(id)
	if err != nil {
		return nil, err
	}
	files := []struct {
		name string
		data []byte
	}{
		{platform.PublicKeyFile, pubLine},
		{platform.PuttyKeyFile, ppk},
	}
	if c.platform.WritesPEM() {
		files = append(files, struct {
			name string
			data []byte
		}{platform.PEMKeyFile, ssh.EncodePrivatePEM(id.Private)})
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		p := c.path(f.name)
		if err := store.WriteFileAtomic(p, f.data, 0o600); err != nil {
			return nil, apierr.Wrap(apierr.PersistFailure, op, "fail to write "+f.name, err)
		}
		paths = append(paths, p)
	}
	if err := c.platform.TightenPermissions(paths...); err != nil {
		return nil, apierr.Wrap(apierr.PersistFailure, op, "fail to restrict key permissions", err)
	}
	return pubLine, nil
}

// Unlink forgets the remote account and removes the scheduled task. Key
// files are kept and the key stays authorized on the server. Calling it on
// an unlinked agent is harmless.
func (c *Controller) Unlink() error {
	if err := c.store.SetAll(store.Configuration{}); err != nil {
		return err
	}
	if err := c.scheduler.Delete(); err != nil {
		c.unlinkPending = true
		return fmt.Errorf("delete scheduled task: %w", err)
	}
	c.unlinkPending = false
	return nil
}

func (c *Controller) target(op string) (Target, error) {
	cfg := c.store.Config()
	if !cfg.Complete() {
		return Target{}, apierr.New(apierr.NotConfigured, op, "computer name, username or remote host is not set")
	}
	username := store.Value(cfg.Username)
	return Target{
		RemoteHost:   store.Value(cfg.RemoteHost),
		Username:     username,
		RemotePath:   "/" + username + "/" + store.Value(cfg.ComputerName),
		IdentityFile: c.IdentityFile(),
	}, nil
}

// TestServer asks the backup engine to probe the remote repository.
func (c *Controller) TestServer(ctx context.Context) error {
	t, err := c.target("test-server")
	if err != nil {
		return err
	}
	return c.engine.TestServer(ctx, t)
}

// Backup runs one backup with the persisted patterns. Callers are expected
// to have passed CheckConfig.
func (c *Controller) Backup(ctx context.Context) error {
	t, err := c.target("backup")
	if err != nil {
		return err
	}
	return c.engine.Backup(ctx, t, c.path(platform.IncludesFile), c.path(platform.ExcludesFile))
}

// PublicKey returns the stored public key line without the trailing newline.
func (c *Controller) PublicKey() (string, error) {
	data, err := os.ReadFile(c.path(platform.PublicKeyFile))
	if err != nil {
		return "", apierr.Wrap(apierr.NotConfigured, "identity", "public key is not readable", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Fingerprint returns the MD5 fingerprint of the stored public key.
func (c *Controller) Fingerprint() (string, error) {
	line, err := c.PublicKey()
	if err != nil {
		return "", err
	}
	pub, _, err := ssh.DecodePublicOpenSSH([]byte(line))
	if err != nil {
		return "", err
	}
	return ssh.Fingerprint(pub)
}

// Status derives the lifecycle state from CheckConfig. Errors other than
// the configuration kinds are returned as-is.
func (c *Controller) Status() (State, error) {
	err := c.CheckConfig()
	switch apierr.KindOf(err) {
	case apierr.Unknown:
		if err == nil {
			return Linked, nil
		}
		return Unconfigured, err
	case apierr.NotConfigured, apierr.MissConfigured:
	default:
		return Unconfigured, err
	}
	if c.unlinkPending {
		return Unlinking, nil
	}
	cfg := c.store.Config()
	if cfg.ComputerName == nil && cfg.Username == nil && cfg.RemoteHost == nil {
		return Unconfigured, nil
	}
	return Configuring, nil
}

// BrowseURL returns the web page listing the backups of this computer.
func (c *Controller) BrowseURL(base string) string {
	return strings.TrimRight(base, "/") + "/browse/" + store.Value(c.store.Config().ComputerName)
}
