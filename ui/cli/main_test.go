// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/toeirei/minarca/internal/apierr"
	"github.com/toeirei/minarca/internal/bundle"
	"github.com/toeirei/minarca/internal/config"
	"github.com/toeirei/minarca/internal/core"
	"github.com/toeirei/minarca/internal/platform"
	"github.com/toeirei/minarca/internal/remote"
	"github.com/toeirei/minarca/internal/scheduler"
	"github.com/toeirei/minarca/internal/testutil"
)

type harness struct {
	home      string
	dir       string
	sched     *testutil.FakeScheduler
	schedOpts scheduler.Options
	engine    *testutil.FakeEngine
	client    *testutil.FakeClient
	dialErr   error
	dials     []remote.Options
	clip      string
}

// newHarness swaps the collaborator factories for fakes rooted in a fresh
// home directory.
func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	home := t.TempDir()
	h := &harness{
		home:   home,
		dir:    filepath.Join(home, ".config", "minarca"),
		sched:  &testutil.FakeScheduler{},
		engine: &testutil.FakeEngine{},
		client: &testutil.FakeClient{User: "alice"},
	}

	oldPlatform, oldScheduler, oldEngine := currentPlatform, newScheduler, newEngine
	oldDial, oldKeygen, oldClip := dialRemote, keygen, writeClipboard
	t.Cleanup(func() {
		currentPlatform, newScheduler, newEngine = oldPlatform, oldScheduler, oldEngine
		dialRemote, keygen, writeClipboard = oldDial, oldKeygen, oldClip
	})

	currentPlatform = func() platform.Platform { return platform.POSIX(platform.POSIXEnv{Home: home}) }
	newScheduler = func(_ platform.Platform, opts scheduler.Options) core.Scheduler {
		h.schedOpts = opts
		return h.sched
	}
	newEngine = func(platform.Platform, config.Config) core.BackupEngine { return h.engine }
	dialRemote = func(_ context.Context, opts remote.Options) (core.Client, error) {
		h.dials = append(h.dials, opts)
		if h.dialErr != nil {
			return nil, h.dialErr
		}
		return h.client, nil
	}
	keygen = testutil.Keygen(t, nil)
	writeClipboard = func(s string) error { h.clip = s; return nil }
	return h
}

// executeCommand runs a fresh root command and returns what it printed on
// stdout.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mustExecute(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := executeCommand(t, stdin, args...)
	if err != nil {
		t.Fatalf("%v failed: %v", args, err)
	}
	return out
}

func TestStatus_Unconfigured(t *testing.T) {
	newHarness(t)
	out := mustExecute(t, "", "status")
	if !strings.Contains(out, "state: unconfigured") {
		t.Fatalf("unexpected status output:\n%s", out)
	}
	if !strings.Contains(out, "minarca link") {
		t.Fatalf("expected link hint:\n%s", out)
	}
}

func TestLinkThenDefaultConfig(t *testing.T) {
	h := newHarness(t)

	out := mustExecute(t, "", "link", "host1", "--username", "alice", "--password", "secret")
	if !strings.Contains(out, "host1 linked to "+config.DefaultRemoteHost) {
		t.Fatalf("unexpected link output: %s", out)
	}
	if len(h.dials) != 1 {
		t.Fatalf("expected one dial, got %d", len(h.dials))
	}
	d := h.dials[0]
	if d.Host != config.DefaultRemoteHost || d.Username != "alice" {
		t.Fatalf("unexpected dial options %+v", d)
	}
	// the password is wiped once the command returns
	if !bytes.Equal(d.Password.Bytes(), make([]byte, len("secret"))) {
		t.Fatalf("password not zeroed: %q", d.Password.Bytes())
	}
	if len(d.Fingerprints) != 1 || d.Fingerprints[0] != config.DefaultRemoteHostFingerprint {
		t.Fatalf("unexpected fingerprints %v", d.Fingerprints)
	}
	if len(h.client.Calls) != 1 || !strings.HasSuffix(h.client.Calls[0].PublicKey, " host1") {
		t.Fatalf("unexpected key registration %+v", h.client.Calls)
	}

	out = mustExecute(t, "", "status")
	if !strings.Contains(out, "state: configuring") || !strings.Contains(out, "computer name: host1") {
		t.Fatalf("unexpected status after link:\n%s", out)
	}

	mustExecute(t, "", "default-config")
	if h.sched.Creates != 1 {
		t.Fatalf("expected the task to be created once, got %d", h.sched.Creates)
	}

	out = mustExecute(t, "", "status")
	if !strings.Contains(out, "state: linked") {
		t.Fatalf("expected linked:\n%s", out)
	}
	if !strings.Contains(out, "browse: "+config.DefaultBrowseURL+"/browse/host1") {
		t.Fatalf("expected browse url:\n%s", out)
	}
}

func TestLink_PromptsForPassword(t *testing.T) {
	h := newHarness(t)
	var seen string
	dialRemote = func(_ context.Context, opts remote.Options) (core.Client, error) {
		seen = string(opts.Password.Bytes())
		return h.client, nil
	}
	mustExecute(t, "hunter2\n", "link", "host1", "-u", "alice")
	if seen != "hunter2" {
		t.Fatalf("expected prompted password, got %q", seen)
	}
}

func TestLink_RemoteHostFlagAndPort(t *testing.T) {
	h := newHarness(t)
	settings := filepath.Join(t.TempDir(), "minarca.yaml")
	if err := os.WriteFile(settings, []byte("remote:\n  port: 2222\n  fingerprints: [\"aa:bb\"]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	mustExecute(t, "", "--config", settings, "link", "host1", "-u", "alice", "-p", "pw", "--remote-host", "backup.example.com")
	if h.dials[0].Host != "backup.example.com" || h.dials[0].Port != 2222 {
		t.Fatalf("unexpected dial %+v", h.dials[0])
	}
	out := mustExecute(t, "", "--config", settings, "status")
	if !strings.Contains(out, "remote host: backup.example.com:2222") {
		t.Fatalf("expected host with port recorded:\n%s", out)
	}
}

func TestLink_InvalidNameNeverDials(t *testing.T) {
	h := newHarness(t)
	_, err := executeCommand(t, "", "link", "1bad", "-u", "alice", "-p", "pw")
	if !errors.Is(err, apierr.ErrInvalidComputerName) {
		t.Fatalf("expected invalid computer name, got %v", err)
	}
	if ExitCode(err) != ExitInvalidInput {
		t.Fatalf("unexpected exit code %d", ExitCode(err))
	}
	if len(h.dials) != 0 {
		t.Fatal("dialed with an invalid name")
	}
	if _, err := os.Stat(h.dir); !os.IsNotExist(err) {
		t.Fatalf("configuration directory created: %v", err)
	}
}

func TestLink_EmptyPasswordNeverDials(t *testing.T) {
	h := newHarness(t)
	if _, err := executeCommand(t, "\n", "link", "host1", "-u", "alice"); err == nil {
		t.Fatal("expected error for an empty password")
	}
	if len(h.dials) != 0 {
		t.Fatal("dialed without a password")
	}
}

func TestLink_RequiresUsername(t *testing.T) {
	newHarness(t)
	if _, err := executeCommand(t, "", "link", "host1", "-p", "pw"); err == nil {
		t.Fatal("expected error without --username")
	}
}

func TestLink_DialFailure(t *testing.T) {
	h := newHarness(t)
	h.dialErr = apierr.New(apierr.RemoteRegistrationFailure, "remote.dial", "connection refused")
	_, err := executeCommand(t, "", "link", "host1", "-u", "alice", "-p", "pw")
	if ExitCode(err) != ExitRemote {
		t.Fatalf("expected remote exit code, got %d (%v)", ExitCode(err), err)
	}
	if !strings.Contains(ExitMessage(err), "check the remote host") {
		t.Fatalf("missing hint in %q", ExitMessage(err))
	}
}

func TestBackup_NotLinked(t *testing.T) {
	h := newHarness(t)
	_, err := executeCommand(t, "", "backup")
	if !errors.Is(err, apierr.ErrNotConfigured) || ExitCode(err) != ExitNotConfigured {
		t.Fatalf("expected not configured, got %v", err)
	}
	if len(h.engine.Calls) != 0 {
		t.Fatal("engine ran without configuration")
	}
}

func TestBackup_MissConfiguredStopsBeforeEngine(t *testing.T) {
	h := newHarness(t)
	mustExecute(t, "", "link", "host1", "-u", "alice", "-p", "pw")
	_, err := executeCommand(t, "", "backup")
	if ExitCode(err) != ExitMissConfigured {
		t.Fatalf("expected miss configured, got %v", err)
	}
	if len(h.engine.Calls) != 0 {
		t.Fatal("engine ran with incomplete configuration")
	}
}

func TestBackupAndTestServer(t *testing.T) {
	h := newHarness(t)
	mustExecute(t, "", "link", "host1", "-u", "alice", "-p", "pw")
	mustExecute(t, "", "default-config")

	mustExecute(t, "", "test-server")
	mustExecute(t, "", "backup")
	if len(h.engine.Calls) != 2 {
		t.Fatalf("expected two engine calls, got %+v", h.engine.Calls)
	}
	b := h.engine.Calls[1]
	if b.Op != "backup" || b.Target.RemotePath != "/alice/host1" {
		t.Fatalf("unexpected backup call %+v", b)
	}
	if b.IncludesFile != filepath.Join(h.dir, platform.IncludesFile) {
		t.Fatalf("unexpected includes file %s", b.IncludesFile)
	}
}

func TestUnlink(t *testing.T) {
	h := newHarness(t)
	mustExecute(t, "", "link", "host1", "-u", "alice", "-p", "pw")
	mustExecute(t, "", "default-config")
	mustExecute(t, "", "unlink")
	if h.sched.Present {
		t.Fatal("scheduled task still present")
	}
	out := mustExecute(t, "", "status")
	if !strings.Contains(out, "state: unconfigured") {
		t.Fatalf("expected unconfigured after unlink:\n%s", out)
	}
}

func TestIdentity_Copy(t *testing.T) {
	h := newHarness(t)
	if _, err := executeCommand(t, "", "identity"); !errors.Is(err, apierr.ErrNotConfigured) {
		t.Fatalf("expected not configured before link, got %v", err)
	}
	mustExecute(t, "", "link", "host1", "-u", "alice", "-p", "pw")
	out := mustExecute(t, "", "identity", "--copy")
	if !strings.HasPrefix(out, "ssh-rsa ") || !strings.Contains(out, "fingerprint: ") {
		t.Fatalf("unexpected identity output:\n%s", out)
	}
	if !strings.HasPrefix(h.clip, "ssh-rsa ") || strings.Contains(h.clip, "\n") {
		t.Fatalf("unexpected clipboard content %q", h.clip)
	}
}

func TestPatterns(t *testing.T) {
	h := newHarness(t)
	out := mustExecute(t, "", "patterns")
	if !strings.Contains(out, "includes:\n  (none)") {
		t.Fatalf("unexpected empty listing:\n%s", out)
	}
	mustExecute(t, "", "default-config")
	out = mustExecute(t, "", "patterns")
	if !strings.Contains(out, "  "+h.home+"\n") || !strings.Contains(out, "  .*\n") {
		t.Fatalf("defaults not listed:\n%s", out)
	}
}

func TestBundle(t *testing.T) {
	newHarness(t)
	mustExecute(t, "", "link", "host1", "-u", "alice", "-p", "pw")
	out := filepath.Join(t.TempDir(), "support.tar.zst")
	mustExecute(t, "", "bundle", out)

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	m, files, err := bundle.Read(f)
	if err != nil {
		t.Fatal(err)
	}
	if m.State != "configuring" || m.Platform != "posix" || m.Fingerprint == "" {
		t.Fatalf("unexpected manifest %+v", m)
	}
	if _, ok := files[platform.PEMKeyFile]; ok {
		t.Fatal("private key in bundle")
	}
	if _, ok := files[platform.PropertiesFile]; !ok {
		t.Fatalf("properties missing from %v", bundle.Names(files))
	}
}

func TestConfigDirFlag(t *testing.T) {
	newHarness(t)
	dir := filepath.Join(t.TempDir(), "agent")
	out := mustExecute(t, "", "--config-dir", dir, "status")
	if !strings.Contains(out, "config dir: "+dir) {
		t.Fatalf("flag ignored:\n%s", out)
	}
}

// crontabRunner serves `crontab -l` and `crontab -` from memory.
type crontabRunner struct{ table string }

func (r *crontabRunner) Run(_ context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	if name != "crontab" || len(args) != 1 {
		return nil, errors.New("unexpected command " + name)
	}
	if args[0] == "-" {
		r.table = string(stdin)
	}
	return []byte(r.table), nil
}

func TestDefaultConfig_ScheduledRunKeepsConfigDir(t *testing.T) {
	newHarness(t)
	cron := &crontabRunner{}
	newScheduler = func(p platform.Platform, opts scheduler.Options) core.Scheduler {
		opts.Executable = "/usr/bin/minarca"
		opts.Runner = cron
		return scheduler.New(p, opts)
	}
	dir := filepath.Join(t.TempDir(), "custom")
	settings := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(settings, []byte("schedule:\n  interval: daily\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	mustExecute(t, "", "--config", settings, "--config-dir", dir, "default-config")
	want := "@daily /usr/bin/minarca --config " + settings + " --config-dir " + dir + " backup " + scheduler.CronTag + "\n"
	if cron.table != want {
		t.Fatalf("crontab %q want %q", cron.table, want)
	}
}

func TestSchedulerOptions_DefaultDirIsImplicit(t *testing.T) {
	h := newHarness(t)
	mustExecute(t, "", "default-config")
	if h.schedOpts.ConfigDir != "" || h.schedOpts.SettingsFile != "" {
		t.Fatalf("unexpected scheduled options %+v", h.schedOpts)
	}
	if h.schedOpts.Interval != scheduler.Hourly {
		t.Fatalf("unexpected interval %q", h.schedOpts.Interval)
	}
}

func TestConfigFlag_MissingFile(t *testing.T) {
	newHarness(t)
	if _, err := executeCommand(t, "", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "status"); err == nil {
		t.Fatal("expected error for missing --config file")
	}
}

func TestSettings_Save(t *testing.T) {
	newHarness(t)
	out := mustExecute(t, "", "--log-level", "warn", "settings", "--save")
	if !strings.Contains(out, "host: "+config.DefaultRemoteHost) || !strings.Contains(out, "saved to ") {
		t.Fatalf("unexpected settings output:\n%s", out)
	}
	p, err := config.GetConfigPath(false)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("settings not written: %v", err)
	}
	if !strings.Contains(string(data), "level: warn") {
		t.Fatalf("flag value not saved:\n%s", data)
	}
}

func TestExitMessage(t *testing.T) {
	cases := []struct {
		err  error
		code int
		hint string
	}{
		{apierr.New(apierr.NotConfigured, "check", "x"), ExitNotConfigured, "minarca link"},
		{apierr.New(apierr.MissConfigured, "check", "x"), ExitMissConfigured, "default-config"},
		{apierr.New(apierr.PersistFailure, "store.save", "x"), ExitFailure, ""},
		{errors.New("plain"), ExitFailure, ""},
	}
	for _, c := range cases {
		if got := ExitCode(c.err); got != c.code {
			t.Errorf("%v: code %d want %d", c.err, got, c.code)
		}
		msg := ExitMessage(c.err)
		if c.hint != "" && !strings.Contains(msg, c.hint) {
			t.Errorf("%v: message %q lacks %q", c.err, msg, c.hint)
		}
		if c.hint == "" && msg != c.err.Error() {
			t.Errorf("%v: unexpected decoration %q", c.err, msg)
		}
	}
	if ExitCode(nil) != ExitOK || ExitMessage(nil) != "" {
		t.Fatal("nil error must map to success")
	}
}
