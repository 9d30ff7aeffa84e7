// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/sftp"
	"github.com/toeirei/minarca/internal/apierr"
	genssh "github.com/toeirei/minarca/internal/crypto/ssh"
	"github.com/toeirei/minarca/internal/security"
	"github.com/toeirei/minarca/internal/testutil"
	"golang.org/x/crypto/ssh"
)

type mockServer struct {
	addr        string
	fingerprint string
}

// newMockServer starts an SSH server on 127.0.0.1 that accepts alice/secret
// and serves the sftp subsystem.
func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "alice" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, errors.New("password rejected")
		},
	}
	cfg.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen on a port: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg)
		}
	}()
	return &mockServer{addr: listener.Addr().String(), fingerprint: genssh.FingerprintKey(signer.PublicKey())}
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	defer func() { _ = conn.Close() }()
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "only sessions")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			return
		}
		go func() {
			for req := range requests {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				_ = req.Reply(ok, nil)
				if !ok {
					continue
				}
				server, err := sftp.NewServer(ch)
				if err != nil {
					_ = ch.Close()
					return
				}
				_ = server.Serve()
				_ = ch.Close()
				return
			}
		}()
	}
}

func (m *mockServer) options(home string) Options {
	return Options{
		Host:         m.addr,
		Username:     "alice",
		Password:     security.FromString("secret"),
		Fingerprints: []string{m.fingerprint},
		HomeDir:      home,
	}
}

func publicLine(t *testing.T, comment string) string {
	t.Helper()
	line, err := genssh.EncodePublicOpenSSH(testutil.PublicKey(t), comment)
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(line))
}

func otherLine(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	k, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(k))) + " laptop"
}

func dial(t *testing.T, opts Options) *Client {
	t.Helper()
	c, err := Dial(context.Background(), opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAddSSHKey_CreatesAuthorizedKeys(t *testing.T) {
	srv := newMockServer(t)
	home := t.TempDir()
	c := dial(t, srv.options(home))
	if c.Username() != "alice" {
		t.Fatalf("username %q", c.Username())
	}
	line := publicLine(t, "host1")
	if err := c.AddSSHKey(context.Background(), "host1", line); err != nil {
		t.Fatalf("AddSSHKey: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, ".ssh", "authorized_keys"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != line+"\n" {
		t.Fatalf("authorized_keys content %q", data)
	}
	info, err := os.Stat(filepath.Join(home, ".ssh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Errorf(".ssh mode %v", info.Mode().Perm())
	}
	info, err = os.Stat(filepath.Join(home, ".ssh", "authorized_keys"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("authorized_keys mode %v", info.Mode().Perm())
	}
	entries, _ := os.ReadDir(filepath.Join(home, ".ssh"))
	if len(entries) != 1 {
		t.Fatalf("temporary upload left behind: %v", entries)
	}
}

func TestAddSSHKey_AppendsAndDeduplicates(t *testing.T) {
	srv := newMockServer(t)
	home := t.TempDir()
	existing := otherLine(t)
	if err := os.MkdirAll(filepath.Join(home, ".ssh"), 0o700); err != nil {
		t.Fatal(err)
	}
	// No trailing newline on purpose.
	if err := os.WriteFile(filepath.Join(home, ".ssh", "authorized_keys"), []byte("# managed\n"+existing), 0o600); err != nil {
		t.Fatal(err)
	}

	c := dial(t, srv.options(home))
	line := publicLine(t, "host1")
	for i := 0; i < 2; i++ {
		if err := c.AddSSHKey(context.Background(), "host1", line); err != nil {
			t.Fatalf("AddSSHKey #%d: %v", i+1, err)
		}
	}
	// Same key with another comment is still the same key.
	if err := c.AddSSHKey(context.Background(), "host1", publicLine(t, "renamed")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(home, ".ssh", "authorized_keys"))
	if err != nil {
		t.Fatal(err)
	}
	want := "# managed\n" + existing + "\n" + line + "\n"
	if string(data) != want {
		t.Fatalf("authorized_keys:\n%q\nwant\n%q", data, want)
	}
}

func TestAddSSHKey_RejectsGarbage(t *testing.T) {
	srv := newMockServer(t)
	c := dial(t, srv.options(t.TempDir()))
	err := c.AddSSHKey(context.Background(), "host1", "not a key")
	if !errors.Is(err, apierr.ErrRemoteRegistrationFailure) {
		t.Fatalf("expected RemoteRegistrationFailure, got %v", err)
	}
}

func TestAddSSHKey_Cancelled(t *testing.T) {
	srv := newMockServer(t)
	c := dial(t, srv.options(t.TempDir()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.AddSSHKey(ctx, "host1", publicLine(t, "host1")); !errors.Is(err, apierr.ErrRemoteRegistrationFailure) {
		t.Fatalf("expected RemoteRegistrationFailure, got %v", err)
	}
}

func TestDial_WrongPassword(t *testing.T) {
	srv := newMockServer(t)
	opts := srv.options(t.TempDir())
	opts.Password = security.FromString("nope")
	_, err := Dial(context.Background(), opts)
	if !errors.Is(err, apierr.ErrRemoteRegistrationFailure) {
		t.Fatalf("expected RemoteRegistrationFailure, got %v", err)
	}
	if !IsAuthenticationError(err) {
		t.Fatalf("expected an authentication error, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid username or password") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestPasswordOf_ReadsCurrentBytes(t *testing.T) {
	s := security.FromString("secret")
	if got := passwordOf(s); got != "secret" {
		t.Fatalf("got %q", got)
	}
	s.Zero()
	if got := passwordOf(s); got != string(make([]byte, len("secret"))) {
		t.Fatalf("wiped secret still readable: %q", got)
	}
}

func TestDial_SecretWipedAfterHandshake(t *testing.T) {
	srv := newMockServer(t)
	home := t.TempDir()
	opts := srv.options(home)
	c := dial(t, opts)
	opts.Password.Zero()
	if err := c.AddSSHKey(context.Background(), "host1", publicLine(t, "host1")); err != nil {
		t.Fatalf("session should outlive the wiped password: %v", err)
	}
}

func TestDial_UntrustedHostKey(t *testing.T) {
	srv := newMockServer(t)
	for name, fps := range map[string][]string{
		"mismatch": {"05:16:1c:49:37:58:87:a5:5c:16:31:bc:a9:95:2c:c2"},
		"none":     nil,
	} {
		t.Run(name, func(t *testing.T) {
			opts := srv.options(t.TempDir())
			opts.Fingerprints = fps
			_, err := Dial(context.Background(), opts)
			if !errors.Is(err, apierr.ErrRemoteRegistrationFailure) {
				t.Fatalf("expected RemoteRegistrationFailure, got %v", err)
			}
			if !IsHostKeyError(err) {
				t.Fatalf("expected a host key error, got %v", err)
			}
			if !strings.Contains(err.Error(), srv.fingerprint) {
				t.Fatalf("error should show the presented fingerprint: %v", err)
			}
		})
	}
}

func TestDial_FingerprintCaseInsensitive(t *testing.T) {
	srv := newMockServer(t)
	opts := srv.options(t.TempDir())
	opts.Fingerprints = []string{" " + strings.ToUpper(srv.fingerprint) + " "}
	dial(t, opts)
}

func TestDial_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	_, err = Dial(context.Background(), Options{Host: addr, Username: "alice"})
	if !errors.Is(err, apierr.ErrRemoteRegistrationFailure) {
		t.Fatalf("expected RemoteRegistrationFailure, got %v", err)
	}
}

func TestDial_RequiresUsername(t *testing.T) {
	if _, err := Dial(context.Background(), Options{Host: "example.com"}); !errors.Is(err, apierr.ErrRemoteRegistrationFailure) {
		t.Fatalf("expected RemoteRegistrationFailure, got %v", err)
	}
}

func TestOptionsAddress(t *testing.T) {
	tests := []struct {
		opts Options
		want string
	}{
		{Options{Host: "backup.example.com"}, "backup.example.com:22"},
		{Options{Host: "backup.example.com", Port: 2222}, "backup.example.com:2222"},
		{Options{Host: "backup.example.com:2200", Port: 2222}, "backup.example.com:2200"},
		{Options{Host: "::1"}, "[::1]:22"},
	}
	for _, tt := range tests {
		if got := tt.opts.Address(); got != tt.want {
			t.Errorf("Address(%+v) = %q, want %q", tt.opts, got, tt.want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		fn   func(error) bool
		want bool
	}{
		{"nil timeout", nil, IsConnectionTimeoutError, false},
		{"i/o timeout", errors.New("dial tcp: i/o timeout"), IsConnectionTimeoutError, true},
		{"refused", errors.New("connect: connection refused"), IsConnectionRefusedError, true},
		{"no route", errors.New("no route to host"), IsConnectionRefusedError, true},
		{"auth", errors.New("ssh: unable to authenticate, attempted methods [none password]"), IsAuthenticationError, true},
		{"auth other", errors.New("timeout"), IsAuthenticationError, false},
		{"host key sentinel", ErrUnknownHostKey, IsHostKeyError, true},
		{"host key text", errors.New("ssh: handshake failed: host key mismatch"), IsHostKeyError, true},
		{"host key other", errors.New("connection refused"), IsHostKeyError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.err); got != tt.want {
				t.Errorf("got %v, expected %v for %v", got, tt.want, tt.err)
			}
		})
	}
}
