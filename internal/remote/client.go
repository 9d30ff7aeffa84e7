// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package remote registers the agent public key with the backup server. It
// logs in once with the account password over SSH and appends the key to
// the account's authorized_keys through SFTP.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/toeirei/minarca/internal/apierr"
	genssh "github.com/toeirei/minarca/internal/crypto/ssh"
	"github.com/toeirei/minarca/internal/logging"
	"github.com/toeirei/minarca/internal/security"
	"golang.org/x/crypto/ssh"
)

const (
	// DefaultPort is used when Host carries no port.
	DefaultPort = 22
	// DefaultTimeout bounds the TCP connect and SSH handshake.
	DefaultTimeout = 15 * time.Second
)

// Options configures Dial.
type Options struct {
	// Host is "name" or "name:port".
	Host string
	// Port is used when Host has no port; zero means DefaultPort.
	Port     int
	Username string
	Password security.Secret
	// Fingerprints lists the accepted MD5 host key fingerprints
	// ("aa:bb:..."). The server key must match one of them.
	Fingerprints []string
	// HomeDir is the remote directory holding .ssh. Empty means the SFTP
	// login directory.
	HomeDir string
	Timeout time.Duration
}

// Client is an authenticated session with the backup server.
type Client struct {
	username string
	home     string
	ssh      *ssh.Client
	fs       *sftp.Client
}

// Address returns host:port for opts.
func (o Options) Address() string {
	if _, _, err := net.SplitHostPort(o.Host); err == nil {
		return o.Host
	}
	port := o.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(o.Host, strconv.Itoa(port))
}

// HostKeyCallback accepts only keys whose fingerprint is listed.
func HostKeyCallback(fingerprints []string) ssh.HostKeyCallback {
	trusted := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		trusted[strings.ToLower(strings.TrimSpace(fp))] = true
	}
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		fp := genssh.FingerprintKey(key)
		if trusted[fp] {
			return nil
		}
		if len(trusted) == 0 {
			return fmt.Errorf("%w: no trusted fingerprint configured for %s (server presented %s)", ErrUnknownHostKey, hostname, fp)
		}
		return fmt.Errorf("%w for %s: server presented %s", ErrUnknownHostKey, hostname, fp)
	}
}

// ErrUnknownHostKey is returned when the server key is not trusted.
var ErrUnknownHostKey = errors.New("unknown host key")

// Dial connects, authenticates with the password and opens an SFTP session.
// Every failure is a RemoteRegistrationFailure.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	const op = "remote.dial"
	if opts.Username == "" {
		return nil, apierr.New(apierr.RemoteRegistrationFailure, op, "username is required")
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	addr := opts.Address()

	cfg := &ssh.ClientConfig{
		User: opts.Username,
		Auth: []ssh.AuthMethod{
			ssh.PasswordCallback(func() (string, error) { return passwordOf(opts.Password), nil }),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = passwordOf(opts.Password)
				}
				return answers, nil
			}),
		},
		HostKeyCallback: HostKeyCallback(opts.Fingerprints),
		Timeout:         timeout,
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, apierr.Wrap(apierr.RemoteRegistrationFailure, op, classify(addr, err), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, apierr.Wrap(apierr.RemoteRegistrationFailure, op, classify(addr, err), err)
	}
	_ = conn.SetDeadline(time.Time{})
	sshClient := ssh.NewClient(c, chans, reqs)

	fs, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, apierr.Wrap(apierr.RemoteRegistrationFailure, op, "failed to create sftp client", err)
	}
	logging.Debugf("connected to %s as %s", addr, opts.Username)
	return &Client{username: opts.Username, home: opts.HomeDir, ssh: sshClient, fs: fs}, nil
}

// passwordOf reads s at authentication time so no copy outlives the
// handshake.
func passwordOf(s security.Secret) string {
	var pw string
	_ = s.Use(func(b []byte) error { pw = string(b); return nil })
	return pw
}

// Username is the remote account name.
func (c *Client) Username() string { return c.username }

// AddSSHKey appends publicKey to the remote authorized_keys unless the same
// key is already present. The file is replaced atomically.
func (c *Client) AddSSHKey(ctx context.Context, computerName, publicKey string) error {
	const op = "remote.add-key"
	if err := ctx.Err(); err != nil {
		return apierr.Wrap(apierr.RemoteRegistrationFailure, op, "cancelled", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	logging.Infof("registering key for %s", computerName)
	if err := AppendAuthorizedKey(c.fs, c.home, publicKey); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return apierr.Wrap(apierr.RemoteRegistrationFailure, op, "fail to send the public key", err)
	}
	return nil
}

// Close ends the SFTP and SSH sessions.
func (c *Client) Close() error {
	var errs []error
	if c.fs != nil {
		errs = append(errs, c.fs.Close())
	}
	if c.ssh != nil {
		errs = append(errs, c.ssh.Close())
	}
	err := errors.Join(errs...)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
