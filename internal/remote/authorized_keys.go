// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// AppendAuthorizedKey adds line to <home>/.ssh/authorized_keys on the SFTP
// server. It uses SFTP operations only so it works for accounts restricted
// to internal-sftp.
func AppendAuthorizedKey(client *sftp.Client, home, line string) error {
	line = strings.TrimSpace(line)
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return fmt.Errorf("invalid public key line: %w", err)
	}

	sshDir := path.Join(home, ".ssh")
	if home == "" {
		sshDir = ".ssh"
	}
	if err := client.MkdirAll(sshDir); err != nil {
		return fmt.Errorf("failed to create %s: %w", sshDir, err)
	}
	if err := client.Chmod(sshDir, 0o700); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", sshDir, err)
	}

	finalPath := path.Join(sshDir, "authorized_keys")
	current, err := readRemote(client, finalPath)
	if err != nil {
		return err
	}
	if hasKey(current, key) {
		return nil
	}
	if len(current) > 0 && !bytes.HasSuffix(current, []byte("\n")) {
		current = append(current, '\n')
	}
	content := append(current, line...)
	content = append(content, '\n')

	tmpPath := path.Join(sshDir, fmt.Sprintf("authorized_keys.minarca.%d", time.Now().UnixNano()))
	f, err := client.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary file on remote: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = client.Remove(tmpPath)
		return fmt.Errorf("failed to write to temporary file on remote: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = client.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary file on remote: %w", err)
	}
	if err := client.Chmod(tmpPath, 0o600); err != nil {
		_ = client.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temporary file: %w", err)
	}
	if err := renameOver(client, tmpPath, finalPath); err != nil {
		_ = client.Remove(tmpPath)
		return fmt.Errorf("failed to rename authorized_keys file: %w", err)
	}
	return nil
}

// renameOver prefers the posix-rename extension. Plain SFTP rename refuses
// to overwrite on some servers, so the target is removed as a last step.
func renameOver(client *sftp.Client, from, to string) error {
	if err := client.PosixRename(from, to); err == nil {
		return nil
	}
	if err := client.Rename(from, to); err == nil {
		return nil
	}
	if err := client.Remove(to); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return client.Rename(from, to)
}

func readRemote(client *sftp.Client, p string) ([]byte, error) {
	f, err := client.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open remote file %s: %w", p, err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read from remote file %s: %w", p, err)
	}
	return content, nil
}

// hasKey reports whether content lists key, ignoring options and comments.
func hasKey(content []byte, key ssh.PublicKey) bool {
	want := key.Marshal()
	rest := content
	for len(rest) > 0 {
		k, _, _, next, err := ssh.ParseAuthorizedKey(rest)
		if err != nil {
			return false
		}
		if bytes.Equal(k.Marshal(), want) {
			return true
		}
		rest = next
	}
	return false
}
