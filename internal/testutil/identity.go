// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"crypto/rsa"
	"sync"
	"testing"

	"github.com/toeirei/minarca/internal/core"
	"github.com/toeirei/minarca/internal/crypto/ssh"
)

var (
	keyOnce sync.Once
	key     *ssh.Identity
	keyErr  error
)

// Identity returns a 2048-bit identity generated once per test binary.
func Identity(t testing.TB) *ssh.Identity {
	t.Helper()
	keyOnce.Do(func() {
		key, keyErr = ssh.GenerateKeyPair("testutil")
	})
	if keyErr != nil {
		t.Fatalf("generate test identity: %v", keyErr)
	}
	return key
}

// Keygen returns a KeyGenerator handing out the shared identity with the
// requested comment. Generated counts the calls.
func Keygen(t testing.TB, generated *int) core.KeyGenerator {
	base := Identity(t)
	return core.KeyGeneratorFunc(func(comment string) (*ssh.Identity, error) {
		if generated != nil {
			*generated++
		}
		fp, err := ssh.Fingerprint(&base.Private.PublicKey)
		if err != nil {
			return nil, err
		}
		return &ssh.Identity{Private: base.Private, Comment: comment, Fingerprint: fp}, nil
	})
}

// PublicKey returns the RSA public half of the shared identity.
func PublicKey(t testing.TB) *rsa.PublicKey {
	return &Identity(t).Private.PublicKey
}
