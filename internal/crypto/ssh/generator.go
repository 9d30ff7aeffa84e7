// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// package ssh provides cryptographic helpers for the agent identity.
// This file contains logic for generating new RSA key pairs.
package ssh // import "github.com/toeirei/minarca/internal/crypto/ssh"

import (
	"crypto/rand"
	"crypto/rsa"
	"io"

	"github.com/toeirei/minarca/internal/apierr"
)

// KeyBits is the modulus size of generated identities.
const KeyBits = 2048

// Identity is the machine credential: an RSA key pair, the friendly computer
// name embedded as comment, and the fingerprint of the public half.
type Identity struct {
	Private     *rsa.PrivateKey
	Comment     string
	Fingerprint string
}

// Public returns the public half of the key pair.
func (id *Identity) Public() *rsa.PublicKey {
	return &id.Private.PublicKey
}

// GenerateKeyPair creates a fresh RSA identity with the given comment.
func GenerateKeyPair(comment string) (*Identity, error) {
	return generate(rand.Reader, KeyBits, comment)
}

func generate(random io.Reader, bits int, comment string) (*Identity, error) {
	priv, err := rsa.GenerateKey(random, bits)
	if err != nil {
		return nil, apierr.Wrap(apierr.CryptoFailure, "keygen", "failed to generate rsa key pair", err)
	}
	fp, err := Fingerprint(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Identity{Private: priv, Comment: comment, Fingerprint: fp}, nil
}
