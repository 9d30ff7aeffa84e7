// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package ssh

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"

	"github.com/toeirei/minarca/internal/apierr"
	"golang.org/x/crypto/ssh"
)

// EncodePublicOpenSSH renders pub as a single authorized_keys line:
// "ssh-rsa <base64 blob> <comment>\n".
func EncodePublicOpenSSH(pub *rsa.PublicKey, comment string) ([]byte, error) {
	if strings.ContainsAny(comment, "\r\n") {
		return nil, apierr.New(apierr.CryptoFailure, "encode public key", "comment must be a single line")
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, apierr.Wrap(apierr.CryptoFailure, "encode public key", "failed to create ssh public key", err)
	}
	var b bytes.Buffer
	b.WriteString(sshPub.Type())
	b.WriteByte(' ')
	b.WriteString(base64.StdEncoding.EncodeToString(sshPub.Marshal()))
	if comment != "" {
		b.WriteByte(' ')
		b.WriteString(comment)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// DecodePublicOpenSSH parses an authorized_keys line holding an RSA key and
// returns the key and its comment.
func DecodePublicOpenSSH(data []byte) (*rsa.PublicKey, string, error) {
	pk, comment, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, "", apierr.Wrap(apierr.MalformedKey, "decode public key", "invalid authorized key line", err)
	}
	if pk.Type() != ssh.KeyAlgoRSA {
		return nil, "", apierr.New(apierr.MalformedKey, "decode public key", "unsupported key type "+pk.Type())
	}
	cpk, ok := pk.(ssh.CryptoPublicKey)
	if !ok {
		return nil, "", apierr.New(apierr.MalformedKey, "decode public key", "key does not expose its crypto form")
	}
	rsaPub, ok := cpk.CryptoPublicKey().(*rsa.PublicKey)
	if !ok {
		return nil, "", apierr.New(apierr.MalformedKey, "decode public key", "not an rsa key")
	}
	return rsaPub, comment, nil
}

// EncodePrivatePEM renders priv as a PKCS#1 "RSA PRIVATE KEY" PEM block, the
// format OpenSSH accepts for -i.
func EncodePrivatePEM(priv *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
}

// DecodePrivatePEM is the inverse of EncodePrivatePEM.
func DecodePrivatePEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, apierr.New(apierr.MalformedKey, "decode private key", "no RSA PRIVATE KEY block found")
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, apierr.Wrap(apierr.MalformedKey, "decode private key", "invalid pkcs1 body", err)
	}
	return priv, nil
}

// Fingerprint returns the MD5 fingerprint of the public key wire blob as
// lower-case colon separated octets, the same text `ssh-keygen -l -E md5`
// prints.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", apierr.Wrap(apierr.CryptoFailure, "fingerprint", "failed to create ssh public key", err)
	}
	return FingerprintKey(sshPub), nil
}

// FingerprintKey is Fingerprint for a key already in ssh form, such as a
// server host key.
func FingerprintKey(pub ssh.PublicKey) string {
	return strings.TrimPrefix(ssh.FingerprintLegacyMD5(pub), "MD5:")
}
