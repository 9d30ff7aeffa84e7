// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package ssh

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/toeirei/minarca/internal/apierr"
	"golang.org/x/crypto/ssh"
)

const (
	puttyHeader     = "PuTTY-User-Key-File-2"
	puttyEncryption = "none"
	puttyMACKey     = "putty-private-key-file-mac-key"
	puttyLineWidth  = 64
)

type puttyPrivate struct {
	D    *big.Int
	P    *big.Int
	Q    *big.Int
	Iqmp *big.Int
}

type puttyMACData struct {
	Algorithm  string
	Encryption string
	Comment    string
	Public     []byte
	Private    []byte
}

// EncodePrivatePutty renders the identity as an unencrypted PuTTY private key
// file, format version 2.
func EncodePrivatePutty(id *Identity) ([]byte, error) {
	if strings.ContainsAny(id.Comment, "\r\n") {
		return nil, apierr.New(apierr.CryptoFailure, "encode putty key", "comment must be a single line")
	}
	priv := id.Private
	if len(priv.Primes) != 2 {
		return nil, apierr.New(apierr.CryptoFailure, "encode putty key", "multi-prime keys are not supported")
	}
	sshPub, err := ssh.NewPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, apierr.Wrap(apierr.CryptoFailure, "encode putty key", "failed to create ssh public key", err)
	}
	p, q := priv.Primes[0], priv.Primes[1]
	iqmp := new(big.Int).ModInverse(q, p)
	if iqmp == nil {
		return nil, apierr.New(apierr.CryptoFailure, "encode putty key", "primes are not coprime")
	}

	pubBlob := sshPub.Marshal()
	privBlob := ssh.Marshal(puttyPrivate{D: priv.D, P: p, Q: q, Iqmp: iqmp})
	mac := puttyMAC(sshPub.Type(), id.Comment, pubBlob, privBlob)

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s: %s\n", puttyHeader, sshPub.Type())
	fmt.Fprintf(&b, "Encryption: %s\n", puttyEncryption)
	fmt.Fprintf(&b, "Comment: %s\n", id.Comment)
	writePuttyBlock(&b, "Public-Lines", pubBlob)
	writePuttyBlock(&b, "Private-Lines", privBlob)
	fmt.Fprintf(&b, "Private-MAC: %s\n", hex.EncodeToString(mac))
	return b.Bytes(), nil
}

func writePuttyBlock(b *bytes.Buffer, name string, blob []byte) {
	enc := base64.StdEncoding.EncodeToString(blob)
	lines := (len(enc) + puttyLineWidth - 1) / puttyLineWidth
	fmt.Fprintf(b, "%s: %d\n", name, lines)
	for i := 0; i < len(enc); i += puttyLineWidth {
		end := min(i+puttyLineWidth, len(enc))
		b.WriteString(enc[i:end])
		b.WriteByte('\n')
	}
}

func puttyMAC(algorithm, comment string, pubBlob, privBlob []byte) []byte {
	key := sha1.Sum([]byte(puttyMACKey))
	h := hmac.New(sha1.New, key[:])
	h.Write(ssh.Marshal(puttyMACData{
		Algorithm:  algorithm,
		Encryption: puttyEncryption,
		Comment:    comment,
		Public:     pubBlob,
		Private:    privBlob,
	}))
	return h.Sum(nil)
}

// DecodePrivatePutty reads an unencrypted PuTTY v2 ssh-rsa key file, checks
// its MAC and rebuilds the identity.
func DecodePrivatePutty(data []byte) (*Identity, error) {
	r := &puttyReader{sc: bufio.NewScanner(bytes.NewReader(data))}

	alg := r.field(puttyHeader)
	enc := r.field("Encryption")
	comment := r.field("Comment")
	pubBlob := r.block("Public-Lines")
	privBlob := r.block("Private-Lines")
	macHex := r.field("Private-MAC")
	if r.err != nil {
		return nil, apierr.Wrap(apierr.MalformedKey, "decode putty key", "invalid container", r.err)
	}
	if alg != ssh.KeyAlgoRSA {
		return nil, apierr.New(apierr.MalformedKey, "decode putty key", "unsupported key type "+alg)
	}
	if enc != puttyEncryption {
		return nil, apierr.New(apierr.MalformedKey, "decode putty key", "unsupported encryption "+enc)
	}
	mac, err := hex.DecodeString(macHex)
	if err != nil {
		return nil, apierr.Wrap(apierr.MalformedKey, "decode putty key", "invalid mac", err)
	}
	if !hmac.Equal(mac, puttyMAC(alg, comment, pubBlob, privBlob)) {
		return nil, apierr.New(apierr.MalformedKey, "decode putty key", "mac mismatch")
	}

	sshPub, err := ssh.ParsePublicKey(pubBlob)
	if err != nil {
		return nil, apierr.Wrap(apierr.MalformedKey, "decode putty key", "invalid public blob", err)
	}
	cpk, ok := sshPub.(ssh.CryptoPublicKey)
	if !ok {
		return nil, apierr.New(apierr.MalformedKey, "decode putty key", "public blob does not expose its crypto form")
	}
	pub, ok := cpk.CryptoPublicKey().(*rsa.PublicKey)
	if !ok {
		return nil, apierr.New(apierr.MalformedKey, "decode putty key", "public blob is not rsa")
	}
	var parts struct {
		D    *big.Int
		P    *big.Int
		Q    *big.Int
		Iqmp *big.Int
		Rest []byte `ssh:"rest"`
	}
	if err := ssh.Unmarshal(privBlob, &parts); err != nil {
		return nil, apierr.Wrap(apierr.MalformedKey, "decode putty key", "invalid private blob", err)
	}
	priv := &rsa.PrivateKey{
		PublicKey: *pub,
		D:         parts.D,
		Primes:    []*big.Int{parts.P, parts.Q},
	}
	if err := priv.Validate(); err != nil {
		return nil, apierr.Wrap(apierr.MalformedKey, "decode putty key", "inconsistent key", err)
	}
	priv.Precompute()
	return &Identity{Private: priv, Comment: comment, Fingerprint: FingerprintKey(sshPub)}, nil
}

// puttyReader walks the container line by line, remembering the first error.
type puttyReader struct {
	sc  *bufio.Scanner
	err error
}

func (r *puttyReader) line() string {
	if r.err != nil {
		return ""
	}
	if !r.sc.Scan() {
		r.err = r.sc.Err()
		if r.err == nil {
			r.err = fmt.Errorf("unexpected end of file")
		}
		return ""
	}
	return strings.TrimRight(r.sc.Text(), "\r")
}

func (r *puttyReader) field(name string) string {
	l := r.line()
	if r.err != nil {
		return ""
	}
	key, value, ok := strings.Cut(l, ": ")
	if !ok || key != name {
		r.err = fmt.Errorf("expected %q header, got %q", name, l)
		return ""
	}
	return value
}

func (r *puttyReader) block(name string) []byte {
	v := r.field(name)
	if r.err != nil {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		r.err = fmt.Errorf("invalid %s count %q", name, v)
		return nil
	}
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString(r.line())
	}
	if r.err != nil {
		return nil
	}
	blob, err := base64.StdEncoding.DecodeString(sb.String())
	if err != nil {
		r.err = fmt.Errorf("invalid base64 in %s: %w", name, err)
		return nil
	}
	return blob
}
