/*
Package checksum computes SHA-256 digests over byte streams and compares them
against expected hex-encoded values.
*/
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"
)

type Result string

const (
	Match      Result = "match"
	Mismatch   Result = "mismatch"
	NoExpected Result = "no_expected"
)

// Verifier is fixed to SHA-256 for the deployment.
type Verifier struct{}

func NewVerifier() *Verifier {
	return &Verifier{}
}

// Digest reads r to EOF and returns the hex digest and the number of bytes read.
func (v *Verifier) Digest(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func (v *Verifier) DigestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Compare treats an empty expected value as unknown, never as a match. Any
// other expected value that is not the actual digest, malformed ones
// included, is a mismatch.
func (v *Verifier) Compare(actual, expected string) Result {
	if strings.TrimSpace(expected) == "" {
		return NoExpected
	}
	expected = Normalize(expected)
	if subtle.ConstantTimeCompare([]byte(Normalize(actual)), []byte(expected)) == 1 {
		return Match
	}
	return Mismatch
}

// Verify hashes r and compares it with expected.
func (v *Verifier) Verify(r io.Reader, expected string) (Result, string, error) {
	actual, _, err := v.Digest(r)
	if err != nil {
		return "", "", err
	}
	return v.Compare(actual, expected), actual, nil
}

// Normalize lower-cases a digest and strips an optional "sha256:" prefix.
func Normalize(digest string) string {
	d := strings.ToLower(strings.TrimSpace(digest))
	return strings.TrimPrefix(d, "sha256:")
}

// ValidHex reports whether digest looks like a SHA-256 hex string.
func ValidHex(digest string) bool {
	d := Normalize(digest)
	if len(d) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(d)
	return err == nil
}

// Writer hashes everything written through it.
type Writer struct {
	w io.Writer
	h hash.Hash
	n int64
}

func (v *Verifier) NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, h: sha256.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.h.Write(p[:n])
	w.n += int64(n)
	return n, err
}

func (w *Writer) Sum() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

func (w *Writer) Size() int64 {
	return w.n
}
