package checksum

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sha256("hello world")
const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestDigest(t *testing.T) {
	v := NewVerifier()
	got, n, err := v.Digest(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, helloDigest, got)
	assert.Equal(t, int64(11), n)
	assert.Equal(t, helloDigest, v.DigestBytes([]byte("hello world")))
}

func TestCompare(t *testing.T) {
	v := NewVerifier()

	tests := []struct {
		name     string
		expected string
		want     Result
	}{
		{"exact", helloDigest, Match},
		{"upper case", strings.ToUpper(helloDigest), Match},
		{"prefixed", "sha256:" + helloDigest, Match},
		{"different", strings.Repeat("0", 64), Mismatch},
		{"truncated", helloDigest[:10], Mismatch},
		{"not hex", "deadbeefzz", Mismatch},
		{"bare prefix", "sha256:", Mismatch},
		{"empty", "", NoExpected},
		{"blank", "   ", NoExpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Compare(helloDigest, tt.expected))
		})
	}
}

func TestVerifyMatchIffDigestEqual(t *testing.T) {
	v := NewVerifier()
	inputs := [][]byte{nil, []byte("a"), []byte("hello world"), bytes.Repeat([]byte{0xff}, 10000)}

	for _, in := range inputs {
		digest := v.DigestBytes(in)
		res, actual, err := v.Verify(bytes.NewReader(in), digest)
		require.NoError(t, err)
		assert.Equal(t, Match, res)
		assert.Equal(t, digest, actual)

		res, _, err = v.Verify(bytes.NewReader(append(in, 'x')), digest)
		require.NoError(t, err)
		assert.Equal(t, Mismatch, res)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestVerifyReadError(t *testing.T) {
	_, _, err := NewVerifier().Verify(failingReader{}, helloDigest)
	require.Error(t, err)
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewVerifier().NewWriter(&buf)
	_, err := w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)

	assert.Equal(t, helloDigest, w.Sum())
	assert.Equal(t, int64(11), w.Size())
	assert.Equal(t, "hello world", buf.String())
}

func TestValidHex(t *testing.T) {
	assert.True(t, ValidHex(helloDigest))
	assert.True(t, ValidHex("SHA256:"+strings.ToUpper(helloDigest)))
	assert.False(t, ValidHex("xyz"))
	assert.False(t, ValidHex(strings.Repeat("g", 64)))
}
