package sha256

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHashReaderDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, n, err := h.HashReader(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, helloDigest, got)
	assert.EqualValues(t, 11, n)

	again, _, err := h.HashReader(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestHashFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	got, n, err := New().HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, helloDigest, got)
	assert.EqualValues(t, 11, n)

	_, _, err = New().HashFile(filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
}
