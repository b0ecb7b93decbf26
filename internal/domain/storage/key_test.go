package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	at := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

	key, err := NewKey("obs", "x-ray (1).png", at)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "obs/2024-03/"), key)
	assert.True(t, strings.HasSuffix(key, "-x-ray_1_.png") || strings.HasSuffix(key, "-x-ray_1.png"), key)
	assert.NoError(t, ValidateKey(key))

	key, err = NewKey("", "", at)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, DefaultModule+"/2024-03/"))
	assert.NotContains(t, key[len("core/2024-03/"):], "-")

	_, err = NewKey("../etc", "a", at)
	assert.Error(t, err)
}

func TestNewKey_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		k, err := NewKey("m", "f.txt", time.Now())
		require.NoError(t, err)
		assert.False(t, seen[k])
		seen[k] = true
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "report.pdf", SanitizeFilename("C:\\docs\\report.pdf"))
	assert.Equal(t, "passwd", SanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "a_b.txt", SanitizeFilename("a b.txt"))
	assert.Equal(t, "", SanitizeFilename("..."))
	assert.Len(t, SanitizeFilename(strings.Repeat("a", 300)), maxFilenameLen)
}

func TestValidateKey(t *testing.T) {
	valid := []string{"core/2024-01/abc", "obs/2024-01/2N8-f.png"}
	for _, k := range valid {
		assert.NoError(t, ValidateKey(k), k)
	}
	invalid := []string{"", "/abs", "a/../b", "a//b", "sp ace", "x" + metaSuffix, "semi;colon"}
	for _, k := range invalid {
		assert.Error(t, ValidateKey(k), k)
	}
}
