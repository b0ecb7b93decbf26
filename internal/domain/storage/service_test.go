package storage

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
)

func TestService_SaveAndGet(t *testing.T) {
	svc := NewService(NewMemoryBackend())
	ctx := auth.WithUser(context.Background(), "nurse", nil)

	key, err := svc.SaveData(ctx, strings.NewReader("hello world"), Metadata{Filename: "note.txt"}, "obs")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "obs/"))

	data, meta, err := svc.GetBytes(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, int64(11), meta.Length)
	assert.Equal(t, "nurse", meta.Creator)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", meta.SHA256)
	assert.True(t, strings.HasPrefix(meta.MimeType, "text/plain"))

	ok, err := svc.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.PurgeData(ctx, key))
	ok, err = svc.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_TooLarge(t *testing.T) {
	svc := NewService(NewMemoryBackend())
	svc.limit = 4
	_, err := svc.SaveData(context.Background(), bytes.NewReader([]byte("12345")), Metadata{}, "")
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.ErrorIs(t, err, apierr.ErrValidation)

	_, err = svc.SaveData(context.Background(), bytes.NewReader([]byte("1234")), Metadata{}, "")
	assert.NoError(t, err)
}

func TestService_RejectsBadKeys(t *testing.T) {
	svc := NewService(NewMemoryBackend())
	_, _, err := svc.GetData(context.Background(), "../secrets")
	assert.ErrorIs(t, err, apierr.ErrValidation)
	assert.ErrorIs(t, svc.PurgeData(context.Background(), "/x"), apierr.ErrValidation)
	_, err = svc.GetKeys(context.Background(), "a/../b")
	assert.ErrorIs(t, err, apierr.ErrValidation)
}

func TestService_GetKeys(t *testing.T) {
	svc := NewService(NewMemoryBackend())
	ctx := context.Background()
	for _, m := range []string{"obs", "obs", "form"} {
		_, err := svc.SaveData(ctx, strings.NewReader("x"), Metadata{}, m)
		require.NoError(t, err)
	}
	keys, err := svc.GetKeys(ctx, "obs/")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	all, err := svc.GetKeys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
