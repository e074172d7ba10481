package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := Key("u1", CategoryProfile, "profile.json")
	require.Equal(t, "u1/profile/profile.json", key)

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Upload(ctx, key, []byte(`{"firstName":"Ada"}`), "application/json"))
	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "application/json", s.ContentType(key))

	data, err := s.Download(ctx, key)
	require.NoError(t, err)
	require.JSONEq(t, `{"firstName":"Ada"}`, string(data))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Download(ctx, key)
	require.True(t, errors.Is(err, ErrNotFound), "Download() error = %v", err)
}

func TestMemoryStoreListByPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Upload(ctx, Key("u1", CategoryRecordings, "b.webm"), []byte("b"), "audio/webm"))
	require.NoError(t, s.Upload(ctx, Key("u1", CategoryRecordings, "a.webm"), []byte("a"), "audio/webm"))
	require.NoError(t, s.Upload(ctx, Key("u2", CategoryRecordings, "c.webm"), []byte("c"), "audio/webm"))

	keys, err := s.List(ctx, "u1/recordings/")
	require.NoError(t, err)
	require.Equal(t, []string{"u1/recordings/a.webm", "u1/recordings/b.webm"}, keys)
}

func TestMemoryStoreSignedURL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.SignedURL(ctx, "missing", time.Minute)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Upload(ctx, "u1/photos/me.jpg", []byte{1}, "image/jpeg"))
	u, err := s.SignedURL(ctx, "u1/photos/me.jpg", time.Minute)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u, "memory:///"), "url = %q", u)
}

func TestNewStoreRejectsUnknownBackend(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Backend: "floppy"})
	require.Error(t, err)
}
