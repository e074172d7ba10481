package directory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/ent0n29/alivehere/internal/storage"
)

func seededDirectory(t *testing.T) (*StoreDirectory, *storage.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	d := NewStoreDirectory(store)
	require.NoError(t, d.PutVoice(ctx, "u1", VoiceRecord{VoiceID: "voice-abc", Provider: "elevenlabs"}))
	require.NoError(t, d.PutProfile(ctx, "u1", Profile{
		FirstName:       "Ada",
		LastName:        "Lovelace",
		DOB:             "1815-12-10",
		ProfileDocument: "u1/profile/about.txt",
	}))
	require.NoError(t, store.Upload(ctx, "u1/profile/about.txt", []byte("Loves engines."), "text/plain"))
	return d, store
}

func TestResolveReturnsVoiceAndProfile(t *testing.T) {
	d, _ := seededDirectory(t)
	got, err := Resolve(context.Background(), d, "u1")
	require.NoError(t, err)
	require.Equal(t, "voice-abc", got.VoiceID)
	require.Equal(t, "Ada", got.Profile.FirstName)
	require.Equal(t, "u1/profile/about.txt", got.Profile.ProfileDocument)
}

func TestResolveFailsWithoutVoice(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	d := NewStoreDirectory(store)
	require.NoError(t, d.PutProfile(ctx, "u2", Profile{FirstName: "Bo"}))

	_, err := Resolve(ctx, d, "u2")
	require.True(t, errors.Is(err, ErrVoiceNotFound), "Resolve() error = %v", err)
}

func TestVoiceIDEmptyRecordIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	d := NewStoreDirectory(store)
	require.NoError(t, d.PutVoice(ctx, "u3", VoiceRecord{VoiceID: "  "}))

	_, err := d.VoiceID(ctx, "u3")
	require.ErrorIs(t, err, ErrVoiceNotFound)
}

func TestResolveRequiresUserID(t *testing.T) {
	d, _ := seededDirectory(t)
	_, err := Resolve(context.Background(), d, " ")
	require.Error(t, err)
}

func TestLoadProfileDocument(t *testing.T) {
	_, store := seededDirectory(t)
	text, err := LoadProfileDocument(context.Background(), store, "u1/profile/about.txt")
	require.NoError(t, err)
	require.Equal(t, "Loves engines.", text)

	text, err = LoadProfileDocument(context.Background(), store, "")
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestLoadProfileDocumentTruncatesOnRuneBoundary(t *testing.T) {
	store := storage.NewMemoryStore()
	body := strings.Repeat("a", maxProfileDocumentBytes-1) + "é" + "tail"
	require.NoError(t, store.Upload(context.Background(), "u1/profile/long.txt", []byte(body), "text/plain"))

	text, err := LoadProfileDocument(context.Background(), store, "u1/profile/long.txt")
	require.NoError(t, err)
	require.True(t, utf8.ValidString(text))
	require.Equal(t, maxProfileDocumentBytes-1, len(text))
}
