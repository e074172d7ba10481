// Package directory resolves the per-user dependencies a conversation needs
// before connection_init can be sent: the cloned voice and the persona profile.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/alivehere/internal/storage"
)

var (
	ErrVoiceNotFound   = errors.New("voice not found")
	ErrProfileNotFound = errors.New("profile not found")
)

const (
	voiceObject   = "voice.json"
	profileObject = "profile.json"

	maxProfileDocumentBytes = 256 << 10
)

// Profile is what the persona is built from.
type Profile struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	DOB             string `json:"dob"`
	ProfileDocument string `json:"profileDocument"`
}

// VoiceRecord is the voice metadata written after cloning.
type VoiceRecord struct {
	VoiceID  string `json:"voice_id"`
	Provider string `json:"provider,omitempty"`
}

// Directory is the lookup contract consumed by the client and the relay.
type Directory interface {
	VoiceID(ctx context.Context, userID string) (string, error)
	Profile(ctx context.Context, userID string) (Profile, error)
}

// Resolved holds both lookups for one user.
type Resolved struct {
	UserID  string  `json:"user_id"`
	VoiceID string  `json:"voice_id"`
	Profile Profile `json:"profile"`
}

// Resolve runs both lookups concurrently and fails if either fails.
func Resolve(ctx context.Context, d Directory, userID string) (Resolved, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Resolved{}, errors.New("user id is required")
	}
	out := Resolved{UserID: userID}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := d.VoiceID(gctx, userID)
		if err != nil {
			return err
		}
		out.VoiceID = v
		return nil
	})
	g.Go(func() error {
		p, err := d.Profile(gctx, userID)
		if err != nil {
			return err
		}
		out.Profile = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return Resolved{}, err
	}
	return out, nil
}

// StoreDirectory reads voice and profile metadata from the object store.
type StoreDirectory struct {
	store storage.BlobStore
}

func NewStoreDirectory(store storage.BlobStore) *StoreDirectory {
	return &StoreDirectory{store: store}
}

func (d *StoreDirectory) VoiceID(ctx context.Context, userID string) (string, error) {
	var rec VoiceRecord
	if err := d.readJSON(ctx, storage.Key(userID, storage.CategoryVoice, voiceObject), &rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w for user %s", ErrVoiceNotFound, userID)
		}
		return "", err
	}
	voiceID := strings.TrimSpace(rec.VoiceID)
	if voiceID == "" {
		return "", fmt.Errorf("%w for user %s", ErrVoiceNotFound, userID)
	}
	return voiceID, nil
}

func (d *StoreDirectory) Profile(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	if err := d.readJSON(ctx, storage.Key(userID, storage.CategoryProfile, profileObject), &p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Profile{}, fmt.Errorf("%w for user %s", ErrProfileNotFound, userID)
		}
		return Profile{}, err
	}
	return p, nil
}

// PutVoice and PutProfile write the metadata objects read above.
func (d *StoreDirectory) PutVoice(ctx context.Context, userID string, rec VoiceRecord) error {
	return d.writeJSON(ctx, storage.Key(userID, storage.CategoryVoice, voiceObject), rec)
}

func (d *StoreDirectory) PutProfile(ctx context.Context, userID string, p Profile) error {
	return d.writeJSON(ctx, storage.Key(userID, storage.CategoryProfile, profileObject), p)
}

// LoadProfileDocument returns the free-text profile document at path, capped
// in size. An empty path yields an empty document.
func LoadProfileDocument(ctx context.Context, store storage.BlobStore, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	data, err := store.Download(ctx, path)
	if err != nil {
		return "", err
	}
	if len(data) > maxProfileDocumentBytes {
		// Cut before the rune that straddles the limit.
		cut := maxProfileDocumentBytes
		for cut > 0 && !utf8.RuneStart(data[cut]) {
			cut--
		}
		data = data[:cut]
	}
	return string(data), nil
}

func (d *StoreDirectory) readJSON(ctx context.Context, key string, out any) error {
	data, err := d.store.Download(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (d *StoreDirectory) writeJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return d.store.Upload(ctx, key, data, "application/json")
}
