package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/alivehere/internal/directory"
	"github.com/ent0n29/alivehere/internal/protocol"
)

// HTTPDirectory implements directory.Directory against the relay's /api
// lookup routes.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDirectory(baseURL string, client *http.Client) *HTTPDirectory {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPDirectory{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"), client: client}
}

func (d *HTTPDirectory) VoiceID(ctx context.Context, userID string) (string, error) {
	var body directory.VoiceRecord
	if err := d.get(ctx, "/api/voice/"+url.PathEscape(userID), &body, directory.ErrVoiceNotFound); err != nil {
		return "", err
	}
	if strings.TrimSpace(body.VoiceID) == "" {
		return "", fmt.Errorf("%w: empty voice id for %s", directory.ErrVoiceNotFound, userID)
	}
	return body.VoiceID, nil
}

func (d *HTTPDirectory) Profile(ctx context.Context, userID string) (directory.Profile, error) {
	var body directory.Profile
	if err := d.get(ctx, "/api/profile/"+url.PathEscape(userID), &body, directory.ErrProfileNotFound); err != nil {
		return directory.Profile{}, err
	}
	return body, nil
}

func (d *HTTPDirectory) get(ctx context.Context, path string, out any, notFound error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", notFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// identityFor builds the wire identity block from resolved lookups.
func identityFor(r directory.Resolved) protocol.Identity {
	return protocol.Identity{
		UserID:          r.UserID,
		VoiceID:         r.VoiceID,
		FirstName:       r.Profile.FirstName,
		LastName:        r.Profile.LastName,
		DOB:             r.Profile.DOB,
		ProfileDocument: r.Profile.ProfileDocument,
	}
}
