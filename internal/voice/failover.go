package voice

import (
	"context"
	"fmt"
	"strings"
)

// NewFailoverProvider tries primary first and starts a fallback stream when the
// primary one cannot start. Voice IDs are per user, so no failover state is kept
// between streams.
func NewFailoverProvider(primary, fallback TTSProvider, fallbackVoiceID, fallbackModelID string) TTSProvider {
	return &failoverTTSProvider{
		primary:         primary,
		fallback:        fallback,
		fallbackVoiceID: strings.TrimSpace(fallbackVoiceID),
		fallbackModelID: strings.TrimSpace(fallbackModelID),
	}
}

type failoverTTSProvider struct {
	primary         TTSProvider
	fallback        TTSProvider
	fallbackVoiceID string
	fallbackModelID string
}

func (p *failoverTTSProvider) StartStream(ctx context.Context, voiceID, modelID string, settings TTSSettings) (TTSStream, error) {
	stream, prErr := p.primary.StartStream(ctx, voiceID, modelID, settings)
	if prErr == nil {
		return stream, nil
	}
	if ctx.Err() != nil {
		return nil, prErr
	}
	if p.fallbackVoiceID != "" {
		voiceID = p.fallbackVoiceID
	}
	if p.fallbackModelID != "" {
		modelID = p.fallbackModelID
	}
	stream, fbErr := p.fallback.StartStream(ctx, voiceID, modelID, settings)
	if fbErr != nil {
		return nil, fmt.Errorf("tts primary failed: %v; tts fallback failed: %w", prErr, fbErr)
	}
	return stream, nil
}
