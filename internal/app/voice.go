package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/alivehere/internal/config"
	"github.com/ent0n29/alivehere/internal/voice"
)

type voiceSetup struct {
	ttsProvider      voice.TTSProvider
	resolvedProvider string
	defaultModelID   string
	detail           string
}

func resolveVoiceProvider(cfg config.Config) (voiceSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.TTSProvider))
	if mode == "" {
		mode = "auto"
	}

	p, err := voice.NewProvider(voice.ProviderConfig{
		Provider: mode,
		ElevenLabs: voice.ElevenLabsConfig{
			APIKey:              cfg.ElevenLabsAPIKey,
			WSBaseURL:           cfg.ElevenLabsWSBaseURL,
			DefaultModelID:      cfg.ElevenLabsTTSModel,
			DefaultOutputFormat: cfg.ElevenLabsTTSOutputFormat,
		},
		FallbackVoiceID: cfg.TTSFallbackVoiceID,
	})
	if err != nil {
		return voiceSetup{}, fmt.Errorf("tts provider init failed: %w", err)
	}

	if _, ok := p.(*voice.MockProvider); ok {
		detail := "mock"
		if mode == "auto" {
			detail = "mock (no elevenlabs key)"
		}
		return voiceSetup{ttsProvider: p, resolvedProvider: "mock", detail: detail}, nil
	}

	detail := "elevenlabs realtime"
	if cfg.TTSFallbackVoiceID != "" {
		detail += ", fallback voice " + cfg.TTSFallbackVoiceID
	}
	return voiceSetup{
		ttsProvider:      p,
		resolvedProvider: "elevenlabs",
		defaultModelID:   cfg.ElevenLabsTTSModel,
		detail:           detail,
	}, nil
}
