package voice

import (
	"fmt"
	"strings"
)

// ProviderConfig selects and configures the TTS provider.
type ProviderConfig struct {
	Provider        string
	ElevenLabs      ElevenLabsConfig
	FallbackVoiceID string
}

// NewProvider returns the configured provider. "auto" uses ElevenLabs when an
// API key is present and the mock provider otherwise. With a fallback voice set,
// ElevenLabs streams that cannot start are retried with that stock voice.
func NewProvider(cfg ProviderConfig) (TTSProvider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "auto"
	}
	switch mode {
	case "mock":
		return NewMockProvider(), nil
	case "auto":
		if strings.TrimSpace(cfg.ElevenLabs.APIKey) == "" {
			return NewMockProvider(), nil
		}
	case "elevenlabs":
		if strings.TrimSpace(cfg.ElevenLabs.APIKey) == "" {
			return nil, fmt.Errorf("elevenlabs api key is required")
		}
	default:
		return nil, fmt.Errorf("unsupported tts provider %q", cfg.Provider)
	}

	primary := NewElevenLabsProvider(cfg.ElevenLabs)
	if strings.TrimSpace(cfg.FallbackVoiceID) == "" {
		return primary, nil
	}
	return NewFailoverProvider(primary, primary, cfg.FallbackVoiceID, ""), nil
}
