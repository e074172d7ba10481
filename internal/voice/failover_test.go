package voice

import (
	"context"
	"errors"
	"testing"
)

func TestFailoverProviderUsesFallbackVoiceWhenPrimaryFails(t *testing.T) {
	ctx := context.Background()
	var seenVoice, seenModel string
	primary := &stubTTSProvider{
		startStream: func(context.Context, string, string, TTSSettings) (TTSStream, error) {
			return nil, errors.New("voice not found")
		},
	}
	fallback := &stubTTSProvider{
		startStream: func(_ context.Context, voiceID, modelID string, _ TTSSettings) (TTSStream, error) {
			seenVoice, seenModel = voiceID, modelID
			return &stubTTSStream{}, nil
		},
	}

	tts := NewFailoverProvider(primary, fallback, "stock_voice", "")
	if _, err := tts.StartStream(ctx, "cloned_voice", "eleven_model", TTSSettings{}); err != nil {
		t.Fatalf("StartStream() unexpected error = %v", err)
	}
	if seenVoice != "stock_voice" {
		t.Fatalf("fallback voice = %q, want %q", seenVoice, "stock_voice")
	}
	if seenModel != "eleven_model" {
		t.Fatalf("fallback model = %q, want %q", seenModel, "eleven_model")
	}
}

func TestFailoverProviderRetriesPrimaryEveryStream(t *testing.T) {
	ctx := context.Background()
	primary := &stubTTSProvider{
		startStream: func(context.Context, string, string, TTSSettings) (TTSStream, error) {
			return nil, errors.New("down")
		},
	}
	fallback := &stubTTSProvider{
		startStream: func(context.Context, string, string, TTSSettings) (TTSStream, error) {
			return &stubTTSStream{}, nil
		},
	}
	tts := NewFailoverProvider(primary, fallback, "stock", "")
	for i := 0; i < 2; i++ {
		if _, err := tts.StartStream(ctx, "v", "m", TTSSettings{}); err != nil {
			t.Fatalf("StartStream() unexpected error = %v", err)
		}
	}
	if primary.calls != 2 {
		t.Fatalf("primary calls = %d, want 2", primary.calls)
	}
	if fallback.calls != 2 {
		t.Fatalf("fallback calls = %d, want 2", fallback.calls)
	}
}

func TestFailoverProviderReturnsCombinedErrorWhenBothFail(t *testing.T) {
	ctx := context.Background()
	fallbackErr := errors.New("fallback down")
	primary := &stubTTSProvider{
		startStream: func(context.Context, string, string, TTSSettings) (TTSStream, error) {
			return nil, errors.New("primary down")
		},
	}
	fallback := &stubTTSProvider{
		startStream: func(context.Context, string, string, TTSSettings) (TTSStream, error) {
			return nil, fallbackErr
		},
	}

	_, err := NewFailoverProvider(primary, fallback, "", "").StartStream(ctx, "voice", "model", TTSSettings{})
	if !errors.Is(err, fallbackErr) {
		t.Fatalf("StartStream() error = %v, want wrapped fallback error", err)
	}
}

func TestFailoverProviderSkipsFallbackOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	primary := &stubTTSProvider{
		startStream: func(ctx context.Context, _, _ string, _ TTSSettings) (TTSStream, error) {
			return nil, ctx.Err()
		},
	}
	fallback := &stubTTSProvider{
		startStream: func(context.Context, string, string, TTSSettings) (TTSStream, error) {
			return &stubTTSStream{}, nil
		},
	}
	if _, err := NewFailoverProvider(primary, fallback, "", "").StartStream(ctx, "v", "m", TTSSettings{}); err == nil {
		t.Fatalf("StartStream() expected error on canceled context")
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback calls = %d, want 0", fallback.calls)
	}
}

type stubTTSProvider struct {
	calls       int
	startStream func(ctx context.Context, voiceID, modelID string, settings TTSSettings) (TTSStream, error)
}

func (p *stubTTSProvider) StartStream(ctx context.Context, voiceID, modelID string, settings TTSSettings) (TTSStream, error) {
	p.calls++
	return p.startStream(ctx, voiceID, modelID, settings)
}

type stubTTSStream struct{}

func (s *stubTTSStream) SendText(context.Context, string, bool) error { return nil }
func (s *stubTTSStream) CloseInput(context.Context) error             { return nil }
func (s *stubTTSStream) Events() <-chan TTSEvent                      { return make(chan TTSEvent) }
func (s *stubTTSStream) Close() error                                 { return nil }
