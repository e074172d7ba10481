package voice

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
)

const MockAudioFormat = "mock_text_bytes"

// MockProvider emits the UTF-8 bytes of each text as one audio chunk. It is
// used when no TTS credentials are configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) StartStream(_ context.Context, _ string, _ string, _ TTSSettings) (TTSStream, error) {
	return &mockTTSStream{events: make(chan TTSEvent, 128)}, nil
}

type mockTTSStream struct {
	mu     sync.Mutex
	events chan TTSEvent
	closed bool
	final  bool
}

func (s *mockTTSStream) SendText(_ context.Context, text string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.final {
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	s.events <- TTSEvent{Type: TTSEventAudio, AudioBase64: encoded, Format: MockAudioFormat}
	return nil
}

func (s *mockTTSStream) CloseInput(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.final {
		return nil
	}
	s.final = true
	s.events <- TTSEvent{Type: TTSEventFinal}
	return nil
}

func (s *mockTTSStream) Events() <-chan TTSEvent { return s.events }

func (s *mockTTSStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
