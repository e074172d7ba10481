package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/alivehere/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey              string
	WSBaseURL           string
	DefaultModelID      string
	DefaultOutputFormat string
}

// ElevenLabsProvider speaks through the stream-input websocket.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.DefaultModelID) == "" {
		cfg.DefaultModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.DefaultOutputFormat) == "" {
		cfg.DefaultOutputFormat = "mp3_44100_128"
	}
	return &ElevenLabsProvider{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (p *ElevenLabsProvider) StartStream(ctx context.Context, voiceID, modelID string, settings TTSSettings) (TTSStream, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = p.cfg.DefaultModelID
	}

	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", modelID)
	q.Set("output_format", p.cfg.DefaultOutputFormat)
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, _, err := p.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial tts websocket: %w", err)
	}

	s := &elevenTTSStream{conn: conn, format: p.cfg.DefaultOutputFormat, events: make(chan TTSEvent, 512)}
	// The first message carries voice settings and must be a single space.
	if err := s.writeJSON(map[string]any{
		"text":           " ",
		"voice_settings": normalizeSettings(settings),
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("prime tts stream: %w", err)
	}
	go s.readLoop()
	return s, nil
}

func normalizeSettings(settings TTSSettings) map[string]any {
	stability := settings.Stability
	if stability <= 0 {
		stability = 0.42
	} else if stability > 1 {
		stability = 1
	}

	similarity := settings.SimilarityBoost
	if similarity <= 0 {
		similarity = 0.85
	} else if similarity > 1 {
		similarity = 1
	}

	speed := settings.Speed
	if speed <= 0 {
		speed = 1.0
	}
	if speed < 0.7 {
		speed = 0.7
	} else if speed > 1.2 {
		speed = 1.2
	}

	return map[string]any{
		"stability":        stability,
		"similarity_boost": similarity,
		"speed":            speed,
	}
}

type elevenTTSStream struct {
	conn      *websocket.Conn
	format    string
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan TTSEvent
}

func (s *elevenTTSStream) SendText(_ context.Context, text string, tryTrigger bool) error {
	return s.writeJSON(map[string]any{
		"text":                   text,
		"try_trigger_generation": tryTrigger,
	})
}

func (s *elevenTTSStream) CloseInput(_ context.Context) error {
	return s.writeJSON(map[string]any{"text": ""})
}

func (s *elevenTTSStream) Events() <-chan TTSEvent { return s.events }

// Close tears down the socket. Events is closed by the read loop once it
// observes the closed connection.
func (s *elevenTTSStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *elevenTTSStream) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *elevenTTSStream) readLoop() {
	defer close(s.events)
	defer s.Close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}

		if audio := asString(raw["audio"]); audio != "" {
			s.events <- TTSEvent{Type: TTSEventAudio, AudioBase64: audio, Format: s.format}
		}
		if errMsg := asString(raw["error"]); errMsg != "" {
			code := asString(raw["message_type"])
			if code == "" {
				code = "error"
			}
			s.events <- TTSEvent{Type: TTSEventError, Code: code, Detail: errMsg, Retryable: reliability.IsRetryableRealtimeMessageType(code)}
		}
		if asBool(raw["isFinal"]) || asBool(raw["is_final"]) {
			s.events <- TTSEvent{Type: TTSEventFinal}
			return
		}
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
