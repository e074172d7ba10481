package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestElevenLabsStreamRoundTrip(t *testing.T) {
	type seen struct {
		path   string
		query  string
		apiKey string
		texts  []string
	}
	got := make(chan seen, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		s := seen{path: r.URL.Path, query: r.URL.RawQuery, apiKey: r.Header.Get("xi-api-key")}
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			text, _ := msg["text"].(string)
			s.texts = append(s.texts, text)
			if text == "" {
				_ = conn.WriteJSON(map[string]any{"audio": "QUJD"})
				_ = conn.WriteJSON(map[string]any{"isFinal": true})
				got <- s
				return
			}
		}
	}))
	defer srv.Close()

	p := NewElevenLabsProvider(ElevenLabsConfig{
		APIKey:              "k1",
		WSBaseURL:           "ws" + strings.TrimPrefix(srv.URL, "http"),
		DefaultOutputFormat: "pcm_16000",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := p.StartStream(ctx, "voice-1", "", TTSSettings{})
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	defer stream.Close()
	if err := stream.SendText(ctx, "Hello there", true); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if err := stream.CloseInput(ctx); err != nil {
		t.Fatalf("CloseInput() error = %v", err)
	}

	var events []TTSEvent
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2: %+v", len(events), events)
	}
	if events[0].Type != TTSEventAudio || events[0].AudioBase64 != "QUJD" || events[0].Format != "pcm_16000" {
		t.Fatalf("audio event = %+v", events[0])
	}
	if events[1].Type != TTSEventFinal {
		t.Fatalf("final event = %+v", events[1])
	}

	s := <-got
	if s.path != "/v1/text-to-speech/voice-1/stream-input" {
		t.Fatalf("path = %q", s.path)
	}
	if !strings.Contains(s.query, "model_id=eleven_multilingual_v2") || !strings.Contains(s.query, "output_format=pcm_16000") {
		t.Fatalf("query = %q", s.query)
	}
	if s.apiKey != "k1" {
		t.Fatalf("xi-api-key = %q, want k1", s.apiKey)
	}
	want := []string{" ", "Hello there", ""}
	if strings.Join(s.texts, "|") != strings.Join(want, "|") {
		t.Fatalf("texts = %q, want %q", s.texts, want)
	}
}

func TestElevenLabsRequiresVoiceID(t *testing.T) {
	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "k"})
	if _, err := p.StartStream(context.Background(), " ", "", TTSSettings{}); err == nil {
		t.Fatalf("StartStream() expected error without voice id")
	}
}

func TestNormalizeSettingsClamps(t *testing.T) {
	got := normalizeSettings(TTSSettings{Stability: 3, SimilarityBoost: 0, Speed: 2})
	if got["stability"] != 1.0 {
		t.Fatalf("stability = %v, want 1", got["stability"])
	}
	if got["similarity_boost"] != 0.85 {
		t.Fatalf("similarity_boost = %v, want 0.85", got["similarity_boost"])
	}
	if got["speed"] != 1.2 {
		t.Fatalf("speed = %v, want 1.2", got["speed"])
	}
}
