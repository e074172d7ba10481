package brain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPAdapterConsumeSSE(t *testing.T) {
	a := NewHTTPAdapterWithOptions("http://example.test", false)
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		"data: {\"delta\":\"Hel\"}",
		"",
		"event: ignored",
		"data: {\"delta\":\"lo\"}",
		"",
		"data: [DONE]",
		"",
		"data: {\"delta\":\"late\"}",
	}, "\n"))

	var deltas []string
	resp, err := a.consumeSSE(stream, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("consumeSSE() error = %v", err)
	}
	if resp.Text != "Hello" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "Hello")
	}
	if len(deltas) != 2 {
		t.Fatalf("len(deltas) = %d, want 2", len(deltas))
	}
}

func TestHTTPAdapterConsumeSSEStrictInvalidJSON(t *testing.T) {
	a := NewHTTPAdapterWithOptions("http://example.test", true)
	_, err := a.consumeSSE(strings.NewReader("data: {not-json}\n\n"), nil)
	if err == nil {
		t.Fatalf("consumeSSE() expected error for invalid strict payload")
	}
}

func TestHTTPAdapterConsumeNDJSON(t *testing.T) {
	a := NewHTTPAdapterWithOptions("http://example.test", false)
	stream := strings.NewReader(strings.Join([]string{
		"{\"delta\":\"Hi\"}",
		" there",
		"[DONE]",
	}, "\n"))

	resp, err := a.consumeNDJSON(stream, nil)
	if err != nil {
		t.Fatalf("consumeNDJSON() error = %v", err)
	}
	if resp.Text != "Hi there" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "Hi there")
	}
}

func TestHTTPAdapterConsumeNDJSONStrictInvalidJSON(t *testing.T) {
	a := NewHTTPAdapterWithOptions("http://example.test", true)
	if _, err := a.consumeNDJSON(strings.NewReader("not-json\n"), nil); err == nil {
		t.Fatalf("consumeNDJSON() expected error for strict invalid payload")
	}
}

func TestHTTPAdapterPostsRequestAndReadsJSON(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello back"}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	resp, err := a.StreamResponse(context.Background(), Request{
		UserID:    "u1",
		RequestID: "r1",
		InputText: "hello",
		Persona:   Persona{FirstName: "Ada"},
	}, nil)
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if resp.Text != "hello back" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "hello back")
	}
	if got.RequestID != "r1" || got.Persona.FirstName != "Ada" {
		t.Fatalf("request = %+v", got)
	}
}

func TestHTTPAdapterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPAdapter(srv.URL).StreamResponse(context.Background(), Request{InputText: "x"}, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.Code != http.StatusTooManyRequests || !statusErr.Retryable() {
		t.Fatalf("status error = %+v, want retryable 429", statusErr)
	}
}
