package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/alivehere/internal/reliability"
)

const streamDoneMarker = "[DONE]"

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("brain http status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

// HTTPAdapter forwards requests to an HTTP endpoint that replies with SSE,
// NDJSON, a JSON object or plain text.
type HTTPAdapter struct {
	url    string
	strict bool
	client *http.Client
}

func NewHTTPAdapter(url string) *HTTPAdapter {
	return NewHTTPAdapterWithOptions(url, false)
}

// NewHTTPAdapterWithOptions builds an adapter. In strict mode a streamed line
// that is not valid JSON fails the turn instead of being read as raw text.
func NewHTTPAdapterWithOptions(url string, strict bool) *HTTPAdapter {
	return &HTTPAdapter{
		url:    strings.TrimSpace(url),
		strict: strict,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *HTTPAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "text/event-stream"):
		return a.consumeSSE(res.Body, onDelta)
	case strings.Contains(ct, "application/x-ndjson"):
		return a.consumeNDJSON(res.Body, onDelta)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		text := strings.TrimSpace(string(body))
		if text == "" {
			return Response{}, nil
		}
		if onDelta != nil {
			if err := onDelta(text); err != nil {
				return Response{}, err
			}
		}
		return Response{Text: text}, nil
	}

	text := extractText(obj)
	if text != "" && onDelta != nil {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text}, nil
}

// consumeSSE reads "data:" lines. Comments, other fields and blank lines are
// skipped.
func (a *HTTPAdapter) consumeSSE(body io.Reader, onDelta DeltaHandler) (Response, error) {
	var out strings.Builder
	err := scanLines(body, func(line string) (bool, error) {
		if !strings.HasPrefix(line, "data:") {
			return false, nil
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		return a.emit(data, &out, onDelta)
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Text: out.String()}, nil
}

func (a *HTTPAdapter) consumeNDJSON(body io.Reader, onDelta DeltaHandler) (Response, error) {
	var out strings.Builder
	err := scanLines(body, func(line string) (bool, error) {
		return a.emit(line, &out, onDelta)
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Text: out.String()}, nil
}

// emit handles one payload line and reports whether the stream is finished.
func (a *HTTPAdapter) emit(data string, out *strings.Builder, onDelta DeltaHandler) (bool, error) {
	if strings.TrimSpace(data) == streamDoneMarker {
		return true, nil
	}
	delta := data
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &obj); err == nil {
		delta = extractText(obj)
	} else if a.strict {
		return false, fmt.Errorf("invalid stream payload %q: %w", truncate(data, 64), err)
	}
	if delta == "" {
		return false, nil
	}
	out.WriteString(delta)
	if onDelta != nil {
		if err := onDelta(delta); err != nil {
			return false, err
		}
	}
	return false, nil
}

func scanLines(body io.Reader, fn func(line string) (bool, error)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") {
			continue
		}
		done, err := fn(line)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
