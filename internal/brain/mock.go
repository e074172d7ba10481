package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter gives deterministic local replies when no backend is configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text}, nil
}

func buildMockReply(req Request) string {
	base := strings.TrimSpace(req.InputText)
	if base == "" {
		base = "I am listening."
	}
	reply := fmt.Sprintf("I heard you: %s", base)
	if name := strings.TrimSpace(req.Persona.FirstName); name != "" {
		reply = fmt.Sprintf("It's %s. %s", name, reply)
	}

	if len(req.History) == 0 {
		return reply
	}
	last := strings.TrimSpace(req.History[len(req.History)-1].Content)
	if last == "" {
		return reply
	}
	return fmt.Sprintf("%s\nI also remember: %s", reply, last)
}
