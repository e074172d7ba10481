// Package brain adapts the persona backend that turns a user utterance into
// streamed reply text.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Persona describes whose voice and memories the reply should come from.
type Persona struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	DOB       string `json:"dob,omitempty"`
	Document  string `json:"profile_document,omitempty"`
}

// HistoryTurn is one prior utterance, oldest first in Request.History.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the normalized request sent to the persona backend.
type Request struct {
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id"`
	TurnID    string        `json:"turn_id"`
	RequestID string        `json:"request_id,omitempty"`
	InputText string        `json:"input_text"`
	Persona   Persona       `json:"persona"`
	History   []HistoryTurn `json:"history,omitempty"`
}

// Response is the final reply after streaming deltas.
type Response struct {
	Text string `json:"text"`
}

// DeltaHandler receives streamed text fragments in order.
type DeltaHandler func(delta string) error

type Adapter interface {
	StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode       string
	HTTPURL    string
	HTTPStrict bool
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAdapterWithOptions(cfg.HTTPURL, cfg.HTTPStrict), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		return NewHTTPAdapterWithOptions(cfg.HTTPURL, cfg.HTTPStrict), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain adapter mode %q", cfg.Mode)
	}
}
