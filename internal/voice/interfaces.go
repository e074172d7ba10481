// Package voice streams reply text to a text-to-speech provider and yields
// encoded audio in the cloned voice of the persona.
package voice

import "context"

type TTSEventType string

const (
	TTSEventAudio TTSEventType = "audio"
	TTSEventFinal TTSEventType = "final"
	TTSEventError TTSEventType = "error"
)

type TTSEvent struct {
	Type        TTSEventType
	AudioBase64 string
	Format      string
	Code        string
	Detail      string
	Retryable   bool
}

type TTSSettings struct {
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

// TTSStream accepts text incrementally. Events is closed when the stream ends.
type TTSStream interface {
	SendText(ctx context.Context, text string, tryTrigger bool) error
	CloseInput(ctx context.Context) error
	Events() <-chan TTSEvent
	Close() error
}

type TTSProvider interface {
	StartStream(ctx context.Context, voiceID, modelID string, settings TTSSettings) (TTSStream, error)
}
