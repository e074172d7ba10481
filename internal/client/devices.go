package client

import (
	"context"
	"time"
)

// Clip is one decoded, playable audio buffer.
type Clip interface {
	Duration() time.Duration
}

// Decoder turns one compressed audio payload into a playable clip.
type Decoder interface {
	Decode(data []byte, format string) (Clip, error)
}

// Source is a clip that is currently playing. Done is closed when playback
// ends, either naturally or through Stop.
type Source interface {
	Done() <-chan struct{}
	Stop()
}

// Player starts playback of a clip through a gain stage.
type Player interface {
	Play(clip Clip, gain float64) (Source, error)
}

// Synthesizer speaks text locally when a turn arrived without audio.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// Microphone grants capture permission. A nil error means granted.
type Microphone interface {
	RequestPermission(ctx context.Context) error
}

// Result is one recognizer hypothesis.
type Result struct {
	Text  string
	Final bool
}

// Recognizer transcribes a single utterance with interim results. Callbacks
// may run on any goroutine and may keep arriving shortly after Stop.
type Recognizer interface {
	Start(onResult func(Result), onError func(error)) error
	Stop()
}

// Devices bundles the platform collaborators of a client. Any of them may be
// nil; the matching feature is then disabled.
type Devices struct {
	Decoder       Decoder
	Player        Player
	Synthesizer   Synthesizer
	Microphone    Microphone
	NewRecognizer func() (Recognizer, error)
}

// RawClip is a Clip holding undecoded bytes, for sinks that store audio as is.
type RawClip struct {
	Data   []byte
	Format string
}

func (RawClip) Duration() time.Duration { return 0 }

// PassthroughDecoder wraps payloads in RawClip without decoding.
type PassthroughDecoder struct{}

func (PassthroughDecoder) Decode(data []byte, format string) (Clip, error) {
	return RawClip{Data: data, Format: format}, nil
}
