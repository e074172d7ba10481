package protocol

import (
	"encoding/json"
	"fmt"
)

// ResponseFrame is a server to client frame. UnknownFrame is the catch-all
// arm and must always be treated as a no-op.
type ResponseFrame interface {
	FrameType() MessageType
	isFrame()
}

type ConnectionAck struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
}

type HeartbeatAck struct {
	Type MessageType `json:"type"`
}

type TextChunk struct {
	Type      MessageType `json:"type"`
	Data      string      `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// AudioChunk carries one base64 encoded compressed audio fragment. Older
// backends put the payload in data instead of audio_data; Payload handles both.
type AudioChunk struct {
	Type       MessageType `json:"type"`
	ChunkIndex *int        `json:"chunk_index,omitempty"`
	AudioData  string      `json:"audio_data,omitempty"`
	Data       string      `json:"data,omitempty"`
	Format     string      `json:"format,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
}

type Done struct {
	Type      MessageType `json:"type"`
	Data      string      `json:"data,omitempty"`
	Text      string      `json:"text,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

type ErrorFrame struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
	Retryable bool        `json:"retryable"`
	RequestID string      `json:"request_id,omitempty"`
}

type UnknownFrame struct {
	Type MessageType
	Raw  json.RawMessage
}

func (ConnectionAck) FrameType() MessageType  { return TypeConnectionAck }
func (HeartbeatAck) FrameType() MessageType   { return TypeHeartbeatAck }
func (TextChunk) FrameType() MessageType      { return TypeTextChunk }
func (AudioChunk) FrameType() MessageType     { return TypeAudioChunk }
func (Done) FrameType() MessageType           { return TypeDone }
func (ErrorFrame) FrameType() MessageType     { return TypeError }
func (f UnknownFrame) FrameType() MessageType { return f.Type }

func (ConnectionAck) isFrame() {}
func (HeartbeatAck) isFrame()  {}
func (TextChunk) isFrame()     {}
func (AudioChunk) isFrame()    {}
func (Done) isFrame()          {}
func (ErrorFrame) isFrame()    {}
func (UnknownFrame) isFrame()  {}

func (f AudioChunk) Payload() string {
	if f.AudioData != "" {
		return f.AudioData
	}
	return f.Data
}

func (f Done) FinalText() string {
	if f.Data != "" {
		return f.Data
	}
	return f.Text
}

// TurnRequestID returns the request_id a turn frame was tagged with, if any.
func TurnRequestID(f ResponseFrame) string {
	switch m := f.(type) {
	case TextChunk:
		return m.RequestID
	case AudioChunk:
		return m.RequestID
	case Done:
		return m.RequestID
	case ErrorFrame:
		return m.RequestID
	default:
		return ""
	}
}

// ParseResponseFrame decodes one server frame.
func ParseResponseFrame(raw []byte) (ResponseFrame, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var (
		out ResponseFrame
		err error
	)
	switch env.Type {
	case TypeConnectionAck:
		var f ConnectionAck
		err = json.Unmarshal(raw, &f)
		out = f
	case TypeHeartbeatAck:
		out = HeartbeatAck{Type: TypeHeartbeatAck}
	case TypeTextChunk:
		var f TextChunk
		err = json.Unmarshal(raw, &f)
		out = f
	case TypeAudioChunk:
		var f AudioChunk
		err = json.Unmarshal(raw, &f)
		out = f
	case TypeDone:
		var f Done
		err = json.Unmarshal(raw, &f)
		out = f
	case TypeError:
		var f ErrorFrame
		err = json.Unmarshal(raw, &f)
		out = f
	default:
		return UnknownFrame{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return out, nil
}

func NewTextChunk(data, requestID string) TextChunk {
	return TextChunk{Type: TypeTextChunk, Data: data, RequestID: requestID}
}

func NewAudioChunk(index int, audioBase64, format, requestID string) AudioChunk {
	i := index
	return AudioChunk{Type: TypeAudioChunk, ChunkIndex: &i, AudioData: audioBase64, Format: format, RequestID: requestID}
}

func NewDone(text, requestID string) Done {
	return Done{Type: TypeDone, Text: text, RequestID: requestID}
}

func NewError(code, detail string, retryable bool, requestID string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: code, Detail: detail, Retryable: retryable, RequestID: requestID}
}
