package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeConnectionInit    MessageType = "connection_init"
	TypeHeartbeat         MessageType = "heartbeat"
	TypeStartConversation MessageType = "start_conversation"
	TypeUserMessage       MessageType = "user_message"
	TypeDisconnect        MessageType = "disconnect"

	TypeConnectionAck MessageType = "connection_ack"
	TypeHeartbeatAck  MessageType = "heartbeat_ack"
	TypeTextChunk     MessageType = "text_chunk"
	TypeAudioChunk    MessageType = "audio_chunk"
	TypeDone          MessageType = "done"
	TypeError         MessageType = "error"
)

const (
	HeartbeatValue  = "ping"
	DisconnectText  = "disconnect"
	DisconnectValue = "cleanup"
	// LegacyHeartbeatReply is what older backends stream back on the text
	// channel in answer to a heartbeat.
	LegacyHeartbeatReply = "pong!"
)

var ErrMalformedFrame = errors.New("malformed frame")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Identity is the per-session block repeated on every control message.
type Identity struct {
	UserID          string
	VoiceID         string
	FirstName       string
	LastName        string
	DOB             string
	ProfileDocument string
}

// ControlMessage is a client to server frame. The set of implementations is
// closed; UnknownControl carries any type this build does not understand.
type ControlMessage interface {
	ControlType() MessageType
	isControl()
}

type ConnectionInit struct {
	Type            MessageType `json:"type"`
	UserID          string      `json:"user_id"`
	VoiceID         string      `json:"voice_id"`
	FirstName       string      `json:"firstName"`
	LastName        string      `json:"lastName"`
	DOB             string      `json:"dob"`
	ProfileDocument string      `json:"profileDocument"`
}

type Heartbeat struct {
	Type            MessageType `json:"type"`
	UserID          string      `json:"user_id"`
	VoiceID         string      `json:"voice_id"`
	ProfileDocument string      `json:"profileDocument"`
	Value           string      `json:"value"`
	Text            string      `json:"text"`
}

// UserTurn is either start_conversation (first turn of a session) or
// user_message (every later turn). Both share one shape.
type UserTurn struct {
	Type            MessageType `json:"type"`
	Message         string      `json:"message"`
	Text            string      `json:"text"`
	RequestID       string      `json:"request_id"`
	UserID          string      `json:"user_id"`
	VoiceID         string      `json:"voice_id"`
	FirstName       string      `json:"firstName"`
	LastName        string      `json:"lastName"`
	DOB             string      `json:"dob"`
	ProfileDocument string      `json:"profileDocument"`
}

type Disconnect struct {
	Type            MessageType `json:"type"`
	UserID          string      `json:"user_id"`
	VoiceID         string      `json:"voice_id"`
	FirstName       string      `json:"firstName"`
	LastName        string      `json:"lastName"`
	DOB             string      `json:"dob"`
	ProfileDocument string      `json:"profileDocument"`
	Text            string      `json:"text"`
	Value           string      `json:"value"`
	Timestamp       string      `json:"timestamp"`
}

type UnknownControl struct {
	Type MessageType
	Raw  json.RawMessage
}

func (ConnectionInit) ControlType() MessageType   { return TypeConnectionInit }
func (Heartbeat) ControlType() MessageType        { return TypeHeartbeat }
func (m UserTurn) ControlType() MessageType       { return m.Type }
func (Disconnect) ControlType() MessageType       { return TypeDisconnect }
func (m UnknownControl) ControlType() MessageType { return m.Type }

func (ConnectionInit) isControl() {}
func (Heartbeat) isControl()      {}
func (UserTurn) isControl()       {}
func (Disconnect) isControl()     {}
func (UnknownControl) isControl() {}

func NewConnectionInit(id Identity) ConnectionInit {
	return ConnectionInit{
		Type:            TypeConnectionInit,
		UserID:          id.UserID,
		VoiceID:         id.VoiceID,
		FirstName:       id.FirstName,
		LastName:        id.LastName,
		DOB:             id.DOB,
		ProfileDocument: id.ProfileDocument,
	}
}

func NewHeartbeat(id Identity) Heartbeat {
	return Heartbeat{
		Type:            TypeHeartbeat,
		UserID:          id.UserID,
		VoiceID:         id.VoiceID,
		ProfileDocument: id.ProfileDocument,
		Value:           HeartbeatValue,
		Text:            HeartbeatValue,
	}
}

// NewUserTurn builds start_conversation when first is true, user_message otherwise.
func NewUserTurn(id Identity, first bool, text, requestID string) UserTurn {
	t := TypeUserMessage
	if first {
		t = TypeStartConversation
	}
	return UserTurn{
		Type:            t,
		Message:         text,
		Text:            text,
		RequestID:       requestID,
		UserID:          id.UserID,
		VoiceID:         id.VoiceID,
		FirstName:       id.FirstName,
		LastName:        id.LastName,
		DOB:             id.DOB,
		ProfileDocument: id.ProfileDocument,
	}
}

func NewDisconnect(id Identity, now time.Time) Disconnect {
	return Disconnect{
		Type:            TypeDisconnect,
		UserID:          id.UserID,
		VoiceID:         id.VoiceID,
		FirstName:       id.FirstName,
		LastName:        id.LastName,
		DOB:             id.DOB,
		ProfileDocument: id.ProfileDocument,
		Text:            DisconnectText,
		Value:           DisconnectValue,
		Timestamp:       now.UTC().Format(time.RFC3339Nano),
	}
}

// Utterance returns the turn text, preferring message over text.
func (m UserTurn) Utterance() string {
	if m.Message != "" {
		return m.Message
	}
	return m.Text
}

// ParseControlMessage decodes one client frame. Unknown types are returned as
// UnknownControl with a nil error so callers can log and move on.
func ParseControlMessage(raw []byte) (ControlMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case TypeConnectionInit:
		var msg ConnectionInit
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return msg, nil
	case TypeHeartbeat:
		var msg Heartbeat
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return msg, nil
	case TypeStartConversation, TypeUserMessage:
		var msg UserTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return msg, nil
	case TypeDisconnect:
		var msg Disconnect
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return msg, nil
	default:
		return UnknownControl{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}
