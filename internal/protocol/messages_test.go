package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseControlMessageUserTurn(t *testing.T) {
	raw := []byte(`{"type":"user_message","message":"hello","text":"hello","request_id":"r1","user_id":"u1","voice_id":"v1","firstName":"Ada","lastName":"L","dob":"1990-01-01","profileDocument":"u1/profile/doc.txt"}`)
	msg, err := ParseControlMessage(raw)
	if err != nil {
		t.Fatalf("ParseControlMessage() error = %v", err)
	}
	turn, ok := msg.(UserTurn)
	if !ok {
		t.Fatalf("message type = %T, want UserTurn", msg)
	}
	if turn.ControlType() != TypeUserMessage || turn.RequestID != "r1" || turn.Utterance() != "hello" {
		t.Fatalf("unexpected user turn: %+v", turn)
	}
}

func TestParseControlMessageUnknownTypeIsNoop(t *testing.T) {
	msg, err := ParseControlMessage([]byte(`{"type":"wat","x":1}`))
	if err != nil {
		t.Fatalf("ParseControlMessage() error = %v", err)
	}
	u, ok := msg.(UnknownControl)
	if !ok {
		t.Fatalf("message type = %T, want UnknownControl", msg)
	}
	if u.Type != "wat" {
		t.Fatalf("Type = %q, want %q", u.Type, "wat")
	}
}

func TestParseControlMessageMalformed(t *testing.T) {
	_, err := ParseControlMessage([]byte(`{not json`))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("error = %v, want ErrMalformedFrame", err)
	}
}

func TestOutboundFieldSets(t *testing.T) {
	id := Identity{UserID: "u1", VoiceID: "v1", FirstName: "Ada", LastName: "L", DOB: "1990-01-01", ProfileDocument: "u1/profile/doc.txt"}
	cases := []struct {
		name string
		msg  any
		keys []string
	}{
		{"connection_init", NewConnectionInit(id), []string{"type", "user_id", "voice_id", "firstName", "lastName", "dob", "profileDocument"}},
		{"heartbeat", NewHeartbeat(id), []string{"type", "user_id", "voice_id", "profileDocument", "value", "text"}},
		{"user_message", NewUserTurn(id, false, "hi", "r1"), []string{"type", "message", "text", "request_id", "user_id", "voice_id", "firstName", "lastName", "dob", "profileDocument"}},
		{"disconnect", NewDisconnect(id, time.Unix(0, 0)), []string{"type", "user_id", "voice_id", "firstName", "lastName", "dob", "profileDocument", "text", "value", "timestamp"}},
	}
	for _, tc := range cases {
		raw, err := json.Marshal(tc.msg)
		if err != nil {
			t.Fatalf("%s: marshal error = %v", tc.name, err)
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			t.Fatalf("%s: unmarshal error = %v", tc.name, err)
		}
		if len(fields) != len(tc.keys) {
			t.Fatalf("%s: fields = %v, want exactly %v", tc.name, fields, tc.keys)
		}
		for _, k := range tc.keys {
			if _, ok := fields[k]; !ok {
				t.Fatalf("%s: missing field %q in %s", tc.name, k, raw)
			}
		}
	}
}

func TestHeartbeatAndDisconnectLiterals(t *testing.T) {
	id := Identity{UserID: "u1", VoiceID: "v1"}
	hb := NewHeartbeat(id)
	if hb.Value != "ping" || hb.Text != "ping" {
		t.Fatalf("heartbeat = %+v, want value/text ping", hb)
	}
	d := NewDisconnect(id, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if d.Text != "disconnect" || d.Value != "cleanup" || d.Timestamp != "2026-01-02T03:04:05Z" {
		t.Fatalf("disconnect = %+v", d)
	}
}

func TestNewUserTurnFirstIsStartConversation(t *testing.T) {
	first := NewUserTurn(Identity{}, true, "a", "r")
	later := NewUserTurn(Identity{}, false, "b", "r")
	if first.Type != TypeStartConversation {
		t.Fatalf("first.Type = %q, want %q", first.Type, TypeStartConversation)
	}
	if later.Type != TypeUserMessage {
		t.Fatalf("later.Type = %q, want %q", later.Type, TypeUserMessage)
	}
}

func BenchmarkParseControlMessageUserTurn(b *testing.B) {
	raw := []byte(`{"type":"user_message","message":"hello there","text":"hello there","request_id":"r1","user_id":"u1","voice_id":"v1"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseControlMessage(raw)
		if err != nil {
			b.Fatalf("ParseControlMessage() error = %v", err)
		}
		if _, ok := msg.(UserTurn); !ok {
			b.Fatalf("message type = %T, want UserTurn", msg)
		}
	}
}
