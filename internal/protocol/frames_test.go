package protocol

import (
	"errors"
	"testing"
)

func TestParseResponseFrameAudioChunkLegacyData(t *testing.T) {
	f, err := ParseResponseFrame([]byte(`{"type":"audio_chunk","chunk_index":3,"data":"AQID"}`))
	if err != nil {
		t.Fatalf("ParseResponseFrame() error = %v", err)
	}
	a, ok := f.(AudioChunk)
	if !ok {
		t.Fatalf("frame type = %T, want AudioChunk", f)
	}
	if a.Payload() != "AQID" {
		t.Fatalf("Payload() = %q, want %q", a.Payload(), "AQID")
	}
	if a.ChunkIndex == nil || *a.ChunkIndex != 3 {
		t.Fatalf("ChunkIndex = %v, want 3", a.ChunkIndex)
	}
}

func TestParseResponseFrameAudioChunkPrefersAudioData(t *testing.T) {
	f, err := ParseResponseFrame([]byte(`{"type":"audio_chunk","audio_data":"BBBB","data":"AAAA"}`))
	if err != nil {
		t.Fatalf("ParseResponseFrame() error = %v", err)
	}
	if got := f.(AudioChunk).Payload(); got != "BBBB" {
		t.Fatalf("Payload() = %q, want %q", got, "BBBB")
	}
}

func TestParseResponseFrameDoneText(t *testing.T) {
	f, err := ParseResponseFrame([]byte(`{"type":"done","text":"bye","request_id":"r9"}`))
	if err != nil {
		t.Fatalf("ParseResponseFrame() error = %v", err)
	}
	d := f.(Done)
	if d.FinalText() != "bye" || TurnRequestID(d) != "r9" {
		t.Fatalf("unexpected done: %+v", d)
	}
}

func TestParseResponseFrameUnknown(t *testing.T) {
	f, err := ParseResponseFrame([]byte(`{"type":"shiny_new_thing"}`))
	if err != nil {
		t.Fatalf("ParseResponseFrame() error = %v", err)
	}
	if _, ok := f.(UnknownFrame); !ok {
		t.Fatalf("frame type = %T, want UnknownFrame", f)
	}
}

func TestParseResponseFrameMalformed(t *testing.T) {
	if _, err := ParseResponseFrame([]byte(`[]`)); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("error = %v, want ErrMalformedFrame", err)
	}
	if _, err := ParseResponseFrame([]byte(`{"type":"text_chunk","data":5}`)); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("error = %v, want ErrMalformedFrame", err)
	}
}
