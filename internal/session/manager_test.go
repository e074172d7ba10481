package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerCreateInitializeEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("127.0.0.1:5000")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if s.Status != StatusConnected {
		t.Fatalf("Status = %q, want %q", s.Status, StatusConnected)
	}

	got, err := m.Initialize(s.ID, "u1", "voice-1", "u1/profile/about.txt")
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got.UserID != "u1" || got.VoiceID != "voice-1" || got.Status != StatusInitialized {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after End error = %v, want ErrNotFound", err)
	}
}

func TestManagerStartTurnReportsInterruption(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("")
	interrupted, err := m.StartTurn(s.ID, "turn-1")
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if interrupted {
		t.Fatalf("first turn reported an interruption")
	}
	interrupted, err = m.StartTurn(s.ID, "turn-2")
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if !interrupted {
		t.Fatalf("second turn over an active one did not report an interruption")
	}

	// A late finish for the interrupted turn must not clear the new one.
	if err := m.FinishTurn(s.ID, "turn-1"); err != nil {
		t.Fatalf("FinishTurn() error = %v", err)
	}
	got, _ := m.Get(s.ID)
	if got.ActiveTurnID != "turn-2" {
		t.Fatalf("ActiveTurnID = %q, want turn-2", got.ActiveTurnID)
	}
	if got.InterruptionCount != 1 || got.TurnCount != 2 {
		t.Fatalf("counts = %d interruptions / %d turns, want 1 / 2", got.InterruptionCount, got.TurnCount)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	var expired atomic.Int32
	m.SetExpireHook(func(*Session) { expired.Add(1) })
	s := m.Create("")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(120 * time.Millisecond)
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if expired.Load() != 1 {
		t.Fatalf("expire hook calls = %d, want 1", expired.Load())
	}
}
