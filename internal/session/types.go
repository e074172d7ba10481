package session

import "time"

// Snapshot is the public view of a session returned by status endpoints.
type Snapshot struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id,omitempty"`
	VoiceID         string    `json:"voice_id,omitempty"`
	Status          Status    `json:"status"`
	TurnCount       int       `json:"turn_count"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
