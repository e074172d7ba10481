package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	// StatusConnected is a socket that has not completed connection_init.
	StatusConnected   Status = "connected"
	StatusInitialized Status = "initialized"
	StatusEnded       Status = "ended"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID                  string    `json:"session_id"`
	RemoteAddr          string    `json:"remote_addr,omitempty"`
	UserID              string    `json:"user_id"`
	VoiceID             string    `json:"voice_id"`
	ProfileDocumentPath string    `json:"profile_document_path,omitempty"`
	Status              Status    `json:"status"`
	ActiveTurnID        string    `json:"active_turn_id"`
	TurnCount           int       `json:"turn_count"`
	InterruptionCount   int       `json:"interruption_count"`
	StartedAt           time.Time `json:"started_at"`
	LastActivityAt      time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

// Create registers a freshly opened socket.
func (m *Manager) Create(remoteAddr string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		RemoteAddr:     remoteAddr,
		Status:         StatusConnected,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Initialize binds the identity carried by connection_init. Re-initializing
// an initialized session replaces the identity.
func (m *Manager) Initialize(sessionID, userID, voiceID, profilePath string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.liveLocked(sessionID)
	if err != nil {
		return nil, err
	}
	s.UserID = userID
	s.VoiceID = voiceID
	s.ProfileDocumentPath = profilePath
	s.Status = StatusInitialized
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.liveLocked(sessionID)
	if err != nil {
		return err
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// StartTurn makes turnID the active turn. It reports whether a previous turn
// was still active and therefore interrupted.
func (m *Manager) StartTurn(sessionID, turnID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.liveLocked(sessionID)
	if err != nil {
		return false, err
	}
	interrupted := s.ActiveTurnID != ""
	if interrupted {
		s.InterruptionCount++
	}
	s.ActiveTurnID = turnID
	s.TurnCount++
	s.LastActivityAt = time.Now().UTC()
	return interrupted, nil
}

// FinishTurn clears the active turn if it is still turnID.
func (m *Manager) FinishTurn(sessionID, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.ActiveTurnID == turnID {
		s.ActiveTurnID = ""
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End marks the session ended and forgets it.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
	delete(m.sessions, sessionID)
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status != StatusEnded {
			count++
		}
	}
	return count
}

func (m *Manager) Snapshot(sessionID string) (Snapshot, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		SessionID:       s.ID,
		UserID:          s.UserID,
		VoiceID:         s.VoiceID,
		Status:          s.Status,
		TurnCount:       s.TurnCount,
		StartedAt:       s.StartedAt,
		LastActivityAt:  s.LastActivityAt,
		InactivityTTLMS: m.inactivityTimeout.Milliseconds(),
	}, nil
}

func (m *Manager) liveLocked(sessionID string) (*Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok || s.Status == StatusEnded {
		return nil, ErrNotFound
	}
	return s, nil
}

// expireInactive ends sessions whose heartbeats stopped. The hook runs after
// the lock is released so it may call back into the manager.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.ActiveTurnID = ""
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		delete(m.sessions, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
