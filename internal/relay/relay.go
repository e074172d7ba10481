// Package relay runs one conversation socket: it binds the identity sent in
// connection_init, answers heartbeats and turns every user utterance into a
// streamed reply of text_chunk and audio_chunk frames closed by done.
package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/alivehere/internal/brain"
	"github.com/ent0n29/alivehere/internal/directory"
	"github.com/ent0n29/alivehere/internal/logging"
	"github.com/ent0n29/alivehere/internal/observability"
	"github.com/ent0n29/alivehere/internal/protocol"
	"github.com/ent0n29/alivehere/internal/session"
	"github.com/ent0n29/alivehere/internal/storage"
	"github.com/ent0n29/alivehere/internal/transcript"
	"github.com/ent0n29/alivehere/internal/voice"
)

const (
	profileLoadTimeout    = 3 * time.Second
	historyLoadTimeout    = 500 * time.Millisecond
	transcriptSaveTimeout = 2 * time.Second
	criticalSendTimeout   = 600 * time.Millisecond
	ttsDrainTimeout       = 30 * time.Second
)

type Config struct {
	TTSModelID   string
	TTSSettings  voice.TTSSettings
	HistoryLimit int
}

type Relay struct {
	cfg         Config
	sessions    *session.Manager
	brain       brain.Adapter
	tts         voice.TTSProvider
	store       storage.BlobStore
	transcripts transcript.Store
	metrics     *observability.Metrics
	log         logrus.FieldLogger
}

// New builds a relay. store and transcripts may be nil.
func New(
	cfg Config,
	sessions *session.Manager,
	adapter brain.Adapter,
	tts voice.TTSProvider,
	store storage.BlobStore,
	transcripts transcript.Store,
	metrics *observability.Metrics,
	log logrus.FieldLogger,
) *Relay {
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Relay{
		cfg:         cfg,
		sessions:    sessions,
		brain:       adapter,
		tts:         tts,
		store:       store,
		transcripts: transcripts,
		metrics:     metrics,
		log:         log,
	}
}

// identity is what connection_init bound to the socket.
type identity struct {
	userID  string
	voiceID string
	persona brain.Persona
}

// RunConnection consumes inbound control messages until the channel closes,
// ctx is done, or the client disconnects. It returns only after every turn it
// started has stopped writing to outbound.
func (r *Relay) RunConnection(ctx context.Context, s *session.Session, inbound <-chan protocol.ControlMessage, outbound chan<- any) error {
	log := r.log.WithField("session_id", s.ID)

	var (
		turnMu     sync.Mutex
		turnCancel context.CancelFunc
		turnWG     sync.WaitGroup
		bound      *identity
	)
	cancelTurn := func() {
		turnMu.Lock()
		if turnCancel != nil {
			turnCancel()
			turnCancel = nil
		}
		turnMu.Unlock()
	}
	defer func() {
		cancelTurn()
		turnWG.Wait()
	}()

	for {
		var msg protocol.ControlMessage
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-inbound:
			if !ok {
				return nil
			}
			msg = m
		}

		switch m := msg.(type) {
		case protocol.ConnectionInit:
			id, ok := r.handleInit(ctx, s.ID, m, outbound, log)
			if ok {
				bound = id
			}

		case protocol.Heartbeat:
			if err := r.sessions.Touch(s.ID); err != nil {
				r.sessionGone(ctx, outbound, log, err)
				return err
			}
			r.send(ctx, outbound, protocol.HeartbeatAck{Type: protocol.TypeHeartbeatAck})

		case protocol.UserTurn:
			if bound == nil {
				r.send(ctx, outbound, protocol.NewError("not_initialized", "connection_init must succeed before "+string(m.Type), false, m.RequestID))
				continue
			}
			text := strings.TrimSpace(m.Utterance())
			if text == "" {
				r.send(ctx, outbound, protocol.NewError("empty_message", "message text is required", false, m.RequestID))
				continue
			}

			// Claim the turn before canceling so a turn still streaming counts
			// as interrupted.
			turnID := uuid.NewString()
			interrupted, err := r.sessions.StartTurn(s.ID, turnID)
			cancelTurn()
			if err != nil {
				r.sessionGone(ctx, outbound, log, err)
				return err
			}
			if interrupted {
				r.metrics.SessionEvents.WithLabelValues("turn_interrupted").Inc()
			}

			turnCtx, cancel := context.WithCancel(ctx)
			turnMu.Lock()
			turnCancel = cancel
			turnMu.Unlock()

			t := turn{
				sessionID: s.ID,
				turnID:    turnID,
				requestID: m.RequestID,
				text:      text,
				who:       *bound,
			}
			turnWG.Add(1)
			go func() {
				defer turnWG.Done()
				defer cancel()
				r.runTurn(turnCtx, t, outbound, log)
			}()

		case protocol.Disconnect:
			cancelTurn()
			if _, err := r.sessions.End(s.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
				log.WithError(err).Warn("end session failed")
			}
			r.metrics.SessionEvents.WithLabelValues("client_disconnect").Inc()
			log.WithField("value", m.Value).Info("client disconnected")
			return nil

		case protocol.UnknownControl:
			r.metrics.SessionEvents.WithLabelValues("unknown_control").Inc()
			log.WithField("frame_type", string(m.Type)).Debug("ignoring unknown control message")
		}
	}
}

func (r *Relay) handleInit(ctx context.Context, sessionID string, m protocol.ConnectionInit, outbound chan<- any, log logrus.FieldLogger) (*identity, bool) {
	userID := strings.TrimSpace(m.UserID)
	voiceID := strings.TrimSpace(m.VoiceID)
	if userID == "" || voiceID == "" {
		r.send(ctx, outbound, protocol.NewError("invalid_init", "user_id and voice_id are required", false, ""))
		return nil, false
	}

	id := &identity{
		userID:  userID,
		voiceID: voiceID,
		persona: brain.Persona{
			FirstName: strings.TrimSpace(m.FirstName),
			LastName:  strings.TrimSpace(m.LastName),
			DOB:       strings.TrimSpace(m.DOB),
		},
	}
	path := strings.TrimSpace(m.ProfileDocument)
	if path != "" && !ownsProfileDocument(userID, path) {
		log.WithField("profile_document", path).Warn("profile document outside user profile; ignoring")
		r.metrics.DirectoryLookups.WithLabelValues("profile_document", "rejected").Inc()
		path = ""
	}
	if path != "" && r.store != nil {
		loadCtx, cancel := context.WithTimeout(ctx, profileLoadTimeout)
		doc, err := directory.LoadProfileDocument(loadCtx, r.store, path)
		cancel()
		if err != nil {
			log.WithError(err).WithField("profile_document", path).Warn("profile document unavailable")
			r.metrics.DirectoryLookups.WithLabelValues("profile_document", "error").Inc()
		} else {
			id.persona.Document = doc
			r.metrics.DirectoryLookups.WithLabelValues("profile_document", "ok").Inc()
		}
	}

	if _, err := r.sessions.Initialize(sessionID, userID, voiceID, path); err != nil {
		r.send(ctx, outbound, protocol.NewError("session_not_found", err.Error(), false, ""))
		return nil, false
	}
	r.metrics.SessionEvents.WithLabelValues("initialized").Inc()
	log.WithFields(logrus.Fields{"user_id": userID, "voice_id": voiceID}).Info("connection initialized")
	r.send(ctx, outbound, protocol.ConnectionAck{Type: protocol.TypeConnectionAck, SessionID: sessionID})
	return id, true
}

// ownsProfileDocument reports whether path names an object under the
// user's own profile prefix.
func ownsProfileDocument(userID, path string) bool {
	if strings.Contains(path, "..") {
		return false
	}
	return strings.HasPrefix(path, storage.Key(userID, storage.CategoryProfile)+"/")
}

func (r *Relay) sessionGone(ctx context.Context, outbound chan<- any, log logrus.FieldLogger, err error) {
	log.WithError(err).Info("session no longer live")
	r.send(ctx, outbound, protocol.NewError("session_expired", err.Error(), false, ""))
}

// send queues msg for the socket writer. Text chunks are dropped when the
// queue is full; every other frame waits briefly.
func (r *Relay) send(ctx context.Context, outbound chan<- any, msg protocol.ResponseFrame) bool {
	if ctx.Err() != nil {
		return false
	}
	msgType := string(msg.FrameType())

	if msg.FrameType() == protocol.TypeTextChunk {
		select {
		case outbound <- msg:
			r.metrics.ObserveOutboundMessage(msgType, "delivered")
			return true
		default:
			r.metrics.ObserveOutboundMessage(msgType, "drop_full")
			return false
		}
	}

	timer := time.NewTimer(criticalSendTimeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
		r.metrics.ObserveOutboundMessage(msgType, "delivered")
		return true
	case <-ctx.Done():
		r.metrics.ObserveOutboundMessage(msgType, "canceled")
		return false
	case <-timer.C:
		r.metrics.ObserveOutboundMessage(msgType, "timeout")
		return false
	}
}
