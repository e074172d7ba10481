package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/alivehere/internal/config"
	"github.com/ent0n29/alivehere/internal/directory"
	"github.com/ent0n29/alivehere/internal/logging"
	"github.com/ent0n29/alivehere/internal/observability"
	"github.com/ent0n29/alivehere/internal/protocol"
	"github.com/ent0n29/alivehere/internal/session"
	"github.com/ent0n29/alivehere/internal/storage"
)

const (
	wsReadLimit    = 2 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsQueueSize    = 256
)

type Runner interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan protocol.ControlMessage, outbound chan<- any) error
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	runner    Runner
	directory directory.Directory
	store     storage.BlobStore
	metrics   *observability.Metrics
	log       logrus.FieldLogger
	upgrader  websocket.Upgrader
}

func New(
	cfg config.Config,
	sessions *session.Manager,
	runner Runner,
	dir directory.Directory,
	store storage.BlobStore,
	metrics *observability.Metrics,
	log logrus.FieldLogger,
) *Server {
	if log == nil {
		log = logging.Discard()
	}
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		runner:    runner,
		directory: dir,
		store:     store,
		metrics:   metrics,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// Router serves the API routes and accepts the conversation socket on "/"
// and on any path that is not otherwise routed.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/voice/{userID}", s.handleVoice)
		r.Get("/profile/{userID}", s.handleProfile)
		r.Get("/profile/{userID}/document-url", s.handleProfileDocumentURL)
		r.Get("/session/{id}", s.handleSessionSnapshot)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.handleConversationWS(w, r)
			return
		}
		respondError(w, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
	})
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleConversationWS(w, r)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"service":         "alivehere",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	state := "ready"
	if s.runner == nil || s.directory == nil {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	respondJSON(w, status, map[string]any{
		"status":          state,
		"storage_backend": s.cfg.StorageBackend,
		"brain_mode":      s.cfg.BrainMode,
		"tts_provider":    s.cfg.TTSProvider,
	})
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if !s.requireDirectory(w, userID) {
		return
	}
	voiceID, err := s.directory.VoiceID(r.Context(), userID)
	if err != nil {
		s.lookupFailed(w, "voice", userID, err)
		return
	}
	s.metrics.DirectoryLookups.WithLabelValues("voice", "ok").Inc()
	respondJSON(w, http.StatusOK, map[string]string{"user_id": userID, "voice_id": voiceID})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if !s.requireDirectory(w, userID) {
		return
	}
	profile, err := s.directory.Profile(r.Context(), userID)
	if err != nil {
		s.lookupFailed(w, "profile", userID, err)
		return
	}
	s.metrics.DirectoryLookups.WithLabelValues("profile", "ok").Inc()
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleProfileDocumentURL(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if !s.requireDirectory(w, userID) {
		return
	}
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "object store not configured")
		return
	}
	profile, err := s.directory.Profile(r.Context(), userID)
	if err != nil {
		s.lookupFailed(w, "profile", userID, err)
		return
	}
	doc := strings.TrimSpace(profile.ProfileDocument)
	if doc == "" {
		respondError(w, http.StatusNotFound, "profile_document_missing", "profile has no document")
		return
	}
	ttl := s.cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	signed, err := s.store.SignedURL(r.Context(), doc, ttl)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "profile_document_missing", err.Error())
			return
		}
		s.log.WithError(err).WithField("user_id", userID).Warn("sign profile document failed")
		respondError(w, http.StatusBadGateway, "storage_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"url":        signed,
		"expires_at": time.Now().Add(ttl).UTC(),
	})
}

func (s *Server) handleSessionSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) requireDirectory(w http.ResponseWriter, userID string) bool {
	if s.directory == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "directory not configured")
		return false
	}
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return false
	}
	return true
}

func (s *Server) lookupFailed(w http.ResponseWriter, kind, userID string, err error) {
	switch {
	case errors.Is(err, directory.ErrVoiceNotFound):
		s.metrics.DirectoryLookups.WithLabelValues(kind, "not_found").Inc()
		respondError(w, http.StatusNotFound, "voice_not_found", err.Error())
	case errors.Is(err, directory.ErrProfileNotFound):
		s.metrics.DirectoryLookups.WithLabelValues(kind, "not_found").Inc()
		respondError(w, http.StatusNotFound, "profile_not_found", err.Error())
	default:
		s.metrics.DirectoryLookups.WithLabelValues(kind, "error").Inc()
		s.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "kind": kind}).Warn("directory lookup failed")
		respondError(w, http.StatusBadGateway, "lookup_failed", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
