package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/alivehere/internal/protocol"
	"github.com/ent0n29/alivehere/internal/session"
)

func (s *Server) handleConversationWS(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "relay not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := s.sessions.Create(r.RemoteAddr)
	log := s.log.WithField("session_id", sess.ID)
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	log.WithField("remote_addr", r.RemoteAddr).Info("conversation socket opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan protocol.ControlMessage, wsQueueSize)
	outbound := make(chan any, wsQueueSize)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.runner.RunConnection(ctx, sess, inbound, outbound); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Info("connection runner stopped")
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-runDone:
				// Flush what the runner queued before it returned, then close.
				for {
					select {
					case msg := <-outbound:
						if !s.writeFrame(conn, msg) {
							_ = conn.Close()
							return
						}
					default:
						_ = conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
							time.Now().Add(time.Second))
						_ = conn.Close()
						return
					}
				}
			case msg := <-outbound:
				if !s.writeFrame(conn, msg) {
					cancel()
					// Unblocks the read loop below.
					_ = conn.Close()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("conversation socket closed abnormally")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseControlMessage(data)
		if err != nil {
			log.WithError(err).Debug("dropping malformed client frame")
			errFrame := protocol.NewError("invalid_client_message", err.Error(), false, "")
			select {
			case outbound <- errFrame:
				s.metrics.ObserveOutboundMessage(string(protocol.TypeError), "queued")
			default:
				s.metrics.ObserveOutboundMessage(string(protocol.TypeError), "drop_full")
			}
			continue
		}

		s.metrics.WSMessages.WithLabelValues("inbound", string(parsed.ControlType())).Inc()
		select {
		case <-ctx.Done():
			break readLoop
		case <-runDone:
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone

	if _, err := s.sessions.End(sess.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
		log.WithError(err).Warn("end session failed")
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	log.Info("conversation socket closed")
}

func (s *Server) writeFrame(conn *websocket.Conn, msg any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		s.metrics.WSWriteErrors.WithLabelValues("write_json").Inc()
		return false
	}
	if f, ok := msg.(protocol.ResponseFrame); ok {
		s.metrics.WSMessages.WithLabelValues("outbound", string(f.FrameType())).Inc()
	}
	return true
}
