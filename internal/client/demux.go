package client

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/alivehere/internal/protocol"
)

func (c *Client) handleRaw(raw []byte) {
	frame, err := protocol.ParseResponseFrame(raw)
	if err != nil {
		c.log.WithError(err).WithField("bytes", len(raw)).Warn("dropping malformed frame")
		return
	}
	c.handleFrame(frame)
}

// handleFrame runs on the reader goroutine, so frames are handled in arrival
// order.
func (c *Client) handleFrame(frame protocol.ResponseFrame) {
	rid := protocol.TurnRequestID(frame)
	switch f := frame.(type) {
	case protocol.ConnectionAck:
		c.onConnectionAck(f)
	case protocol.HeartbeatAck:
	case protocol.TextChunk:
		c.mu.Lock()
		if c.acceptTurnFrameLocked(rid) {
			c.st.lastText = f.Data
		}
		c.mu.Unlock()
	case protocol.AudioChunk:
		c.mu.Lock()
		accept := c.acceptTurnFrameLocked(rid)
		if accept {
			c.st.audioChunks++
		}
		c.mu.Unlock()
		if accept {
			c.playback.Enqueue(f.Payload(), f.Format)
		}
	case protocol.Done:
		c.onDone(f, rid)
	case protocol.ErrorFrame:
		// Untagged errors may be about the connection rather than a turn.
		c.mu.Lock()
		accept := rid == "" || c.acceptTurnFrameLocked(rid)
		c.mu.Unlock()
		if !accept {
			return
		}
		c.log.WithFields(logrus.Fields{
			"code":       f.Code,
			"detail":     f.Detail,
			"retryable":  f.Retryable,
			"request_id": f.RequestID,
		}).Warn("relay reported error")
		c.emitStatus(errorStatus(f))
	case protocol.UnknownFrame:
		c.log.WithField("type", f.Type).Debug("ignoring unknown frame")
	}
}

func (c *Client) onConnectionAck(f protocol.ConnectionAck) {
	c.mu.Lock()
	if c.st.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.st.sessionID = f.SessionID
	c.st.abandoned = false
	c.setStateLocked(StateReady)
	c.mu.Unlock()

	c.policy.Reset()
	c.log.WithField("session_id", f.SessionID).Info("conversation ready")
	c.emitState(StateReady)
	c.emitStatus("Connected. Hold to talk.")
}

func (c *Client) onDone(f protocol.Done, requestID string) {
	c.mu.Lock()
	if c.st.abandoned {
		// End of the interrupted reply: nothing to report or speak.
		c.st.abandoned = false
		c.st.lastText = ""
		c.st.audioChunks = 0
		c.mu.Unlock()
		c.log.WithField("request_id", requestID).Debug("abandoned turn finished")
		return
	}
	if !c.acceptTurnFrameLocked(requestID) {
		c.mu.Unlock()
		return
	}
	text := f.FinalText()
	if text == "" {
		text = c.st.lastText
	}
	summary := TurnSummary{
		RequestID:   c.st.requestID,
		Text:        text,
		AudioChunks: c.st.audioChunks,
	}
	summary.FellBack = needsFallback(summary.AudioChunks, text)
	c.st.lastText = ""
	c.st.audioChunks = 0
	c.st.requestID = ""

	var speakCtx context.Context
	if summary.FellBack && c.dev.Synthesizer != nil && !c.st.closing {
		c.cancelFallbackLocked()
		var cancel context.CancelFunc
		speakCtx, cancel = context.WithCancel(c.ctx)
		c.st.fallbackCancel = cancel
		c.wg.Add(1)
	}
	c.mu.Unlock()

	if speakCtx != nil {
		go func() {
			defer c.wg.Done()
			if err := c.dev.Synthesizer.Speak(speakCtx, text); err != nil && speakCtx.Err() == nil {
				c.log.WithError(err).Warn("fallback speech failed")
			}
		}()
	}
	if c.opts.OnTurnDone != nil {
		c.opts.OnTurnDone(summary)
	}
	c.emitStatus("Hold to talk.")
}

// acceptTurnFrameLocked drops frames tagged for a turn other than the one in
// flight, and every frame of an abandoned reply. Untagged frames come from
// backends that do not echo request_id.
func (c *Client) acceptTurnFrameLocked(requestID string) bool {
	if c.st.abandoned {
		return false
	}
	if requestID == "" {
		return true
	}
	if requestID != c.st.requestID {
		c.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"in_flight":  c.st.requestID,
		}).Debug("dropping frame for stale turn")
		return false
	}
	return true
}

// needsFallback reports whether a finished turn should be spoken locally.
func needsFallback(audioChunks int, text string) bool {
	if audioChunks > 0 {
		return false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	return !strings.EqualFold(text, protocol.LegacyHeartbeatReply)
}

func errorStatus(f protocol.ErrorFrame) string {
	switch f.Code {
	case "session_expired":
		return "Session expired. Please refresh the page."
	case "brain_failed":
		return "The assistant could not answer. Try again."
	case "not_initialized":
		return "Still connecting. Try again in a moment."
	case "":
		return "Something went wrong."
	default:
		return "Error: " + strings.ReplaceAll(f.Code, "_", " ")
	}
}
