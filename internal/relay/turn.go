package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/alivehere/internal/brain"
	"github.com/ent0n29/alivehere/internal/policy"
	"github.com/ent0n29/alivehere/internal/protocol"
	"github.com/ent0n29/alivehere/internal/transcript"
	"github.com/ent0n29/alivehere/internal/voice"
)

type turn struct {
	sessionID string
	turnID    string
	requestID string
	text      string
	who       identity
}

// runTurn streams one reply. Frames stop as soon as ctx is canceled, which
// happens when the next user turn arrives.
func (r *Relay) runTurn(ctx context.Context, t turn, outbound chan<- any, parent logrus.FieldLogger) {
	start := time.Now()
	log := parent.WithFields(logrus.Fields{"user_id": t.who.userID, "request_id": t.requestID})
	defer func() {
		_ = r.sessions.FinishTurn(t.sessionID, t.turnID)
	}()

	history := r.loadHistory(ctx, t.who.userID)

	redactedUser, userChanged := policy.RedactPII(t.text)
	r.saveTurnBestEffort(transcript.Turn{
		UserID:      t.who.userID,
		SessionID:   t.sessionID,
		RequestID:   t.requestID,
		Role:        transcript.RoleUser,
		Content:     redactedUser,
		PIIRedacted: userChanged,
	}, log)
	log.WithField("utterance", redactedUser).Debug("user turn")

	stream, err := r.tts.StartStream(ctx, t.who.voiceID, r.cfg.TTSModelID, r.cfg.TTSSettings)
	if err != nil {
		if ctx.Err() != nil {
			r.metrics.TurnOutcomes.WithLabelValues("interrupted").Inc()
			return
		}
		log.WithError(err).Warn("tts stream unavailable; replying with text only")
		r.metrics.ProviderErrors.WithLabelValues("tts", "start_failed").Inc()
		stream = nil
	}

	var audio *audioForwarder
	if stream != nil {
		audio = r.forwardAudio(ctx, stream, outbound, t.requestID, start, log)
		defer audio.close()
	}

	var speech voice.SpeechBridge
	var replyText strings.Builder
	resp, err := r.brain.StreamResponse(ctx, brain.Request{
		UserID:    t.who.userID,
		SessionID: t.sessionID,
		TurnID:    t.turnID,
		RequestID: t.requestID,
		InputText: t.text,
		Persona:   t.who.persona,
		History:   history,
	}, func(delta string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if delta == "" {
			return nil
		}
		replyText.WriteString(delta)
		r.send(ctx, outbound, protocol.NewTextChunk(delta, t.requestID))
		if audio != nil && !audio.failed() {
			if spoken := speech.Next(delta); spoken != "" {
				if err := stream.SendText(ctx, spoken, endsSentence(spoken)); err != nil {
					log.WithError(err).Warn("tts send failed; continuing with text only")
					r.metrics.ProviderErrors.WithLabelValues("tts", "send_failed").Inc()
					audio.markFailed()
				}
			}
		}
		return nil
	})

	if ctx.Err() != nil {
		r.metrics.TurnOutcomes.WithLabelValues("interrupted").Inc()
		r.saveAssistantTurn(t, replyText.String(), true, log)
		return
	}
	if err != nil {
		code := "brain_failed"
		retryable := false
		var statusErr *brain.StatusError
		if errors.As(err, &statusErr) {
			retryable = statusErr.Retryable()
		}
		if audio != nil {
			audio.stop()
		}
		log.WithError(err).Warn("brain turn failed")
		r.metrics.ProviderErrors.WithLabelValues("brain", code).Inc()
		r.metrics.TurnOutcomes.WithLabelValues(code).Inc()
		r.send(ctx, outbound, protocol.NewError(code, err.Error(), retryable, t.requestID))
		r.send(ctx, outbound, protocol.NewDone("", t.requestID))
		return
	}

	final := strings.TrimSpace(resp.Text)
	if final == "" {
		final = strings.TrimSpace(replyText.String())
	}

	outcome := "text_only"
	if audio != nil {
		if !audio.failed() {
			if err := stream.CloseInput(ctx); err != nil {
				log.WithError(err).Warn("tts close input failed")
				audio.markFailed()
			}
		}
		audio.wait(ctx, ttsDrainTimeout)
		audio.stop()
		if audio.chunks() > 0 {
			outcome = "completed"
		}
	}
	if ctx.Err() != nil {
		r.metrics.TurnOutcomes.WithLabelValues("interrupted").Inc()
		r.saveAssistantTurn(t, final, true, log)
		return
	}

	r.send(ctx, outbound, protocol.NewDone(final, t.requestID))
	r.metrics.TurnOutcomes.WithLabelValues(outcome).Inc()
	r.saveAssistantTurn(t, final, false, log)
	log.WithFields(logrus.Fields{"outcome": outcome, "elapsed_ms": time.Since(start).Milliseconds()}).Info("turn finished")
}

func (r *Relay) loadHistory(ctx context.Context, userID string) []brain.HistoryTurn {
	if r.transcripts == nil || r.cfg.HistoryLimit == 0 {
		return nil
	}
	loadCtx, cancel := context.WithTimeout(ctx, historyLoadTimeout)
	defer cancel()
	recent, err := r.transcripts.Recent(loadCtx, userID, r.cfg.HistoryLimit)
	if err != nil {
		r.metrics.SessionEvents.WithLabelValues("transcript_load_failed").Inc()
		return nil
	}
	out := make([]brain.HistoryTurn, 0, len(recent))
	for _, turn := range recent {
		out = append(out, brain.HistoryTurn{Role: turn.Role, Content: turn.Content})
	}
	return out
}

func (r *Relay) saveAssistantTurn(t turn, text string, interrupted bool, log logrus.FieldLogger) {
	if strings.TrimSpace(text) == "" {
		return
	}
	redacted, changed := policy.RedactPII(text)
	r.saveTurnBestEffort(transcript.Turn{
		UserID:      t.who.userID,
		SessionID:   t.sessionID,
		RequestID:   t.requestID,
		Role:        transcript.RoleAssistant,
		Content:     redacted,
		PIIRedacted: changed,
		Interrupted: interrupted,
	}, log)
}

// saveTurnBestEffort persists synchronously so the next turn sees it in
// history; failures are only counted.
func (r *Relay) saveTurnBestEffort(rec transcript.Turn, log logrus.FieldLogger) {
	if r.transcripts == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), transcriptSaveTimeout)
	defer cancel()
	if err := r.transcripts.SaveTurn(saveCtx, rec); err != nil {
		r.metrics.SessionEvents.WithLabelValues("transcript_save_failed").Inc()
		log.WithError(err).Warn("transcript save failed")
	}
}

func endsSentence(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?', ';', ':':
		return true
	default:
		return false
	}
}

// audioForwarder relays TTS audio events as audio_chunk frames.
type audioForwarder struct {
	stream voice.TTSStream
	done   chan struct{}

	mu     sync.Mutex
	count  int
	broken bool
	once   sync.Once
}

func (r *Relay) forwardAudio(ctx context.Context, stream voice.TTSStream, outbound chan<- any, requestID string, start time.Time, log logrus.FieldLogger) *audioForwarder {
	a := &audioForwarder{stream: stream, done: make(chan struct{})}
	go func() {
		defer close(a.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-stream.Events():
				if !ok {
					return
				}
				switch ev.Type {
				case voice.TTSEventAudio:
					if ev.AudioBase64 == "" {
						continue
					}
					a.mu.Lock()
					index := a.count
					a.count++
					a.mu.Unlock()
					if index == 0 {
						r.metrics.ObserveFirstAudioLatency(time.Since(start))
					}
					r.send(ctx, outbound, protocol.NewAudioChunk(index, ev.AudioBase64, ev.Format, requestID))
				case voice.TTSEventError:
					log.WithFields(logrus.Fields{"code": ev.Code, "detail": ev.Detail}).Warn("tts stream error")
					r.metrics.ProviderErrors.WithLabelValues("tts", ev.Code).Inc()
					a.markFailed()
					return
				case voice.TTSEventFinal:
					return
				}
			}
		}
	}()
	return a
}

func (a *audioForwarder) chunks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

func (a *audioForwarder) failed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.broken
}

func (a *audioForwarder) markFailed() {
	a.mu.Lock()
	a.broken = true
	a.mu.Unlock()
}

// wait blocks until the stream has delivered its final audio, ctx is done or
// timeout passes.
func (a *audioForwarder) wait(ctx context.Context, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-a.done:
	case <-ctx.Done():
	case <-timer.C:
	}
}

// stop closes the stream and returns once no more audio_chunk frames can be
// sent for this turn.
func (a *audioForwarder) stop() {
	a.close()
	<-a.done
}

// close shuts the stream and drains any events still buffered so the
// provider's reader never blocks.
func (a *audioForwarder) close() {
	a.once.Do(func() {
		_ = a.stream.Close()
		go func() {
			<-a.done
			for range a.stream.Events() {
			}
		}()
	})
}
