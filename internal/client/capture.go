package client

import (
	"context"
	"errors"
	"strings"
	"time"
)

// CaptureState is the push to talk state machine.
type CaptureState string

const (
	CaptureIdle       CaptureState = "idle"
	CaptureListening  CaptureState = "listening"
	CaptureFinalizing CaptureState = "finalizing"
)

var ErrNoRecognizer = errors.New("speech recognition unavailable")

func (c *Client) CaptureState() CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.capture
}

// Press starts capturing one utterance. Presses while a capture is running
// are ignored, which also absorbs key repeat. Any audio still playing is cut.
func (c *Client) Press(ctx context.Context) error {
	c.mu.Lock()
	if c.st.closing || c.st.capture != CaptureIdle || c.st.capturePending {
		c.mu.Unlock()
		return nil
	}
	c.st.capturePending = true
	c.st.pendingRelease = false
	needPermission := !c.st.permission
	c.cancelFallbackLocked()
	// The reply in flight is abandoned; its remaining frames are stale.
	if c.st.requestID != "" {
		c.st.abandoned = true
		c.st.requestID = ""
	}
	c.mu.Unlock()

	c.playback.Interrupt()

	if needPermission && c.dev.Microphone != nil {
		if err := c.dev.Microphone.RequestPermission(ctx); err != nil {
			c.abortPress()
			c.log.WithError(err).Warn("microphone permission denied")
			c.emitStatus("Microphone access was denied.")
			return err
		}
		c.mu.Lock()
		c.st.permission = true
		c.mu.Unlock()
	}
	if c.dev.NewRecognizer == nil {
		c.abortPress()
		return ErrNoRecognizer
	}
	rec, err := c.dev.NewRecognizer()
	if err != nil {
		c.abortPress()
		c.log.WithError(err).Warn("create recognizer")
		c.emitStatus("Speech recognition is not available.")
		return err
	}

	c.mu.Lock()
	c.st.captureGen++
	gen := c.st.captureGen
	c.st.recognizer = rec
	c.st.finals = nil
	c.st.interim = ""
	c.st.sent = false
	c.mu.Unlock()

	err = rec.Start(
		func(r Result) { c.onRecognizerResult(gen, r) },
		func(err error) { c.onRecognizerError(gen, err) },
	)
	if err != nil {
		c.mu.Lock()
		if gen == c.st.captureGen {
			c.st.recognizer = nil
		}
		c.mu.Unlock()
		c.abortPress()
		c.log.WithError(err).Warn("start recognizer")
		c.emitStatus("Speech recognition failed. Try again.")
		return err
	}

	c.mu.Lock()
	c.st.capturePending = false
	if gen != c.st.captureGen || c.st.closing {
		// Failed or closed while starting.
		c.mu.Unlock()
		return nil
	}
	c.st.capture = CaptureListening
	release := c.st.pendingRelease
	c.st.pendingRelease = false
	c.mu.Unlock()

	c.emitStatus("Listening...")
	if release {
		c.Release()
	}
	return nil
}

func (c *Client) abortPress() {
	c.mu.Lock()
	c.st.capturePending = false
	c.st.pendingRelease = false
	c.mu.Unlock()
}

// Release stops the recognizer and sends the transcript after the finalize
// delay, giving late final results time to land.
func (c *Client) Release() {
	c.mu.Lock()
	if c.st.capturePending {
		c.st.pendingRelease = true
		c.mu.Unlock()
		return
	}
	if c.st.capture != CaptureListening {
		c.mu.Unlock()
		return
	}
	c.st.capture = CaptureFinalizing
	gen := c.st.captureGen
	rec := c.st.recognizer
	c.st.finalizeTimer = time.AfterFunc(c.opts.FinalizeDelay, func() { c.finalize(gen) })
	c.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
}

// Blur is a window losing focus; while listening it counts as a release.
func (c *Client) Blur() { c.Release() }

func (c *Client) onRecognizerResult(gen uint64, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.st.captureGen || c.st.sent {
		return
	}
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return
	}
	if r.Final {
		c.st.finals = append(c.st.finals, text)
		return
	}
	c.st.interim = text
}

func (c *Client) onRecognizerError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.st.captureGen || c.st.sent {
		c.mu.Unlock()
		return
	}
	rec := c.st.recognizer
	c.st.recognizer = nil
	c.st.capture = CaptureIdle
	c.st.sent = true
	c.st.captureGen++
	if c.st.finalizeTimer != nil {
		c.st.finalizeTimer.Stop()
		c.st.finalizeTimer = nil
	}
	c.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
	c.log.WithError(err).Warn("speech recognition failed")
	c.emitStatus("Speech recognition failed. Try again.")
}

func (c *Client) finalize(gen uint64) {
	c.mu.Lock()
	if gen != c.st.captureGen || c.st.capture != CaptureFinalizing {
		c.mu.Unlock()
		return
	}
	transcript := strings.Join(c.st.finals, " ")
	if transcript == "" {
		transcript = c.st.interim
	}
	alreadySent := c.st.sent
	c.st.sent = true
	c.st.capture = CaptureIdle
	c.st.recognizer = nil
	c.st.finalizeTimer = nil
	c.mu.Unlock()

	if alreadySent {
		return
	}
	if transcript == "" {
		c.emitStatus("Didn't catch that. Hold to talk.")
		return
	}
	if err := c.Say(transcript); err != nil {
		c.log.WithError(err).Warn("send utterance")
	}
}
