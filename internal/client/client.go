// Package client is the conversation client: it resolves a user's voice and
// profile, keeps one relay socket alive within a reconnect budget, turns push
// to talk utterances into turns and plays back what the relay streams.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/alivehere/internal/directory"
	"github.com/ent0n29/alivehere/internal/protocol"
	"github.com/ent0n29/alivehere/internal/reliability"
)

// State is the connection lifecycle of a client.
type State string

const (
	StateIdle         State = "idle"
	StateResolving    State = "resolving"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReady        State = "ready"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
	StateFatal        State = "fatal"
)

const (
	StatusFatal = "Connection lost. Please refresh the page."

	writeTimeout = 10 * time.Second
)

var (
	ErrFatal    = errors.New("connection lost, please refresh")
	ErrNotReady = errors.New("conversation is not ready")
	ErrClosed   = errors.New("client closed")
)

// TurnSummary describes a finished turn as the client saw it.
type TurnSummary struct {
	RequestID   string
	Text        string
	AudioChunks int
	FellBack    bool
}

// sessionState is everything that changes during a conversation. It is only
// touched with Client.mu held.
type sessionState struct {
	state    State
	changed  chan struct{}
	identity *protocol.Identity
	closing  bool

	conn           *websocket.Conn
	connGen        uint64
	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer
	sessionID      string

	requestID           string
	abandoned           bool // reply cut by Press; drop its frames until done
	conversationStarted bool
	lastText            string
	audioChunks         int
	fallbackCancel      context.CancelFunc

	capture        CaptureState
	capturePending bool
	pendingRelease bool
	permission     bool
	recognizer     Recognizer
	captureGen     uint64
	finals         []string
	interim        string
	sent           bool
	finalizeTimer  *time.Timer
}

type Client struct {
	opts     Options
	endpoint string
	dir      directory.Directory
	dev      Devices
	policy   *reliability.ReconnectPolicy
	log      logrus.FieldLogger
	playback *playback

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	mu sync.Mutex
	st sessionState
}

func New(opts Options, dir directory.Directory, dev Devices) (*Client, error) {
	if dir == nil {
		return nil, errors.New("directory is required")
	}
	opts = opts.withDefaults()
	endpoint, err := EndpointURL(opts.BaseURL, opts.Port)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:     opts,
		endpoint: endpoint,
		dir:      dir,
		dev:      dev,
		policy:   reliability.NewReconnectPolicy(opts.ReconnectAttempts, opts.ReconnectCooldown),
		log:      opts.Logger.WithField("component", "client"),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.playback = newPlayback(dev.Decoder, dev.Player, c.log)
	c.st.state = StateIdle
	c.st.changed = make(chan struct{})
	c.st.capture = CaptureIdle
	return c, nil
}

func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.state
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.sessionID
}

// WaitFor blocks until the client reaches one of the given states.
func (c *Client) WaitFor(ctx context.Context, states ...State) (State, error) {
	for {
		c.mu.Lock()
		cur, changed := c.st.state, c.st.changed
		c.mu.Unlock()
		for _, s := range states {
			if cur == s {
				return cur, nil
			}
		}
		select {
		case <-ctx.Done():
			return cur, ctx.Err()
		case <-changed:
		}
	}
}

// Start resolves the user's voice and profile and only then opens the socket.
// A failed lookup is terminal; there is nothing to retry without new config.
func (c *Client) Start(ctx context.Context, userID string) error {
	c.mu.Lock()
	if c.st.state != StateIdle {
		state := c.st.state
		c.mu.Unlock()
		return fmt.Errorf("client already started (state %s)", state)
	}
	c.setStateLocked(StateResolving)
	c.mu.Unlock()
	c.emitState(StateResolving)

	resolved, err := directory.Resolve(ctx, c.dir, userID)
	if err != nil {
		c.log.WithError(err).WithField("user_id", userID).Error("resolve conversation dependencies")
		c.mu.Lock()
		c.setStateLocked(StateFatal)
		c.mu.Unlock()
		c.emitState(StateFatal)
		c.emitStatus(fmt.Sprintf("Could not load voice or profile for %s.", strings.TrimSpace(userID)))
		return fmt.Errorf("resolve dependencies: %w", err)
	}

	id := identityFor(resolved)
	c.mu.Lock()
	if c.st.closing {
		c.mu.Unlock()
		return ErrClosed
	}
	c.st.identity = &id
	c.mu.Unlock()

	c.connect()
	return nil
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.st.closing || c.st.identity == nil {
		c.mu.Unlock()
		return
	}
	c.st.reconnectTimer = nil
	c.st.connGen++
	gen := c.st.connGen
	id := *c.st.identity
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	c.emitState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(c.ctx, c.opts.ConnectTimeout)
	conn, _, err := c.opts.Dialer.DialContext(dialCtx, c.endpoint, nil)
	cancel()
	if err != nil {
		c.log.WithError(err).WithField("endpoint", c.endpoint).Warn("relay dial failed")
		c.handleClose(gen, websocket.CloseAbnormalClosure)
		return
	}

	c.mu.Lock()
	if c.st.closing || gen != c.st.connGen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	stop := make(chan struct{})
	c.st.conn = conn
	c.st.heartbeatStop = stop
	c.setStateLocked(StateOpen)
	c.wg.Add(2)
	c.mu.Unlock()
	c.emitState(StateOpen)

	go c.readLoop(conn, gen)
	go c.heartbeatLoop(conn, stop, id)

	if err := c.write(conn, protocol.NewConnectionInit(id)); err != nil {
		c.log.WithError(err).Warn("send connection_init")
		_ = conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	defer c.wg.Done()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			code := closeCode(err)
			if code != websocket.CloseNormalClosure {
				c.log.WithError(err).WithField("code", code).Warn("relay connection closed")
			}
			c.handleClose(gen, code)
			return
		}
		c.handleRaw(raw)
	}
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, stop <-chan struct{}, id protocol.Identity) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(conn, protocol.NewHeartbeat(id)); err != nil {
				c.log.WithError(err).Debug("heartbeat write failed")
			}
		}
	}
}

// handleClose applies the reconnect policy to the end of connection gen.
func (c *Client) handleClose(gen uint64, code int) {
	c.mu.Lock()
	if gen != c.st.connGen {
		c.mu.Unlock()
		return
	}
	if c.st.heartbeatStop != nil {
		close(c.st.heartbeatStop)
		c.st.heartbeatStop = nil
	}
	c.st.conn = nil
	c.st.sessionID = ""

	var status string
	switch {
	case c.st.closing:
		c.setStateLocked(StateClosed)
	default:
		delay, again := c.policy.OnClose(code)
		switch {
		case code == reliability.CloseNormal:
			c.setStateLocked(StateClosed)
			status = "Conversation ended."
		case again:
			c.setStateLocked(StateReconnecting)
			c.st.reconnectTimer = time.AfterFunc(delay, c.connect)
			status = "Connection lost. Reconnecting..."
		default:
			c.setStateLocked(StateFatal)
			status = StatusFatal
		}
	}
	state := c.st.state
	c.mu.Unlock()

	c.emitState(state)
	if status != "" {
		c.emitStatus(status)
	}
}

// Say sends one utterance as a new turn. The first turn of a client is
// start_conversation, later ones user_message.
func (c *Client) Say(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.st.state != StateReady || c.st.conn == nil {
		state := c.st.state
		c.mu.Unlock()
		if state == StateFatal {
			return ErrFatal
		}
		c.emitStatus("Not connected yet.")
		return ErrNotReady
	}
	first := !c.st.conversationStarted
	c.st.conversationStarted = true
	requestID := uuid.NewString()
	c.st.requestID = requestID
	c.st.abandoned = false
	c.st.lastText = ""
	c.st.audioChunks = 0
	c.cancelFallbackLocked()
	conn := c.st.conn
	id := *c.st.identity
	c.mu.Unlock()

	c.playback.Interrupt()

	if err := c.write(conn, protocol.NewUserTurn(id, first, text, requestID)); err != nil {
		c.mu.Lock()
		if first && c.st.requestID == requestID {
			c.st.conversationStarted = false
		}
		c.mu.Unlock()
		return fmt.Errorf("send turn: %w", err)
	}
	c.log.WithFields(logrus.Fields{"request_id": requestID, "first": first}).Debug("turn sent")
	c.emitStatus("Thinking...")
	return nil
}

// Close sends disconnect, closes the socket with a normal close and releases
// the audio devices. No reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.st.closing {
		c.mu.Unlock()
		return nil
	}
	c.st.closing = true
	conn := c.st.conn
	var id protocol.Identity
	if c.st.identity != nil {
		id = *c.st.identity
	}
	if c.st.reconnectTimer != nil {
		c.st.reconnectTimer.Stop()
		c.st.reconnectTimer = nil
	}
	if c.st.finalizeTimer != nil {
		c.st.finalizeTimer.Stop()
		c.st.finalizeTimer = nil
	}
	rec := c.st.recognizer
	c.st.recognizer = nil
	c.st.capture = CaptureIdle
	c.st.captureGen++
	c.cancelFallbackLocked()
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
	if conn != nil {
		if err := c.write(conn, protocol.NewDisconnect(id, time.Now())); err != nil {
			c.log.WithError(err).Debug("send disconnect")
		}
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}

	c.cancel()
	c.playback.Close()
	c.wg.Wait()
	c.emitState(StateClosed)
	return nil
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (c *Client) setStateLocked(s State) {
	if c.st.state == s {
		return
	}
	c.st.state = s
	close(c.st.changed)
	c.st.changed = make(chan struct{})
}

func (c *Client) cancelFallbackLocked() {
	if c.st.fallbackCancel != nil {
		c.st.fallbackCancel()
		c.st.fallbackCancel = nil
	}
}

func (c *Client) emitState(s State) {
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

func (c *Client) emitStatus(status string) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(status)
	}
}

func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}
