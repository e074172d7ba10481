package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/alivehere/internal/directory"
	"github.com/ent0n29/alivehere/internal/protocol"
)

type staticDirectory struct {
	voiceID string
	profile directory.Profile
	err     error
	gate    chan struct{}

	mu    sync.Mutex
	calls int
}

func (d *staticDirectory) VoiceID(ctx context.Context, _ string) (string, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if d.err != nil {
		return "", d.err
	}
	return d.voiceID, nil
}

func (d *staticDirectory) Profile(context.Context, string) (directory.Profile, error) {
	return d.profile, nil
}

func newStaticDirectory() *staticDirectory {
	return &staticDirectory{
		voiceID: "voice-1",
		profile: directory.Profile{FirstName: "Ada", LastName: "Lovelace", DOB: "1815-12-10", ProfileDocument: "u1/profile/about.txt"},
	}
}

// fakeRelay is a scripted relay endpoint. Everything it reads is published on
// received; onTurn answers user turns.
type fakeRelay struct {
	srv      *httptest.Server
	received chan map[string]any

	dropOnConnect bool
	closeOnInit   bool
	onTurn        func(conn *websocket.Conn, msg map[string]any)

	mu    sync.Mutex
	conns int
}

func newFakeRelay(t *testing.T, configure func(*fakeRelay)) *fakeRelay {
	t.Helper()
	r := &fakeRelay{received: make(chan map[string]any, 64)}
	if configure != nil {
		configure(r)
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		r.mu.Lock()
		r.conns++
		r.mu.Unlock()
		if r.dropOnConnect {
			return
		}
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			r.received <- msg
			switch protocol.MessageType(stringField(msg, "type")) {
			case protocol.TypeConnectionInit:
				if r.closeOnInit {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
						time.Now().Add(time.Second))
					return
				}
				_ = conn.WriteJSON(protocol.ConnectionAck{Type: protocol.TypeConnectionAck, SessionID: "session-1"})
			case protocol.TypeHeartbeat:
				_ = conn.WriteJSON(protocol.HeartbeatAck{Type: protocol.TypeHeartbeatAck})
			case protocol.TypeStartConversation, protocol.TypeUserMessage:
				if r.onTurn != nil {
					r.onTurn(conn, msg)
				}
			}
		}
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRelay) connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns
}

func (r *fakeRelay) options(t *testing.T) Options {
	t.Helper()
	u, err := url.Parse(r.srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	host, portText, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host: %v", err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return Options{
		BaseURL:           "http://" + host,
		Port:              port,
		ConnectTimeout:    time.Second,
		ReconnectCooldown: 20 * time.Millisecond,
		FinalizeDelay:     20 * time.Millisecond,
	}
}

// next returns the next frame the relay read with the given type, skipping
// heartbeats.
func (r *fakeRelay) next(t *testing.T, want protocol.MessageType) map[string]any {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-r.received:
			got := protocol.MessageType(stringField(msg, "type"))
			if got == protocol.TypeHeartbeat && want != protocol.TypeHeartbeat {
				continue
			}
			if got != want {
				t.Fatalf("relay received %q, want %q (%v)", got, want, msg)
			}
			return msg
		case <-timeout:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func (r *fakeRelay) expectNothing(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-r.received:
		if stringField(msg, "type") != string(protocol.TypeHeartbeat) {
			t.Fatalf("unexpected frame %v", msg)
		}
	case <-time.After(wait):
	}
}

func stringField(msg map[string]any, key string) string {
	v, _ := msg[key].(string)
	return v
}

func startReady(t *testing.T, relay *fakeRelay, opts Options, dev Devices) *Client {
	t.Helper()
	c, err := New(opts, newStaticDirectory(), dev)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state, err := c.WaitFor(ctx, StateReady, StateFatal); err != nil || state != StateReady {
		t.Fatalf("WaitFor(ready) = %s, %v", state, err)
	}
	relay.next(t, protocol.TypeConnectionInit)
	return c
}

type fakeSynth struct {
	spoken chan string
}

func newFakeSynth() *fakeSynth { return &fakeSynth{spoken: make(chan string, 8)} }

func (s *fakeSynth) Speak(_ context.Context, text string) error {
	s.spoken <- text
	return nil
}

type fakeSource struct {
	once    sync.Once
	done    chan struct{}
	stopped chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{done: make(chan struct{}), stopped: make(chan struct{})}
}

func (s *fakeSource) Done() <-chan struct{} { return s.done }

func (s *fakeSource) Stop() {
	s.once.Do(func() {
		close(s.stopped)
		close(s.done)
	})
}

func (s *fakeSource) finish() { s.once.Do(func() { close(s.done) }) }

type playedClip struct {
	data   string
	gain   float64
	source *fakeSource
}

// fakePlayer never finishes a clip on its own; tests call finish.
type fakePlayer struct {
	played chan playedClip
	closed chan struct{}
	once   sync.Once
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{played: make(chan playedClip, 16), closed: make(chan struct{})}
}

func (p *fakePlayer) Play(clip Clip, gain float64) (Source, error) {
	src := newFakeSource()
	p.played <- playedClip{data: string(clip.(RawClip).Data), gain: gain, source: src}
	return src, nil
}

func (p *fakePlayer) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePlayer) nextPlayed(t *testing.T) playedClip {
	t.Helper()
	select {
	case c := <-p.played:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for playback")
		return playedClip{}
	}
}
