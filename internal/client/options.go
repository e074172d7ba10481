package client

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/alivehere/internal/logging"
)

const (
	DefaultPort              = 8765
	DefaultConnectTimeout    = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectAttempts = 3
	DefaultReconnectCooldown = 10 * time.Second
	DefaultFinalizeDelay     = time.Second
)

// Options configures a Client. Zero values take the defaults above.
type Options struct {
	// BaseURL is the page or API origin, e.g. "https://example.com". Its scheme
	// picks ws or wss and its host names the relay. Any path is ignored.
	BaseURL string
	Port    int

	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	ReconnectAttempts int
	ReconnectCooldown time.Duration
	FinalizeDelay     time.Duration

	Dialer *websocket.Dialer
	Logger logrus.FieldLogger

	// OnState and OnStatus run on client goroutines, never under the client lock.
	OnState  func(State)
	OnStatus func(string)
	// OnTurnDone runs once per done frame accepted for the in-flight turn.
	OnTurnDone func(TurnSummary)
}

func (o Options) withDefaults() Options {
	if o.Port <= 0 {
		o.Port = DefaultPort
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = DefaultReconnectAttempts
	}
	if o.ReconnectCooldown <= 0 {
		o.ReconnectCooldown = DefaultReconnectCooldown
	}
	if o.FinalizeDelay <= 0 {
		o.FinalizeDelay = DefaultFinalizeDelay
	}
	if o.Dialer == nil {
		d := *websocket.DefaultDialer
		o.Dialer = &d
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return o
}
