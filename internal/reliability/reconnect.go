package reliability

import (
	"sync"
	"time"
)

// CloseNormal is the websocket close code for an orderly shutdown.
const CloseNormal = 1000

// ReconnectPolicy bounds a connection to maxAttempts tries separated by a
// fixed cooldown. It does not back off. The initial connection is attempt 1.
type ReconnectPolicy struct {
	mu          sync.Mutex
	maxAttempts int
	cooldown    time.Duration
	failures    int
}

func NewReconnectPolicy(maxAttempts int, cooldown time.Duration) *ReconnectPolicy {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	if cooldown < 0 {
		cooldown = 0
	}
	return &ReconnectPolicy{maxAttempts: maxAttempts, cooldown: cooldown}
}

// OnClose records the end of the current attempt. It reports whether another
// attempt should be scheduled and after how long. A normal close never
// reconnects and does not consume budget.
func (p *ReconnectPolicy) OnClose(code int) (time.Duration, bool) {
	if code == CloseNormal {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
	if p.failures >= p.maxAttempts {
		return 0, false
	}
	return p.cooldown, true
}

// Exhausted reports whether every attempt has failed.
func (p *ReconnectPolicy) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures >= p.maxAttempts
}

// Failures is the number of consecutive abnormal closes seen so far.
func (p *ReconnectPolicy) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// Reset restores the full budget once a connection has been initialized.
func (p *ReconnectPolicy) Reset() {
	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()
}
