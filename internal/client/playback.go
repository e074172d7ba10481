package client

import (
	"encoding/base64"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

const unityGain = 1.0

// playback plays decoded clips back to back. Only the most recent source is
// tracked; Interrupt cuts it and drops everything queued.
type playback struct {
	decoder Decoder
	player  Player
	log     logrus.FieldLogger

	mu      sync.Mutex
	queue   []Clip
	active  Source
	gen     uint64
	started bool
	closed  bool
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
}

func newPlayback(decoder Decoder, player Player, log logrus.FieldLogger) *playback {
	if decoder == nil {
		decoder = PassthroughDecoder{}
	}
	return &playback{
		decoder: decoder,
		player:  player,
		log:     log,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Enqueue decodes one base64 payload and queues it. Chunks that fail to decode
// are skipped.
func (p *playback) Enqueue(payload, format string) bool {
	if p.player == nil {
		return false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		p.log.WithError(err).Warn("skipping audio chunk with invalid base64")
		return false
	}
	clip, err := p.decoder.Decode(data, format)
	if err != nil {
		p.log.WithError(err).WithField("format", format).Warn("skipping undecodable audio chunk")
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.queue = append(p.queue, clip)
	if !p.started {
		p.started = true
		go p.loop()
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

// Interrupt stops the active source and clears the queue.
func (p *playback) Interrupt() {
	p.mu.Lock()
	p.gen++
	p.queue = nil
	src := p.active
	p.active = nil
	p.mu.Unlock()
	if src != nil {
		src.Stop()
	}
}

// Playing reports whether a source is active or clips are waiting.
func (p *playback) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil || len(p.queue) > 0
}

func (p *playback) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	p.Interrupt()
	if started {
		close(p.quit)
		<-p.done
	}
	if closer, ok := p.player.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			p.log.WithError(err).Debug("close audio output")
		}
	}
}

func (p *playback) loop() {
	defer close(p.done)
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			select {
			case <-p.wake:
				continue
			case <-p.quit:
				return
			}
		}
		clip := p.queue[0]
		p.queue = p.queue[1:]
		gen := p.gen
		p.mu.Unlock()

		src, err := p.player.Play(clip, unityGain)
		if err != nil {
			p.log.WithError(err).Warn("audio playback failed")
			continue
		}

		p.mu.Lock()
		if gen != p.gen || p.closed {
			p.mu.Unlock()
			src.Stop()
			continue
		}
		p.active = src
		p.mu.Unlock()

		select {
		case <-src.Done():
		case <-p.quit:
			src.Stop()
			return
		}

		p.mu.Lock()
		if gen == p.gen {
			p.active = nil
		}
		p.mu.Unlock()
	}
}
