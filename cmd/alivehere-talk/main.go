package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ent0n29/alivehere/internal/audio"
	"github.com/ent0n29/alivehere/internal/client"
	"github.com/ent0n29/alivehere/internal/logging"
)

type options struct {
	baseURL      string
	port         int
	userID       string
	outDir       string
	finalize     time.Duration
	turnTimeout  time.Duration
	startTimeout time.Duration
	logLevel     string
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "alivehere-talk: %v\n", err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "alivehere-talk: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	fs := flag.NewFlagSet("alivehere-talk", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8765", "relay base URL; its host and scheme select the socket")
	fs.IntVar(&cfg.port, "port", 0, "relay socket port (default: port of base-url, else 8765)")
	fs.StringVar(&cfg.userID, "user-id", "", "user whose voice and profile to talk to")
	fs.StringVar(&cfg.outDir, "out", "", "directory to write per-turn audio into (optional)")
	fs.DurationVar(&cfg.finalize, "finalize", 100*time.Millisecond, "delay between release and send")
	fs.DurationVar(&cfg.turnTimeout, "turn-timeout", 60*time.Second, "how long to wait for a reply")
	fs.DurationVar(&cfg.startTimeout, "start-timeout", 15*time.Second, "how long to wait for the relay to acknowledge")
	fs.StringVar(&cfg.logLevel, "log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	cfg.userID = strings.TrimSpace(cfg.userID)
	if cfg.userID == "" {
		return options{}, fmt.Errorf("user-id is required")
	}
	if cfg.port == 0 {
		cfg.port = portFromURL(cfg.baseURL)
	}
	if cfg.port < 0 || cfg.port > 65535 {
		return options{}, fmt.Errorf("port must be in [1,65535]")
	}
	if cfg.turnTimeout < time.Second {
		cfg.turnTimeout = time.Second
	}
	return cfg, nil
}

func portFromURL(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return client.DefaultPort
	}
	p, err := strconv.Atoi(u.Port())
	if err != nil {
		return client.DefaultPort
	}
	return p
}

func run(ctx context.Context, cfg options, in io.Reader, out io.Writer) error {
	log := logging.NewWithOutput(os.Stderr, cfg.logLevel, "text")
	recorder := newTurnRecorder(cfg.outDir)
	recognizer := &client.TextRecognizer{}
	turnDone := make(chan client.TurnSummary, 1)
	var outMu sync.Mutex
	printf := func(format string, args ...any) {
		outMu.Lock()
		fmt.Fprintf(out, format, args...)
		outMu.Unlock()
	}

	c, err := client.New(client.Options{
		BaseURL:       cfg.baseURL,
		Port:          cfg.port,
		FinalizeDelay: cfg.finalize,
		Logger:        log,
		OnStatus:      func(s string) { log.WithField("status", s).Debug("status") },
		OnTurnDone: func(s client.TurnSummary) {
			select {
			case turnDone <- s:
			default:
			}
		},
	}, client.NewHTTPDirectory(cfg.baseURL, nil), client.Devices{
		Decoder:       recorder,
		Player:        instantPlayer{},
		Synthesizer:   printSynth{printf: printf},
		NewRecognizer: recognizer.New,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	startCtx, cancel := context.WithTimeout(ctx, cfg.startTimeout)
	defer cancel()
	if err := c.Start(startCtx, cfg.userID); err != nil {
		return err
	}
	state, err := c.WaitFor(startCtx, client.StateReady, client.StateFatal, client.StateClosed)
	if err != nil {
		return fmt.Errorf("waiting for relay: %w", err)
	}
	if state != client.StateReady {
		return fmt.Errorf("relay connection %s", state)
	}
	printf("connected to %s as %s (session %s). Type a line and press enter; /quit to leave.\n", c.Endpoint(), cfg.userID, c.SessionID())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for turn := 1; ; {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}

		recognizer.Queue(line)
		if err := c.Press(ctx); err != nil {
			return err
		}
		c.Release()

		select {
		case <-ctx.Done():
			return nil
		case s := <-turnDone:
			path, err := recorder.flush(turn)
			if err != nil {
				log.WithError(err).Warn("write turn audio")
			}
			printf("assistant: %s\n", s.Text)
			if path != "" {
				printf("  audio: %s (%d chunks)\n", path, s.AudioChunks)
			}
			turn++
		case <-time.After(cfg.turnTimeout):
			if c.State() == client.StateFatal {
				return client.ErrFatal
			}
			printf("no reply within %s\n", cfg.turnTimeout)
		}
	}
}

// turnRecorder captures every audio payload of the current turn as it is
// decoded, which happens before the turn's done frame is handled.
type turnRecorder struct {
	dir string

	mu     sync.Mutex
	data   []byte
	format string
}

func newTurnRecorder(dir string) *turnRecorder { return &turnRecorder{dir: dir} }

func (r *turnRecorder) Decode(data []byte, format string) (client.Clip, error) {
	r.mu.Lock()
	r.data = append(r.data, data...)
	if format != "" {
		r.format = format
	}
	r.mu.Unlock()
	return client.RawClip{Data: data, Format: format}, nil
}

// flush writes the collected audio for turn n and resets the buffer.
func (r *turnRecorder) flush(n int) (string, error) {
	r.mu.Lock()
	data, format := r.data, r.format
	r.data, r.format = nil, ""
	r.mu.Unlock()
	if r.dir == "" || len(data) == 0 {
		return "", nil
	}
	encoded, ext, err := encodeTurnAudio(data, format)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(r.dir, fmt.Sprintf("turn-%03d%s", n, ext))
	return path, os.WriteFile(path, encoded, 0o644)
}

// encodeTurnAudio wraps PCM in WAV and passes compressed formats through.
func encodeTurnAudio(data []byte, format string) ([]byte, string, error) {
	f := audio.ParseFormat(format)
	if !f.IsPCM() {
		return data, f.Extension(), nil
	}
	if len(data)%2 != 0 {
		return nil, "", errors.New("pcm turn audio has odd length")
	}
	wav, err := audio.EncodeWAVPCM16LE(data, f.SampleRate)
	if err != nil {
		return nil, "", err
	}
	return wav, f.Extension(), nil
}

type instantPlayer struct{}

func (instantPlayer) Play(client.Clip, float64) (client.Source, error) {
	done := make(chan struct{})
	close(done)
	return finishedSource(done), nil
}

type finishedSource chan struct{}

func (s finishedSource) Done() <-chan struct{} { return s }
func (finishedSource) Stop()                   {}

type printSynth struct {
	printf func(format string, args ...any)
}

func (p printSynth) Speak(_ context.Context, text string) error {
	p.printf("(spoken locally) %s\n", text)
	return nil
}
