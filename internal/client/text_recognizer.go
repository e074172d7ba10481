package client

import (
	"errors"
	"sync"
)

// TextRecognizer stands in for speech recognition where utterances arrive as
// text, such as a terminal. Each queued line becomes one final result.
type TextRecognizer struct {
	mu    sync.Mutex
	lines []string
}

func (t *TextRecognizer) Queue(line string) {
	t.mu.Lock()
	t.lines = append(t.lines, line)
	t.mu.Unlock()
}

// New pops the next queued line. It fits Devices.NewRecognizer.
func (t *TextRecognizer) New() (Recognizer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return nil, errors.New("no queued utterance")
	}
	line := t.lines[0]
	t.lines = t.lines[1:]
	return &textUtterance{text: line}, nil
}

type textUtterance struct {
	text string
}

func (u *textUtterance) Start(onResult func(Result), _ func(error)) error {
	onResult(Result{Text: u.text, Final: true})
	return nil
}

func (u *textUtterance) Stop() {}
