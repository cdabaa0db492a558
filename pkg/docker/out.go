package docker

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
)

type errorDetail struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type errorLine struct {
	ErrorDetail errorDetail `json:"errorDetail"`
	Error       string      `json:"error"`
}

func (e *errorLine) Err() error {
	if e.ErrorDetail.Message != "" {
		return errors.New(e.ErrorDetail.Message)
	}
	if e.Error != "" {
		return errors.New(e.Error)
	}
	return nil
}

// checkResponse parses a daemon progress stream (image pull) and returns the
// first error reported in it
func checkResponse(resp io.ReadCloser) error {
	if resp == nil {
		return nil
	}
	defer resp.Close() // nolint: errcheck

	scanner := bufio.NewScanner(resp)
	for scanner.Scan() {
		var p errorLine
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			return err
		}
		if err := p.Err(); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// lineWriter splits written output into lines and hands them to a callback
// from its own goroutine. Write never waits on the callback, lines are
// buffered until the callback catches up.
type lineWriter struct {
	fn func(string)

	mu      sync.Mutex
	partial []byte
	lines   []string
	sent    int
	closed  bool

	notify chan struct{}
	done   chan struct{}
}

func newLineWriter(fn func(string)) *lineWriter {
	w := &lineWriter{
		fn:     fn,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.dispatch()

	return w
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.add(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	w.mu.Unlock()

	w.wake()

	return len(p), nil
}

// Close flushes a trailing unterminated line and waits until every line has
// been handed to the callback
func (w *lineWriter) Close() {
	w.mu.Lock()
	if !w.closed {
		w.add(string(w.partial))
		w.partial = nil
		w.closed = true
	}
	w.mu.Unlock()

	w.wake()
	<-w.done
}

// Lines returns every line captured so far
func (w *lineWriter) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	lines := make([]string, len(w.lines))
	copy(lines, w.lines)

	return lines
}

// add must be called with the lock held
func (w *lineWriter) add(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.lines = append(w.lines, line)
}

func (w *lineWriter) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *lineWriter) dispatch() {
	defer close(w.done)

	for range w.notify {
		w.mu.Lock()
		pending := w.lines[w.sent:]
		w.sent = len(w.lines)
		closed := w.closed
		w.mu.Unlock()

		if w.fn != nil {
			for _, line := range pending {
				w.fn(line)
			}
		}

		if closed {
			return
		}
	}
}
