// Package transcript persists per-interview NDJSON transcripts.
//
// Every interview session gets its own append-only file named
// <dir>/<session-id>.ndjson. Writes happen on a background goroutine so a
// slow disk never stalls an interview turn; when the queue is full events
// are dropped with a warning rather than blocking.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types recorded in transcript files.
const (
	EventInteraction = "interaction"
	EventError       = "error"
	EventCompletion  = "completion"
)

// Event is one NDJSON line in a session transcript.
type Event struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	PatientID string `json:"patient_id,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Question  string `json:"question,omitempty"`
	Answer    string `json:"answer,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Location  string `json:"location,omitempty"`
	Turns     int    `json:"turns,omitempty"`
}

// Logger records interview events. Log must be safe for concurrent use and
// must never block the caller.
type Logger interface {
	Log(Event)
	Remove(sessionID string) error
	Close() error
}

// Noop discards all events. Used when transcript logging is disabled.
type Noop struct{}

func (Noop) Log(Event)           {}
func (Noop) Remove(string) error { return nil }
func (Noop) Close() error        { return nil }

// Config controls transcript logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// New builds a Logger for the given config. When logging is disabled it
// returns a Noop logger so callers never need to nil-check.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("transcript dir is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript dir: %w", err)
	}

	fl := &fileLogger{
		dir:   cfg.Dir,
		queue: make(chan job, cfg.QueueSize),
		done:  make(chan struct{}),
		log:   logger,
	}
	go fl.run()
	return fl, nil
}

// job is one unit of work for the writer goroutine: either an event to
// append or a session whose file should be removed. Routing removals through
// the same queue keeps them ordered after any pending writes for the session.
type job struct {
	event  Event
	remove string
}

type fileLogger struct {
	dir       string
	queue     chan job
	done      chan struct{}
	log       *slog.Logger
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// Log enqueues an event for the writer goroutine. Events without a timestamp
// are stamped here so ordering reflects enqueue time, not write time.
func (l *fileLogger) Log(e Event) {
	if e.SessionID == "" {
		return
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- job{event: e}:
	default:
		l.log.Warn("transcript queue full, dropping event",
			"session_id", e.SessionID,
			"type", e.Type,
		)
	}
}

// Remove deletes a session's transcript file once pending writes for it have
// flushed. Missing files are not an error.
func (l *fileLogger) Remove(sessionID string) error {
	if sessionID == "" {
		return nil
	}

	l.mu.RLock()
	if !l.closed {
		select {
		case l.queue <- job{remove: sessionID}:
			l.mu.RUnlock()
			return nil
		default:
			// Queue full; fall through and remove directly rather than
			// losing the request.
		}
	}
	l.mu.RUnlock()
	return l.removeFile(sessionID)
}

// Close drains the queue and stops the writer goroutine. Logging after
// Close is a no-op.
func (l *fileLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.queue)
	})
	<-l.done
	return nil
}

func (l *fileLogger) run() {
	defer close(l.done)
	for j := range l.queue {
		if j.remove != "" {
			if err := l.removeFile(j.remove); err != nil {
				l.log.Warn("failed to remove transcript", "session_id", j.remove, "error", err)
			}
			continue
		}
		l.write(j.event)
	}
}

func (l *fileLogger) removeFile(sessionID string) error {
	err := os.Remove(l.path(sessionID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove transcript: %w", err)
	}
	return nil
}

func (l *fileLogger) write(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		l.log.Warn("failed to marshal transcript event", "error", err)
		return
	}
	f, err := os.OpenFile(l.path(e.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.log.Warn("failed to open transcript file", "session_id", e.SessionID, "error", err)
		return
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(data, '\n')); err != nil {
		l.log.Warn("failed to write transcript event", "session_id", e.SessionID, "error", err)
	}
}

func (l *fileLogger) path(sessionID string) string {
	// Session IDs are minted server-side; Base guards against a crafted ID
	// escaping the transcript dir anyway.
	return filepath.Join(l.dir, filepath.Base(sessionID)+".ndjson")
}
