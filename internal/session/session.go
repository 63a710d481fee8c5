package session

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/anamnesis/internal/broker"
	"github.com/ashureev/anamnesis/internal/domain"
)

// Session is the in-memory orchestration state for one interview. Each
// session exclusively owns its message broker and watch feed; the worker is
// the only mutator of pipeline state, request handlers only deliver answers
// and read snapshots.
type Session struct {
	ID        string
	PatientID string
	Broker    *broker.Broker
	Feed      *Feed

	mu           sync.Mutex
	status       Status
	started      bool
	startedAt    time.Time
	lastActivity time.Time
	history      []domain.Exchange
	reportLoc    string
	cancel       context.CancelFunc
	finalize     sync.Once
}

func newSession(id, patientID string) *Session {
	return &Session{
		ID:           id,
		PatientID:    patientID,
		Broker:       broker.NewBroker(),
		Feed:         NewFeed(),
		status:       StatusPending,
		lastActivity: time.Now(),
	}
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// setStatus moves the session to st and publishes a status feed event.
// Terminal statuses are sticky: once reached, further transitions are
// rejected and false is returned.
func (s *Session) setStatus(st Status) bool {
	s.mu.Lock()
	if s.status.IsTerminal() || s.status == st {
		s.mu.Unlock()
		return false
	}
	s.status = st
	s.mu.Unlock()

	s.Feed.Publish(FeedEvent{
		Type:      FeedStatus,
		SessionID: s.ID,
		Status:    string(st),
	})
	return true
}

// Started reports whether a worker was ever launched for this session.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// StartedAt returns when the worker was launched (zero if never started).
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// markStarted claims the right to launch the session's worker. Only the
// first caller gets true; the session keeps at most one live worker. A
// terminal session can never be restarted.
func (s *Session) markStarted(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.status.IsTerminal() {
		return false
	}
	s.started = true
	s.status = StatusRunning
	s.startedAt = time.Now()
	s.lastActivity = s.startedAt
	s.cancel = cancel
	return true
}

// Deliver hands a patient message to the worker and refreshes the activity
// clock.
func (s *Session) Deliver(text string) {
	s.Broker.Add(text)
	s.Touch()
}

// Touch refreshes the session's last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns when the session last saw a start, question or answer.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// RecordExchange appends a completed question/answer turn to the history.
func (s *Session) RecordExchange(stage, question, answer string) {
	s.mu.Lock()
	s.history = append(s.history, domain.Exchange{
		Stage:    stage,
		Question: question,
		Answer:   answer,
		AskedAt:  time.Now(),
	})
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Turns returns how many question/answer exchanges have completed.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Exchanges returns the last n exchanges, newest last.
func (s *Session) Exchanges(n int) []domain.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]domain.Exchange, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// ChiefComplaint returns the patient's first answer, the complaint that
// opened the interview.
func (s *Session) ChiefComplaint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return ""
	}
	return s.history[0].Answer
}

// ReportLocation returns where the final report was stored, if any.
func (s *Session) ReportLocation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reportLoc
}

func (s *Session) setReportLocation(loc string) {
	s.mu.Lock()
	s.reportLoc = loc
	s.mu.Unlock()
}

// Abandon closes the session before natural completion: marks it abandoned,
// posts the closing notice so any waiter wakes, and cancels the worker if
// one is running. Returns false if the session was already terminal.
func (s *Session) Abandon(notice string) bool {
	if !s.setStatus(StatusAbandoned) {
		return false
	}
	s.Broker.SetQuestion(notice)

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// Registry tracks live sessions by their opaque session ID. The map insert
// and remove are guarded by a single lock; everything inside a Session has
// its own synchronization.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for id, constructing it on first lookup.
// Concurrent calls with the same id observe the same instance.
func (r *Registry) GetOrCreate(id, patientID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[id]; ok {
		return sess
	}
	sess := newSession(id, patientID)
	r.sessions[id] = sess
	return sess
}

// Get returns the session for id without creating one.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove drops the mapping for id. Only the first call removes; later calls
// are no-ops returning false.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Idle returns sessions whose last activity is before cutoff.
func (r *Registry) Idle(cutoff time.Time) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var idle []*Session
	for _, sess := range r.sessions {
		if sess.LastActivity().Before(cutoff) {
			idle = append(idle, sess)
		}
	}
	return idle
}
