package session

import (
	"context"
	"sync"
	"time"
)

// Feed event types delivered to watchers.
const (
	FeedStageStarted = "stage_started"
	FeedQuestion     = "question"
	FeedAnswer       = "answer"
	FeedStatus       = "status"
	FeedCompleted    = "completed"
)

// FeedEvent is one update on a session's watch feed.
type FeedEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage,omitempty"`
	Question  string    `json:"question,omitempty"`
	Answer    string    `json:"answer,omitempty"`
	Status    string    `json:"status,omitempty"`
	Location  string    `json:"location,omitempty"`
	Turns     int       `json:"turns,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const feedBufferSize = 16

// Feed is a small pub/sub hub for one session's lifecycle events. Publishing
// never blocks; slow subscribers miss events rather than stalling the worker.
type Feed struct {
	mu   sync.RWMutex
	subs map[chan FeedEvent]struct{}
	done chan struct{}
}

// NewFeed creates an open feed with no subscribers.
func NewFeed() *Feed {
	return &Feed{
		subs: make(map[chan FeedEvent]struct{}),
		done: make(chan struct{}),
	}
}

// Subscribe registers a new watcher. The returned channel is closed when ctx
// is cancelled or the feed is closed. Subscribing to a closed feed yields an
// already-closed channel.
func (f *Feed) Subscribe(ctx context.Context) <-chan FeedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.done:
		ch := make(chan FeedEvent)
		close(ch)
		return ch
	default:
	}

	sub := make(chan FeedEvent, feedBufferSize)
	f.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()

		select {
		case <-f.done:
			return // Close already released every subscriber
		default:
		}

		delete(f.subs, sub)
		close(sub)
	}()

	return sub
}

// Publish fans an event out to all subscribers without blocking. Events
// without a timestamp are stamped here.
func (f *Feed) Publish(e FeedEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	select {
	case <-f.done:
		return
	default:
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	for sub := range f.subs {
		select {
		case sub <- e:
		default:
			// Subscriber buffer full, drop rather than stall the worker.
		}
	}
}

// Close shuts the feed and every subscriber channel. Safe to call more than
// once.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.done:
		return
	default:
	}

	close(f.done)
	for sub := range f.subs {
		close(sub)
	}
	f.subs = nil
}
