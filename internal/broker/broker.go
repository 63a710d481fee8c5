// Package broker provides the per-session rendezvous primitive between the
// interview worker and the request layer. Answers flow worker-ward through a
// FIFO queue; the worker's current question flows the other way as a single
// last-write-wins value.
package broker

import (
	"context"
	"sync"
)

// Broker hands messages from request handlers to the session worker and
// publishes the worker's outstanding question. Each interview session owns
// exactly one Broker; it is never shared across sessions.
type Broker struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue []string

	question string
	qseq     uint64
	qchanged chan struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	b := &Broker{
		qchanged: make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Add appends a message to the pending queue and wakes one waiter blocked in
// Get. It never fails.
func (b *Broker) Add(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.queue = append(b.queue, text)
	b.cond.Signal()
}

// Get pops and returns the oldest pending message. If the queue is empty it
// suspends until a message arrives or ctx is cancelled; it never returns an
// empty result for a non-empty queue and never busy-waits. Timeouts are the
// caller's responsibility via ctx.
func (b *Broker) Get(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Wake this waiter when ctx ends. The broadcast is taken under the lock
	// so it cannot slip between the cancellation check and cond.Wait.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-done:
		}
	}()

	for len(b.queue) == 0 {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		b.cond.Wait()
	}

	msg := b.queue[0]
	b.queue = b.queue[1:]
	return msg, nil
}

// Len reports the number of pending messages.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// SetQuestion overwrites the current outstanding question. Questions are not
// queued: a session has at most one live question at a time, and slow readers
// observe only the latest value.
func (b *Broker) SetQuestion(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.question = text
	b.qseq++
	close(b.qchanged)
	b.qchanged = make(chan struct{})
}

// Question returns the current outstanding question without consuming it,
// together with its sequence number. A zero sequence means no question has
// been posted yet.
func (b *Broker) Question() (string, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.question, b.qseq
}

// AwaitQuestion suspends until the question sequence passes since, then
// returns the current question and its sequence. The caller bounds the wait
// through ctx; on expiry the broker state is untouched and the worker keeps
// running.
func (b *Broker) AwaitQuestion(ctx context.Context, since uint64) (string, uint64, error) {
	for {
		b.mu.Lock()
		if b.qseq > since {
			q, seq := b.question, b.qseq
			b.mu.Unlock()
			return q, seq, nil
		}
		changed := b.qchanged
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-changed:
		}
	}
}
