package session

import (
	"context"
	"testing"
	"time"
)

func TestRegistryReturnsSameSessionForSameID(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := reg.GetOrCreate("sess-a", "anon_1")
	b := reg.GetOrCreate("sess-a", "anon_1")
	if a != b {
		t.Fatal("same id produced different sessions")
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}
	if a.Status() != StatusPending {
		t.Errorf("fresh session status = %q", a.Status())
	}
}

func TestRegistryResetAfterRemove(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	first := reg.GetOrCreate("sess-b", "anon_1")
	first.Deliver("leftover message")

	if !reg.Remove("sess-b") {
		t.Fatal("Remove reported nothing removed")
	}
	if reg.Remove("sess-b") {
		t.Error("second Remove should be a no-op")
	}

	fresh := reg.GetOrCreate("sess-b", "anon_1")
	if fresh == first {
		t.Fatal("expected a brand-new session after removal")
	}
	if fresh.Broker.Len() != 0 {
		t.Errorf("new session inherited %d queued messages", fresh.Broker.Len())
	}
	if fresh.Status() != StatusPending {
		t.Errorf("new session status = %q", fresh.Status())
	}
}

func TestRegistryIdleCutoff(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	stale := reg.GetOrCreate("sess-stale", "anon_1")
	fresh := reg.GetOrCreate("sess-fresh", "anon_1")

	time.Sleep(30 * time.Millisecond)
	fresh.Touch()

	idle := reg.Idle(time.Now().Add(-20 * time.Millisecond))
	if len(idle) != 1 || idle[0] != stale {
		t.Fatalf("Idle returned %d sessions", len(idle))
	}
}

func TestMarkStartedIsSingleShot(t *testing.T) {
	t.Parallel()

	sess := newSession("sess-c", "anon_1")
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !sess.markStarted(cancel) {
		t.Fatal("first markStarted refused")
	}
	if sess.markStarted(cancel) {
		t.Fatal("second markStarted accepted")
	}
	if !sess.Started() {
		t.Error("Started() = false after markStarted")
	}
	if sess.Status() != StatusRunning {
		t.Errorf("status = %q, want running", sess.Status())
	}
	if sess.StartedAt().IsZero() {
		t.Error("StartedAt not stamped")
	}
}

func TestTerminalStatusIsSticky(t *testing.T) {
	t.Parallel()

	sess := newSession("sess-d", "anon_1")
	if !sess.setStatus(StatusRunning) {
		t.Fatal("running transition refused")
	}
	if !sess.setStatus(StatusCompleted) {
		t.Fatal("completed transition refused")
	}
	if sess.setStatus(StatusFailed) {
		t.Error("terminal status was overwritten")
	}
	if sess.Status() != StatusCompleted {
		t.Errorf("status = %q, want completed", sess.Status())
	}

	// A terminal session can never restart.
	if sess.markStarted(func() {}) {
		t.Error("markStarted accepted on a terminal session")
	}
}

func TestExchangeHistory(t *testing.T) {
	t.Parallel()

	sess := newSession("sess-e", "anon_1")
	sess.RecordExchange("interview", "What brings you in?", "I have a headache")
	sess.RecordExchange("history", "When did it start?", "Three days ago")

	if sess.Turns() != 2 {
		t.Errorf("Turns = %d, want 2", sess.Turns())
	}
	if sess.ChiefComplaint() != "I have a headache" {
		t.Errorf("ChiefComplaint = %q", sess.ChiefComplaint())
	}

	last := sess.Exchanges(1)
	if len(last) != 1 || last[0].Stage != "history" {
		t.Fatalf("Exchanges(1) = %+v", last)
	}
	all := sess.Exchanges(0)
	if len(all) != 2 || all[0].Stage != "interview" {
		t.Fatalf("Exchanges(0) = %+v", all)
	}
}

func TestAbandonIsTerminalAndPostsNotice(t *testing.T) {
	t.Parallel()

	sess := newSession("sess-f", "anon_1")
	if !sess.Abandon("closing notice") {
		t.Fatal("Abandon refused on a live session")
	}
	if sess.Abandon("again") {
		t.Error("second Abandon should be a no-op")
	}
	if sess.Status() != StatusAbandoned {
		t.Errorf("status = %q", sess.Status())
	}
	q, seq := sess.Broker.Question()
	if q != "closing notice" || seq == 0 {
		t.Errorf("notice not posted: %q (seq %d)", q, seq)
	}
}
