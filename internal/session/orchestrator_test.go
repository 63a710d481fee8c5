package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/anamnesis/internal/invoke"
	"github.com/ashureev/anamnesis/internal/pipeline"
	"github.com/ashureev/anamnesis/internal/report"
	"github.com/ashureev/anamnesis/internal/store"
	"github.com/ashureev/anamnesis/internal/transcript"
)

// promptLog records every prompt each role resolver saw.
type promptLog struct {
	mu      sync.Mutex
	prompts map[string][]string
}

func newPromptLog() *promptLog {
	return &promptLog{prompts: make(map[string][]string)}
}

func (p *promptLog) add(role, prompt string) {
	p.mu.Lock()
	p.prompts[role] = append(p.prompts[role], prompt)
	p.mu.Unlock()
}

func (p *promptLog) last(role string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := p.prompts[role]
	if len(seen) == 0 {
		return ""
	}
	return seen[len(seen)-1]
}

func interviewStages() []pipeline.Stage {
	return []pipeline.Stage{
		{Name: "interview", Role: "interviewer", Interactive: true, Instructions: "open the interview"},
		{Name: "validate", Role: "validator", DependsOn: []string{"interview"}, Instructions: "validate the complaint"},
		{Name: "report", Role: "writer", DependsOn: []string{"interview", "validate"}, Instructions: "write the report"},
	}
}

func scriptedResolvers(log *promptLog) map[string]pipeline.CollaboratorFunc {
	return map[string]pipeline.CollaboratorFunc{
		"interviewer": func(_ context.Context, prompt string) (string, error) {
			log.add("interviewer", prompt)
			return "What brings you in today?", nil
		},
		"validator": func(_ context.Context, prompt string) (string, error) {
			log.add("validator", prompt)
			return "Complaint is plausible and internally consistent.", nil
		},
		"writer": func(_ context.Context, prompt string) (string, error) {
			log.add("writer", prompt)
			return "CHIEF COMPLAINT\nI have a headache\n\nCLINICAL SUMMARY\nBrief intake interview.", nil
		},
	}
}

type testHarness struct {
	orch       *Orchestrator
	registry   *Registry
	repo       store.Repository
	prompts    *promptLog
	archiveDir string
	tlogDir    string
}

func newTestHarness(t *testing.T, base context.Context) *testHarness {
	t.Helper()
	tmp := t.TempDir()

	repo, err := store.NewSQLite(filepath.Join(tmp, "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	tlogDir := filepath.Join(tmp, "transcripts")
	tlog, err := transcript.New(transcript.Config{Enabled: true, Dir: tlogDir, QueueSize: 64}, nil)
	if err != nil {
		t.Fatalf("transcript.New failed: %v", err)
	}
	t.Cleanup(func() { _ = tlog.Close() })

	prompts := newPromptLog()
	registry := NewRegistry()
	archiveDir := filepath.Join(tmp, "archive")

	orch, err := NewOrchestrator(base, Config{
		Registry:   registry,
		Repo:       repo,
		Transcript: tlog,
		Invoker: invoke.New(invoke.Policy{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		}, nil),
		Resolvers: scriptedResolvers(prompts),
		Stages:    interviewStages(),
		Renderer:  report.NewRenderer(filepath.Join(tmp, "work")),
		Archive:   report.NewArchive(archiveDir, repo),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}

	return &testHarness{
		orch:       orch,
		registry:   registry,
		repo:       repo,
		prompts:    prompts,
		archiveDir: archiveDir,
		tlogDir:    tlogDir,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestInterviewRunsEndToEnd(t *testing.T) {
	t.Parallel()

	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newTestHarness(t, base)

	sess, started := h.orch.Start("sess-e2e", "anon_p1")
	if !started {
		t.Fatal("first Start did not start a worker")
	}

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	question, seq, err := sess.Broker.AwaitQuestion(wctx, 0)
	if err != nil {
		t.Fatalf("no opening question: %v", err)
	}
	if question != "What brings you in today?" {
		t.Errorf("opening question = %q", question)
	}
	waitFor(t, "awaiting_input status", func() bool { return sess.Status() == StatusAwaitingInput })

	feedCtx, feedCancel := context.WithCancel(context.Background())
	defer feedCancel()
	events := sess.Feed.Subscribe(feedCtx)

	sess.Deliver("I have a headache")

	wctx2, wcancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel2()
	closing, _, err := sess.Broker.AwaitQuestion(wctx2, seq)
	if err != nil {
		t.Fatalf("no closing notice: %v", err)
	}
	if closing != completionNotice {
		t.Errorf("closing notice = %q", closing)
	}
	if sess.Status() != StatusCompleted {
		t.Errorf("status = %q, want completed", sess.Status())
	}

	// The patient's answer must flow into every dependent stage.
	if got := h.prompts.last("validator"); !strings.Contains(got, "[interview]\nI have a headache") {
		t.Errorf("validator prompt missing the answer:\n%q", got)
	}
	if got := h.prompts.last("writer"); !strings.Contains(got, "[validate]") || !strings.Contains(got, "I have a headache") {
		t.Errorf("writer prompt missing dependencies:\n%q", got)
	}

	location := sess.ReportLocation()
	if !strings.HasPrefix(location, "patients/anon_p1/reports/") {
		t.Errorf("report location = %q", location)
	}
	artifact, err := os.ReadFile(filepath.Join(h.archiveDir, filepath.FromSlash(location)))
	if err != nil {
		t.Fatalf("archived report missing: %v", err)
	}
	if !strings.HasPrefix(string(artifact), "%PDF-") {
		t.Error("archived report is not a PDF")
	}

	// Cleanup runs exactly once after completion: the registry entry and the
	// transcript file are gone, and the feed closes.
	waitFor(t, "registry cleanup", func() bool { return h.registry.Len() == 0 })
	waitFor(t, "transcript removal", func() bool {
		_, err := os.Stat(filepath.Join(h.tlogDir, "sess-e2e.ndjson"))
		return os.IsNotExist(err)
	})

	sawAnswer, sawCompleted := false, false
	for e := range events {
		switch e.Type {
		case FeedAnswer:
			sawAnswer = true
		case FeedCompleted:
			sawCompleted = true
			if e.Location != location {
				t.Errorf("completed event location = %q", e.Location)
			}
		}
	}
	if !sawAnswer || !sawCompleted {
		t.Errorf("feed missed events: answer=%v completed=%v", sawAnswer, sawCompleted)
	}

	run, err := h.repo.GetInterview(context.Background(), "sess-e2e")
	if err != nil {
		t.Fatalf("GetInterview failed: %v", err)
	}
	if run == nil {
		t.Fatal("interview row missing")
	}
	if run.Status != string(StatusCompleted) || run.Turns != 1 {
		t.Errorf("run = status %q turns %d", run.Status, run.Turns)
	}
	if run.ChiefComplaint != "I have a headache" {
		t.Errorf("chief complaint = %q", run.ChiefComplaint)
	}
	if run.EndedAt == nil {
		t.Error("EndedAt not set")
	}

	ledger, err := h.repo.ListReportsForPatient(context.Background(), "anon_p1", 5)
	if err != nil {
		t.Fatalf("ListReportsForPatient failed: %v", err)
	}
	if len(ledger) != 1 || ledger[0].StoredLocation != location {
		t.Errorf("ledger = %+v", ledger)
	}

	// After cleanup the same id yields a brand-new pending session.
	fresh := h.registry.GetOrCreate("sess-e2e", "anon_p1")
	if fresh == sess {
		t.Fatal("registry returned the cleaned-up session")
	}
	if fresh.Broker.Len() != 0 || fresh.Status() != StatusPending {
		t.Errorf("fresh session state: queue=%d status=%q", fresh.Broker.Len(), fresh.Status())
	}
}

func TestStartIsIdempotentForLiveSessions(t *testing.T) {
	t.Parallel()

	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newTestHarness(t, base)

	sess, started := h.orch.Start("sess-idem", "anon_p2")
	if !started {
		t.Fatal("first Start did not start a worker")
	}

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	question, seq, err := sess.Broker.AwaitQuestion(wctx, 0)
	if err != nil {
		t.Fatalf("no opening question: %v", err)
	}

	again, started := h.orch.Start("sess-idem", "anon_p2")
	if started {
		t.Error("second Start started another worker")
	}
	if again != sess {
		t.Error("second Start returned a different session")
	}

	q2, seq2 := sess.Broker.Question()
	if q2 != question || seq2 != seq {
		t.Errorf("second Start disturbed the current question: %q (seq %d)", q2, seq2)
	}
}

func TestRenderFailureFailsSession(t *testing.T) {
	t.Parallel()

	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newTestHarness(t, base)

	// Point the renderer at a path occupied by a regular file so rendering
	// cannot create its directory.
	tmp := t.TempDir()
	blocked := filepath.Join(tmp, "not-a-dir")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	h.orch.renderer = report.NewRenderer(filepath.Join(blocked, "reports"))

	sess, _ := h.orch.Start("sess-fail", "anon_p3")

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	_, seq, err := sess.Broker.AwaitQuestion(wctx, 0)
	if err != nil {
		t.Fatalf("no opening question: %v", err)
	}

	sess.Deliver("I have a headache")

	wctx2, wcancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel2()
	notice, _, err := sess.Broker.AwaitQuestion(wctx2, seq)
	if err != nil {
		t.Fatalf("no failure notice: %v", err)
	}
	if notice != failureNotice {
		t.Errorf("notice = %q", notice)
	}
	if sess.Status() != StatusFailed {
		t.Errorf("status = %q, want failed", sess.Status())
	}

	waitFor(t, "registry cleanup", func() bool { return h.registry.Len() == 0 })

	run, err := h.repo.GetInterview(context.Background(), "sess-fail")
	if err != nil {
		t.Fatalf("GetInterview failed: %v", err)
	}
	if run == nil || run.Status != string(StatusFailed) {
		t.Fatalf("run = %+v", run)
	}
}

func TestAbandonWakesWaiterAndCleansUp(t *testing.T) {
	t.Parallel()

	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newTestHarness(t, base)

	sess, _ := h.orch.Start("sess-abandon", "anon_p4")

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	_, seq, err := sess.Broker.AwaitQuestion(wctx, 0)
	if err != nil {
		t.Fatalf("no opening question: %v", err)
	}

	h.orch.Abandon(sess, "patient closed the tab")

	wctx2, wcancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel2()
	notice, _, err := sess.Broker.AwaitQuestion(wctx2, seq)
	if err != nil {
		t.Fatalf("no abandon notice: %v", err)
	}
	if notice != abandonNotice {
		t.Errorf("notice = %q", notice)
	}
	if sess.Status() != StatusAbandoned {
		t.Errorf("status = %q", sess.Status())
	}

	waitFor(t, "registry cleanup", func() bool { return h.registry.Len() == 0 })

	run, err := h.repo.GetInterview(context.Background(), "sess-abandon")
	if err != nil {
		t.Fatalf("GetInterview failed: %v", err)
	}
	if run == nil || run.Status != string(StatusAbandoned) {
		t.Fatalf("run = %+v", run)
	}
}

func TestAbandonUnstartedSessionCleansUpDirectly(t *testing.T) {
	t.Parallel()

	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newTestHarness(t, base)

	sess := h.registry.GetOrCreate("sess-pending", "anon_p5")
	h.orch.Abandon(sess, "never started")

	if sess.Status() != StatusAbandoned {
		t.Errorf("status = %q", sess.Status())
	}
	if h.registry.Len() != 0 {
		t.Error("pending session not removed from registry")
	}
}

func TestReaperSweepsIdleSessions(t *testing.T) {
	t.Parallel()

	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newTestHarness(t, base)

	sess, _ := h.orch.Start("sess-idle", "anon_p6")

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	if _, _, err := sess.Broker.AwaitQuestion(wctx, 0); err != nil {
		t.Fatalf("no opening question: %v", err)
	}

	busy := h.registry.GetOrCreate("sess-busy", "anon_p6")

	time.Sleep(30 * time.Millisecond)
	busy.Touch()
	h.orch.sweepIdleSessions(context.Background(), 20*time.Millisecond)

	if sess.Status() != StatusAbandoned {
		t.Errorf("idle session status = %q, want abandoned", sess.Status())
	}
	waitFor(t, "idle session cleanup", func() bool {
		_, ok := h.registry.Get("sess-idle")
		return !ok
	})

	if _, ok := h.registry.Get("sess-busy"); !ok {
		t.Error("active session was swept")
	}
}
