package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/anamnesis/internal/broker"
	"github.com/ashureev/anamnesis/internal/domain"
	"github.com/ashureev/anamnesis/internal/invoke"
	"github.com/ashureev/anamnesis/internal/pipeline"
	"github.com/ashureev/anamnesis/internal/report"
	"github.com/ashureev/anamnesis/internal/store"
	"github.com/ashureev/anamnesis/internal/transcript"
)

// Notices posted through the current-question slot when an interview ends,
// so any client waiting on the next question wakes up with a readable
// closing message.
const (
	completionNotice = "Thank you for completing the interview. Your medical report has been generated and is ready for clinical review."
	failureNotice    = "I apologize, but I ran into technical difficulties and could not finish your interview. Please try again later."
	abandonNotice    = "This interview was closed after a period of inactivity. Please start a new interview when you're ready."
)

const persistTimeout = 5 * time.Second

// Config carries the collaborators an Orchestrator needs.
type Config struct {
	Registry   *Registry
	Repo       store.Repository
	Transcript transcript.Logger
	Invoker    *invoke.Invoker
	Resolvers  map[string]pipeline.CollaboratorFunc
	Stages     []pipeline.Stage
	Renderer   *report.Renderer
	Archive    *report.Archive
	Logger     *slog.Logger
}

// Orchestrator launches and supervises one background worker per interview
// session. Workers run on the orchestrator's base context, never a request
// context: a client that times out or disconnects does not cancel its
// interview.
type Orchestrator struct {
	base      context.Context
	registry  *Registry
	repo      store.Repository
	tlog      transcript.Logger
	invoker   *invoke.Invoker
	resolvers map[string]pipeline.CollaboratorFunc
	stages    []pipeline.Stage
	renderer  *report.Renderer
	archive   *report.Archive
	log       *slog.Logger
}

// NewOrchestrator builds an orchestrator. base bounds the lifetime of all
// workers it starts and must outlive any single request.
func NewOrchestrator(base context.Context, cfg Config) (*Orchestrator, error) {
	if base == nil {
		return nil, errors.New("orchestrator requires a base context")
	}
	if cfg.Registry == nil || cfg.Repo == nil || cfg.Invoker == nil {
		return nil, errors.New("orchestrator requires a registry, repository and invoker")
	}
	if len(cfg.Stages) == 0 || len(cfg.Resolvers) == 0 {
		return nil, errors.New("orchestrator requires pipeline stages and resolvers")
	}
	if cfg.Renderer == nil || cfg.Archive == nil {
		return nil, errors.New("orchestrator requires a report renderer and archive")
	}
	if cfg.Transcript == nil {
		cfg.Transcript = transcript.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	// Validate the stage graph once up front; per-session pipelines only
	// rebind the broker.
	if _, err := pipeline.New(cfg.Stages, cfg.Resolvers, cfg.Invoker, broker.NewBroker()); err != nil {
		return nil, fmt.Errorf("invalid interview pipeline: %w", err)
	}
	return &Orchestrator{
		base:      base,
		registry:  cfg.Registry,
		repo:      cfg.Repo,
		tlog:      cfg.Transcript,
		invoker:   cfg.Invoker,
		resolvers: cfg.Resolvers,
		stages:    cfg.Stages,
		renderer:  cfg.Renderer,
		archive:   cfg.Archive,
		log:       cfg.Logger,
	}, nil
}

// Registry exposes the session registry backing this orchestrator.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Start returns the session for sessionID, launching its worker on the
// first call. Later calls for a live session are no-ops and return
// started=false, leaving the current question untouched.
func (o *Orchestrator) Start(sessionID, patientID string) (sess *Session, started bool) {
	sess = o.registry.GetOrCreate(sessionID, patientID)

	ctx, cancel := context.WithCancel(o.base)
	if !sess.markStarted(cancel) {
		cancel()
		return sess, false
	}

	o.log.Info("starting interview worker",
		"session_id", sess.ID,
		"patient_id", sess.PatientID,
	)
	o.persistRun(o.base, sess, false)
	go o.run(ctx, sess)
	return sess, true
}

// Abandon closes a session before natural completion and releases its
// resources. Safe to call for sessions in any state.
func (o *Orchestrator) Abandon(sess *Session, reason string) {
	if !sess.Abandon(abandonNotice) {
		return
	}
	o.log.Info("interview abandoned", "session_id", sess.ID, "reason", reason)
	o.tlog.Log(transcript.Event{
		Type:      transcript.EventError,
		SessionID: sess.ID,
		PatientID: sess.PatientID,
		Detail:    "interview abandoned: " + reason,
	})
	o.persistRun(context.Background(), sess, true)

	// A running worker observes the cancellation and finishes cleanup on
	// its own failure path; a never-started session has no worker to do it.
	if !sess.Started() {
		o.cleanup(sess)
	}
}

// run drives one interview pipeline from first question to terminal state.
func (o *Orchestrator) run(ctx context.Context, sess *Session) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("interview worker panicked", "session_id", sess.ID, "panic", r)
			o.fail(sess, fmt.Errorf("worker panic: %v", r))
		}
	}()

	p, err := pipeline.New(o.stages, o.resolvers, o.invoker, sess.Broker)
	if err != nil {
		o.fail(sess, err)
		return
	}

	result, err := p.Run(ctx, o.hooks(sess))
	if err != nil {
		o.fail(sess, err)
		return
	}
	o.complete(sess, result)
}

func (o *Orchestrator) hooks(sess *Session) pipeline.Hooks {
	return pipeline.Hooks{
		OnStageStart: func(st pipeline.Stage) {
			sess.setStatus(StatusRunning)
			sess.Feed.Publish(FeedEvent{
				Type:      FeedStageStarted,
				SessionID: sess.ID,
				Stage:     st.Name,
			})
			o.log.Debug("stage started", "session_id", sess.ID, "stage", st.Name)
		},
		OnQuestionPosted: func(st pipeline.Stage, question string) {
			sess.setStatus(StatusAwaitingInput)
			sess.Touch()
			sess.Feed.Publish(FeedEvent{
				Type:      FeedQuestion,
				SessionID: sess.ID,
				Stage:     st.Name,
				Question:  question,
			})
		},
		OnAnswer: func(st pipeline.Stage, question, answer string) {
			sess.setStatus(StatusRunning)
			sess.RecordExchange(st.Name, question, answer)
			o.tlog.Log(transcript.Event{
				Type:      transcript.EventInteraction,
				SessionID: sess.ID,
				PatientID: sess.PatientID,
				Stage:     st.Name,
				Question:  question,
				Answer:    answer,
			})
			sess.Feed.Publish(FeedEvent{
				Type:      FeedAnswer,
				SessionID: sess.ID,
				Stage:     st.Name,
				Answer:    answer,
				Turns:     sess.Turns(),
			})
			o.persistRun(o.base, sess, false)
		},
		OnStageDone: func(st pipeline.Stage, output string) {
			o.log.Debug("stage complete",
				"session_id", sess.ID,
				"stage", st.Name,
				"output_chars", len(output),
			)
		},
	}
}

// complete renders and archives the report, then closes out the session.
func (o *Orchestrator) complete(sess *Session, result pipeline.Result) {
	rep := &report.Report{
		SessionID:   sess.ID,
		PatientID:   sess.PatientID,
		Turns:       result.Turns,
		GeneratedAt: time.Now(),
	}
	rep.ParseBody(result.Final)
	if rep.ChiefComplaint == "" {
		rep.ChiefComplaint = sess.ChiefComplaint()
	}

	artifact, err := o.renderer.Render(rep)
	if err != nil {
		o.fail(sess, fmt.Errorf("render report: %w", err))
		return
	}

	location := artifact
	if rec, err := o.archive.Store(context.Background(), rep, artifact); err != nil {
		// The interview still completed; the artifact just stays local.
		o.log.Warn("failed to archive report", "session_id", sess.ID, "error", err)
	} else {
		location = rec.StoredLocation
	}

	sess.setReportLocation(location)
	sess.setStatus(StatusCompleted)
	sess.Broker.SetQuestion(completionNotice)

	o.tlog.Log(transcript.Event{
		Type:      transcript.EventCompletion,
		SessionID: sess.ID,
		PatientID: sess.PatientID,
		Location:  location,
		Turns:     result.Turns,
	})
	sess.Feed.Publish(FeedEvent{
		Type:      FeedCompleted,
		SessionID: sess.ID,
		Location:  location,
		Turns:     result.Turns,
	})
	o.persistRun(context.Background(), sess, true)
	o.log.Info("interview completed",
		"session_id", sess.ID,
		"turns", result.Turns,
		"report", location,
	)
	o.cleanup(sess)
}

// fail closes out a session after an unrecoverable error. If the session is
// already terminal (abandoned) the recorded status wins and no second notice
// is posted.
func (o *Orchestrator) fail(sess *Session, cause error) {
	if sess.setStatus(StatusFailed) {
		sess.Broker.SetQuestion(failureNotice)
		o.tlog.Log(transcript.Event{
			Type:      transcript.EventError,
			SessionID: sess.ID,
			PatientID: sess.PatientID,
			Detail:    cause.Error(),
		})
		o.persistRun(context.Background(), sess, true)
		o.log.Error("interview failed", "session_id", sess.ID, "error", cause)
	}
	o.cleanup(sess)
}

// cleanup releases the session's resources exactly once, even when the
// completion, failure and abandon paths race.
func (o *Orchestrator) cleanup(sess *Session) {
	sess.finalize.Do(func() {
		o.registry.Remove(sess.ID)
		sess.Feed.Close()
		if err := o.tlog.Remove(sess.ID); err != nil {
			o.log.Warn("failed to remove transcript", "session_id", sess.ID, "error", err)
		}
		o.log.Info("session cleaned up", "session_id", sess.ID, "status", string(sess.Status()))
	})
}

// persistRun writes the session's audit row. Persistence failures are logged
// and never interrupt the interview.
func (o *Orchestrator) persistRun(ctx context.Context, sess *Session, ended bool) {
	run := &domain.InterviewRun{
		SessionID:      sess.ID,
		PatientID:      sess.PatientID,
		Status:         string(sess.Status()),
		ChiefComplaint: sess.ChiefComplaint(),
		Turns:          sess.Turns(),
		StartedAt:      sess.StartedAt(),
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if ended {
		run.MarkEnded(run.Status, time.Now())
	}

	cctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := o.repo.UpsertInterview(cctx, run); err != nil {
		o.log.Warn("failed to persist interview run", "session_id", sess.ID, "error", err)
	}
}
