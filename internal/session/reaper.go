package session

import (
	"context"
	"time"
)

const (
	reaperInterval = time.Minute
	// Ended interview rows older than this are pruned from the audit table.
	interviewRetention = 7 * 24 * time.Hour
)

// StartReaper runs a background goroutine that periodically abandons
// sessions with no activity inside idleTTL. A worker blocked on a patient
// answer waits forever on its own; the reaper is what eventually closes
// sessions whose caller gave up and never came back. An idleTTL of zero
// disables the sweep.
func (o *Orchestrator) StartReaper(ctx context.Context, idleTTL time.Duration) {
	if idleTTL <= 0 {
		o.log.Info("session reaper disabled")
		return
	}
	ticker := time.NewTicker(reaperInterval)
	go func() {
		defer ticker.Stop()
		o.log.Info("session reaper started", "interval", reaperInterval, "idle_ttl", idleTTL)

		for {
			select {
			case <-ticker.C:
				o.sweepIdleSessions(ctx, idleTTL)
			case <-ctx.Done():
				o.log.Info("session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (o *Orchestrator) sweepIdleSessions(ctx context.Context, idleTTL time.Duration) {
	idle := o.registry.Idle(time.Now().Add(-idleTTL))
	for _, sess := range idle {
		o.log.Info("reaping idle interview",
			"session_id", sess.ID,
			"status", string(sess.Status()),
			"last_activity", sess.LastActivity(),
		)
		o.Abandon(sess, "no activity within idle ttl")
	}
	if len(idle) > 0 {
		o.log.Info("reaper sweep completed", "reaped", len(idle))
	}

	if removed, err := o.repo.PruneInterviews(ctx, interviewRetention); err != nil {
		o.log.Error("failed to prune ended interviews", "error", err)
	} else if removed > 0 {
		o.log.Info("pruned ended interviews", "count", removed)
	}
}
