package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/anamnesis/internal/session"
	"github.com/coder/websocket"
)

// watchPingInterval keeps intermediaries from dropping idle watch streams.
const watchPingInterval = 30 * time.Second

// Watch streams one interview's feed events over a websocket. The current
// status and question are replayed on connect, then events flow until the
// session ends or the client leaves.
func (h *InterviewHandler) Watch(w http.ResponseWriter, r *http.Request) {
	patientID, sessionID, ok := h.requestIdentity(w, r)
	if !ok {
		return
	}
	sess, ok := h.ownedSession(w, patientID, sessionID)
	if !ok {
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept watch websocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "watch ended"); closeErr != nil {
			slog.Debug("Failed to close watch websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	slog.Info("Watch connected", "session_id", sessionID, "patient_id", patientID)

	// Watchers never send application frames; CloseRead surfaces client
	// departure through the returned context.
	ctx := ws.CloseRead(r.Context())
	events := sess.Feed.Subscribe(ctx)

	// Replay the current position so late joiners are not blind until the
	// next event.
	question, _ := sess.Broker.Question()
	snapshot := session.FeedEvent{
		Type:      session.FeedStatus,
		SessionID: sessionID,
		Status:    string(sess.Status()),
		Question:  question,
		Turns:     sess.Turns(),
		Timestamp: time.Now(),
	}
	if err := h.writeEvent(ctx, ws, snapshot); err != nil {
		slog.Debug("Failed to write watch snapshot", "error", err, "session_id", sessionID)
		return
	}

	ping := time.NewTicker(watchPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Watch disconnected", "session_id", sessionID, "patient_id", patientID)
			return
		case <-ping.C:
			if err := ws.Ping(ctx); err != nil {
				slog.Debug("Watch ping failed", "error", err, "session_id", sessionID)
				return
			}
		case event, open := <-events:
			if !open {
				// Session cleaned up; tell the client the stream is complete.
				slog.Info("Watch feed closed", "session_id", sessionID)
				return
			}
			if err := h.writeEvent(ctx, ws, event); err != nil {
				slog.Debug("Failed to write watch event", "error", err, "session_id", sessionID)
				return
			}
		}
	}
}

func (h *InterviewHandler) writeEvent(ctx context.Context, ws *websocket.Conn, event session.FeedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func (h *InterviewHandler) checkOrigin(r *http.Request) bool {
	if h.isDevelopment() {
		return true
	}
	allowed := ""
	if h.cfg != nil {
		allowed = h.cfg.FrontendURL
	}
	origin := r.Header.Get("Origin")
	if origin == "" || allowed == "" || allowed == "*" {
		return true
	}
	if origin == allowed {
		return true
	}
	slog.Warn("Watch origin rejected", "origin", origin, "allowed", allowed)
	return false
}
