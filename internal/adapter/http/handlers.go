package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/bugsync/bugsync/internal/config"
	"github.com/bugsync/bugsync/internal/domain/bug"
	"github.com/bugsync/bugsync/internal/logger"
	"github.com/bugsync/bugsync/internal/service"
)

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20

// VersionInfo is served on /__version__.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Handlers holds the services the HTTP layer dispatches into.
type Handlers struct {
	Runner   *service.Runner
	Verifier *service.Verifier
	Actions  *config.Actions
	Version  VersionInfo
	Log      *slog.Logger
}

// HandleBugzillaWebhook handles POST /bugzilla_webhook. One delivery
// drives exactly one sequential pipeline run.
func (h *Handlers) HandleBugzillaWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var payload bug.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	if payload.Bug == nil || payload.Event == nil {
		writeError(w, http.StatusBadRequest, "webhook payload has no bug or event")
		return
	}

	eventID := uuid.NewString()
	log := h.Log.With(
		"event_id", eventID,
		"bug", payload.Bug.ID,
		"request_id", logger.RequestID(r.Context()),
	)

	action, ok := h.Actions.ForWhiteboard(payload.Bug.Whiteboard)
	if !ok {
		log.Debug("no action matches bug whiteboard", "whiteboard", payload.Bug.Whiteboard)
		writeJSON(w, http.StatusOK, map[string]any{
			"event_id": eventID,
			"handled":  false,
			"reason":   "no action configured for bug",
		})
		return
	}

	outcome, err := h.Runner.Run(r.Context(), action, payload.Event, payload.Bug)
	if err != nil {
		log.Error("pipeline run failed", "error", err, "handled", outcome.Handled)
		writeError(w, http.StatusBadGateway, "sync failed: "+err.Error())
		return
	}

	log.Info("webhook processed",
		"handled", outcome.Handled,
		"responses", len(outcome.Responses),
		"action", action.WhiteboardTag,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":  eventID,
		"handled":   outcome.Handled,
		"responses": len(outcome.Responses),
	})
}

// HandleHeartbeat handles GET /__heartbeat__: the full capability report
// for both trackers. Any failing check yields a 503 so the deployment's
// monitoring notices misconfiguration before the first lost event.
func (h *Handlers) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	bzReport := h.Verifier.CheckBugzilla(r.Context())
	jiraReport := h.Verifier.CheckJira(r.Context())

	status := http.StatusOK
	if !bzReport.OK() || !jiraReport.OK() {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"bugzilla": bzReport,
		"jira":     jiraReport,
	})
}

// HandleLBHeartbeat handles GET /__lbheartbeat__: liveness only, no
// remote calls.
func (h *Handlers) HandleLBHeartbeat(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleVersion handles GET /__version__.
func (h *Handlers) HandleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Version)
}

// HandleListActions handles GET /whiteboard_tags: the loaded action set,
// for operators to confirm what the running instance will react to.
func (h *Handlers) HandleListActions(w http.ResponseWriter, _ *http.Request) {
	type actionSummary struct {
		WhiteboardTag  string `json:"whiteboard_tag"`
		JiraProjectKey string `json:"jira_project_key"`
		LabelsEnabled  bool   `json:"sync_whiteboard_labels"`
	}

	summaries := make([]actionSummary, 0, h.Actions.Len())
	for _, action := range h.Actions.All() {
		summaries = append(summaries, actionSummary{
			WhiteboardTag:  action.WhiteboardTag,
			JiraProjectKey: action.JiraProjectKey,
			LabelsEnabled:  action.LabelsEnabled(),
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}
