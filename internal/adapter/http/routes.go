package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/bugsync/bugsync/internal/config"
	"github.com/bugsync/bugsync/internal/middleware"
)

// MountRoutes registers all routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, webhookCfg config.Webhook) {
	// Webhook intake (token-validated; the source tracker sends the
	// shared secret on every delivery).
	r.With(middleware.WebhookToken(webhookCfg.Token, "X-Api-Key")).
		Post("/bugzilla_webhook", h.HandleBugzillaWebhook)

	// Operational endpoints.
	r.Get("/__heartbeat__", h.HandleHeartbeat)
	r.Head("/__lbheartbeat__", h.HandleLBHeartbeat)
	r.Get("/__lbheartbeat__", h.HandleLBHeartbeat)
	r.Get("/__version__", h.HandleVersion)
	r.Get("/whiteboard_tags", h.HandleListActions)
}
