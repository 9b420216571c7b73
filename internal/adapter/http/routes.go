package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/planweave/planweave/internal/adapter/ws"
)

// MountRoutes registers the peer-facing API on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub) {
	r.Get("/health", h.Health)
	r.Get("/.well-known/agent.json", h.AgentCard)

	// Peer protocol: discovery plus signed delegation.
	r.Get("/configuration", h.GetConfiguration)
	r.Post("/execute-sub-plan", h.ExecuteSubPlan)

	if hub != nil {
		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			hub.HandleWS(w, r)
		})
	}
}
