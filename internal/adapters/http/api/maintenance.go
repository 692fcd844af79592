package api

import (
	"net/http"
)

// MaintenanceHandler exposes the history and contacts reset tools.
type MaintenanceHandler struct {
	deps Maintainer
}

// NewMaintenanceHandler creates a new maintenance handler.
func NewMaintenanceHandler(deps Maintainer) *MaintenanceHandler {
	return &MaintenanceHandler{deps: deps}
}

// HandleClearHistory handles DELETE /history. Calls made within the last
// hour keep counting against the quota.
func (h *MaintenanceHandler) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.ClearHistory(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRemoveContacts handles DELETE /contacts.
func (h *MaintenanceHandler) HandleRemoveContacts(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.RemoveContacts(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
