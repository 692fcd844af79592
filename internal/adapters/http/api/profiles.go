package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/okian/liscrape/internal/adapters/mq/queue"
	service "github.com/okian/liscrape/internal/app"
	"github.com/okian/liscrape/internal/domain/model"
)

const maxRequestBytes = 1 << 16

// ProfilesHandler handles profile submissions.
type ProfilesHandler struct {
	deps Submitter
}

// NewProfilesHandler creates a new profiles handler.
func NewProfilesHandler(deps Submitter) *ProfilesHandler {
	return &ProfilesHandler{deps: deps}
}

// profileRequest is the body of POST /profiles.
type profileRequest struct {
	URL string `json:"url"`
}

type submitResponse struct {
	Status            model.SubmitStatus `json:"status"`
	ProfileID         string             `json:"profile_id"`
	RetryAfterMinutes int                `json:"retry_after_minutes,omitempty"`
}

// HandlePostProfile handles POST /profiles. The call blocks while the queue
// is full.
func (h *ProfilesHandler) HandlePostProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	res, err := h.deps.Submit(r.Context(), req.URL)
	switch {
	case errors.Is(err, model.ErrInvalidProfile):
		writeError(w, http.StatusBadRequest, "invalid_profile", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	case errors.Is(err, queue.ErrStopped), errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", fmt.Errorf("%w: %w", ErrUnavailable, err))
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "timeout", fmt.Errorf("%w: %w", ErrUnavailable, err))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}

	body := submitResponse{Status: res.Status, ProfileID: res.ProfileID.String()}
	if res.Status == model.RateLimited {
		body.RetryAfterMinutes = res.RetryAfterMinutes()
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfterMinutes*60))
		writeJSON(w, http.StatusTooManyRequests, body)
		return
	}
	writeJSON(w, http.StatusAccepted, body)
}
