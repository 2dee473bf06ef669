package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/homebitez/api/internal/platform/httpx"
	"github.com/homebitez/api/internal/services"
)

const (
	defaultReminderWindow = 72 * time.Hour
	maxReminderWindow     = 31 * 24 * time.Hour
	defaultReminderLimit  = 200
)

// InternalHandlers serves scheduler-triggered jobs. Callers authenticate with OIDC.
type InternalHandlers struct {
	paylater services.PaylaterService
	window   time.Duration
	now      func() time.Time
}

// InternalOption customises InternalHandlers.
type InternalOption func(*InternalHandlers)

// WithReminderWindow sets the default look-ahead for installment reminders.
func WithReminderWindow(d time.Duration) InternalOption {
	return func(h *InternalHandlers) {
		if d > 0 {
			h.window = d
		}
	}
}

// WithInternalClock overrides the clock.
func WithInternalClock(now func() time.Time) InternalOption {
	return func(h *InternalHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

// NewInternalHandlers constructs the internal job handlers.
func NewInternalHandlers(paylater services.PaylaterService, opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{
		paylater: paylater,
		window:   defaultReminderWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/paylater/reminders", h.sendReminders)
}

type reminderRequest struct {
	WithinHours int `json:"within_hours"`
	Limit       int `json:"limit"`
}

func (h *InternalHandlers) sendReminders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.paylater == nil {
		serviceUnavailable(w, r, "paylater")
		return
	}
	var req reminderRequest
	if !decodeRequest(w, r, &req, true) {
		return
	}
	if req.WithinHours < 0 || req.Limit < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "within_hours and limit must not be negative", http.StatusBadRequest))
		return
	}
	within := h.window
	if req.WithinHours > 0 {
		within = time.Duration(req.WithinHours) * time.Hour
	}
	if within > maxReminderWindow {
		within = maxReminderWindow
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultReminderLimit
	}

	result, err := h.paylater.SendReminders(ctx, services.PaylaterReminderCommand{
		Now:    h.now().UTC(),
		Within: within,
		Limit:  limit,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"scanned":   result.Scanned,
		"published": result.Published,
	})
}
