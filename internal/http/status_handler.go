package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/stable-scheduler/internal/generation"
)

const pingTimeout = 2 * time.Second

const codeNoRun = "NO_RUN"

var errNoRunYet = errors.New("no generation run has completed yet")

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunReporter exposes the latest run statistics.
type RunReporter interface {
	Latest() (generation.RunStats, bool)
}

// StatusHandler serves the health and run status endpoints.
type StatusHandler struct {
	store     Pinger
	runs      RunReporter
	nextRun   func(time.Time) time.Time
	now       func() time.Time
	responder responder
}

// StatusOptions holds the optional collaborators of a StatusHandler.
type StatusOptions struct {
	// NextRun returns the next scheduled trigger after the given time.
	NextRun func(time.Time) time.Time
	Now     func() time.Time
	Logger  *slog.Logger
}

// NewStatusHandler constructs a StatusHandler.
func NewStatusHandler(store Pinger, runs RunReporter, opts StatusOptions) *StatusHandler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &StatusHandler{
		store:     store,
		runs:      runs,
		nextRun:   opts.NextRun,
		now:       opts.Now,
		responder: newResponder(opts.Logger),
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health handles GET /healthz.
func (h *StatusHandler) Health(c *gin.Context) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.responder.loggerFor(c).WarnContext(ctx, "store ping failed", "error", err)
			h.responder.writeJSON(c, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Message: err.Error()})
			return
		}
	}
	h.responder.writeJSON(c, http.StatusOK, healthResponse{Status: "ok"})
}

type latestRunResponse struct {
	Run     generation.RunStats `json:"run"`
	NextRun *time.Time          `json:"nextRun,omitempty"`
}

// LatestRun handles GET /runs/latest.
func (h *StatusHandler) LatestRun(c *gin.Context) {
	var (
		stats generation.RunStats
		ok    bool
	)
	if h.runs != nil {
		stats, ok = h.runs.Latest()
	}
	if !ok {
		h.responder.writeError(c, http.StatusNotFound, codeNoRun, errNoRunYet)
		return
	}

	resp := latestRunResponse{Run: stats}
	if h.nextRun != nil {
		next := h.nextRun(h.now())
		resp.NextRun = &next
	}
	h.responder.writeJSON(c, http.StatusOK, resp)
}
