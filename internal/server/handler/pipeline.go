package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// Job runs one pass of a background task.
type Job func(ctx context.Context, now time.Time)

// PipelineHandler lets an external scheduler trigger background jobs. The
// route is guarded by the cron key middleware.
type PipelineHandler struct {
	jobs   map[string]Job
	logger *slog.Logger
}

// NewPipelineHandler creates a PipelineHandler serving jobs by name.
func NewPipelineHandler(jobs map[string]Job, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{jobs: jobs, logger: logger}
}

// Trigger runs the named job synchronously.
// POST /api/cron/{job}
func (h *PipelineHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("job")
	job, ok := h.jobs[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown job " + name, Kind: string(domain.KindNotFound)})
		return
	}

	start := time.Now()
	h.logger.InfoContext(r.Context(), "handler: pipeline job triggered", slog.String("job", name))
	job(r.Context(), start.UTC())

	writeJSON(w, http.StatusOK, map[string]any{
		"job":         name,
		"status":      "done",
		"duration_ms": time.Since(start).Milliseconds(),
	})
}
