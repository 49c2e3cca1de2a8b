package handlers

import (
	"errors"
	"net/http"

	"scrapbook/internal/dimensions"
)

// StartDimensions starts a dimension job. The body is optional.
func (h *Handlers) StartDimensions(w http.ResponseWriter, r *http.Request) {
	var opts dimensions.Options
	if err := decodeJSONBody(r, &opts); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if opts.Limit < 0 || opts.BatchSize < 0 {
		writeJSONError(w, "limit and batchSize must not be negative", http.StatusBadRequest)
		return
	}

	err := h.resolver.Start(opts)
	if errors.Is(err, dimensions.ErrJobRunning) {
		writeJSONError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, h.resolver.State())
}

// StopDimensions asks the running job to stop.
func (h *Handlers) StopDimensions(w http.ResponseWriter, _ *http.Request) {
	if err := h.resolver.Stop(); err != nil {
		writeJSONError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSONStatus(w, http.StatusOK, "stopping")
}

// DimensionStats reports dimension coverage and job progress.
func (h *Handlers) DimensionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.resolver.Stats(r.Context())
	if err != nil {
		h.log.Error("Failed to load dimension stats: %v", err)
		writeJSONError(w, "failed to load dimension stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// DimensionActivity returns the most recent resolver outcomes.
func (h *Handlers) DimensionActivity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.resolver.Activity())
}

// ClearDimensionActivity empties the activity log between jobs.
func (h *Handlers) ClearDimensionActivity(w http.ResponseWriter, _ *http.Request) {
	if err := h.resolver.ClearActivity(); err != nil {
		writeJSONError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSONStatus(w, http.StatusOK, "cleared")
}
