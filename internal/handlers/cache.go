package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"scrapbook/internal/cache"
	"scrapbook/internal/database"
)

// EnqueueRequest asks for one pin's image to be cached.
type EnqueueRequest struct {
	PinID        int64  `json:"pinId"`
	ImageURL     string `json:"imageUrl"`
	QualityLevel string `json:"qualityLevel"`
}

// CacheStatsResponse combines pool counters with entry counts by status.
type CacheStatsResponse struct {
	Pool    cache.Stats                  `json:"pool"`
	Entries map[database.CacheStatus]int `json:"entries"`
}

// EnqueueCache queues a caching task. The response does not wait for the
// fetch.
func (h *Handlers) EnqueueCache(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := url.Parse(req.ImageURL)
	if req.ImageURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		writeJSONError(w, "imageUrl must be an http(s) URL", http.StatusBadRequest)
		return
	}
	if len(req.ImageURL) > database.MaxSourceURLLength {
		writeJSONError(w, "imageUrl too long", http.StatusBadRequest)
		return
	}
	quality, err := database.ParseQualityLevel(req.QualityLevel)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.pool.Enqueue(req.PinID, req.ImageURL, quality) {
		writeJSONError(w, "cache queue full", http.StatusServiceUnavailable)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, "queued")
}

// CacheAll queues every pin whose image is not cached yet.
func (h *Handlers) CacheAll(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	board, err := queryInt(r, "board", 0)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.pool.CacheAllPending(limit, int64(board)) {
		writeJSONStatus(w, http.StatusOK, "already_running")
		return
	}
	writeJSONStatus(w, http.StatusAccepted, "started")
}

// CacheStats reports pool counters and entry totals.
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.db.CacheStatusCounts(r.Context())
	if err != nil {
		h.log.Error("Failed to count cache entries: %v", err)
		writeJSONError(w, "failed to load cache stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, CacheStatsResponse{Pool: h.pool.Stats(), Entries: counts})
}

// CleanupCache runs a stale-entry sweep and returns its counts. ?days=
// overrides the configured retention.
func (h *Handlers) CleanupCache(w http.ResponseWriter, r *http.Request) {
	retention := h.cfg.Retention
	days, err := queryInt(r, "days", 0)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if days > 0 {
		retention = time.Duration(days) * 24 * time.Hour
	}

	result, err := h.pool.Sweep(r.Context(), retention)
	if err != nil {
		h.log.Error("Cache cleanup failed: %v", err)
		writeJSONError(w, "cleanup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ResetCacheEntry clears the retry history of a failed entry and queues it
// again. Entries in any other state are left alone with 409.
func (h *Handlers) ResetCacheEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, "invalid entry id", http.StatusBadRequest)
		return
	}

	entry, err := h.db.GetEntry(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeJSONError(w, "entry not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("Failed to load cache entry %d: %v", id, err)
		writeJSONError(w, "failed to load entry", http.StatusInternalServerError)
		return
	}

	if err := h.db.ResetEntry(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrConcurrencyConflict) {
			writeJSONError(w, "entry is not failed", http.StatusConflict)
			return
		}
		h.log.Error("Failed to reset cache entry %d: %v", id, err)
		writeJSONError(w, "failed to reset entry", http.StatusInternalServerError)
		return
	}

	if !h.pool.Enqueue(0, entry.SourceURL, entry.QualityLevel) {
		writeJSONStatus(w, http.StatusAccepted, "reset")
		return
	}
	writeJSONStatus(w, http.StatusAccepted, "queued")
}
