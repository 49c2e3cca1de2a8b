package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"scrapbook/internal/database"
	"scrapbook/internal/filesystem"
	"scrapbook/internal/media"
)

// ServeCached serves a cached file by name. A hit bumps the entry's last
// access time at most once per TouchInterval. When the file is gone but the
// entry still claims it, a re-fetch is queued and 404 returned.
func (h *Handlers) ServeCached(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]
	if !media.IsCacheFilename(name) {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(h.cfg.CacheDir, name)

	info, err := filesystem.StatWithRetry(path, h.fsRetry)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.requeueMissing(r, name)
		} else {
			h.log.Warn("Failed to stat cached file %s: %v", name, err)
		}
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		h.log.Warn("Failed to open cached file %s: %v", name, err)
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	h.touch(r, name)

	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (h *Handlers) touch(r *http.Request, name string) {
	if _, recent := h.touched.Get(name); recent {
		return
	}
	h.touched.SetDefault(name, struct{}{})

	entry, err := h.db.EntryByFilename(r.Context(), name)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			h.log.Warn("Failed to look up cached file %s: %v", name, err)
		}
		return
	}
	if err := h.db.TouchEntry(r.Context(), entry.ID); err != nil && !errors.Is(err, database.ErrNotFound) {
		h.log.Warn("Failed to update last access for entry %d: %v", entry.ID, err)
	}
}

func (h *Handlers) requeueMissing(r *http.Request, name string) {
	entry, err := h.db.EntryByFilename(r.Context(), name)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			h.log.Warn("Failed to look up missing file %s: %v", name, err)
		}
		return
	}
	h.log.Info("Cached file %s missing on disk, queueing re-fetch of entry %d", name, entry.ID)
	h.pool.Enqueue(0, entry.SourceURL, entry.QualityLevel)
}
