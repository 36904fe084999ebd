package handlers

import (
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"

	"storybook-service/internal/cache"
	"storybook-service/internal/session"
	"storybook-service/internal/tracker"
	"storybook-service/pkg/logging"
)

// AdminHandler serves the key-protected /admin endpoints. A disk store may
// be nil when the cache runs on another backend; stats are unavailable then.
type AdminHandler struct {
	Key      string
	Store    cache.Store
	Disk     *cache.DiskStore
	Sessions session.Store
	Tracker  *tracker.Tracker
}

// RequireKey rejects requests whose key does not match the configured admin
// key. An empty configured key disables the endpoints entirely.
func (h *AdminHandler) RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Admin-Key")
		if key == "" {
			key = r.URL.Query().Get("key")
		}
		if h.Key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.Key)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListSessions handles GET /admin/sessions.
func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.Sessions.All()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// SweepCache handles POST /admin/cache/sweep: removes expired entries and
// reports how many went. Running it twice in a row removes zero the second
// time.
func (h *AdminHandler) SweepCache(w http.ResponseWriter, r *http.Request) {
	removed, err := h.Store.Sweep(r.Context())
	if err != nil {
		logging.L(r.Context()).Error("cache sweep failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// CacheStats handles GET /admin/cache/stats.
func (h *AdminHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.Disk == nil {
		writeError(w, http.StatusNotFound, "stats only available for the disk backend")
		return
	}
	stats, err := h.Disk.GetStats()
	if err != nil {
		logging.L(r.Context()).Error("cache stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cache stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// UsageTotals handles GET /admin/usage.
func (h *AdminHandler) UsageTotals(w http.ResponseWriter, r *http.Request) {
	if h.Tracker == nil {
		writeError(w, http.StatusNotFound, "usage tracking disabled")
		return
	}
	totals, err := h.Tracker.Totals(r.Context())
	if err != nil {
		logging.L(r.Context()).Error("usage totals failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "usage totals failed")
		return
	}
	writeJSON(w, http.StatusOK, totals)
}
