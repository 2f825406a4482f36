package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"nukeguard/internal/database"
	"nukeguard/internal/limits"
	"nukeguard/internal/logging"
)

const defaultAuditLimit = 50

type adminStore interface {
	ListSnapshots(ctx context.Context, communityID string) ([]*database.QuarantineSnapshot, error)
	RecentAuditLog(ctx context.Context, communityID string, limit int) ([]*database.AuditLogEntry, error)
}

type configView struct {
	CommunityID string         `json:"community_id"`
	Enabled     bool           `json:"enabled"`
	TimeFrame   int            `json:"time_frame"`
	Max         map[string]int `json:"max"`
}

type snapshotView struct {
	PrincipalID string   `json:"principal_id"`
	GroupingIDs []string `json:"grouping_ids"`
	CreatedAt   int64    `json:"created_at"`
}

type auditView struct {
	ID          int64  `json:"id"`
	PrincipalID string `json:"principal_id"`
	Event       string `json:"event"`
	ExtraInfo   string `json:"extra_info"`
	Timestamp   int64  `json:"timestamp"`
}

// mountAdmin adds read-only per-guild routes to the admin router.
func mountAdmin(r chi.Router, cfg *limits.Store, store adminStore) {
	r.Route("/guilds/{id}", func(r chi.Router) {
		r.Get("/config", func(w http.ResponseWriter, req *http.Request) {
			c := cfg.Get(req.Context(), chi.URLParam(req, "id"))
			view := configView{
				CommunityID: c.CommunityID,
				Enabled:     c.Enabled,
				TimeFrame:   c.TimeFrame,
				Max:         make(map[string]int, len(c.Max)),
			}
			for a, v := range c.Max {
				view.Max[string(a)] = v
			}
			writeJSON(w, view)
		})

		r.Get("/quarantined", func(w http.ResponseWriter, req *http.Request) {
			snaps, err := store.ListSnapshots(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			views := make([]snapshotView, 0, len(snaps))
			for _, s := range snaps {
				views = append(views, snapshotView{PrincipalID: s.PrincipalID, GroupingIDs: s.GroupingIDs, CreatedAt: s.CreatedAt})
			}
			writeJSON(w, views)
		})

		r.Get("/audit", func(w http.ResponseWriter, req *http.Request) {
			limit := defaultAuditLimit
			if q := req.URL.Query().Get("limit"); q != "" {
				n, err := strconv.Atoi(q)
				if err != nil || n <= 0 {
					http.Error(w, "invalid limit", http.StatusBadRequest)
					return
				}
				limit = n
			}
			entries, err := store.RecentAuditLog(req.Context(), chi.URLParam(req, "id"), limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			views := make([]auditView, 0, len(entries))
			for _, e := range entries {
				views = append(views, auditView{ID: e.ID, PrincipalID: e.PrincipalID, Event: e.Event, ExtraInfo: e.ExtraInfo, Timestamp: e.Timestamp})
			}
			writeJSON(w, views)
		})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("admin response encode failed: %v", err)
	}
}
