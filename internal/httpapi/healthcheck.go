package httpapi

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"
)

// Status is the loop state reported by /healthz.
type Status struct {
	State       string `json:"state"`
	TimeValid   bool   `json:"time_valid"`
	LinkUp      bool   `json:"link_up"`
	Diagnostics string `json:"diagnostics"`
}

type StatusFunc func() Status

type healthchecker struct {
	status StatusFunc
	db     *sql.DB
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := Status{State: "unknown"}
	if h.status != nil {
		st = h.status()
	}
	st.Diagnostics = "log"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		var ok int
		if err := h.db.QueryRowContext(ctx, `SELECT 1`).Scan(&ok); err != nil {
			slog.Error("failed to check diagnostics journal", "error", err)
			WriteError(w, http.StatusServiceUnavailable, "diagnostics journal unavailable")
			return
		}
		st.Diagnostics = "journal"
	}
	WriteJSON(w, http.StatusOK, st)
}

func registerHealthcheck(mux *http.ServeMux, status StatusFunc, db *sql.DB) {
	h := &healthchecker{status: status, db: db}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}
