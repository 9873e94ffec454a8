package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"airquality-node/internal/diagnostics"
)

const defaultDiagnosticsLimit = 50

type eventJSON struct {
	At       *time.Time `json:"at,omitempty"`
	UptimeMS int64      `json:"uptime_ms"`
	Kind     string     `json:"kind"`
	Source   string     `json:"source"`
	Message  string     `json:"message"`
}

func registerDiagnostics(mux *http.ServeMux, src diagnostics.Reader) {
	mux.HandleFunc("GET /api/v1/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		if src == nil {
			WriteError(w, http.StatusNotFound, "diagnostics journal is disabled")
			return
		}

		limit := defaultDiagnosticsLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		events, err := src.Recent(r.Context(), limit)
		if err != nil {
			slog.Error("failed to read diagnostics", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to read diagnostics")
			return
		}

		out := make([]eventJSON, 0, len(events))
		for _, e := range events {
			ej := eventJSON{
				UptimeMS: e.Uptime.Milliseconds(),
				Kind:     string(e.Kind),
				Source:   e.Source,
				Message:  e.Message,
			}
			if !e.At.IsZero() {
				at := e.At.UTC()
				ej.At = &at
			}
			out = append(out, ej)
		}
		WriteJSON(w, http.StatusOK, map[string]any{"events": out})
	})
}
