package httpapi

import (
	"net/http"

	"airquality-node/internal/reading"
	"airquality-node/internal/sink"
)

// Snapshotter returns the latest published reading.
type Snapshotter interface {
	Snapshot() (reading.Reading, bool)
}

func registerReading(mux *http.ServeMux, device string, src Snapshotter) {
	mux.HandleFunc("GET /api/v1/reading", func(w http.ResponseWriter, r *http.Request) {
		if src == nil {
			WriteError(w, http.StatusServiceUnavailable, "no reading yet")
			return
		}
		rd, ok := src.Snapshot()
		if !ok {
			WriteError(w, http.StatusServiceUnavailable, "no reading yet")
			return
		}
		WriteJSON(w, http.StatusOK, sink.NewTelemetry(device, rd))
	})
}
