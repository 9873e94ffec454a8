package httpapi

import (
	"database/sql"
	"net/http"

	"airquality-node/internal/diagnostics"
)

// Deps are the read-only views the status API serves. Nil members disable
// their endpoint.
type Deps struct {
	Device      string
	Status      StatusFunc
	Reading     Snapshotter
	Diagnostics diagnostics.Reader
	// DB is pinged by /healthz when the journal is enabled.
	DB      *sql.DB
	Metrics http.Handler
}

func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, d.Status, d.DB)
	registerReading(mux, d.Device, d.Reading)
	registerDiagnostics(mux, d.Diagnostics)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}
	return mux
}
