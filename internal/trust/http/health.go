package http

import (
	"net/http"
	"time"

	"github.com/taskboard/trustd/internal/trust/replay"
	"github.com/taskboard/trustd/internal/trust/store"
	"github.com/taskboard/trustd/pkg/httpx"
)

type healthChecks struct {
	Database string `json:"database,omitempty"`
	Replay   string `json:"replay,omitempty"`
}

type healthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *healthChecks `json:"checks,omitempty"`
}

// LivezHandler always returns 200 while the process is up.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, healthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler checks the critical dependencies: the token store, and the
// redis seen-set when the deployment runs shared replay tracking.
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	redisReplay *replay.RedisCache,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &healthChecks{Database: "ok"}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if redisReplay != nil {
			checks.Replay = "ok"
			if err := redisReplay.Ping(r.Context()); err != nil {
				checks.Replay = "error: " + err.Error()
				overallStatus = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}

		httpx.WriteJSON(w, statusCode, healthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
