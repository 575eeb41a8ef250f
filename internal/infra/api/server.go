package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"course-booking-engine/internal/infra/api/apiv1"
)

// NewRouter builds the root handler: the shared middleware chain, health and
// metrics endpoints, and the v1 API.
func NewRouter(v1 *apiv1.Server, requestTimeout time.Duration, logger *zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	// chi populates the route pattern only inside the mux, so the request
	// logger is installed with Use rather than wrapped around r.
	for _, mw := range []Middleware{Span(), TraceID(), RequestLog(logger), Recover(logger), Timeout(requestTimeout)} {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	apiv1.RegisterAPIV1(r, v1)
	return r
}
