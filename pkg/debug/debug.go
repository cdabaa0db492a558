package debug

import (
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadyFunc reports whether the worker accepts new jobs
type ReadyFunc func() bool

func healthHandler(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(http.StatusOK) // nolint: gosec, gas
}

func readyHandler(ready ReadyFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		rw.WriteHeader(http.StatusOK)
	}
}

// New returns the debug server handlers
func New(ready ReadyFunc) (http.Handler, error) {
	m := mux.NewRouter()

	m.Handle("/metrics", promhttp.Handler())
	m.HandleFunc("/health", healthHandler)
	m.HandleFunc("/ready", readyHandler(ready))

	m.HandleFunc("/debug/pprof/", pprof.Index)
	m.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	m.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return m, nil
}
