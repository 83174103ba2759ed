// Package admin is the D6 operator-facing HTTP surface, grounded on the
// teacher's admin HTTP surface (Prometheus /metrics, pprof) and on
// gorilla/mux for routing, as used elsewhere in the pack. Never on the hot
// path: it exists purely for operators and scrapers.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ulala-x/playhouse-go/pkg/stage"
)

// StageCounts reports, for a diagnostics snapshot, how many stages exist
// per stage type.
type StageCounts func() map[string]int

// Server is the admin HTTP server.
type Server struct {
	httpSrv *http.Server
}

// New builds the admin mux: /metrics (via promhttp against reg) and
// /debug/stages (a JSON dump produced by counts, typically backed by the
// process's stage.Directory).
func New(addr string, reg *prometheus.Registry, dir *stage.Directory, counts StageCounts) *Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/debug/stages", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := map[string]interface{}{
			"totalStages": dir.Len(),
		}
		if counts != nil {
			body["byType"] = counts()
		}
		_ = json.NewEncoder(w).Encode(body)
	}).Methods(http.MethodGet)

	return &Server{httpSrv: &http.Server{Addr: addr, Handler: r}}
}

// Serve blocks, running the admin HTTP server until it's closed.
func (s *Server) Serve() error {
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts down the admin HTTP server.
func (s *Server) Close() error { return s.httpSrv.Close() }
