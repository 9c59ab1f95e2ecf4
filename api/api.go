// Package api implements the HTTP surface: health and stats endpoints,
// the coverage snapshot, the prometheus scrape handler, and a websocket
// bridge that mirrors the push feed to browsers.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acarshub/acarshub/coverage"
	"github.com/acarshub/acarshub/db"
	"github.com/acarshub/acarshub/message"
	"github.com/acarshub/acarshub/queue"
)

// Server wires the endpoints to their backing state. Coverage may be
// nil when no snapshot is configured.
type Server struct {
	db       *db.DB
	q        *queue.Queue
	coverage *coverage.Service
	version  string

	bridge *bridge

	// now is swapped by tests.
	now func() time.Time
}

// New creates an API server.
func New(d *db.DB, q *queue.Queue, cov *coverage.Service, version string) *Server {
	return &Server{
		db:       d,
		q:        q,
		coverage: cov,
		version:  version,
		bridge:   newBridge(),
		now:      time.Now,
	}
}

// RegisterRoutes attaches every endpoint to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/data/stats.json", s.handleStats)
	mux.HandleFunc("/data/heywhatsthat.geojson", s.handleCoverage)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.bridge.handleUpgrade)
}

// Emit mirrors one push-feed event to every connected websocket, so the
// server satisfies the same emit contract as the socket feed.
func (s *Server) Emit(event string, payload interface{}) {
	s.bridge.emit(event, payload)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Println("Could not write response:", err)
	}
}

type healthDatabase struct {
	Connected bool  `json:"connected"`
	Messages  int64 `json:"messages"`
	Size      int64 `json:"size"`
}

type healthResponse struct {
	Status   string         `json:"status"`
	Database healthDatabase `json:"database"`
	Version  string         `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: s.version}
	rows, err := s.db.RowCount()
	if err != nil {
		resp.Status = "degraded"
	} else {
		resp.Database.Connected = true
		resp.Database.Messages = rows
	}
	if size, err := s.db.FileSize(); err == nil {
		resp.Database.Size = size
	}
	writeJSON(w, http.StatusOK, resp)
}

type statsResponse struct {
	Acars int64 `json:"acars"`
	Vdlm2 int64 `json:"vdlm2"`
	Hfdl  int64 `json:"hfdl"`
	Imsl  int64 `json:"imsl"`
	Irdm  int64 `json:"irdm"`
	Total int64 `json:"total"`
}

// handleStats serves the last hour of per-decoder counts. Before the
// first minute row exists it falls back to the live queue counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sum, ok, err := s.db.SumTimeSeriesSince(s.now().Unix() - 3600)
	if err != nil {
		log.Println("Stats query failed:", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats unavailable"})
		return
	}
	if !ok {
		stats := s.q.GetStats()
		writeJSON(w, http.StatusOK, statsResponse{
			Acars: stats.Types[message.TypeACARS].Total,
			Vdlm2: stats.Types[message.TypeVDLM2].Total,
			Hfdl:  stats.Types[message.TypeHFDL].Total,
			Imsl:  stats.Types[message.TypeIMSL].Total,
			Irdm:  stats.Types[message.TypeIRDM].Total,
			Total: stats.Total,
		})
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Acars: sum.Acars,
		Vdlm2: sum.Vdlm,
		Hfdl:  sum.Hfdl,
		Imsl:  sum.Imsl,
		Irdm:  sum.Irdm,
		Total: sum.Total,
	})
}

// handleCoverage serves the snapshot file verbatim. The ?v=<hash> query
// parameter is a cache-busting convention for clients; combined with
// the 24-hour cache headers it lets browsers cache aggressively and
// still pick up configuration changes.
func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	if s.coverage == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("Content-Type", "application/json")
	http.ServeFile(w, r, s.coverage.Path())
}
