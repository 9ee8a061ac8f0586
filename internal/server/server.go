package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hawklight/vulnreport/internal/config"
	"github.com/hawklight/vulnreport/internal/storage"
)

// Server exposes run status, the stored inventory and Prometheus
// metrics over HTTP. It is read-only; all mutation happens through the
// CLI and pipeline.
type Server struct {
	store storage.Store
	cfg   *config.Config
}

func Start(addr string, store storage.Store, cfg *config.Config) error {
	s := &Server{
		store: store,
		cfg:   cfg,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/servers", s.handleServers)
	mux.HandleFunc("GET /api/servers/{id}/vulns", s.handleServerVulns)
	mux.HandleFunc("GET /api/risk", s.handleRisk)
	mux.HandleFunc("GET /api/severity", s.handleSeverity)

	log.Printf("Status server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetLatestReportRun()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := map[string]interface{}{"status": "ok"}
	if run != nil {
		resp["last_run"] = run.CreatedAt
		resp["last_run_id"] = run.ID
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.store.GetReportRuns(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, runs)
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.GetServers()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, servers)
}

func (s *Server) handleServerVulns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	vulns, err := s.store.GetVulnerabilitiesForServer(id)
	if err != nil {
		http.Error(w, fmt.Sprintf("server %s: %v", id, err), http.StatusNotFound)
		return
	}
	s.writeJSON(w, vulns)
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	risky, err := s.store.GetTopRiskyServers(25)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, risky)
}

func (s *Server) handleSeverity(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.GetSeverityCounts()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, counts)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("response encoding failed: %v", err)
	}
}
