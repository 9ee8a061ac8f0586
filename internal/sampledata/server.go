package sampledata

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockExportServer serves the bulk-export protocol over generated
// records, for local runs against a real HTTP boundary. Jobs pass
// through PROCESSING before FINISHED so pollers get exercised.
type MockExportServer struct {
	mu   sync.Mutex
	jobs map[string]*mockJob

	records    []RawVuln
	chunkSize  int
	processing time.Duration
}

type mockJob struct {
	created time.Time
	chunks  [][]RawVuln
}

func NewMockExportServer(records []RawVuln, chunkSize int) *MockExportServer {
	if chunkSize < 1 {
		chunkSize = 50
	}
	return &MockExportServer{
		jobs:       make(map[string]*mockJob),
		records:    records,
		chunkSize:  chunkSize,
		processing: 2 * time.Second,
	}
}

// SetProcessingDelay adjusts how long a job reports PROCESSING.
func (s *MockExportServer) SetProcessingDelay(d time.Duration) {
	s.processing = d
}

func (s *MockExportServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/vulns/export", s.handleInitiate)
	mux.HandleFunc("/vulns/export/", s.handleJob)
	return mux
}

func (s *MockExportServer) handleInitiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	job := &mockJob{created: time.Now()}
	for start := 0; start < len(s.records); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(s.records) {
			end = len(s.records)
		}
		job.chunks = append(job.chunks, s.records[start:end])
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.jobs[id] = job
	s.mu.Unlock()

	log.Printf("mock export: job %s created, %d chunks", id, len(job.chunks))
	writeJSON(w, map[string]string{"export_uuid": id})
}

func (s *MockExportServer) handleJob(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/vulns/export/"), "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	job, ok := s.jobs[parts[0]]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case parts[1] == "status":
		status := "FINISHED"
		if time.Since(job.created) < s.processing {
			status = "PROCESSING"
		}
		writeJSON(w, map[string]string{"status": status})

	case parts[1] == "chunks" && len(parts) == 2:
		ids := make([]int, len(job.chunks))
		for i := range ids {
			ids[i] = i + 1
		}
		writeJSON(w, map[string][]int{"chunks": ids})

	case parts[1] == "chunks" && len(parts) == 3:
		id, err := strconv.Atoi(parts[2])
		if err != nil || id < 1 || id > len(job.chunks) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, rec := range job.chunks[id-1] {
			if err := enc.Encode(rec); err != nil {
				return
			}
		}

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Println(err)
	}
}
