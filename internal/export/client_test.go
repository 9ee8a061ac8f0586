package export

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawklight/vulnreport/internal/config"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.API.BaseURL = baseURL
	cfg.API.AccessKey = "ak"
	cfg.API.SecretKey = "sk"
	cfg.Export.PollInterval = 1
	cfg.Export.PollTimeout = 60

	c := NewClient(cfg)
	// No real sleeping in tests.
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

// exportHandler serves a minimal happy-path export API.
func exportHandler(chunkBody func(id int) string, numChunks int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/vulns/export", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"export_uuid":"job-1"}`)
	})
	mux.HandleFunc("/vulns/export/job-1/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"FINISHED"}`)
	})
	mux.HandleFunc("/vulns/export/job-1/chunks", func(w http.ResponseWriter, r *http.Request) {
		ids := make([]int, numChunks)
		for i := range ids {
			ids[i] = i + 1
		}
		json.NewEncoder(w).Encode(map[string][]int{"chunks": ids})
	})
	mux.HandleFunc("/vulns/export/job-1/chunks/", func(w http.ResponseWriter, r *http.Request) {
		var id int
		fmt.Sscanf(r.URL.Path, "/vulns/export/job-1/chunks/%d", &id)
		fmt.Fprint(w, chunkBody(id))
	})
	return mux
}

func TestExportHappyPath(t *testing.T) {
	srv := httptest.NewServer(exportHandler(func(id int) string {
		return fmt.Sprintf(`{"chunk":%d,"row":1}`+"\n"+`{"chunk":%d,"row":2}`+"\n", id, id)
	}, 3))
	defer srv.Close()

	c := testClient(t, srv.URL)
	result, err := c.Export(context.Background(), DefaultFilters())
	require.NoError(t, err)

	assert.Equal(t, "job-1", result.JobID)
	require.Len(t, result.Records, 6)

	// Merge order follows chunk index, row order within a chunk preserved.
	assert.JSONEq(t, `{"chunk":1,"row":1}`, string(result.Records[0]))
	assert.JSONEq(t, `{"chunk":1,"row":2}`, string(result.Records[1]))
	assert.JSONEq(t, `{"chunk":3,"row":2}`, string(result.Records[5]))
}

func TestMergeOrderIndependentOfCompletionOrder(t *testing.T) {
	// Lower-numbered chunks respond slower, so chunk 3 completes first
	// and chunk 1 last. The merged stream must still follow chunk index.
	srv := httptest.NewServer(exportHandler(func(id int) string {
		time.Sleep(time.Duration(4-id) * 30 * time.Millisecond)
		return fmt.Sprintf(`{"chunk":%d,"row":1}`+"\n"+`{"chunk":%d,"row":2}`+"\n", id, id)
	}, 3))
	defer srv.Close()

	c := testClient(t, srv.URL)
	result, err := c.Export(context.Background(), DefaultFilters())
	require.NoError(t, err)
	require.Len(t, result.Records, 6)

	for i, raw := range result.Records {
		assert.JSONEq(t, fmt.Sprintf(`{"chunk":%d,"row":%d}`, i/2+1, i%2+1), string(raw))
	}
}

func TestChunkRetryThenSuccess(t *testing.T) {
	var failures atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/vulns/export", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"export_uuid":"job-1"}`)
	})
	mux.HandleFunc("/vulns/export/job-1/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"FINISHED"}`)
	})
	mux.HandleFunc("/vulns/export/job-1/chunks", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chunks":[1]}`)
	})
	mux.HandleFunc("/vulns/export/job-1/chunks/1", func(w http.ResponseWriter, r *http.Request) {
		if failures.Add(1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"ok":true}`+"\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(t, srv.URL)
	result, err := c.Export(context.Background(), DefaultFilters())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.EqualValues(t, 4, failures.Load())
}

func TestChunkExhaustedRetriesIsPartialFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/vulns/export", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"export_uuid":"job-1"}`)
	})
	mux.HandleFunc("/vulns/export/job-1/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"FINISHED"}`)
	})
	mux.HandleFunc("/vulns/export/job-1/chunks", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chunks":[1,2]}`)
	})
	mux.HandleFunc("/vulns/export/job-1/chunks/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true}`+"\n")
	})
	mux.HandleFunc("/vulns/export/job-1/chunks/2", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Export(context.Background(), DefaultFilters())
	require.Error(t, err)

	var partial *PartialExportFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []int{2}, partial.FailedChunks)
}

func TestAuthFailureAbortsImmediately(t *testing.T) {
	var statusCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/vulns/export", func(w http.ResponseWriter, r *http.Request) {
		statusCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Export(context.Background(), DefaultFilters())
	require.Error(t, err)

	var fatal *FatalAPIError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, http.StatusUnauthorized, fatal.StatusCode)
	// Fatal errors are not retried.
	assert.EqualValues(t, 1, statusCalls.Load())
}

func TestJobErrorStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/vulns/export", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"export_uuid":"job-1"}`)
	})
	mux.HandleFunc("/vulns/export/job-1/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ERROR"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Export(context.Background(), DefaultFilters())

	var failed *JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, StatusError, failed.Status)
}

func TestPollTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/vulns/export/job-1/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"PROCESSING"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(t, srv.URL)

	// Advance a fake clock past the ceiling after a few polls.
	clock := time.Now()
	c.now = func() time.Time { return clock }
	c.sleep = func(ctx context.Context, d time.Duration) error {
		clock = clock.Add(30 * time.Second)
		return nil
	}

	err := c.AwaitFinished(context.Background(), "job-1")
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "job-1", timeout.JobID)
}

func TestSplitJoinRecords(t *testing.T) {
	body := []byte("{\"a\":1}\n\n{\"b\":2}\n")
	records := SplitRecords(body)
	require.Len(t, records, 2)

	rejoined := JoinRecords(records)
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n", string(rejoined))
}
