package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hawklight/vulnreport/internal/config"
	"github.com/hawklight/vulnreport/internal/telemetry"
)

// Status is the remote export job status.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusFinished   Status = "FINISHED"
	StatusError      Status = "ERROR"
	StatusCancelled  Status = "CANCELLED"
)

// Result is one completed export: the job identifier and the merged
// record stream in chunk-index order.
type Result struct {
	JobID   string
	Records []json.RawMessage
}

// Client drives the remote bulk-export protocol:
// initiate -> poll -> parallel chunk fetch -> index-ordered merge.
type Client struct {
	baseURL    string
	accessKey  string
	secretKey  string
	userAgent  string
	httpClient *http.Client

	pollInterval   time.Duration
	pollTimeout    time.Duration
	concurrency    int
	maxAttempts    int
	backoffBase    time.Duration
	backoffCap     time.Duration
	assetsPerChunk int

	// Injectable for deterministic tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client from configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:   cfg.API.BaseURL,
		accessKey: cfg.API.AccessKey,
		secretKey: cfg.API.SecretKey,
		userAgent: cfg.API.UserAgent,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.API.Timeout) * time.Second,
		},
		pollInterval:   cfg.PollInterval(),
		pollTimeout:    cfg.PollTimeout(),
		concurrency:    cfg.Export.ConcurrentChunks,
		maxAttempts:    cfg.Export.ChunkRetries,
		backoffBase:    time.Duration(cfg.Export.RetryBackoff) * time.Second,
		backoffCap:     time.Duration(cfg.Export.RetryBackoffCap) * time.Second,
		assetsPerChunk: cfg.Export.AssetsPerChunk,
		now:            time.Now,
		sleep:          sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Export runs the full workflow and returns the merged record stream.
// The merge order is chunk-index order regardless of download
// completion order, so output is deterministic for a given job.
func (c *Client) Export(ctx context.Context, filters Filters) (*Result, error) {
	jobID, err := c.Initiate(ctx, filters)
	if err != nil {
		return nil, err
	}
	log.Printf("Export job initiated: %s (%s)", jobID, filters.Describe())

	if err := c.AwaitFinished(ctx, jobID); err != nil {
		return nil, err
	}

	chunks, err := c.ChunkList(ctx, jobID)
	if err != nil {
		return nil, err
	}
	log.Printf("Export job %s finished, %d chunks available", jobID, len(chunks))

	records, err := c.downloadChunks(ctx, jobID, chunks)
	if err != nil {
		return nil, err
	}

	log.Printf("Export job %s complete: %d records", jobID, len(records))
	return &Result{JobID: jobID, Records: records}, nil
}

// Initiate submits the filter set and returns the export job ID.
func (c *Client) Initiate(ctx context.Context, filters Filters) (string, error) {
	payload := map[string]interface{}{
		"num_assets": c.assetsPerChunk,
		"filters":    filters.apiPayload(),
	}

	var resp struct {
		ExportUUID string `json:"export_uuid"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/vulns/export", payload, &resp); err != nil {
		return "", fmt.Errorf("export initiation failed: %w", err)
	}
	if resp.ExportUUID == "" {
		return "", &FatalAPIError{Err: fmt.Errorf("initiate response carried no export_uuid")}
	}
	return resp.ExportUUID, nil
}

// JobStatus fetches the current status of an export job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (Status, error) {
	var resp struct {
		Status Status `json:"status"`
	}
	path := fmt.Sprintf("/vulns/export/%s/status", jobID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", fmt.Errorf("status polling failed: %w", err)
	}
	return resp.Status, nil
}

// AwaitFinished polls the job on a fixed interval until it reaches a
// terminal status or the wall-clock ceiling passes.
func (c *Client) AwaitFinished(ctx context.Context, jobID string) error {
	deadline := c.now().Add(c.pollTimeout)
	for {
		status, err := c.JobStatus(ctx, jobID)
		if err != nil {
			return err
		}

		switch status {
		case StatusFinished:
			return nil
		case StatusError, StatusCancelled:
			return &JobFailedError{JobID: jobID, Status: status}
		}

		if !c.now().Add(c.pollInterval).Before(deadline) {
			telemetry.ExportFailures.WithLabelValues("timeout").Inc()
			return &TimeoutError{JobID: jobID, Elapsed: c.pollTimeout}
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return err
		}
	}
}

// ChunkList enumerates the chunk identifiers of a finished job, in
// ascending order.
func (c *Client) ChunkList(ctx context.Context, jobID string) ([]int, error) {
	var resp struct {
		Chunks []int `json:"chunks"`
	}
	path := fmt.Sprintf("/vulns/export/%s/chunks", jobID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("chunk enumeration failed: %w", err)
	}
	sort.Ints(resp.Chunks)
	return resp.Chunks, nil
}

// downloadChunks fetches all chunks on a bounded worker pool and merges
// them in ascending chunk-index order. A chunk that exhausts its
// retries fails the entire export; a fatal error aborts immediately.
func (c *Client) downloadChunks(ctx context.Context, jobID string, chunks []int) ([]json.RawMessage, error) {
	type chunkResult struct {
		pos     int
		chunkID int
		records []json.RawMessage
		err     error
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chunkResult, len(chunks))
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	for pos, chunkID := range chunks {
		wg.Add(1)
		go func(pos, chunkID int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[pos] = chunkResult{pos: pos, chunkID: chunkID, err: ctx.Err()}
				return
			}

			records, err := c.fetchChunk(ctx, jobID, chunkID)
			results[pos] = chunkResult{pos: pos, chunkID: chunkID, records: records, err: err}
			if err != nil {
				var fatal *FatalAPIError
				if errors.As(err, &fatal) {
					cancel()
				}
			}
		}(pos, chunkID)
	}
	wg.Wait()

	var (
		failed  []int
		errs    *multierror.Error
		fatal   *FatalAPIError
		records []json.RawMessage
	)
	for _, r := range results {
		if r.err != nil {
			if errors.As(r.err, &fatal) {
				telemetry.ExportFailures.WithLabelValues("fatal").Inc()
				return nil, fatal
			}
			failed = append(failed, r.chunkID)
			errs = multierror.Append(errs, fmt.Errorf("chunk %d: %w", r.chunkID, r.err))
			continue
		}
		records = append(records, r.records...)
	}
	if len(failed) > 0 {
		telemetry.ExportFailures.WithLabelValues("partial").Inc()
		return nil, &PartialExportFailure{JobID: jobID, FailedChunks: failed, Errs: errs}
	}
	return records, nil
}

// fetchChunk downloads one chunk with retry and exponential backoff.
// The chunk body is a newline-delimited record stream; order within
// the chunk is preserved.
func (c *Client) fetchChunk(ctx context.Context, jobID string, chunkID int) ([]json.RawMessage, error) {
	path := fmt.Sprintf("/vulns/export/%s/chunks/%d", jobID, chunkID)

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			telemetry.ChunkRetries.Inc()
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		body, err := c.doRaw(ctx, path)
		if err == nil {
			telemetry.ChunksDownloaded.Inc()
			return SplitRecords(body), nil
		}

		var transient *TransientAPIError
		if !errors.As(err, &transient) {
			return nil, err
		}
		lastErr = err
		log.Printf("Chunk %d attempt %d failed: %v", chunkID, attempt+1, err)
	}
	return nil, fmt.Errorf("chunk download failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// backoff returns the delay before the given retry attempt: base
// doubling per attempt, capped, plus up to 25% jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.backoffBase << (attempt - 1)
	if d > c.backoffCap || d <= 0 {
		d = c.backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-ApiKeys", fmt.Sprintf("accessKey=%s; secretKey=%s;", c.accessKey, c.secretKey))
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doJSON performs a request with transient-failure retry and decodes a
// JSON response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return err
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := c.newRequest(ctx, method, path, reader)
		if err != nil {
			return err
		}

		data, err := c.execute(req)
		if err == nil {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return &FatalAPIError{Err: fmt.Errorf("malformed response: %w", err)}
			}
			return nil
		}

		var transient *TransientAPIError
		if !errors.As(err, &transient) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// doRaw performs a single GET and returns the raw body. Classification
// into transient/fatal is done here; retrying belongs to the caller.
func (c *Client) doRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.execute(req)
}

// execute runs one HTTP round trip and classifies the outcome.
// 429 and 5xx are transient; any other non-2xx is fatal.
func (c *Client) execute(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, &TransientAPIError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientAPIError{Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientAPIError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", resp.Status)}
	default:
		return nil, &FatalAPIError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", resp.Status)}
	}
}

// SplitRecords splits a newline-delimited chunk body into individual
// raw records, preserving order and skipping blank lines.
func SplitRecords(body []byte) []json.RawMessage {
	var records []json.RawMessage
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		records = append(records, json.RawMessage(append([]byte(nil), line...)))
	}
	return records
}

// JoinRecords renders records back into a newline-delimited payload,
// the on-disk cache format.
func JoinRecords(records []json.RawMessage) []byte {
	var buf bytes.Buffer
	for _, r := range records {
		buf.Write(r)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
