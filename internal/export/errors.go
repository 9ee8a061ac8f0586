package export

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// TransientAPIError marks a failure worth retrying: rate limits,
// server errors, connection resets.
type TransientAPIError struct {
	StatusCode int
	Err        error
}

func (e *TransientAPIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient API error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient API error: %v", e.Err)
}

func (e *TransientAPIError) Unwrap() error { return e.Err }

// FatalAPIError marks a failure that retrying cannot fix, such as bad
// credentials or a malformed request. It aborts the whole export.
type FatalAPIError struct {
	StatusCode int
	Err        error
}

func (e *FatalAPIError) Error() string {
	return fmt.Sprintf("fatal API error (status %d): %v", e.StatusCode, e.Err)
}

func (e *FatalAPIError) Unwrap() error { return e.Err }

// TimeoutError reports an export job that did not reach a terminal
// status within the polling ceiling. The job is abandoned.
type TimeoutError struct {
	JobID   string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("export job %s did not complete within %s", e.JobID, e.Elapsed)
}

// PartialExportFailure reports chunks that failed after retry
// exhaustion. The whole export is treated as failed; nothing is cached.
type PartialExportFailure struct {
	JobID        string
	FailedChunks []int
	Errs         *multierror.Error
}

func (e *PartialExportFailure) Error() string {
	return fmt.Sprintf("export job %s failed for chunks %v: %v", e.JobID, e.FailedChunks, e.Errs)
}

func (e *PartialExportFailure) Unwrap() error { return e.Errs }

// JobFailedError reports a job the remote service itself marked as
// failed or cancelled.
type JobFailedError struct {
	JobID  string
	Status Status
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("export job %s ended with status %s", e.JobID, e.Status)
}
