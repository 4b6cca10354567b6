package continuation

import (
	"errors"
	"fmt"

	"github.com/nikhilbhutani/castscribe/internal/models"
	"github.com/nikhilbhutani/castscribe/internal/quota"
)

var (
	// ErrTransientCall covers network failures, timeouts and rate limiting. Retried.
	ErrTransientCall = errors.New("transient call failure")
	// ErrMalformedResponse covers empty or unparsable text and text that adds nothing.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrCoverageRegression means coverage went down after a stitch. Never retried.
	ErrCoverageRegression = errors.New("coverage regression")
	// ErrExhaustedAttempts means the attempt budget ran out below the threshold.
	ErrExhaustedAttempts = errors.New("continuation attempts exhausted")
	// ErrConsecutiveFailures means too many calls in a row failed.
	ErrConsecutiveFailures = errors.New("too many consecutive failures")
	// ErrQuotaDenied is returned by quota managers with no capacity left. Counted as transient.
	ErrQuotaDenied = quota.ErrDenied
)

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransientCall) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientCall, err)
}

// Malformed marks err as a malformed response.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

// classify maps an attempt error onto the attempt result it counts as. Anything that is
// not a problem with the response text is treated as transient.
func classify(err error) models.AttemptResult {
	switch {
	case err == nil:
		return models.AttemptSuccess
	case errors.Is(err, ErrMalformedResponse), errors.Is(err, ErrCoverageRegression):
		return models.AttemptParseError
	default:
		return models.AttemptAPIError
	}
}

// Failure is returned for every terminal state other than COMPLETE. It carries the
// attempt log so the caller can report why the episode failed.
type Failure struct {
	State    models.RunState
	Reason   string
	Coverage models.CoverageResult
	Attempts []models.ContinuationAttempt
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("transcript %s: %s", f.State, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }
