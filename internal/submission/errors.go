package submission

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
)

// Kind tells the retry helper whether an attempt may succeed if repeated.
type Kind int

const (
	// KindTerminal failures are rejections of the payload itself (4xx).
	KindTerminal Kind = iota
	// KindRetryable failures are network errors, timeouts, throttling and 5xx.
	KindRetryable
)

func (k Kind) String() string {
	if k == KindRetryable {
		return "retryable"
	}
	return "terminal"
}

// SubmissionError is returned for every failed submission attempt.
type SubmissionError struct {
	Kind       Kind
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
		}
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a SubmissionError worth repeating.
func IsRetryable(err error) bool {
	var subErr *SubmissionError
	return errors.As(err, &subErr) && subErr.Kind == KindRetryable
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var subErr *SubmissionError
	if errors.As(err, &subErr) {
		return subErr.StatusCode
	}
	return 0
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return KindRetryable
	default:
		return KindTerminal
	}
}

var duplicatePattern = regexp.MustCompile(`(?i)already exists|duplicate|duplicad|ya existe|ya fue registrad|ya se encuentra registrad`)

// IsDuplicate reports whether a rejection says the record is already on the
// remote side: a 400 or 409 whose body uses duplicate-style wording.
func IsDuplicate(err error) bool {
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		return false
	}
	if subErr.StatusCode != http.StatusBadRequest && subErr.StatusCode != http.StatusConflict {
		return false
	}
	return duplicatePattern.MatchString(subErr.Body)
}
