package permanent

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error marks delivery failures that are not retryable.
// Params: wrapped root cause.
// Returns: typed permanent error marker.
type Error struct {
	Err error
}

// Error returns wrapped error message.
// Params: none.
// Returns: string representation.
func (e Error) Error() string {
	if e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// Permanent marks error as non-retryable.
// Params: none.
// Returns: true.
func (Error) Permanent() bool {
	return true
}

// Mark wraps error with permanent marker.
// Params: source error.
// Returns: wrapped error or nil.
func Mark(err error) error {
	if err == nil {
		return nil
	}
	return Error{Err: err}
}

// Is reports whether error has permanent marker.
// Params: candidate error.
// Returns: true when non-retryable marker is present.
func Is(err error) bool {
	if err == nil {
		return false
	}
	type marker interface {
		Permanent() bool
	}
	var tagged marker
	if !errors.As(err, &tagged) {
		return false
	}
	return tagged.Permanent()
}

// FromHTTPStatus builds delivery error classified by response status.
// Params: error prefix and finished HTTP response.
// Returns: permanent error for non-retryable 4xx, plain error otherwise.
func FromHTTPStatus(prefix string, response *http.Response) error {
	detail := readResponseDetail(response)
	err := fmt.Errorf("%s status=%d %s", prefix, response.StatusCode, detail)
	if retryableStatus(response.StatusCode) {
		return err
	}
	return Mark(err)
}

// retryableStatus reports whether delivery may be retried for status.
// Params: HTTP status code.
// Returns: true for transient statuses, false for caller errors.
func retryableStatus(status int) bool {
	if status >= 500 {
		return true
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}

// readResponseDetail extracts short response body excerpt for error text.
// Params: finished HTTP response.
// Returns: trimmed single-line body excerpt, possibly empty.
func readResponseDetail(response *http.Response) string {
	if response == nil || response.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(response.Body, 512))
	if err != nil {
		return ""
	}
	detail := strings.TrimSpace(string(raw))
	detail = strings.ReplaceAll(detail, "\n", " ")
	return detail
}
