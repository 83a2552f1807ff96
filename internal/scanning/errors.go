package scanning

import (
	"fmt"
	"strings"
)

// previewLimit bounds how much of a bad model response ends up in errors and logs
const previewLimit = 200

// ConversionError is returned when a document cannot be turned into a raster image
type ConversionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("could not read document %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// NoVisionModelAvailableError is returned when none of the required vision models
// is available to the configured credentials
type NoVisionModelAvailableError struct {
	Required []string
}

func (e *NoVisionModelAvailableError) Error() string {
	return fmt.Sprintf("no vision model available to this account (need one of: %s)", strings.Join(e.Required, ", "))
}

// BackendRequestError is returned when the model backend rejects a request.
// Body holds the upstream error payload verbatim.
type BackendRequestError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *BackendRequestError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("backend %s failed with status %d: %s", e.Op, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("backend %s failed: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("backend %s failed: %s", e.Op, e.Body)
	}
}

func (e *BackendRequestError) Unwrap() error {
	return e.Err
}

// ResponseFormatError is returned when the model response is not a JSON object.
// Preview holds at most the first 200 bytes of the response.
type ResponseFormatError struct {
	Preview string
	Err     error
}

func newResponseFormatError(raw string, err error) *ResponseFormatError {
	return &ResponseFormatError{Preview: preview(raw), Err: err}
}

func (e *ResponseFormatError) Error() string {
	return fmt.Sprintf("response is not JSON: %v (preview: %s)", e.Err, e.Preview)
}

func (e *ResponseFormatError) Unwrap() error {
	return e.Err
}

func preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit]
}
