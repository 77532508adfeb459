package server

import (
	"fmt"
	"net/http"

	"example.com/staticserve/internal/logger"
)

// ErrorBody returns the fixed plain-text body for statusCode, e.g.
// "404 Not Found". Unknown codes fall back to "Error".
func ErrorBody(statusCode int) string {
	statusText := http.StatusText(statusCode)
	if statusText == "" {
		statusText = "Error"
	}
	return fmt.Sprintf("%d %s", statusCode, statusText)
}

// WriteErrorResponse writes a plain-text error response with the fixed body
// for statusCode. The returned error only reports a failed body write; the
// status line has been committed by then.
func WriteErrorResponse(w http.ResponseWriter, statusCode int, log *logger.Logger) error {
	body := ErrorBody(statusCode)
	if log != nil {
		log.Debug("Sending error response", logger.LogFields{"status_code": statusCode})
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(statusCode)
	if _, err := w.Write([]byte(body)); err != nil {
		return fmt.Errorf("failed to write error response body for status %d: %w", statusCode, err)
	}
	return nil
}
