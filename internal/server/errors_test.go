package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"example.com/staticserve/internal/logger"
)

func TestErrorBody(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{http.StatusNotFound, "404 Not Found"},
		{http.StatusInternalServerError, "500 Internal Server Error"},
		{http.StatusBadRequest, "400 Bad Request"},
		{599, "599 Error"},
	}
	for _, tt := range tests {
		if got := ErrorBody(tt.code); got != tt.want {
			t.Errorf("ErrorBody(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestWriteErrorResponse(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusInternalServerError} {
		rr := httptest.NewRecorder()
		if err := WriteErrorResponse(rr, code, logger.NewDiscardLogger()); err != nil {
			t.Fatalf("WriteErrorResponse(%d) error = %v", code, err)
		}
		if rr.Code != code {
			t.Errorf("status = %d, want %d", rr.Code, code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "text/plain" {
			t.Errorf("Content-Type = %q, want %q", ct, "text/plain")
		}
		if body := rr.Body.String(); body != ErrorBody(code) {
			t.Errorf("body = %q, want %q", body, ErrorBody(code))
		}
	}
}

func TestWriteErrorResponse_NilLogger(t *testing.T) {
	rr := httptest.NewRecorder()
	if err := WriteErrorResponse(rr, http.StatusNotFound, nil); err != nil {
		t.Fatalf("WriteErrorResponse() error = %v", err)
	}
	if rr.Body.String() != "404 Not Found" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

type failingWriter struct {
	header http.Header
	status int
}

func (f *failingWriter) Header() http.Header {
	if f.header == nil {
		f.header = make(http.Header)
	}
	return f.header
}
func (f *failingWriter) WriteHeader(status int)    { f.status = status }
func (f *failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteErrorResponse_WriteFailure(t *testing.T) {
	fw := &failingWriter{}
	err := WriteErrorResponse(fw, http.StatusInternalServerError, logger.NewDiscardLogger())
	if err == nil {
		t.Fatal("WriteErrorResponse() expected error from failing writer, got nil")
	}
	if fw.status != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", fw.status, http.StatusInternalServerError)
	}
}
