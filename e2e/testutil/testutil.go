// Package testutil runs a real staticserve instance for end-to-end tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"example.com/staticserve/internal/config"
	"example.com/staticserve/internal/handlers/staticfile"
	"example.com/staticserve/internal/logger"
	"example.com/staticserve/internal/server"
)

// TestRequest models an HTTP request for E2E testing.
type TestRequest struct {
	Method  string
	Path    string // raw request target, sent as is
	Headers http.Header
	Body    []byte
}

// BodyMatcher defines a way to match the response body.
type BodyMatcher interface {
	Match(body []byte) (bool, string)
}

// ExactBodyMatcher matches the body exactly.
type ExactBodyMatcher struct {
	ExpectedBody []byte
}

// Match implements BodyMatcher.
func (m *ExactBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Equal(m.ExpectedBody, body) {
		return true, ""
	}
	return false, fmt.Sprintf("bodies do not match exactly. Expected: %q, Got: %q", string(m.ExpectedBody), string(body))
}

// StringContainsBodyMatcher checks if the body contains a specific substring.
type StringContainsBodyMatcher struct {
	Substring string
}

// Match implements BodyMatcher.
func (m *StringContainsBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Contains(body, []byte(m.Substring)) {
		return true, ""
	}
	return false, fmt.Sprintf("body does not contain substring: %q. Body: %q", m.Substring, string(body))
}

// ExpectedResponse models the expected outcome of an HTTP request.
type ExpectedResponse struct {
	StatusCode  int
	Headers     map[string]string // exact header values
	BodyMatcher BodyMatcher
}

// ActualResponse stores what the server sent back.
type ActualResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// ServerInstance is a staticserve server running in this process.
type ServerInstance struct {
	Config     *config.Config
	Address    string
	ConfigPath string

	srv       *server.Server
	log       *logger.Logger
	logBuf    *syncBuffer
	accessBuf *syncBuffer
	startErr  chan error
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// WriteDocRoot creates a temporary document root holding files, keyed by
// slash-separated relative path. Keys ending in "/" create empty directories.
func WriteDocRoot(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if strings.HasSuffix(rel, "/") {
			if err := os.MkdirAll(p, 0o755); err != nil {
				t.Fatalf("mkdir %s: %v", p, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(p), err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	return root
}

// WriteTempConfig writes configData as JSON, TOML or YAML into dir and
// returns the file path.
func WriteTempConfig(dir string, configData interface{}, format string) (string, error) {
	var data []byte
	var err error
	var ext string

	switch strings.ToLower(format) {
	case "json":
		data, err = json.MarshalIndent(configData, "", "  ")
		ext = ".json"
	case "toml":
		buf := new(bytes.Buffer)
		if err = toml.NewEncoder(buf).Encode(configData); err == nil {
			data = buf.Bytes()
		}
		ext = ".toml"
	case "yaml":
		data, err = yaml.Marshal(configData)
		ext = ".yaml"
	default:
		err = fmt.Errorf("unsupported config format: %s", format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal config data to %s: %w", format, err)
	}

	path := filepath.Join(dir, "staticserve"+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

// StartTestServer loads configPath the same way the binary does, binds the
// configured address and serves in the background. The server is stopped
// when the test ends.
func StartTestServer(t *testing.T, configPath string) *ServerInstance {
	t.Helper()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig(%s): %v", configPath, err)
	}
	sfsCfg, err := config.ResolveStaticFileServerConfig(cfg.Static, cfg.OriginalFilePath())
	if err != nil {
		t.Fatalf("ResolveStaticFileServerConfig: %v", err)
	}

	logBuf, accessBuf := &syncBuffer{}, &syncBuffer{}
	lg, err := logger.NewWithWriters(cfg.Logging, accessBuf, logBuf)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	handler, err := staticfile.New(sfsCfg, lg)
	if err != nil {
		t.Fatalf("staticfile.New: %v", err)
	}
	srv, err := server.NewServer(cfg, lg, handler)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	si := &ServerInstance{
		Config:     cfg,
		Address:    srv.Addr().String(),
		ConfigPath: configPath,
		srv:        srv,
		log:        lg,
		logBuf:     logBuf,
		accessBuf:  accessBuf,
		startErr:   make(chan error, 1),
	}
	go func() { si.startErr <- srv.Start() }()
	t.Cleanup(func() {
		if err := si.Stop(); err != nil {
			t.Errorf("stopping server: %v", err)
		}
	})
	return si
}

// Stop shuts the server down and waits for Start to return.
func (s *ServerInstance) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	select {
	case err := <-s.startErr:
		s.startErr <- err
		return err
	case <-ctx.Done():
		return fmt.Errorf("server did not stop: %w", ctx.Err())
	}
}

// ErrorLog returns everything written to the error log so far.
func (s *ServerInstance) ErrorLog() string { return s.logBuf.String() }

// AccessLog returns everything written to the access log so far.
func (s *ServerInstance) AccessLog() string { return s.accessBuf.String() }

// Do sends request to the server. Redirects are not followed.
func (s *ServerInstance) Do(request TestRequest) (ActualResponse, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequest(method, "http://"+s.Address+request.Path, bytes.NewReader(request.Body))
	if err != nil {
		return ActualResponse{}, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range request.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	client := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return ActualResponse{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ActualResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}
	return ActualResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

// AssertResponse compares actual against expected and reports every mismatch.
func AssertResponse(t *testing.T, actual ActualResponse, expected ExpectedResponse) {
	t.Helper()
	if expected.StatusCode != 0 && actual.StatusCode != expected.StatusCode {
		t.Errorf("status = %d, want %d (body %q)", actual.StatusCode, expected.StatusCode, string(actual.Body))
	}
	for name, want := range expected.Headers {
		if got := actual.Headers.Get(name); got != want {
			t.Errorf("header %s = %q, want %q", name, got, want)
		}
	}
	if expected.BodyMatcher != nil {
		if ok, msg := expected.BodyMatcher.Match(actual.Body); !ok {
			t.Error(msg)
		}
	}
}
