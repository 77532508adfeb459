package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/staticserve/internal/config"
	"example.com/staticserve/internal/logger"
	"example.com/staticserve/internal/util"
)

func testConfig(address string) *config.Config {
	cfg := config.Default()
	cfg.Server.Address = &address
	return cfg
}

func helloHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "hello")
	})
}

func TestNewServer_Validation(t *testing.T) {
	lg := logger.NewDiscardLogger()
	cfg := testConfig("127.0.0.1:0")

	tests := []struct {
		name    string
		cfg     *config.Config
		lg      *logger.Logger
		handler http.Handler
	}{
		{"nil config", nil, lg, helloHandler()},
		{"nil logger", cfg, nil, helloHandler()},
		{"nil handler", cfg, lg, nil},
		{"missing address", &config.Config{Server: &config.ServerConfig{}}, lg, helloHandler()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(tt.cfg, tt.lg, tt.handler)
			assert.Error(t, err)
			assert.Nil(t, s)
		})
	}
}

func TestNewServer_ReadHeaderTimeout(t *testing.T) {
	cfg := testConfig("127.0.0.1:0")
	cfg.Server.ReadHeaderTimeout = config.NewDuration(3 * time.Second)
	s, err := NewServer(cfg, logger.NewDiscardLogger(), helloHandler())
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, s.httpServer.ReadHeaderTimeout)
}

func TestServer_ListenAddr(t *testing.T) {
	s, err := NewServer(testConfig("127.0.0.1:0"), logger.NewDiscardLogger(), helloHandler())
	require.NoError(t, err)
	assert.Nil(t, s.Addr())

	require.NoError(t, s.Listen())
	addr := s.Addr()
	require.NotNil(t, addr)
	assert.NotEqual(t, 0, addr.(*net.TCPAddr).Port)

	// second call keeps the same listener
	require.NoError(t, s.Listen())
	assert.Equal(t, addr.String(), s.Addr().String())

	require.NoError(t, s.Shutdown(context.Background()))
}

func TestServer_ListenAddressInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	s, err := NewServer(testConfig(busy.Addr().String()), logger.NewDiscardLogger(), helloHandler())
	require.NoError(t, err)

	err = s.Listen()
	require.Error(t, err)
	assert.True(t, util.IsAddrInUse(err), "expected address-in-use, got %v", err)
}

func TestServer_StartServeShutdown(t *testing.T) {
	s, err := NewServer(testConfig("127.0.0.1:0"), logger.NewDiscardLogger(), helloHandler())
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	startErr := make(chan error, 1)
	go func() { startErr <- s.Start() }()

	resp, err := http.Get("http://" + s.Addr().String() + "/anything")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-startErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}

	select {
	case <-s.Done():
	default:
		t.Error("Done channel not closed after Shutdown")
	}

	// a second Shutdown is a no-op
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestServer_MaxConnections(t *testing.T) {
	cfg := testConfig("127.0.0.1:0")
	maxConns := 1
	cfg.Server.MaxConnections = &maxConns

	s, err := NewServer(cfg, logger.NewDiscardLogger(), helloHandler())
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	s.mu.RLock()
	_, isTCP := s.listener.(*net.TCPListener)
	s.mu.RUnlock()
	assert.False(t, isTCP, "listener should be wrapped when max_connections > 0")

	go func() { _ = s.Start() }()

	resp, err := http.Get("http://" + s.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
}

func TestServer_StartReportsForcedShutdown(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(entered) })
		<-release
	})
	t.Cleanup(func() { close(release) })

	s, err := NewServer(testConfig("127.0.0.1:0"), logger.NewDiscardLogger(), slow)
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	startErr := make(chan error, 1)
	go func() { startErr <- s.Start() }()

	go func() {
		client := &http.Client{Timeout: 5 * time.Second}
		if resp, err := client.Get("http://" + s.Addr().String() + "/slow"); err == nil {
			resp.Body.Close()
		}
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the handler")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = s.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case err := <-startErr:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
