package http

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/photgw/config"
	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/health"
	"github.com/c360/photgw/logging"
	"github.com/c360/photgw/metric"
)

type fakeClient struct {
	mu     sync.Mutex
	paused bool
}

func (c *fakeClient) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

func (c *fakeClient) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

func (c *fakeClient) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

type fixture struct {
	server  *Server
	levels  *logging.Levels
	client  *fakeClient
	monitor *health.Monitor
	reloads int
	reload  error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		levels:  logging.New(slog.NewTextHandler(io.Discard, nil), slog.LevelInfo),
		client:  &fakeClient{},
		monitor: health.NewMonitor(),
	}
	for _, name := range logging.Components {
		f.levels.Component(name)
	}
	f.levels.Device("stars1", slog.LevelInfo)
	f.levels.Device("stars2", slog.LevelWarn)

	reg := metric.NewMetricsRegistry()
	reg.CoreMetrics().RecordLine("stars1", true)

	s, err := New(config.AdminConfig{Listen: "127.0.0.1"}, Deps{
		Levels: f.levels,
		Client: f.client,
		Reload: func() error {
			f.reloads++
			return f.reload
		},
		Monitor: f.monitor,
		Metrics: reg,
	})
	require.NoError(t, err)
	f.server = s
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	raw := rec.Body.String()
	var doc map[string]any
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	}
	return rec.Code, doc, raw
}

func TestHello(t *testing.T) {
	f := newFixture(t)
	code, doc, _ := f.do(t, http.MethodGet, "/v1", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "I'm alive", doc["message"])
}

func TestLoggerList(t *testing.T) {
	f := newFixture(t)

	_, _, raw := f.do(t, http.MethodGet, "/v1/ploggers", "")
	var entries []LevelInfo
	require.NoError(t, json.Unmarshal([]byte(raw), &entries))
	assert.Equal(t, []LevelInfo{{"stars1", "info"}, {"stars2", "warn"}}, entries)

	_, _, raw = f.do(t, http.MethodGet, "/v1/loggers", "")
	entries = nil
	require.NoError(t, json.Unmarshal([]byte(raw), &entries))
	assert.Len(t, entries, len(logging.Components))
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantLevel  string
	}{
		{"get component", http.MethodGet, "/v1/loggers/publisher", "", http.StatusOK, "info"},
		{"get unknown component", http.MethodGet, "/v1/loggers/sampler", "", http.StatusNotFound, ""},
		{"set component", http.MethodPut, "/v1/loggers/broker", `{"name":"broker","level":"debug"}`, http.StatusOK, "debug"},
		{"set component without name", http.MethodPut, "/v1/loggers/broker", `{"level":"critical"}`, http.StatusOK, "error"},
		{"set unknown component", http.MethodPut, "/v1/loggers/sampler", `{"level":"debug"}`, http.StatusNotFound, ""},
		{"get photometer", http.MethodGet, "/v1/ploggers/stars2", "", http.StatusOK, "warn"},
		{"get photometer any case", http.MethodGet, "/v1/ploggers/STARS2", "", http.StatusOK, "warn"},
		{"get unknown photometer", http.MethodGet, "/v1/ploggers/stars9", "", http.StatusNotFound, ""},
		{"set photometer", http.MethodPut, "/v1/ploggers/stars1", `{"name":"STARS1","level":"warning"}`, http.StatusOK, "warn"},
		{"set unknown photometer", http.MethodPut, "/v1/ploggers/stars9", `{"name":"stars9","level":"debug"}`, http.StatusNotFound, ""},
		{"name mismatch", http.MethodPut, "/v1/ploggers/stars1", `{"name":"stars2","level":"debug"}`, http.StatusBadRequest, ""},
		{"bad level", http.MethodPut, "/v1/ploggers/stars1", `{"level":"verbose"}`, http.StatusBadRequest, ""},
		{"bad body", http.MethodPut, "/v1/ploggers/stars1", `level=debug`, http.StatusBadRequest, ""},
		{"oversized body", http.MethodPut, "/v1/ploggers/stars1", `{"level":"` + strings.Repeat("d", maxRequestSize) + `"}`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			code, doc, _ := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, code)
			if tt.wantStatus != http.StatusOK {
				assert.NotEmpty(t, doc["detail"])
				return
			}
			assert.Equal(t, tt.wantLevel, doc["level"])
		})
	}
}

func TestSetLevelTakesEffect(t *testing.T) {
	f := newFixture(t)
	code, _, _ := f.do(t, http.MethodPut, "/v1/ploggers/stars2", `{"level":"debug"}`)
	require.Equal(t, http.StatusOK, code)

	level, ok := f.levels.Get(logging.SpaceDevice, "stars2")
	require.True(t, ok)
	assert.Equal(t, slog.LevelDebug, level)
	assert.True(t, f.levels.Device("stars2", level).Enabled(context.Background(), slog.LevelDebug))
}

func TestClientControl(t *testing.T) {
	f := newFixture(t)

	code, doc, _ := f.do(t, http.MethodPost, "/v1/client/pause", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Server paused operation", doc["message"])
	assert.True(t, f.client.Paused())

	code, _, _ = f.do(t, http.MethodPost, "/v1/client/resume", "")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, f.client.Paused())

	code, _, _ = f.do(t, http.MethodGet, "/v1/client/pause", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestReload(t *testing.T) {
	f := newFixture(t)

	code, doc, _ := f.do(t, http.MethodPost, "/v1/client/reload", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Server reloaded", doc["message"])

	f.reload = errors.Config("config", "devices", "at least one photometer must be configured")
	code, _, _ = f.do(t, http.MethodPost, "/v1/client/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	f.reload = fmt.Errorf("disk gone")
	code, _, _ = f.do(t, http.MethodPost, "/v1/client/reload", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, 3, f.reloads)
}

func TestUnavailableDeps(t *testing.T) {
	s, err := New(config.AdminConfig{}, Deps{Levels: logging.New(slog.NewTextHandler(io.Discard, nil), slog.LevelInfo)})
	require.NoError(t, err)

	for _, path := range []string{"/v1/client/pause", "/v1/client/resume", "/v1/client/reload"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err = New(config.AdminConfig{}, Deps{})
	assert.True(t, errors.IsInvalid(err))
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.monitor.UpdateHealthy("stars1", "streaming")

	code, doc, _ := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, health.StateHealthy, doc["status"])

	f.monitor.UpdateUnhealthy("publisher", "broker unreachable")
	code, doc, _ = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, health.StateUnhealthy, doc["status"])

	code, _, raw := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, raw, "stars1")

	code, _, raw = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", raw)

	flow := f.server.DataFlow()
	assert.Greater(t, flow.ErrorRate, 0.0)
	assert.False(t, flow.LastActivity.IsZero())
}

func TestRunServesUntilCancelled(t *testing.T) {
	s, err := New(config.AdminConfig{Listen: "127.0.0.1", Port: 0}, Deps{
		Levels: logging.New(slog.NewTextHandler(io.Discard, nil), slog.LevelInfo),
	})
	require.NoError(t, err)
	assert.False(t, s.Health().Healthy)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Health().Healthy)

	resp, err := http.Get("http://" + s.Addr().String() + "/v1")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "alive")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunRejectsBadTLS(t *testing.T) {
	cfg := config.AdminConfig{Listen: "127.0.0.1"}
	cfg.TLS.Enabled = true
	cfg.TLS.CertFile = "/nonexistent/cert.pem"
	cfg.TLS.KeyFile = "/nonexistent/key.pem"

	s, err := New(cfg, Deps{Levels: logging.New(slog.NewTextHandler(io.Discard, nil), slog.LevelInfo)})
	require.NoError(t, err)
	err = s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
