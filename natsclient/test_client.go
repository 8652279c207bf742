//go:build integration

package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestServer is a NATS server in a throwaway container.
type TestServer struct {
	container testcontainers.Container
	URL       string
}

// TestOption configures a TestServer
type TestOption func(*testConfig)

type testConfig struct {
	jetstream    bool
	natsVersion  string
	startTimeout time.Duration
}

// WithJetStream enables JetStream on the server
func WithJetStream() TestOption {
	return func(cfg *testConfig) { cfg.jetstream = true }
}

// WithNATSVersion specifies the NATS server image tag
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) { cfg.natsVersion = version }
}

// NewTestServer starts a NATS container and registers its teardown.
func NewTestServer(t testing.TB, opts ...TestOption) *TestServer {
	t.Helper()

	cfg := &testConfig{natsVersion: "2.11.7-alpine", startTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()
	args := []string{"--port", "4222", "--http_port", "8222"}
	if cfg.jetstream {
		args = append(args, "--js")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:" + cfg.natsVersion,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          args,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
			),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}

	return &TestServer{container: container, URL: fmt.Sprintf("nats://%s:%s", host, port.Port())}
}

// Stop stops the container without removing it, to simulate an outage.
func (s *TestServer) Stop(ctx context.Context) error {
	timeout := 5 * time.Second
	return s.container.Stop(ctx, &timeout)
}

// Start restarts a stopped container. The mapped port may change.
func (s *TestServer) Start(ctx context.Context) error {
	if err := s.container.Start(ctx); err != nil {
		return err
	}
	host, err := s.container.Host(ctx)
	if err != nil {
		return err
	}
	port, err := s.container.MappedPort(ctx, "4222")
	if err != nil {
		return err
	}
	s.URL = fmt.Sprintf("nats://%s:%s", host, port.Port())
	return nil
}
