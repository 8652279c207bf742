//go:build unix

package main

import (
	"io"
	"log/slog"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/photgw/broker"
	"github.com/c360/photgw/config"
	"github.com/c360/photgw/service"
	"github.com/c360/photgw/testutil"
)

func TestDispatchPauseResume(t *testing.T) {
	cfg, err := config.NewLoader().LoadFile(writeConfig(t, siteYAML))
	require.NoError(t, err)
	gw, err := service.NewGateway(cfg, service.Options{
		Sessions: func(broker.Config, []string, *slog.Logger) (broker.Session, error) {
			return testutil.NewFakeSession("broker"), nil
		},
	})
	require.NoError(t, err)

	app := &application{gw: gw, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	app.dispatch(syscall.SIGUSR1)
	assert.True(t, gw.Publisher().Paused())
	app.dispatch(syscall.SIGUSR2)
	assert.False(t, gw.Publisher().Paused())
}
