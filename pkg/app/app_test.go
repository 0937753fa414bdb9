package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beegfs-io/mgmtd/pkg/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "mgmtd.sqlite")
	cfg.ListenPort = 18008
	cfg.RPC.ListenAddr = "127.0.0.1:18010"
	return cfg
}

func TestNew_BuildsEveryComponent(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, a.store)
	require.NotNil(t, a.pool)
	require.NotNil(t, a.dispatcher)
	require.NotNil(t, a.rpcServer)
	require.NotNil(t, a.switchoverTask)
	require.NotNil(t, a.quotaTask)

	a.udpConn.Close()
	require.NoError(t, a.store.Close())
}

func TestNew_RejectsUnwritableDatabasePath(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabasePath = filepath.Join(t.TempDir(), "no-such-directory", "mgmtd.sqlite")

	_, err := New(cfg)
	require.Error(t, err)
}

// TestRun_ShutsDownOnContextCancel drives the full start-then-stop cycle
// through a canceled context, the same path a SIGTERM takes in
// cmd/mgmtd, and checks Run returns cleanly rather than hanging.
func TestRun_ShutsDownOnContextCancel(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return within 10s of context cancellation")
	}
}
