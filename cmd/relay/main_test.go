package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"midirelay/pkg/config"
	apperrors "midirelay/pkg/errors"
	"midirelay/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRunConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	// The default registerer is process-wide; run is started more than once here.
	cfg.Monitoring.PrometheusEnabled = false
	return cfg
}

// startRun runs the relay in the background and waits for its listener.
func startRun(t *testing.T, cfg *config.Config) (addr string, stop func() error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	bound := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, zap.NewNop(), func(a net.Addr) { bound <- a })
	}()

	select {
	case a := <-bound:
		addr = a.String()
	case err := <-done:
		cancel()
		t.Fatalf("run exited before listening: %v", err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatal("relay did not start listening")
	}

	return addr, func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("relay did not shut down")
			return nil
		}
	}
}

func TestRun_ServesLocallyWhenRedisUnreachable(t *testing.T) {
	saved := redisStartup
	redisStartup = retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	t.Cleanup(func() { redisStartup = saved })

	cfg := testRunConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	addr, stop := startRun(t, cfg)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Readiness reports the missing Redis without taking the relay down.
	resp, err = http.Get("http://" + addr + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Give the subscriber time to fail at least once; it must not end run.
	time.Sleep(200 * time.Millisecond)
	resp, err = http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NoError(t, stop())
}

func TestRun_ReportsBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testRunConfig()
	cfg.Server.Address = ln.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = run(ctx, cfg, zap.NewNop(), func(net.Addr) {
		t.Error("listener reported up on a busy port")
	})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeListenBindFailure, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), ln.Addr().String())
}

func TestRun_StopsCleanlyOnCancel(t *testing.T) {
	_, stop := startRun(t, testRunConfig())
	assert.NoError(t, stop())
}

func TestLoadConfig_ReportsUnusableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relay:\n  send_queue_size: 0\n"), 0o600))
	t.Setenv("MIDIRELAY_CONFIG", path)
	t.Setenv("PORT", "9999")

	cfg, loaded, problems := loadConfig()

	assert.Empty(t, loaded)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0].Error(), "send_queue_size")
	// Defaults still pick up the environment.
	assert.Equal(t, ":9999", cfg.Server.Address)
}

func TestLoadConfig_UsesNamedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relay:\n  send_queue_size: 64\n"), 0o600))
	t.Setenv("MIDIRELAY_CONFIG", path)

	cfg, loaded, problems := loadConfig()

	assert.Equal(t, path, loaded)
	assert.Empty(t, problems)
	assert.Equal(t, 64, cfg.Relay.SendQueueSize)
}
