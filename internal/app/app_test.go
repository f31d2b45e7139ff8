package app

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/roster/internal/common"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()

	sleepPath, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep binary not available")
	}

	cfg := common.NewDefaultConfig()
	cfg.Drivers.Count = 2
	cfg.Drivers.BasePort = 19222
	cfg.Drivers.Binary = sleepPath
	cfg.Drivers.Args = []string{"60"}
	cfg.Drivers.SettleDelay = common.Duration{}
	cfg.Drivers.ShutdownGrace = common.Seconds(1)
	cfg.Browser.StartupTimeout = common.Seconds(2)
	cfg.Site.AuthCacheFile = filepath.Join(t.TempDir(), "auth_cache")
	cfg.Site.Username = "roster"
	cfg.Site.Password = "secret"
	cfg.Fetch.FetchUsername = "someone"
	return cfg
}

// A run that cannot open a browser session fails at discovery, and closing the
// app still terminates every spawned process
func TestApp_FailedRunStillTerminatesProcesses(t *testing.T) {
	cfg := testConfig(t)

	application, err := New(context.Background(), cfg, arbor.NewNoOpLogger(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, application.Supervisor.Running())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = application.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery session")

	// Every slot came back despite the failed checkout
	stats := application.Pool.Stats()
	assert.Equal(t, 2, stats.Free)

	require.NoError(t, application.Close())
	assert.Equal(t, 0, application.Supervisor.Running())
	assert.NoError(t, application.Close())
}

func TestApp_StartFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Drivers.Binary = "/nonexistent/chromium"

	_, err := New(context.Background(), cfg, arbor.NewNoOpLogger(), nil)
	assert.Error(t, err)
}
