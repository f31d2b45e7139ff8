package common

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadFromFiles_Defaults(t *testing.T) {
	cfg, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Drivers.Count)
	assert.Equal(t, 9222, cfg.Drivers.BasePort)
	assert.Equal(t, "auth_token", cfg.Site.AuthCookieName)
	assert.Equal(t, 5, cfg.Fetch.MaxRetries)
	assert.True(t, cfg.Fetch.FetchPosts)
}

func TestLoadFromFiles_LaterFileOverrides(t *testing.T) {
	base := writeConfig(t, `
[drivers]
count = 2
base_port = 4444

[fetch]
fetch_username = "alice"
max_concurrent_users = 3
`)
	override := writeConfig(t, `
[drivers]
count = 6

[site]
auth_cache_file = "/tmp/roster-auth"
`)

	cfg, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Drivers.Count)
	assert.Equal(t, 4444, cfg.Drivers.BasePort)
	assert.Equal(t, "alice", cfg.Fetch.FetchUsername)
	assert.Equal(t, 3, cfg.Fetch.MaxConcurrentUsers)
	assert.Equal(t, "/tmp/roster-auth", cfg.Site.AuthCacheFile)
}

func TestLoadFromFiles_Durations(t *testing.T) {
	path := writeConfig(t, `
[drivers]
settle_delay = "250ms"
shutdown_grace = "1m"

[browser]
startup_timeout = "45s"

[fetch]
retry_delay_base = "5s"
settle_delay = "250ms"
page_load_delay = "2s"
following_page_delay = "1.5s"

[site]
login_step_delay = "0s"
`)

	cfg, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Drivers.SettleDelay.Duration)
	assert.Equal(t, time.Minute, cfg.Drivers.ShutdownGrace.Duration)
	assert.Equal(t, 45*time.Second, cfg.Browser.StartupTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Fetch.RetryDelayBase.Duration)
	assert.Equal(t, 250*time.Millisecond, cfg.Fetch.SettleDelay.Duration)
	assert.Equal(t, 2*time.Second, cfg.Fetch.PageLoadDelay.Duration)
	assert.Equal(t, 1500*time.Millisecond, cfg.Fetch.FollowingPageDelay.Duration)
	assert.Equal(t, time.Duration(0), cfg.Site.LoginStepDelay.Duration)
}

func TestLoadFromFiles_RejectsMalformedDurations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bare integer", content: "[fetch]\nretry_delay_base = 5\n"},
		{name: "missing unit", content: "[fetch]\nretry_delay_base = \"5\"\n"},
		{name: "garbage", content: "[drivers]\nshutdown_grace = \"soon\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFiles(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestRetryDelayBaseFromEnv(t *testing.T) {
	t.Setenv("ROSTER_RETRY_DELAY_BASE", "750ms")

	cfg, err := LoadFromFiles()
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.Fetch.RetryDelayBase.Duration)
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadFromFiles_InvalidTOML(t *testing.T) {
	path := writeConfig(t, "[drivers\ncount = ")
	_, err := LoadFromFiles(path)
	assert.Error(t, err)
}

func TestCredentialPrecedence(t *testing.T) {
	path := writeConfig(t, `
[site]
username = "from-file"
password = "file-secret"
`)

	t.Setenv("TWITTER_USERNAME", "from-env")

	cfg, err := LoadFromFiles(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Site.Username)
	assert.Equal(t, "file-secret", cfg.Site.Password)

	ApplyFlagOverrides(cfg, "from-flag", "", "bob")
	assert.Equal(t, "from-flag", cfg.Credentials().Username)
	assert.Equal(t, "file-secret", cfg.Credentials().Password)
	assert.Equal(t, "bob", cfg.Fetch.FetchUsername)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := NewDefaultConfig()
		cfg.Site.Username = "user"
		cfg.Site.Password = "pass"
		cfg.Fetch.FetchUsername = "target"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero drivers allowed", mutate: func(c *Config) { c.Drivers.Count = 0 }},
		{name: "missing credentials", mutate: func(c *Config) { c.Site.Password = "" }, wantErr: true},
		{name: "missing fetch user", mutate: func(c *Config) { c.Fetch.FetchUsername = "" }, wantErr: true},
		{name: "no workers", mutate: func(c *Config) { c.Fetch.MaxConcurrentUsers = 0 }, wantErr: true},
		{name: "no retries", mutate: func(c *Config) { c.Fetch.MaxRetries = 0 }, wantErr: true},
		{name: "bad base url", mutate: func(c *Config) { c.Site.BaseURL = "not a url" }, wantErr: true},
		{name: "port range overflow", mutate: func(c *Config) { c.Drivers.BasePort = 65000; c.Drivers.Count = 600 }, wantErr: true},
		{name: "zero startup timeout", mutate: func(c *Config) { c.Browser.StartupTimeout = Duration{} }, wantErr: true},
		{name: "negative retry delay", mutate: func(c *Config) { c.Fetch.RetryDelayBase = Duration{-time.Second} }, wantErr: true},
		{name: "zero settle delay allowed", mutate: func(c *Config) { c.Drivers.SettleDelay = Duration{} }},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSafeRun_RecoversPanic(t *testing.T) {
	err := SafeRun(arbor.NewNoOpLogger(), "worker-0", func() error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker-0")
	assert.Contains(t, err.Error(), "boom")

	want := errors.New("plain")
	assert.Equal(t, want, SafeRun(arbor.NewNoOpLogger(), "worker-1", func() error { return want }))
}
