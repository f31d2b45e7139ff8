package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/roster/internal/models"
)

// Config represents the application configuration
type Config struct {
	Drivers   DriversConfig   `toml:"drivers"`
	Browser   BrowserConfig   `toml:"browser"`
	Fetch     FetchConfig     `toml:"fetch"`
	Site      SiteConfig      `toml:"site"`
	Selectors SelectorsConfig `toml:"selectors"`
	Logging   LoggingConfig   `toml:"logging"`
}

// DriversConfig controls the automation-server child processes
type DriversConfig struct {
	Count         int           `toml:"count" validate:"gte=0"`                    // Number of browser processes (pool capacity)
	BasePort      int           `toml:"base_port" validate:"gte=1024,lte=65000"`   // Process i listens on base_port+i
	Binary        string        `toml:"binary" validate:"required"`                // Chrome/Chromium executable
	Args          []string      `toml:"args"`                                      // {port} and {profile_dir} are substituted per process
	ProfileRoot   string        `toml:"profile_root"`                              // Parent directory of per-process profile dirs
	SettleDelay   Duration `toml:"settle_delay"`   // Wait after spawning before first use
	ShutdownGrace Duration `toml:"shutdown_grace"` // How long shutdown waits for leased sessions
}

// BrowserConfig is the capability descriptor applied to every session
type BrowserConfig struct {
	UserAgent            string        `toml:"user_agent"`
	StartupTimeout       Duration      `toml:"startup_timeout"`                         // Deadline for the session startup test
	NavigationsPerSecond float64       `toml:"navigations_per_second" validate:"gte=0"` // Shared across all sessions; 0 disables throttling
	NavigationBurst      int           `toml:"navigation_burst" validate:"gte=0"`
}

// FetchConfig controls discovery and per-user fetching
type FetchConfig struct {
	FetchUsername      string        `toml:"fetch_username" validate:"required"`  // Account whose following list is harvested
	MaxConcurrentUsers int           `toml:"max_concurrent_users" validate:"gte=1"`
	MaxLinksPerFetch   int           `toml:"max_links_per_fetch" validate:"gte=0"`
	MaxRetries         int           `toml:"max_retries" validate:"gte=1"`
	RetryDelayBase     Duration      `toml:"retry_delay_base"`     // Backoff is base * (retries + 1)
	SettleDelay        Duration      `toml:"settle_delay"`         // Wait after each scroll
	PageLoadDelay      Duration      `toml:"page_load_delay"`      // Wait after navigating to a profile or post
	FollowingPageDelay Duration      `toml:"following_page_delay"` // Wait after opening the following list
	FetchPosts         bool          `toml:"fetch_posts"`
}

// SiteConfig describes the target site and its credentials
type SiteConfig struct {
	BaseURL        string        `toml:"base_url" validate:"required,url"`
	AuthCacheFile  string        `toml:"auth_cache_file" validate:"required"`
	AuthCookieName string        `toml:"auth_cookie_name" validate:"required"`
	Username       string        `toml:"username" validate:"required"`
	Password       string        `toml:"password" validate:"required"`
	LoginStepDelay Duration      `toml:"login_step_delay"`
	DownMarker     string        `toml:"down_marker"` // Text that marks the site as unavailable
}

// SelectorsConfig overrides the page parser's selectors. Empty values keep the defaults.
type SelectorsConfig struct {
	FollowingUser  string `toml:"following_user"`
	PostArticle    string `toml:"post_article"`
	PostText       string `toml:"post_text"`
	ProfileSchema  string `toml:"profile_schema"`
	UserName       string `toml:"user_name"`
	UserDesc       string `toml:"user_description"`
	BannerImage    string `toml:"banner_image"`
	BannerOpen     string `toml:"banner_open"`
	BannerClose    string `toml:"banner_close"`
	SensitiveGuard string `toml:"sensitive_guard"`
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Output     []string `toml:"output"` // "stdout", "file"
	TimeFormat string   `toml:"time_format"`
}

// Credentials returns the login credentials resolved into the config
func (c *Config) Credentials() models.Credentials {
	return models.Credentials{
		Username: c.Site.Username,
		Password: c.Site.Password,
	}
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Drivers: DriversConfig{
			Count:    4,
			BasePort: 9222,
			Binary:   "chromium",
			Args: []string{
				"--headless=new",
				"--disable-gpu",
				"--no-first-run",
				"--disable-dev-shm-usage",
				"--remote-debugging-address=127.0.0.1",
				"--remote-debugging-port={port}",
				"--user-data-dir={profile_dir}",
			},
			ProfileRoot:   os.TempDir(),
			SettleDelay:   Seconds(1), // Give the processes time to open their debugging port
			ShutdownGrace: Seconds(10),
		},
		Browser: BrowserConfig{
			UserAgent:            "",
			StartupTimeout:       Seconds(30),
			NavigationsPerSecond: 1,
			NavigationBurst:      2,
		},
		Fetch: FetchConfig{
			MaxConcurrentUsers: 4,
			MaxLinksPerFetch:   10,
			MaxRetries:         5,
			RetryDelayBase:     Seconds(1),
			SettleDelay:        Seconds(1),
			PageLoadDelay:      Seconds(4),
			FollowingPageDelay: Seconds(6),
			FetchPosts:         true,
		},
		Site: SiteConfig{
			BaseURL:        "https://twitter.com",
			AuthCacheFile:  ".auth_cache",
			AuthCookieName: "auth_token",
			LoginStepDelay: Seconds(3),
			DownMarker:     "This page is down",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier ones. CLI overrides are applied separately by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Credentials (TWITTER_* kept for compatibility with existing deployments)
	if username := firstEnv("ROSTER_USERNAME", "TWITTER_USERNAME"); username != "" {
		config.Site.Username = username
	}
	if password := firstEnv("ROSTER_PASSWORD", "TWITTER_PASSWORD"); password != "" {
		config.Site.Password = password
	}

	if cacheFile := os.Getenv("ROSTER_AUTH_CACHE_FILE"); cacheFile != "" {
		config.Site.AuthCacheFile = cacheFile
	}
	if fetchUser := os.Getenv("ROSTER_FETCH_USERNAME"); fetchUser != "" {
		config.Fetch.FetchUsername = fetchUser
	}

	// Drivers
	if count := os.Getenv("ROSTER_DRIVER_COUNT"); count != "" {
		if n, err := strconv.Atoi(count); err == nil {
			config.Drivers.Count = n
		}
	}
	if port := os.Getenv("ROSTER_BASE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Drivers.BasePort = p
		}
	}
	if binary := os.Getenv("ROSTER_BROWSER_BINARY"); binary != "" {
		config.Drivers.Binary = binary
	}

	// Fetch
	if workers := os.Getenv("ROSTER_MAX_CONCURRENT_USERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			config.Fetch.MaxConcurrentUsers = n
		}
	}

	if delay := os.Getenv("ROSTER_RETRY_DELAY_BASE"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			config.Fetch.RetryDelayBase = Duration{d}
		}
	}

	// Logging
	if level := os.Getenv("ROSTER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("ROSTER_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// ApplyFlagOverrides applies command-line flag overrides to config (highest priority)
func ApplyFlagOverrides(config *Config, username, password, fetchUser string) {
	if username != "" {
		config.Site.Username = username
	}
	if password != "" {
		config.Site.Password = password
	}
	if fetchUser != "" {
		config.Fetch.FetchUsername = fetchUser
	}
}

// Validate checks the resolved configuration
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Browser.StartupTimeout.Duration <= 0 {
		return fmt.Errorf("invalid configuration: browser.startup_timeout must be positive, got %s", c.Browser.StartupTimeout)
	}
	delays := map[string]Duration{
		"drivers.settle_delay":       c.Drivers.SettleDelay,
		"drivers.shutdown_grace":     c.Drivers.ShutdownGrace,
		"fetch.retry_delay_base":     c.Fetch.RetryDelayBase,
		"fetch.settle_delay":         c.Fetch.SettleDelay,
		"fetch.page_load_delay":      c.Fetch.PageLoadDelay,
		"fetch.following_page_delay": c.Fetch.FollowingPageDelay,
		"site.login_step_delay":      c.Site.LoginStepDelay,
	}
	for key, d := range delays {
		if d.Duration < 0 {
			return fmt.Errorf("invalid configuration: %s must not be negative, got %s", key, d)
		}
	}
	if c.Drivers.BasePort+c.Drivers.Count > 65535 {
		return fmt.Errorf("invalid configuration: ports %d..%d exceed 65535", c.Drivers.BasePort, c.Drivers.BasePort+c.Drivers.Count-1)
	}
	return nil
}
