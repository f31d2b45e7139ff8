package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/roster/internal/common"
	"github.com/ternarybob/roster/internal/services/auth"
	"github.com/ternarybob/roster/internal/services/browser"
	"github.com/ternarybob/roster/internal/services/driver"
	"github.com/ternarybob/roster/internal/services/fetch"
	"github.com/ternarybob/roster/internal/services/orchestrator"
	"github.com/ternarybob/roster/internal/services/parser"
	"github.com/ternarybob/roster/internal/services/pool"
)

// closeTimeout bounds process termination after the lease grace period
const closeTimeout = 15 * time.Second

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Supervisor   *driver.Supervisor
	Factory      *browser.Factory
	Restorer     *auth.Restorer
	Pool         *pool.Pool
	Parser       *parser.Parser
	Fetcher      *fetch.Fetcher
	Orchestrator *orchestrator.Orchestrator

	closed bool
}

// New starts the automation servers and wires every service on top of them.
// The caller must call Close on success, whatever happens afterwards.
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger, handler orchestrator.ResultHandler) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	supervisor, err := driver.Start(ctx, driver.Config{
		Count:       cfg.Drivers.Count,
		BasePort:    cfg.Drivers.BasePort,
		Binary:      cfg.Drivers.Binary,
		Args:        cfg.Drivers.Args,
		ProfileRoot: cfg.Drivers.ProfileRoot,
		SettleDelay: cfg.Drivers.SettleDelay.Duration,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start automation servers: %w", err)
	}
	app.Supervisor = supervisor

	app.Factory = browser.NewFactory(browser.Options{
		UserAgent:            cfg.Browser.UserAgent,
		StartupTimeout:       cfg.Browser.StartupTimeout.Duration,
		NavigationsPerSecond: cfg.Browser.NavigationsPerSecond,
		NavigationBurst:      cfg.Browser.NavigationBurst,
	}, logger)

	loginFlow := auth.NewLoginFlow(cfg.Site.BaseURL, cfg.Site.DownMarker, cfg.Site.LoginStepDelay.Duration, auth.DefaultLoginSelectors(), logger)
	app.Restorer = auth.NewRestorer(auth.NewFileCache(cfg.Site.AuthCacheFile), loginFlow, cfg.Site.BaseURL, cfg.Site.AuthCookieName, logger)

	app.Pool = pool.New(supervisor, app.Factory, app.Restorer, cfg.Drivers.ShutdownGrace.Duration, logger)

	selectors := parser.SelectorsFromConfig(cfg.Selectors)
	app.Parser = parser.NewParser(cfg.Site.BaseURL, selectors, logger)

	app.Fetcher = fetch.NewFetcher(fetch.Options{
		BaseURL:            cfg.Site.BaseURL,
		FetchUsername:      cfg.Fetch.FetchUsername,
		MaxRetries:         cfg.Fetch.MaxRetries,
		RetryDelayBase:     cfg.Fetch.RetryDelayBase.Duration,
		SettleDelay:        cfg.Fetch.SettleDelay.Duration,
		PageLoadDelay:      cfg.Fetch.PageLoadDelay.Duration,
		FollowingPageDelay: cfg.Fetch.FollowingPageDelay.Duration,
		MaxLinksPerFetch:   cfg.Fetch.MaxLinksPerFetch,
		FetchPosts:         cfg.Fetch.FetchPosts,
		BannerOpen:         selectors.BannerOpen,
		BannerClose:        selectors.BannerClose,
		SensitiveGuard:     selectors.SensitiveGuard,
	}, app.Parser, logger)

	app.Orchestrator = orchestrator.New(app.Pool, app.Fetcher, cfg.Credentials(), cfg.Fetch.MaxConcurrentUsers, handler, logger)

	logger.Info().
		Int("drivers", cfg.Drivers.Count).
		Int("workers", cfg.Fetch.MaxConcurrentUsers).
		Str("fetch_username", cfg.Fetch.FetchUsername).
		Msg("Application initialized")

	return app, nil
}

// Run performs one discovery and fetch cycle
func (a *App) Run(ctx context.Context) (*orchestrator.Summary, error) {
	return a.Orchestrator.Run(ctx)
}

// Close shuts the pool down, which terminates every automation server.
// It is safe to call more than once.
func (a *App) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Drivers.ShutdownGrace.Duration+closeTimeout)
	defer cancel()

	a.Logger.Info().Msg("Shutting down automation servers")
	if err := a.Pool.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("Automation server shutdown failed; stray browser processes may need manual cleanup")
		return err
	}
	return nil
}
