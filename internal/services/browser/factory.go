package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/roster/internal/interfaces"
)

// Options is the capability descriptor applied to every session the factory opens
type Options struct {
	UserAgent            string
	StartupTimeout       time.Duration
	NavigationsPerSecond float64 // 0 disables throttling
	NavigationBurst      int
}

// Factory opens chromedp sessions against automation servers listening on local ports
type Factory struct {
	options Options
	limiter *rate.Limiter // shared by every session this factory opens
	logger  arbor.ILogger
}

// NewFactory creates a session factory
func NewFactory(options Options, logger arbor.ILogger) *Factory {
	if options.StartupTimeout <= 0 {
		options.StartupTimeout = 30 * time.Second
	}

	f := &Factory{
		options: options,
		logger:  logger,
	}

	if options.NavigationsPerSecond > 0 {
		burst := options.NavigationBurst
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(options.NavigationsPerSecond), burst)
	}

	return f
}

// Open attaches to the browser on port, opens a new tab and checks it responds
func (f *Factory) Open(ctx context.Context, port int) (interfaces.BrowserSession, error) {
	startTime := time.Now()
	endpoint := fmt.Sprintf("ws://127.0.0.1:%d", port)

	// The session outlives the checkout call that opens it
	allocatorCtx, allocatorCancel := chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), endpoint)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	session := &ChromeSession{
		port:            port,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		allocatorCancel: allocatorCancel,
		logger:          f.logger,
	}

	testCtx, testCancel := context.WithTimeout(browserCtx, f.options.StartupTimeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		session.cancel()
		return nil, fmt.Errorf("session on port %d failed startup test: %w", port, err)
	}

	var title string
	if err := chromedp.Run(testCtx, chromedp.Title(&title)); err != nil {
		session.cancel()
		return nil, fmt.Errorf("session on port %d failed responsiveness test: %w", port, err)
	}

	if f.options.UserAgent != "" {
		if err := chromedp.Run(testCtx, emulateUserAgent(f.options.UserAgent)); err != nil {
			session.cancel()
			return nil, fmt.Errorf("failed to set user agent on port %d: %w", port, err)
		}
	}

	f.logger.Debug().
		Int("port", port).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser session opened and tested successfully")

	if f.limiter != nil {
		return NewThrottledSession(session, f.limiter), nil
	}
	return session, nil
}
