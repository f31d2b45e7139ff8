package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/roster/internal/models"
)

// ChromeSession is a BrowserSession backed by one chromedp tab
type ChromeSession struct {
	port            int
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	logger          arbor.ILogger
}

// run executes actions on the tab, honouring cancellation of the caller's ctx
func (s *ChromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.browserCtx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// Port returns the automation-server port this session is attached to
func (s *ChromeSession) Port() int {
	return s.port
}

func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (s *ChromeSession) Source(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page source: %w", err)
	}
	return html, nil
}

func (s *ChromeSession) ExecuteScript(ctx context.Context, script string) error {
	if err := s.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("failed to execute script: %w", err)
	}
	return nil
}

func (s *ChromeSession) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.Click(selector, chromedp.BySearch)); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	return nil
}

func (s *ChromeSession) SendKeys(ctx context.Context, selector, text string) error {
	if err := s.run(ctx, chromedp.SendKeys(selector, text, chromedp.BySearch)); err != nil {
		return fmt.Errorf("failed to type into %s: %w", selector, err)
	}
	return nil
}

func (s *ChromeSession) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.BySearch, chromedp.AtLeast(0))); err != nil {
		return false, fmt.Errorf("failed to query %s: %w", selector, err)
	}
	return len(nodes) > 0, nil
}

func (s *ChromeSession) Cookies(ctx context.Context) ([]*models.Cookie, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	result := make([]*models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		result = append(result, fromNetworkCookie(c))
	}
	return result, nil
}

func (s *ChromeSession) AddCookie(ctx context.Context, cookie *models.Cookie) error {
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := network.SetCookie(cookie.Name, cookie.Value).
			WithDomain(cookie.Domain).
			WithSecure(cookie.Secure).
			WithHTTPOnly(cookie.HTTPOnly)

		path := cookie.Path
		if path == "" {
			path = "/"
		}
		params = params.WithPath(path)

		if !cookie.Expires.IsZero() {
			expires := cdp.TimeSinceEpoch(cookie.Expires)
			params = params.WithExpires(&expires)
		}

		switch strings.ToLower(cookie.SameSite) {
		case "strict":
			params = params.WithSameSite(network.CookieSameSiteStrict)
		case "lax":
			params = params.WithSameSite(network.CookieSameSiteLax)
		case "none":
			params = params.WithSameSite(network.CookieSameSiteNone)
		}

		return params.Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to add cookie %s: %w", cookie.Name, err)
	}
	return nil
}

func (s *ChromeSession) DeleteAllCookies(ctx context.Context) error {
	if err := s.run(ctx, network.ClearBrowserCookies()); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	return nil
}

func (s *ChromeSession) Refresh(ctx context.Context) error {
	if err := s.run(ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("failed to reload page: %w", err)
	}
	return nil
}

// Close closes the tab. The automation server itself keeps running.
func (s *ChromeSession) Close(ctx context.Context) error {
	err := chromedp.Cancel(s.browserCtx)
	s.allocatorCancel()
	if err != nil {
		return fmt.Errorf("failed to close session on port %d: %w", s.port, err)
	}
	s.logger.Debug().Int("port", s.port).Msg("Browser session closed")
	return nil
}

func (s *ChromeSession) cancel() {
	s.browserCancel()
	s.allocatorCancel()
}

func fromNetworkCookie(c *network.Cookie) *models.Cookie {
	cookie := &models.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		SameSite: c.SameSite.String(),
	}
	// Session cookies report -1
	if c.Expires > 0 {
		cookie.Expires = time.Unix(int64(c.Expires), 0)
	}
	return cookie
}

func emulateUserAgent(userAgent string) chromedp.Action {
	return emulation.SetUserAgentOverride(userAgent)
}
