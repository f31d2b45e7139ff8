// Package browsertest provides an in-memory BrowserSession for tests of the
// packages that drive sessions.
package browsertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/roster/internal/interfaces"
	"github.com/ternarybob/roster/internal/models"
)

// Session is a scripted BrowserSession. Pages are served from SourceFunc, cookies
// live in an in-memory jar and every call is recorded in Calls.
type Session struct {
	mu sync.Mutex

	// SourceFunc returns the page for url after scrolls scripts have run on it
	SourceFunc func(url string, scrolls int) string
	// Present lists selectors that Exists reports as found
	Present map[string]bool

	NavigateErr  error
	AddCookieErr error
	ClickErr     map[string]error

	url     string
	scrolls int
	jar     []*models.Cookie
	closed  bool
	calls   []string
}

var _ interfaces.BrowserSession = (*Session)(nil)

// New creates a session serving fixed pages keyed by URL
func New(pages map[string]string) *Session {
	return &Session{
		SourceFunc: func(url string, _ int) string { return pages[url] },
		Present:    map[string]bool{},
	}
}

func (s *Session) record(format string, args ...any) {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("navigate %s", url)
	if s.NavigateErr != nil {
		return s.NavigateErr
	}
	s.url = url
	s.scrolls = 0
	return ctx.Err()
}

func (s *Session) Source(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("source")
	if s.SourceFunc == nil {
		return "", nil
	}
	return s.SourceFunc(s.url, s.scrolls), ctx.Err()
}

func (s *Session) ExecuteScript(ctx context.Context, script string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("script %s", script)
	s.scrolls++
	return ctx.Err()
}

func (s *Session) Click(ctx context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("click %s", selector)
	if err := s.ClickErr[selector]; err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Session) SendKeys(ctx context.Context, selector, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("keys %s", selector)
	return ctx.Err()
}

func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("exists %s", selector)
	return s.Present[selector], ctx.Err()
}

func (s *Session) Cookies(ctx context.Context) ([]*models.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Cookie, len(s.jar))
	copy(out, s.jar)
	return out, ctx.Err()
}

func (s *Session) AddCookie(ctx context.Context, cookie *models.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("add-cookie %s", cookie.Name)
	if s.AddCookieErr != nil {
		return s.AddCookieErr
	}
	c := *cookie
	s.jar = append(s.jar, &c)
	return ctx.Err()
}

func (s *Session) DeleteAllCookies(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("delete-cookies")
	s.jar = nil
	return ctx.Err()
}

func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("refresh")
	return ctx.Err()
}

func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("close")
	s.closed = true
	return nil
}

// SetCookies replaces the jar, as a completed login would
func (s *Session) SetCookies(cookies ...*models.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jar = cookies
}

// Closed reports whether Close has been called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Calls returns the recorded calls in order
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// URL returns the page the session is on
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}
