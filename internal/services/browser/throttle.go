package browser

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ternarybob/roster/internal/interfaces"
)

// ThrottledSession wraps a session so that page loads (navigate and refresh)
// wait on a limiter shared with every other session of the pool.
type ThrottledSession struct {
	interfaces.BrowserSession
	limiter *rate.Limiter
}

// NewThrottledSession wraps session with limiter
func NewThrottledSession(session interfaces.BrowserSession, limiter *rate.Limiter) *ThrottledSession {
	return &ThrottledSession{
		BrowserSession: session,
		limiter:        limiter,
	}
}

func (s *ThrottledSession) Navigate(ctx context.Context, url string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("navigation throttle: %w", err)
	}
	return s.BrowserSession.Navigate(ctx, url)
}

func (s *ThrottledSession) Refresh(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("navigation throttle: %w", err)
	}
	return s.BrowserSession.Refresh(ctx)
}
