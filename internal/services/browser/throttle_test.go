package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ternarybob/roster/internal/services/browser/browsertest"
)

func TestThrottledSession_PassesThrough(t *testing.T) {
	inner := browsertest.New(nil)
	s := NewThrottledSession(inner, rate.NewLimiter(rate.Inf, 1))

	require.NoError(t, s.Navigate(context.Background(), "https://example.com/a"))
	require.NoError(t, s.Navigate(context.Background(), "https://example.com/b"))
	require.NoError(t, s.Refresh(context.Background()))

	assert.Equal(t, []string{
		"navigate https://example.com/a",
		"navigate https://example.com/b",
		"refresh",
	}, inner.Calls())
}

func TestThrottledSession_SharedLimiterBlocks(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	a := NewThrottledSession(browsertest.New(nil), limiter)
	inner := browsertest.New(nil)
	b := NewThrottledSession(inner, limiter)

	require.NoError(t, a.Navigate(context.Background(), "https://example.com"))

	// The burst is spent; b must wait on the same limiter and gives up with its context
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := b.Navigate(ctx, "https://example.com")
	assert.Error(t, err)
	assert.Empty(t, inner.Calls())
}

func TestNewFactory_Throttling(t *testing.T) {
	assert.Nil(t, NewFactory(Options{}, nil).limiter)

	f := NewFactory(Options{NavigationsPerSecond: 2}, nil)
	require.NotNil(t, f.limiter)
	assert.Equal(t, 1, f.limiter.Burst())
	assert.Equal(t, 30*time.Second, f.options.StartupTimeout)
}
