// -----------------------------------------------------------------------
// List Collector - Scroll until the extracted set stops growing
// -----------------------------------------------------------------------

package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/roster/internal/common"
	"github.com/ternarybob/roster/internal/interfaces"
)

// ScrollAction triggers loading of more content (a scroll or a "load more" click)
type ScrollAction func(ctx context.Context, session interfaces.BrowserSession) error

// BackoffPolicy returns how long to wait after the retries-th pass that found nothing new
type BackoffPolicy func(retries int) time.Duration

// Options configures one collection run
type Options struct {
	Name        string
	Scroll      ScrollAction
	Extract     func(src string) []string
	Stop        func(acc OrderedSet) bool // nil never stops; only MaxRetries ends the run
	MaxRetries  int
	SettleDelay time.Duration // wait between scroll and snapshot
	Backoff     BackoffPolicy
}

// ScrollBy scrolls the window down by pixels
func ScrollBy(pixels int) ScrollAction {
	script := fmt.Sprintf("window.scrollBy(0,%d);", pixels)
	return func(ctx context.Context, session interfaces.BrowserSession) error {
		return session.ExecuteScript(ctx, script)
	}
}

// LinearBackoff waits base*(retries+1)
func LinearBackoff(base time.Duration) BackoffPolicy {
	return func(retries int) time.Duration {
		return base * time.Duration(retries+1)
	}
}

// Collect harvests an incrementally rendered list. Each pass scrolls, waits for the
// page to settle, snapshots it and merges the extracted items. A pass that adds
// nothing counts as a retry; a pass that adds anything resets the count. Collection
// ends when Stop holds or MaxRetries consecutive passes added nothing. Running out
// of retries is not an error: whatever was gathered is returned.
func Collect(ctx context.Context, session interfaces.BrowserSession, opts Options, logger arbor.ILogger) (OrderedSet, error) {
	if opts.Scroll == nil || opts.Extract == nil {
		return OrderedSet{}, errors.New("collector requires a scroll action and an extractor")
	}
	if opts.MaxRetries < 1 {
		return OrderedSet{}, fmt.Errorf("collector max retries must be at least 1, got: %d", opts.MaxRetries)
	}
	if opts.Backoff == nil {
		opts.Backoff = func(int) time.Duration { return 0 }
	}

	var (
		acc     OrderedSet
		retries int
		passes  int
	)

	for {
		if opts.Stop != nil && opts.Stop(acc) {
			logger.Debug().Str("collector", opts.Name).Int("items", acc.Len()).Msg("Stop condition met")
			break
		}
		if retries >= opts.MaxRetries {
			logger.Debug().Str("collector", opts.Name).Int("items", acc.Len()).Msg("Retry budget exhausted")
			break
		}

		if err := opts.Scroll(ctx, session); err != nil {
			return acc, fmt.Errorf("%s: scroll failed: %w", opts.Name, err)
		}
		if err := common.Sleep(ctx, opts.SettleDelay); err != nil {
			return acc, err
		}

		src, err := session.Source(ctx)
		if err != nil {
			return acc, fmt.Errorf("%s: snapshot failed: %w", opts.Name, err)
		}

		var added int
		acc, added = Merge(acc, opts.Extract(src))
		passes++

		if added > 0 {
			retries = 0
			logger.Trace().Str("collector", opts.Name).Int("added", added).Int("items", acc.Len()).Msg("Collected items")
			continue
		}

		retries++
		logger.Debug().
			Str("collector", opts.Name).
			Int("retries", retries).
			Int("max_retries", opts.MaxRetries).
			Msg("No new items")

		if retries < opts.MaxRetries {
			if err := common.Sleep(ctx, opts.Backoff(retries)); err != nil {
				return acc, err
			}
		}
	}

	logger.Info().
		Str("collector", opts.Name).
		Int("items", acc.Len()).
		Int("passes", passes).
		Msg("Collection finished")

	return acc, nil
}
