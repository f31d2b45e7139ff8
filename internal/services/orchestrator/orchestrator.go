// -----------------------------------------------------------------------
// Fetch Orchestrator - Discovery on one session, then bounded fan-out
// Workers lease their own session and drain a closed queue
// -----------------------------------------------------------------------

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/roster/internal/common"
	"github.com/ternarybob/roster/internal/interfaces"
	"github.com/ternarybob/roster/internal/models"
)

// ResultHandler receives every successfully fetched user. It is called from
// worker goroutines and must be safe for concurrent use.
type ResultHandler func(ctx context.Context, record *models.UserRecord)

// Summary describes a finished run
type Summary struct {
	RunID          string
	Discovered     int // Distinct usernames enqueued; case variants count once
	Processed      int
	Failed         int // Items whose fetch pipeline returned an error
	WorkerFailures int // Workers that stopped early (no session, queue failure, panic)
	Duration       time.Duration
}

// Orchestrator discovers the work list on one session, then fans it out over a
// fixed number of workers that each lease their own session
type Orchestrator struct {
	pool    interfaces.SessionPool
	fetcher interfaces.UserFetcher
	creds   models.Credentials
	workers int
	handler ResultHandler
	logger  arbor.ILogger
}

// New creates an orchestrator running workers concurrent workers. A nil handler logs each result.
func New(pool interfaces.SessionPool, fetcher interfaces.UserFetcher, creds models.Credentials, workers int, handler ResultHandler, logger arbor.ILogger) *Orchestrator {
	if handler == nil {
		handler = LogResultHandler(logger)
	}
	return &Orchestrator{
		pool:    pool,
		fetcher: fetcher,
		creds:   creds,
		workers: workers,
		handler: handler,
		logger:  logger,
	}
}

// Run performs one discovery and fetch cycle. It fails only when discovery cannot
// get a session or cannot list the work; item and worker failures are counted in
// the summary. A cancelled ctx ends the run early and is returned as the error.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	startTime := time.Now()
	runID := uuid.New().String()
	logger := o.logger.WithCorrelationId(runID)

	summary := &Summary{RunID: runID}

	users, err := o.discover(ctx, logger)
	if err != nil {
		return summary, err
	}
	queue := NewWorkQueue()
	duplicates := 0
	for _, u := range users {
		if !queue.Push(u) {
			duplicates++
			logger.Debug().Str("username", u).Msg("Dropping duplicate username")
		}
	}
	queue.Close()
	summary.Discovered = queue.Len()

	if duplicates > 0 {
		logger.Warn().
			Int("listed", len(users)).
			Int("duplicates", duplicates).
			Msg("Following list repeated usernames differing only in case")
	}

	logger.Info().
		Int("users", summary.Discovered).
		Int("workers", o.workers).
		Msg("Starting workers")

	var processed, failed, workerFailures atomic.Int64

	var g errgroup.Group
	for i := 0; i < o.workers; i++ {
		workerID := i + 1
		g.Go(func() error {
			name := fmt.Sprintf("worker-%d", workerID)
			err := common.SafeRun(logger, name, func() error {
				return o.work(ctx, workerID, queue, &processed, &failed, logger)
			})
			if err != nil {
				workerFailures.Add(1)
				logger.Error().Err(err).Int("worker", workerID).Msg("Worker failed")
			}
			return err
		})
	}
	// Worker failures are already counted and logged; they do not fail the run
	_ = g.Wait()

	summary.Processed = int(processed.Load())
	summary.Failed = int(failed.Load())
	summary.WorkerFailures = int(workerFailures.Load())
	summary.Duration = time.Since(startTime)

	logger.Info().
		Int("discovered", summary.Discovered).
		Int("processed", summary.Processed).
		Int("failed", summary.Failed).
		Int("worker_failures", summary.WorkerFailures).
		Int("unprocessed", queue.Len()).
		Dur("duration", summary.Duration).
		Msg("Run finished")

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// discover leases one session for the following list and always gives it back
// before returning
func (o *Orchestrator) discover(ctx context.Context, logger arbor.ILogger) ([]string, error) {
	lease, err := o.pool.Checkout(ctx, o.creds)
	if err != nil {
		return nil, fmt.Errorf("failed to check out discovery session: %w", err)
	}

	users, err := o.fetcher.DiscoverFollowing(ctx, lease.Session())

	if releaseErr := lease.Release(ctx); releaseErr != nil {
		logger.Warn().Err(releaseErr).Int("port", lease.Port()).Msg("Failed to release discovery session")
	}

	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	return users, nil
}

// work drains the queue on its own session. Item errors are logged and skipped.
func (o *Orchestrator) work(ctx context.Context, workerID int, queue *WorkQueue, processed, failed *atomic.Int64, logger arbor.ILogger) error {
	lease, err := o.pool.Checkout(ctx, o.creds)
	if err != nil {
		return fmt.Errorf("worker %d could not check out a session: %w", workerID, err)
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			logger.Warn().Err(err).Int("worker", workerID).Msg("Failed to release worker session")
		}
	}()

	logger.Debug().Int("worker", workerID).Int("port", lease.Port()).Msg("Worker started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		username, err := queue.TryPop()
		if errors.Is(err, ErrQueueClosed) {
			logger.Debug().Int("worker", workerID).Msg("Queue drained, worker done")
			return nil
		}
		if err != nil {
			return fmt.Errorf("worker %d failed to read the queue: %w", workerID, err)
		}

		itemStart := time.Now()
		record, err := o.fetcher.FetchUser(ctx, lease.Session(), username)
		if err != nil {
			failed.Add(1)
			logger.Warn().
				Err(err).
				Int("worker", workerID).
				Str("username", username).
				Msg("Failed to fetch user, skipping")
			continue
		}

		processed.Add(1)
		logger.Info().
			Int("worker", workerID).
			Str("username", username).
			Dur("duration", time.Since(itemStart)).
			Msg("Fetched user")

		o.handler(ctx, record)
	}
}

// LogResultHandler logs each fetched user
func LogResultHandler(logger arbor.ILogger) ResultHandler {
	return func(ctx context.Context, record *models.UserRecord) {
		event := logger.Info().
			Str("username", record.Username).
			Int("posts", len(record.Posts)).
			Int("skipped_reposts", record.SkippedReposts)

		if p := record.Profile; p != nil {
			event = event.
				Str("display_name", p.DisplayName).
				Int64("followers", p.Followers).
				Int64("following", p.Following).
				Str("source", p.Source)
		}
		event.Msg("User record")
	}
}
