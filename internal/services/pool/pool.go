// -----------------------------------------------------------------------
// Session Pool - Leases authenticated browser sessions, one per port
// -----------------------------------------------------------------------

package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/roster/internal/interfaces"
	"github.com/ternarybob/roster/internal/models"
)

var (
	// ErrNoCapacity is returned by Checkout when every slot is leased
	ErrNoCapacity = errors.New("no free session slot")
	// ErrAlreadyReleased is returned when a lease is released a second time
	ErrAlreadyReleased = errors.New("lease already released")
	// ErrPoolClosed is returned by Checkout after Shutdown has started
	ErrPoolClosed = errors.New("session pool is closed")
)

// Stats is a point-in-time view of slot accounting
type Stats struct {
	Capacity int
	Free     int
	Leased   int
}

// Pool hands out authenticated browser sessions, one per automation-server port.
// Checkout never waits for capacity. The lock guards only the free list and is
// never held across a call to the browser.
type Pool struct {
	supervisor interfaces.ProcessSupervisor
	factory    interfaces.SessionFactory
	restorer   interfaces.AuthRestorer
	grace      time.Duration
	logger     arbor.ILogger

	mu       sync.Mutex
	capacity int
	free     []int
	leased   map[int]struct{}
	closed   bool

	// drained is closed by put once the pool is closed and every slot is
	// back, including checkouts that were still opening their session
	drained chan struct{}
}

var _ interfaces.SessionPool = (*Pool)(nil)

// New creates a pool over the supervisor's ports. grace bounds how long Shutdown
// waits for outstanding leases before terminating the processes anyway.
func New(supervisor interfaces.ProcessSupervisor, factory interfaces.SessionFactory, restorer interfaces.AuthRestorer, grace time.Duration, logger arbor.ILogger) *Pool {
	ports := supervisor.Ports()
	free := make([]int, len(ports))
	copy(free, ports)

	return &Pool{
		supervisor: supervisor,
		factory:    factory,
		restorer:   restorer,
		grace:      grace,
		logger:     logger,
		capacity:   len(ports),
		free:       free,
		leased:     make(map[int]struct{}, len(ports)),
	}
}

// Checkout takes a free slot, opens a session on it and authenticates the session.
// It returns ErrNoCapacity at once when no slot is free. When opening or
// authenticating fails the slot goes back to the free list before the error is returned.
func (p *Pool) Checkout(ctx context.Context, creds models.Credentials) (interfaces.Lease, error) {
	port, err := p.take()
	if err != nil {
		return nil, err
	}

	session, err := p.factory.Open(ctx, port)
	if err != nil {
		p.put(port)
		return nil, fmt.Errorf("failed to open session on port %d: %w", port, err)
	}

	if err := p.restorer.Restore(ctx, session, creds); err != nil {
		if closeErr := session.Close(ctx); closeErr != nil {
			p.logger.Warn().Err(closeErr).Int("port", port).Msg("Failed to close session after auth failure")
		}
		p.put(port)
		return nil, fmt.Errorf("failed to authenticate session on port %d: %w", port, err)
	}

	p.logger.Debug().Int("port", port).Msg("Session checked out")

	return &lease{
		pool:    p,
		port:    port,
		session: session,
	}, nil
}

// Release closes the lease's session and returns its slot
func (p *Pool) Release(ctx context.Context, l interfaces.Lease) error {
	own, ok := l.(*lease)
	if !ok || own.pool != p {
		return fmt.Errorf("lease for port %d does not belong to this pool", l.Port())
	}
	return own.Release(ctx)
}

// Shutdown stops new checkouts, waits up to the grace period for outstanding
// leases to come back, then terminates every automation-server process.
// Sessions still leased when the grace period ends lose their process.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	alreadyClosed := p.closed
	p.closed = true
	leased := len(p.leased)
	if !alreadyClosed && leased > 0 {
		p.drained = make(chan struct{})
	}
	drained := p.drained
	p.mu.Unlock()

	if !alreadyClosed && leased > 0 {
		p.logger.Info().
			Int("leased", leased).
			Dur("grace", p.grace).
			Msg("Waiting for leased sessions before shutdown")

		timer := time.NewTimer(p.grace)
		defer timer.Stop()

		select {
		case <-drained:
		case <-timer.C:
			p.logger.Warn().Int("leased", p.Stats().Leased).Msg("Grace period elapsed, terminating leased sessions")
		case <-ctx.Done():
			p.logger.Warn().Int("leased", p.Stats().Leased).Msg("Shutdown cancelled, terminating leased sessions")
		}
	}

	return p.supervisor.Shutdown(ctx)
}

// Stats returns the current slot accounting
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Capacity: p.capacity,
		Free:     len(p.free),
		Leased:   p.capacity - len(p.free),
	}
}

func (p *Pool) take() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrPoolClosed
	}
	if len(p.free) == 0 {
		return 0, ErrNoCapacity
	}

	port := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.leased[port] = struct{}{}
	return port, nil
}

func (p *Pool) put(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.leased[port]; !ok {
		// Only reachable through a bug in lease accounting
		p.logger.Error().Int("port", port).Msg("Returned slot was not leased")
		return
	}
	delete(p.leased, port)
	p.free = append(p.free, port)

	if p.drained != nil && len(p.leased) == 0 {
		close(p.drained)
		p.drained = nil
	}
}

// lease owns one slot until its first Release
type lease struct {
	pool     *Pool
	port     int
	session  interfaces.BrowserSession
	released atomic.Bool
}

func (l *lease) Session() interfaces.BrowserSession {
	return l.session
}

func (l *lease) Port() int {
	return l.port
}

// Release closes the session and returns the slot. The slot is returned even
// when closing the session fails. A second call returns ErrAlreadyReleased.
func (l *lease) Release(ctx context.Context) error {
	if !l.released.CompareAndSwap(false, true) {
		return fmt.Errorf("port %d: %w", l.port, ErrAlreadyReleased)
	}

	closeErr := l.session.Close(ctx)
	l.pool.put(l.port)

	l.pool.logger.Debug().Int("port", l.port).Msg("Session released")

	if closeErr != nil {
		return fmt.Errorf("failed to close session on port %d: %w", l.port, closeErr)
	}
	return nil
}
