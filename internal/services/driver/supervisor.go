// -----------------------------------------------------------------------
// Automation Server Supervisor
// -----------------------------------------------------------------------

package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/ternarybob/arbor"
)

// Config describes how the automation-server processes are spawned
type Config struct {
	Count       int
	BasePort    int
	Binary      string
	Args        []string // {port} and {profile_dir} are substituted per process
	ProfileRoot string
	SettleDelay time.Duration
}

// child is one spawned automation server
type child struct {
	port int
	cmd  *exec.Cmd
	done chan struct{} // closed once cmd.Wait has returned
	err  error         // result of cmd.Wait, valid after done is closed
}

// Supervisor owns a fixed set of automation-server child processes, one per port
type Supervisor struct {
	mu       sync.Mutex
	children []*child
	logger   arbor.ILogger
}

// Start spawns config.Count processes on consecutive ports starting at BasePort and
// waits SettleDelay before returning. If any spawn fails, the processes already
// started are terminated and the spawn error is returned.
func Start(ctx context.Context, config Config, logger arbor.ILogger) (*Supervisor, error) {
	if config.Count < 0 {
		return nil, fmt.Errorf("driver count must not be negative, got: %d", config.Count)
	}
	if config.Binary == "" {
		return nil, fmt.Errorf("driver binary is required")
	}

	s := &Supervisor{
		children: make([]*child, 0, config.Count),
		logger:   logger,
	}

	logger.Info().
		Int("count", config.Count).
		Int("base_port", config.BasePort).
		Str("binary", config.Binary).
		Msg("Starting automation servers")

	for i := 0; i < config.Count; i++ {
		port := config.BasePort + i
		c, err := spawn(config, port)
		if err != nil {
			logger.Error().Err(err).Int("port", port).Msg("Failed to spawn automation server")
			if shutdownErr := s.Shutdown(ctx); shutdownErr != nil {
				err = errors.Join(err, shutdownErr)
			}
			return nil, err
		}

		s.children = append(s.children, c)
		logger.Debug().
			Int("port", port).
			Int("pid", c.cmd.Process.Pid).
			Msg("Automation server spawned")
	}

	if config.Count > 0 && config.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			shutdownErr := s.Shutdown(context.Background())
			return nil, errors.Join(ctx.Err(), shutdownErr)
		case <-time.After(config.SettleDelay):
		}
	}

	return s, nil
}

func spawn(config Config, port int) (*child, error) {
	profileDir := filepath.Join(config.ProfileRoot, fmt.Sprintf("roster-%d", port))
	replacer := strings.NewReplacer(
		"{port}", strconv.Itoa(port),
		"{profile_dir}", profileDir,
	)

	args := make([]string, len(config.Args))
	for i, arg := range config.Args {
		args[i] = replacer.Replace(arg)
	}

	cmd := exec.Command(config.Binary, args...)
	// Output is discarded
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed spawning %s on port %d: %w", config.Binary, port, err)
	}

	c := &child{
		port: port,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		c.err = cmd.Wait()
		close(c.done)
	}()

	return c, nil
}

// Ports returns the port of every supervised process
func (s *Supervisor) Ports() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ports := make([]int, 0, len(s.children))
	for _, c := range s.children {
		ports = append(ports, c.port)
	}
	return ports
}

// Running returns the number of processes that have not exited yet
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := 0
	for _, c := range s.children {
		select {
		case <-c.done:
		default:
			running++
		}
	}
	return running
}

// Shutdown kills every process (and its descendants) and waits for it to exit.
// Failures are collected rather than stopping at the first one. Calling Shutdown
// again after it has returned is a no-op.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	children := s.children
	s.children = nil
	s.mu.Unlock()

	var errs []error
	for _, c := range children {
		if err := s.terminate(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}

	if len(children) > 0 {
		s.logger.Info().
			Int("terminated", len(children)-len(errs)).
			Int("failed", len(errs)).
			Msg("Automation servers shut down")
	}

	return errors.Join(errs...)
}

func (s *Supervisor) terminate(ctx context.Context, c *child) error {
	select {
	case <-c.done:
		s.logger.Debug().Int("port", c.port).Msg("Automation server already exited")
		return nil
	default:
	}

	// Browser processes fork helpers that can outlive the parent
	killDescendants(ctx, int32(c.cmd.Process.Pid), s.logger)

	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill automation server on port %d: %w", c.port, err)
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("automation server on port %d did not exit: %w", c.port, ctx.Err())
	}
}

func killDescendants(ctx context.Context, pid int32, logger arbor.ILogger) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return
	}

	children, err := proc.ChildrenWithContext(ctx)
	if err != nil {
		if !errors.Is(err, process.ErrorNoChildren) {
			logger.Debug().Err(err).Int("pid", int(pid)).Msg("Failed to list child processes")
		}
		return
	}

	for _, ch := range children {
		killDescendants(ctx, ch.Pid, logger)
		if err := ch.KillWithContext(ctx); err != nil {
			logger.Debug().Err(err).Int("pid", int(ch.Pid)).Msg("Failed to kill child process")
		}
	}
}
