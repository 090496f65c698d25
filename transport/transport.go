// Package transport opens the client end of a channel to one compiler server.
//
// A server listens on a local socket whose address is a fixed base name
// followed by the server's process id. Opening can race with the server
// starting up or with other clients, so the Connector retries transient
// conditions inside a time budget:
//
//	busy      → wait for the socket to become available (bounded by the budget), retry
//	not found → pause for the retry interval, retry
//	other     → fail immediately
//
// It always makes at least MinAttempts attempts and never gives up before
// the budget is spent.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrBusy means the server exists but cannot accept a connection right now.
	ErrBusy = errors.New("transport: pipe busy")
	// ErrNotFound means nothing is listening at the address yet.
	ErrNotFound = errors.New("transport: pipe not found")
	// ErrWaitTimeout means the budget ran out while waiting on a busy pipe.
	ErrWaitTimeout = errors.New("transport: timed out waiting for busy pipe")
	// ErrUntrustedPeer means the listener is not the expected server process.
	ErrUntrustedPeer = errors.New("transport: listener is not the expected server")
	// ErrUnsafeDir means the pipe directory could be used by another user.
	ErrUnsafeDir = errors.New("transport: unsafe pipe directory")
)

// Address returns the channel address of the server with the given pid.
func Address(dir, baseName string, pid int) string {
	return filepath.Join(dir, baseName+strconv.Itoa(pid))
}

// Dialer opens a raw connection to the server with the given pid.
// Implementations report transient conditions by wrapping ErrBusy or
// ErrNotFound, and a listener that is not that server with ErrUntrustedPeer.
type Dialer interface {
	Dial(ctx context.Context, address string, pid int) (net.Conn, error)
}

// Clock supplies the time used to measure the retry budget.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Connector opens channels to servers by pid.
type Connector struct {
	dir         string
	baseName    string
	interval    time.Duration
	minAttempts int
	dialer      Dialer
	clock       Clock
	log         *zap.Logger
}

// NewConnector creates a connector for sockets named <dir>/<baseName><pid>.
func NewConnector(dir, baseName string, interval time.Duration, minAttempts int, log *zap.Logger) *Connector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connector{
		dir:         dir,
		baseName:    baseName,
		interval:    interval,
		minAttempts: minAttempts,
		dialer:      NewUnixDialer(),
		clock:       systemClock{},
		log:         log,
	}
}

// WithDialer replaces the dialer, mostly for tests.
func (c *Connector) WithDialer(d Dialer) *Connector {
	c.dialer = d
	return c
}

// WithClock replaces the clock used for the budget.
func (c *Connector) WithClock(clk Clock) *Connector {
	c.clock = clk
	return c
}

// Open connects to the server with the given pid, retrying busy and
// not-found conditions until at least minAttempts attempts were made and
// more than budget has elapsed.
func (c *Connector) Open(ctx context.Context, pid int, budget time.Duration) (net.Conn, error) {
	address := Address(c.dir, c.baseName, pid)
	log := c.log.With(zap.String("address", address), zap.Duration("budget", budget))

	// Paces "not found" retries. The initial token is spent so the first
	// retry waits a full interval.
	limiter := rate.NewLimiter(rate.Every(c.interval), 1)
	limiter.Allow()

	start := c.clock.Now()
	for attempt := 1; ; attempt++ {
		log.Debug("attempting to connect", zap.Int("attempt", attempt))

		conn, err := c.dialer.Dial(ctx, address, pid)
		if err == nil {
			log.Debug("connected", zap.Int("attempt", attempt))
			return conn, nil
		}

		elapsed := c.elapsed(&start)
		if !errors.Is(err, ErrBusy) && !errors.Is(err, ErrNotFound) {
			log.Debug("connect failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, fmt.Errorf("transport: connect to %s: %w", address, err)
		}
		if attempt >= c.minAttempts && elapsed > budget {
			log.Debug("giving up", zap.Int("attempts", attempt), zap.Duration("elapsed", elapsed), zap.Error(err))
			return nil, fmt.Errorf("transport: connect to %s after %d attempts in %v: %w", address, attempt, elapsed, err)
		}

		if errors.Is(err, ErrBusy) {
			log.Debug("pipe busy, waiting", zap.Int("attempt", attempt))
			if werr := c.waitAvailable(ctx, budget-elapsed); werr != nil {
				log.Debug("wait for busy pipe failed", zap.Error(werr))
				return nil, fmt.Errorf("transport: connect to %s: %w", address, werr)
			}
			continue
		}

		log.Debug("pipe not found, retrying", zap.Int("attempt", attempt))
		if werr := limiter.Wait(ctx); werr != nil {
			return nil, fmt.Errorf("transport: connect to %s: %w", address, werr)
		}
	}
}

// elapsed returns time since *start. A clock that went backwards restarts the
// measurement instead of producing a negative duration.
func (c *Connector) elapsed(start *time.Time) time.Duration {
	now := c.clock.Now()
	d := now.Sub(*start)
	if d < 0 {
		c.log.Debug("clock went backwards, resetting retry budget")
		*start = now
		return 0
	}
	return d
}

// waitAvailable pauses for a busy pipe, never beyond the remaining budget.
func (c *Connector) waitAvailable(ctx context.Context, remaining time.Duration) error {
	if remaining <= 0 {
		return ErrWaitTimeout
	}
	wait := c.interval
	if wait > remaining {
		wait = remaining
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
