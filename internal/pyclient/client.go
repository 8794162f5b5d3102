// Package pyclient implements the client driver loop: build+save the
// local manifest, connect, negotiate, run one sync session,
// then sleep and repeat — with backoff on a refused connection and an
// immediate retry on a reset one.
package pyclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mterenzi/pysync-go/internal/pybackup"
	"github.com/mterenzi/pysync-go/internal/pyconfig"
	"github.com/mterenzi/pysync-go/internal/pyledger"
	"github.com/mterenzi/pysync-go/internal/pymanifest"
	"github.com/mterenzi/pysync-go/internal/pyprotocol"
	"github.com/mterenzi/pysync-go/internal/pyreconcile"
	"github.com/mterenzi/pysync-go/internal/pytransport"
)

const (
	refusedBackoffUnit = 30 * time.Second
	refusedBackoffCap  = 900 * time.Second
)

// Client owns one sync root and repeatedly connects to a single server.
type Client struct {
	cfg    *pyconfig.Resolved
	store  *pymanifest.Store
	backup *pybackup.Store
	ledger *pyledger.Ledger
	log    *slog.Logger

	tries int
}

// New wires a Client from its resolved configuration and manifest store.
// ledger may be nil: the audit trail is optional and never gates a session's
// outcome.
func New(cfg *pyconfig.Resolved, store *pymanifest.Store, ledger *pyledger.Ledger, log *slog.Logger) *Client {
	backupLimit := 0
	if cfg.BackupLimit != nil {
		backupLimit = *cfg.BackupLimit
	}

	return &Client{
		cfg:    cfg,
		store:  store,
		backup: pybackup.New(cfg.Backup, cfg.BackupPath, backupLimit),
		ledger: ledger,
		log:    log,
	}
}

// Run executes the build/connect/sync/sleep loop until ctx is canceled. A
// SleepTime of -1 runs exactly one iteration, then returns.
func (c *Client) Run(ctx context.Context) error {
	singleShot := c.cfg.SleepTime == -1

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := c.runOnce(ctx); err != nil {
			c.log.Warn("sync iteration failed", "error", err)
		}

		if singleShot {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(c.cfg.SleepTime) * time.Second):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	if err := c.store.Update(); err != nil {
		return fmt.Errorf("scanning local tree: %w", err)
	}

	if err := c.store.Save(); err != nil {
		return fmt.Errorf("saving local manifest: %w", err)
	}

	raw, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer raw.Close()

	c.tries = 0

	conn := pytransport.NewConn(raw)

	clientCfg := pyprotocol.ConfigView{
		Purge:          c.cfg.Purge,
		Compression:    c.cfg.Compression,
		CompressionMin: c.cfg.CompressionMinBytes,
		Chunk:          c.cfg.RAMBytes,
	}

	negotiated, err := pyprotocol.Negotiate(conn, clientCfg, false)
	if err != nil {
		return fmt.Errorf("negotiating config: %w", err)
	}

	local := c.store.Snapshot()

	started := time.Now()

	// The client only ever drives one session against its own root at a
	// time, so there is no concurrent writer for a lock map to guard
	// against; passing nil disables locking rather than manufacturing one.
	sessErr := pyprotocol.RunFollower(conn, c.cfg.Root, local, negotiated, c.backup, nil, c.log)

	if c.ledger != nil {
		remote := raw.RemoteAddr().String()
		// The client is the responding side: it never computes its own
		// reconcile plan, so the ledger row carries only the outcome.
		if lerr := c.ledger.Record(ctx, c.cfg.Root, remote, "Client", started, time.Now(), pyreconcile.Plan{}, sessErr); lerr != nil {
			c.log.Warn("ledger record failed", "error", lerr)
		}
	}

	if sessErr != nil {
		return fmt.Errorf("running session: %w", sessErr)
	}

	if err := c.store.Update(); err != nil {
		return fmt.Errorf("post-session rescan: %w", err)
	}

	if err := c.store.Save(); err != nil {
		return fmt.Errorf("post-session save: %w", err)
	}

	return c.backup.Sweep()
}

// dial implements the connection backoff policy: a refused connection
// increases a per-process try counter and sleeps 30*tries seconds (capped
// at 900); a reset connection is retried immediately without growing the
// counter.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", c.cfg.Hostname, c.cfg.Port)
	timeout := time.Duration(c.cfg.Timeout) * time.Second

	for {
		dialer := &net.Dialer{Timeout: timeout}

		var (
			conn net.Conn
			err  error
		)

		if c.cfg.Encryption {
			conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{MinVersion: tls.VersionTLS12})
		} else {
			conn, err = dialer.DialContext(ctx, "tcp", addr)
		}

		if err == nil {
			c.tries = 0

			return conn, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch {
		case errors.Is(err, syscall.ECONNREFUSED):
			c.tries++

			wait := time.Duration(c.tries) * refusedBackoffUnit
			if wait > refusedBackoffCap {
				wait = refusedBackoffCap
			}

			c.log.Warn("connection refused, backing off", "wait", wait, "tries", c.tries)

			if err := sleepOrDone(ctx, wait); err != nil {
				return nil, err
			}

		case errors.Is(err, syscall.ECONNRESET):
			c.log.Warn("connection reset, retrying immediately")

		default:
			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				return nil, fmt.Errorf("dialing %s: %w", addr, err)
			}

			// A dial timeout is transient but, unlike ECONNREFUSED, has
			// no linear tries counter of its own; back off a few short
			// exponential rounds before surfacing it as fatal.
			if retryErr := retryTransientTimeout(ctx, err); retryErr != nil {
				return nil, retryErr
			}
		}
	}
}

// retryTransientTimeout waits out a short bounded exponential backoff for a
// dial timeout before surfacing it as fatal: unlike ECONNREFUSED, a timeout
// has no linear tries counter to grow indefinitely.
func retryTransientTimeout(ctx context.Context, cause error) error {
	base, err := retry.NewExponential(1 * time.Second)
	if err != nil {
		return cause
	}

	b := retry.WithMaxRetries(3, base)

	attempt := 0

	retryErr := retry.Do(ctx, b, func(context.Context) error {
		attempt++

		return retry.RetryableError(cause)
	})
	if retryErr != nil && attempt >= 3 {
		return cause
	}

	return nil
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
