// Package pyserver implements the listen/accept substrate: one worker
// goroutine per connection, a background manifest refresher, and a watcher
// that nudges it early. Per-path mutual exclusion during a session lives in
// internal/pylock, not here; the server only owns the shared map and runs
// its reaper.
package pyserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/mterenzi/pysync-go/internal/pybackup"
	"github.com/mterenzi/pysync-go/internal/pyconfig"
	"github.com/mterenzi/pysync-go/internal/pyledger"
	"github.com/mterenzi/pysync-go/internal/pylock"
	"github.com/mterenzi/pysync-go/internal/pymanifest"
	"github.com/mterenzi/pysync-go/internal/pyprotocol"
	"github.com/mterenzi/pysync-go/internal/pytransport"
)

// refresherInterval is the background manifest refresh cadence. The accept
// backlog is left to the Go runtime's net.Listen default.
const refresherInterval = 5 * time.Second

// Server binds, listens, and accepts connections, spawning one session
// goroutine per connection. Each worker reconciles against the pre-refresh
// manifest snapshot handed to it at spawn time, not a manifest re-read
// mid-session, favoring stability over strict per-worker freshness.
type Server struct {
	cfg     *pyconfig.Resolved
	store   *pymanifest.Store
	locks   *pylock.LockMap
	backup  *pybackup.Store
	log     *slog.Logger
	tlsConf *tls.Config
	ledger  *pyledger.Ledger
}

// New wires a Server from its resolved configuration and already-opened
// manifest store. ledger may be nil: the audit trail is optional and never
// gates a session's outcome.
func New(cfg *pyconfig.Resolved, store *pymanifest.Store, ledger *pyledger.Ledger, log *slog.Logger) (*Server, error) {
	var tlsConf *tls.Config

	if cfg.Encryption {
		cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("loading TLS keypair: %w", err)
		}

		tlsConf = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	backupLimit := 0
	if cfg.BackupLimit != nil {
		backupLimit = *cfg.BackupLimit
	}

	return &Server{
		cfg:     cfg,
		store:   store,
		locks:   pylock.NewLockMap(),
		backup:  pybackup.New(cfg.Backup, cfg.BackupPath, backupLimit),
		log:     log,
		tlsConf: tlsConf,
		ledger:  ledger,
	}, nil
}

// Run binds the configured host:port and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Hostname, s.cfg.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	defer ln.Close()

	s.log.Info("server listening", "addr", addr, "tls", s.cfg.Encryption)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		<-ctx.Done()

		return ln.Close()
	})

	stopReaper := make(chan struct{})
	group.Go(func() error {
		s.locks.RunReaper(stopReaper)

		return nil
	})

	nudge := make(chan struct{}, 1)

	group.Go(func() error {
		return s.runRefresher(ctx, nudge)
	})

	group.Go(func() error {
		return s.runWatcher(ctx, nudge)
	})

	group.Go(func() error {
		defer close(stopReaper)

		return s.acceptLoop(ctx, ln)
	})

	return group.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		if s.tlsConf != nil {
			conn = tls.Server(conn, s.tlsConf)
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) runRefresher(ctx context.Context, nudge <-chan struct{}) error {
	ticker := time.NewTicker(refresherInterval)
	defer ticker.Stop()

	refresh := func() {
		if err := s.store.Update(); err != nil {
			s.log.Warn("manifest refresh failed", "error", err)

			return
		}

		if err := s.store.Save(); err != nil {
			s.log.Warn("manifest save failed", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			refresh()
		case <-nudge:
			refresh()
			ticker.Reset(refresherInterval)
		}
	}
}

func (s *Server) handleConnection(raw net.Conn) {
	worker := uuid.NewString()
	remote := raw.RemoteAddr().String()
	log := s.log.With("worker", worker, "remote", remote)

	conn := pytransport.NewConn(raw)

	var finalErr error
	defer func() {
		finalErr = multierr.Append(finalErr, raw.Close())

		if err := s.backup.Sweep(); err != nil {
			finalErr = multierr.Append(finalErr, err)
		}

		if finalErr != nil {
			log.Warn("session finalizer error", "error", finalErr)
		}
	}()

	local := s.store.Snapshot()

	serverCfg := pyprotocol.ConfigView{
		Purge:          s.cfg.Purge,
		Compression:    s.cfg.Compression,
		CompressionMin: s.cfg.CompressionMinBytes,
		Chunk:          s.cfg.RAMBytes,
	}

	started := time.Now()

	negotiated, err := pyprotocol.Negotiate(conn, serverCfg, true)
	if err != nil {
		log.Error("config negotiation failed", "error", err)

		return
	}

	plan, err := pyprotocol.RunLeader(conn, s.cfg.Root, local, negotiated, s.backup, s.locks, log)
	if s.ledger != nil {
		if lerr := s.ledger.Record(context.Background(), s.cfg.Root, remote, "Server", started, time.Now(), plan, err); lerr != nil {
			log.Warn("ledger record failed", "error", lerr)
		}
	}

	if err != nil {
		log.Error("sync session failed", "error", err)

		finalErr = err

		return
	}

	log.Info("sync session complete",
		"pull_create_dirs", len(plan.Creates.Pull.Dirs),
		"pull_create_files", len(plan.Creates.Pull.Files),
		"push_create_dirs", len(plan.Creates.Push.Dirs),
		"push_create_files", len(plan.Creates.Push.Files),
		"pull_delete_files", len(plan.Deletes.Pull.Files),
		"pull_delete_dirs", len(plan.Deletes.Pull.Dirs),
		"push_delete_files", len(plan.Deletes.Push.Files),
		"push_delete_dirs", len(plan.Deletes.Push.Dirs),
	)

	if err := s.store.Update(); err != nil {
		log.Warn("post-session manifest refresh failed", "error", err)

		return
	}

	if err := s.store.Save(); err != nil {
		log.Warn("post-session manifest save failed", "error", err)
	}
}
