package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mterenzi/pysync-go/internal/pyconfig"
	"github.com/mterenzi/pysync-go/internal/pyledger"
	"github.com/mterenzi/pysync-go/internal/pymanifest"
	"github.com/mterenzi/pysync-go/internal/pyserver"
)

func newServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Accept connections and serve one synchronized root",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadResolvedConfig(cmd)
			if err != nil {
				return err
			}

			if cfg.Host != pyconfig.HostServer {
				return wrapConfigError(errHostMismatchf("server", string(cfg.Host)))
			}

			return runServer(cmd, cfg)
		},
	}
}

func runServer(cmd *cobra.Command, cfg *pyconfig.Resolved) error {
	confDir, err := pyconfig.RootConfDir(cfg.Root)
	if err != nil {
		return err
	}

	logger, err := buildFileLogger(logPath(confDir), cfg.Logging, "Server", cfg.LoggingLimitBytes)
	if err != nil {
		return err
	}

	purgeLimit := cfg.PurgeLimit
	store := pymanifest.NewStore(cfg.Root, confDir, cfg.Gitignore, purgeLimit)
	if err := store.Load(); err != nil {
		return err
	}

	if err := store.Update(); err != nil {
		return err
	}

	if err := store.Save(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, err := pyledger.Open(ctx, ledgerPath(confDir), logger)
	if err != nil {
		logger.Warn("audit ledger unavailable, continuing without it", "error", err)

		ledger = nil
	} else {
		defer ledger.Close()
	}

	srv, err := pyserver.New(cfg, store, ledger, logger)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

type errHostMismatch string

func (e errHostMismatch) Error() string { return string(e) }

func errHostMismatchf(want, got string) error {
	return errHostMismatch("config host is " + got + ", expected " + want)
}
