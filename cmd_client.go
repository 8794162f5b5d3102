package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mterenzi/pysync-go/internal/pyclient"
	"github.com/mterenzi/pysync-go/internal/pyconfig"
	"github.com/mterenzi/pysync-go/internal/pyledger"
	"github.com/mterenzi/pysync-go/internal/pymanifest"
)

func newClientCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "client",
		Short: "Periodically connect to a server and synchronize one root",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadResolvedConfig(cmd)
			if err != nil {
				return err
			}

			if cfg.Host != pyconfig.HostClient {
				return wrapConfigError(errHostMismatchf("client", string(cfg.Host)))
			}

			return runClient(cmd, cfg)
		},
	}
}

func runClient(cmd *cobra.Command, cfg *pyconfig.Resolved) error {
	confDir, err := pyconfig.RootConfDir(cfg.Root)
	if err != nil {
		return err
	}

	logger, err := buildFileLogger(logPath(confDir), cfg.Logging, "Client", cfg.LoggingLimitBytes)
	if err != nil {
		return err
	}

	store := pymanifest.NewStore(cfg.Root, confDir, cfg.Gitignore, cfg.PurgeLimit)
	if err := store.Load(); err != nil {
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

	return pyclient.New(cfg, store, ledger, logger).Run(ctx)
}
