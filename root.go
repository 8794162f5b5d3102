package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mterenzi/pysync-go/internal/pyconfig"
	"github.com/mterenzi/pysync-go/internal/pylog"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd. Every recognized config key
// is exposed as a long flag and, when set, overrides the loaded TOML file.
var (
	flagConfigPath string

	flagRoot           string
	flagHost           string
	flagHostname       string
	flagPort           int
	flagTimeout        int
	flagEncryption     bool
	flagCert           string
	flagKey            string
	flagPurge          bool
	flagPurgeLimit     int
	flagBackup         bool
	flagBackupPath     string
	flagBackupLimit    int
	flagRAM            string
	flagCompression    int
	flagCompressionMin string
	flagLogging        int
	flagLoggingLimit   string
	flagGitignore      bool
	flagSleepTime      int
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pysync",
		Short:         "Directory synchronization client and server",
		Long:          "pysync keeps two directory trees converged over a framed TCP session, using a tombstone-reconciled manifest.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "named config (under ~/.conf/pysync/configs) or a path")

	bindConfigFlags(cmd)

	cmd.AddCommand(newServerCmd())
	cmd.AddCommand(newClientCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func bindConfigFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()

	f.StringVar(&flagRoot, "root", "", "synchronized directory")
	f.StringVar(&flagHost, "host", "", "Server or Client")
	f.StringVar(&flagHostname, "hostname", "", "peer hostname (client) or bind address (server)")
	f.IntVar(&flagPort, "port", 0, "TCP port")
	f.IntVar(&flagTimeout, "timeout", 0, "dial timeout in seconds")
	f.BoolVar(&flagEncryption, "encryption", false, "use TLS")
	f.StringVar(&flagCert, "cert", "", "TLS certificate path")
	f.StringVar(&flagKey, "key", "", "TLS key path")
	f.BoolVar(&flagPurge, "purge", false, "propagate deletions")
	f.IntVar(&flagPurgeLimit, "purge-limit", 0, "days before a tombstone ages out (0 = use config default)")
	f.BoolVar(&flagBackup, "backup", false, "move deletions into backup_path instead of removing them")
	f.StringVar(&flagBackupPath, "backup-path", "", `backup directory, or "DEFAULT"`)
	f.IntVar(&flagBackupLimit, "backup-limit", 0, "days before a backup entry is swept (0 = use config default)")
	f.StringVar(&flagRAM, "ram", "", "chunk size, e.g. 4MB, or -1 for unbounded")
	f.IntVar(&flagCompression, "compression", -1, "zlib level 0-9 (0 disables)")
	f.StringVar(&flagCompressionMin, "compression-min", "", "minimum payload size to compress, e.g. 1MB")
	f.IntVar(&flagLogging, "logging", -1, "log verbosity 0-4")
	f.StringVar(&flagLoggingLimit, "logging-limit", "", "log file size cap, e.g. 10MB, or -1 for unlimited")
	f.BoolVar(&flagGitignore, "gitignore", false, "honor .gitignore files in every directory")
	f.IntVar(&flagSleepTime, "sleep-time", 0, "client: seconds between sync attempts, or -1 for single shot")
}

// loadResolvedConfig implements the defaults -> file -> flags override chain
// and fails fast on any validation error, before any network activity.
func loadResolvedConfig(cmd *cobra.Command) (*pyconfig.Resolved, error) {
	cfg := pyconfig.DefaultConfig()

	if flagConfigPath != "" {
		loaded, err := pyconfig.Load(flagConfigPath)
		if err != nil {
			return nil, wrapConfigError(err)
		}

		cfg = loaded
	}

	applyFlagOverrides(cmd, &cfg)

	if err := pyconfig.Validate(cfg); err != nil {
		return nil, wrapConfigError(err)
	}

	confDir, err := pyconfig.RootConfDir(cfg.Root)
	if err != nil {
		return nil, wrapConfigError(err)
	}

	resolved, err := pyconfig.Resolve(cfg, confDir)
	if err != nil {
		return nil, wrapConfigError(err)
	}

	return resolved, nil
}

// applyFlagOverrides copies every explicitly-set flag onto cfg, last in the
// chain and therefore highest priority.
func applyFlagOverrides(cmd *cobra.Command, cfg *pyconfig.Config) {
	changed := cmd.Flags().Changed

	if changed("root") {
		cfg.Root = flagRoot
	}

	if changed("host") {
		cfg.Host = pyconfig.Host(flagHost)
	}

	if changed("hostname") {
		cfg.Hostname = flagHostname
	}

	if changed("port") {
		cfg.Port = flagPort
	}

	if changed("timeout") {
		cfg.Timeout = flagTimeout
	}

	if changed("encryption") {
		cfg.Encryption = flagEncryption
	}

	if changed("cert") {
		cfg.Cert = flagCert
	}

	if changed("key") {
		cfg.Key = flagKey
	}

	if changed("purge") {
		cfg.Purge = flagPurge
	}

	if changed("purge-limit") {
		cfg.PurgeLimit = &flagPurgeLimit
	}

	if changed("backup") {
		cfg.Backup = flagBackup
	}

	if changed("backup-path") {
		cfg.BackupPath = flagBackupPath
	}

	if changed("backup-limit") {
		cfg.BackupLimit = &flagBackupLimit
	}

	if changed("ram") {
		cfg.RAM = flagRAM
	}

	if changed("compression") {
		cfg.Compression = flagCompression
	}

	if changed("compression-min") {
		cfg.CompressionMin = flagCompressionMin
	}

	if changed("logging") {
		cfg.Logging = flagLogging
	}

	if changed("logging-limit") {
		cfg.LoggingLimit = flagLoggingLimit
	}

	if changed("gitignore") {
		cfg.Gitignore = flagGitignore
	}

	if changed("sleep-time") {
		cfg.SleepTime = flagSleepTime
	}
}

// buildFileLogger opens the per-root log file through pylog, giving the
// rest of the codebase an ordinary slog.Logger while pylog.Handler owns the
// on-disk truncate-from-front format and size cap.
func buildFileLogger(path string, level int, role string, limitBytes int64) (*slog.Logger, error) {
	h, err := pylog.New(path, pylogLevelFor(level), pylogRoleFor(role), "", "", limitBytes)
	if err != nil {
		return nil, err
	}

	logger := slog.New(pylog.NewSlog(h))

	return logger.With("role", role), nil
}

func pylogLevelFor(level int) pylog.Level {
	switch {
	case level <= 0:
		return pylog.LevelSilent
	case level == 1:
		return pylog.LevelErrors
	case level == 2:
		return pylog.LevelSummary
	case level == 3:
		return pylog.LevelDeletes
	default:
		return pylog.LevelPerFile
	}
}

func pylogRoleFor(role string) pylog.Role {
	if role == "Server" {
		return pylog.RoleServer
	}

	return pylog.RoleClient
}

func exitOnError(err error, code int) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(code)
}
