package pyconfig

// Default values for configuration options, chosen as conservative
// starting points for a freshly initialized root.
const (
	defaultPort           = 1818
	defaultTimeout        = 30
	defaultPurgeLimitDays = 30
	defaultRAM            = "4MB"
	defaultCompression    = 6
	defaultCompressionMin = "1MB"
	defaultLogging        = 2
	defaultLoggingLimit   = "10MB"
	defaultBackupLimit    = 30
	defaultSleepTime      = 300
)

// DefaultConfig returns a Config populated with every default, used both as
// the decode target (so unset TOML fields keep their default) and as the
// fallback when no config file exists.
func DefaultConfig() Config {
	purgeLimit := defaultPurgeLimitDays
	backupLimit := defaultBackupLimit

	return Config{
		Host:           HostClient,
		Hostname:       "localhost",
		Port:           defaultPort,
		Timeout:        defaultTimeout,
		Purge:          false,
		PurgeLimit:     &purgeLimit,
		Backup:         false,
		BackupPath:     "DEFAULT",
		BackupLimit:    &backupLimit,
		RAM:            defaultRAM,
		Compression:    defaultCompression,
		CompressionMin: defaultCompressionMin,
		Logging:        defaultLogging,
		LoggingLimit:   defaultLoggingLimit,
		Gitignore:      true,
		SleepTime:      defaultSleepTime,
	}
}
