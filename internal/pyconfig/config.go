// Package pyconfig implements TOML configuration loading, validation, and
// path resolution.
package pyconfig

// Host identifies which role a process plays in a session.
type Host string

const (
	// HostServer accepts concurrent client connections.
	HostServer Host = "Server"
	// HostClient periodically dials a server.
	HostClient Host = "Client"
)

// Config is the full set of recognized configuration keys.
type Config struct {
	Root string `toml:"root"`
	Host Host   `toml:"host"`

	Hostname string `toml:"hostname"`
	Port     int    `toml:"port"`
	Timeout  int    `toml:"timeout"`

	Encryption bool   `toml:"encryption"`
	Cert       string `toml:"cert"`
	Key        string `toml:"key"`

	Purge      bool `toml:"purge"`
	PurgeLimit *int `toml:"purge_limit"`

	Backup      bool   `toml:"backup"`
	BackupPath  string `toml:"backup_path"`
	BackupLimit *int   `toml:"backup_limit"`

	RAM string `toml:"ram"`

	Compression    int    `toml:"compression"`
	CompressionMin string `toml:"compression_min"`

	Logging      int    `toml:"logging"`
	LoggingLimit string `toml:"logging_limit"`

	Gitignore bool `toml:"gitignore"`

	SleepTime int `toml:"sleep_time"`
}

// Resolved is a Config with size-literal fields parsed to bytes and
// "DEFAULT" placeholders resolved against a config directory.
type Resolved struct {
	Config

	RAMBytes            int64
	CompressionMinBytes int64
	LoggingLimitBytes   int64 // -1 means unlimited
}

// Resolve parses the size-literal fields and resolves backup_path's
// "DEFAULT" sentinel against confDir (the per-root configuration directory).
func Resolve(c Config, confDir string) (*Resolved, error) {
	ram, err := parseSizeOrUnbounded(c.RAM)
	if err != nil {
		return nil, err
	}

	compMin, err := parseSize(c.CompressionMin)
	if err != nil {
		return nil, err
	}

	logLimit, err := parseSizeOrUnbounded(c.LoggingLimit)
	if err != nil {
		return nil, err
	}

	r := &Resolved{
		Config:              c,
		RAMBytes:            ram,
		CompressionMinBytes: compMin,
		LoggingLimitBytes:   logLimit,
	}

	if r.Backup && r.BackupPath == "DEFAULT" {
		r.BackupPath = defaultBackupPath(confDir)
	}

	return r, nil
}
