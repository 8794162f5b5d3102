package pyconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Load decodes a configuration file. nameOrPath is used as given if it is
// an absolute path or names an existing file; otherwise it is looked up by
// name under ConfigsDir().
func Load(nameOrPath string) (Config, error) {
	cfg := DefaultConfig()

	path, err := resolvePath(nameOrPath)
	if err != nil {
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding config %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func resolvePath(nameOrPath string) (string, error) {
	if filepath.IsAbs(nameOrPath) {
		return nameOrPath, nil
	}

	if _, err := os.Stat(nameOrPath); err == nil {
		return nameOrPath, nil
	}

	dir, err := ConfigsDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, nameOrPath), nil
}

// Validate fails fast on a missing or malformed configuration, before any
// network activity starts.
func Validate(c Config) error {
	if c.Root == "" {
		return fmt.Errorf("config: root is required")
	}

	if c.Host != HostServer && c.Host != HostClient {
		return fmt.Errorf("config: host must be %q or %q, got %q", HostServer, HostClient, c.Host)
	}

	if c.Hostname == "" {
		return fmt.Errorf("config: hostname is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}

	if c.Encryption && c.Host == HostServer && (c.Cert == "" || c.Key == "") {
		return fmt.Errorf("config: encryption requires cert and key for a server")
	}

	if c.Compression < 0 || c.Compression > 9 {
		return fmt.Errorf("config: compression must be 0-9, got %d", c.Compression)
	}

	if c.Logging < 0 || c.Logging > 4 {
		return fmt.Errorf("config: logging must be 0-4, got %d", c.Logging)
	}

	return nil
}
