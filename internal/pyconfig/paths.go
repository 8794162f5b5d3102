package pyconfig

import (
	"os"
	"path/filepath"
)

// appConfDirName is the literal directory name under "~/.conf".
const appConfDirName = "pysync"

// UserConfRoot returns "~/.conf/pysync".
func UserConfRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, ".conf", appConfDirName), nil
}

// RootConfDir returns the per-root configuration directory
// "~/.conf/pysync/<root-basename>" used for the manifest file, the log
// file, and (when backup_path is "DEFAULT") the trash directory.
func RootConfDir(root string) (string, error) {
	confRoot, err := UserConfRoot()
	if err != nil {
		return "", err
	}

	base := filepath.Base(filepath.Clean(root))

	return filepath.Join(confRoot, base), nil
}

// ConfigsDir returns "~/.conf/pysync/configs", where named config files are
// searched for.
func ConfigsDir() (string, error) {
	confRoot, err := UserConfRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(confRoot, "configs"), nil
}

func defaultBackupPath(confDir string) string {
	return filepath.Join(confDir, "backups")
}
