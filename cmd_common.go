package main

import "path/filepath"

// logPath and ledgerPath live under the same per-root configuration
// directory as the manifest file.
func logPath(confDir string) string {
	return filepath.Join(confDir, "pysync.log")
}

func ledgerPath(confDir string) string {
	return filepath.Join(confDir, "sessions.db")
}
