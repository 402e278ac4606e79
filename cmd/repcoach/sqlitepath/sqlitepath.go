// Package sqlitepath resolves where the CLI keeps its local conversation DAG.
package sqlitepath

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/papercomputeco/repcoach/pkg/config"
)

// EnvVar overrides the default database location.
const EnvVar = "REPCOACH_SQLITE"

// FileName is the database file inside the config directory.
const FileName = "repcoach.sqlite"

// ResolveSQLitePath returns override if set, then $REPCOACH_SQLITE, then
// ~/.repcoach/repcoach.sqlite. The parent directory of the default path is
// created if needed.
func ResolveSQLitePath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env := os.Getenv(EnvVar); env != "" {
		return env, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}

	dir := filepath.Join(home, config.DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create %s: %w", dir, err)
	}

	return filepath.Join(dir, FileName), nil
}
