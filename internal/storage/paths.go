package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Drivers accepted by Open.
const (
	DriverBolt   = "bolt"
	DriverLibSQL = "libsql"
)

// PathManager resolves files under the data directory, creating
// subdirectories on first use.
type PathManager struct {
	root string
}

// NewPathManager roots paths at dir.
func NewPathManager(dir string) *PathManager {
	return &PathManager{root: dir}
}

// Root creates and returns the data directory.
func (pm *PathManager) Root() (string, error) {
	if err := os.MkdirAll(pm.root, 0o755); err != nil {
		return "", err
	}
	return pm.root, nil
}

func (pm *PathManager) sub(name string) (string, error) {
	dir := filepath.Join(pm.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// LogsDir returns the directory for log files.
func (pm *PathManager) LogsDir() (string, error) {
	return pm.sub("logs")
}

// ExportsDir returns the default directory for exported conversations.
func (pm *PathManager) ExportsDir() (string, error) {
	return pm.sub("exports")
}

// Open opens the KV for driver at path.
func Open(driver, path string) (KV, error) {
	switch driver {
	case DriverBolt, "":
		return OpenBolt(path)
	case DriverLibSQL:
		return OpenLibSQL(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
