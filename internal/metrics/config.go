package metrics

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
)

const (
	defaultDirPerm       = 0o755
	defaultBatchSize     = 30
	defaultFlushInterval = 10 * time.Second
	backupDirName        = "backups"
)

type Config struct {
	DBPath        string
	BackupDir     string
	BatchSize     int
	FlushInterval time.Duration
	Enabled       bool
}

// DefaultConfig returns a disabled recorder writing to path.
func DefaultConfig(path string) Config {
	return Config{
		DBPath:        path,
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 1 {
		return errFactory.WithData(ErrInvalidConfig, "batch size must be positive")
	}

	return nil
}

func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), backupDirName)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
