package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CreateTempDir creates a working directory for a job plus the named subdirectories
func CreateTempDir(baseDir, jobID string, subdirs ...string) (string, error) {
	jobDir := filepath.Join(baseDir, jobID)

	dirs := []string{jobDir}
	for _, sub := range subdirs {
		dirs = append(dirs, filepath.Join(jobDir, sub))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return jobDir, nil
}

// CleanupJobFiles removes all temporary files for a job
func CleanupJobFiles(baseDir, jobID string) error {
	jobDir := filepath.Join(baseDir, jobID)
	return os.RemoveAll(jobDir)
}

// ScheduleCleanup runs fn after a delay
func ScheduleCleanup(delay time.Duration, fn func()) {
	go func() {
		time.Sleep(delay)
		fn()
	}()
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
