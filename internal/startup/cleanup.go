// Package startup provides utilities for application startup tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// PartialDownloadName is the staging filename used while a URL
// submission is still downloading. A finished download is renamed to
// its final video path, so any remaining file with this name belongs
// to a fetch that was interrupted.
const PartialDownloadName = "download.tmp"

// DefaultCleanupAge is the default maximum age for orphaned partial
// downloads (1 hour).
const DefaultCleanupAge = 1 * time.Hour

// CleanupPartialDownloads removes orphaned partial downloads that are
// older than maxAge. It scans the per-job directories under videosDir
// for files named "download.tmp".
//
// Returns the number of files removed and any error encountered.
func CleanupPartialDownloads(logger *slog.Logger, videosDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(videosDir); os.IsNotExist(err) {
		logger.Debug("videos directory does not exist, skipping cleanup",
			"path", videosDir,
		)
		return 0, nil
	}

	entries, err := os.ReadDir(videosDir)
	if err != nil {
		logger.Error("failed to read directory for cleanup",
			"path", videosDir,
			"error", err,
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		tmpPath := filepath.Join(videosDir, entry.Name(), PartialDownloadName)
		info, err := os.Stat(tmpPath)
		if err != nil {
			continue
		}

		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent partial download",
				"path", tmpPath,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			continue
		}

		if err := os.Remove(tmpPath); err != nil {
			logger.Warn("failed to remove orphaned partial download",
				"path", tmpPath,
				"error", err,
			)
			continue
		}

		logger.Info("removed orphaned partial download",
			"path", tmpPath,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}
