package downloader

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cleanup removes the batch directory that contains anyPath. anyPath may
// be the batch directory, a chapter directory, or any file inside them
// such as the packaged Chapters.zip. Paths outside downloadDir are refused.
func Cleanup(downloadDir, anyPath string) error {
	root, err := filepath.Abs(downloadDir)
	if err != nil {
		return err
	}
	target, err := filepath.Abs(anyPath)
	if err != nil {
		return err
	}

	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		target = filepath.Dir(target)
	} else if err != nil && filepath.Ext(target) != "" {
		// already-deleted file: its parent is still the right anchor
		target = filepath.Dir(target)
	}

	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("refusing to clean %s: not inside the download directory", anyPath)
	}

	batch := filepath.Join(root, strings.Split(rel, string(filepath.Separator))[0])
	if err := os.RemoveAll(batch); err != nil {
		return fmt.Errorf("failed to remove %s: %w", batch, err)
	}
	log.Printf("[Cleanup] ✓ Removed %s", batch)
	return nil
}

// Sweep removes batch directories under downloadDir not modified within
// olderThan. It returns how many were removed.
func Sweep(downloadDir string, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(downloadDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(downloadDir, entry.Name())); err != nil {
			log.Printf("[Cleanup] ⚠️ Failed to remove %s: %v", entry.Name(), err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Printf("[Cleanup] ✓ Swept %d stale batch directories", removed)
	}
	return removed, nil
}
