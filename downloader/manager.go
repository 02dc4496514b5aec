package downloader

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"tankobon/models"
	"tankobon/parser"

	"github.com/google/uuid"
)

// Manager orchestrates batch downloads
type Manager struct {
	registry     *Registry
	materializer *Materializer
	downloadDir  string
}

// NewManager creates a new download manager. Batches are created as
// uniquely named directories under downloadDir.
func NewManager(registry *Registry, materializer *Materializer, downloadDir string) *Manager {
	return &Manager{
		registry:     registry,
		materializer: materializer,
		downloadDir:  downloadDir,
	}
}

// DownloadBatch downloads every chapter in ids, in order, into a fresh
// batch directory and returns its path. Chapters that fail on their own
// are skipped; a fatal error, cancellation, or a batch where nothing was
// downloaded removes the directory before returning.
func (m *Manager) DownloadBatch(ctx context.Context, ids []models.ChapterIdentifier, src models.Source, sink ProgressSink) (string, error) {
	if sink == nil {
		sink = NopSink
	}

	adapter, err := m.registry.Adapter(src)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", ErrEmptyBatch
	}

	workDir := filepath.Join(m.downloadDir, strings.ReplaceAll(uuid.NewString(), "-", ""))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", &FatalIOError{Path: workDir, Err: err}
	}

	log.Printf("[Downloader] Starting batch of %d chapters from %s into %s", len(ids), src, workDir)

	total := len(ids)
	materialized := 0
	// sanitized chapter label -> identifier that produced it
	done := map[string]models.ChapterIdentifier{}

	for i, id := range ids {
		select {
		case <-ctx.Done():
			log.Printf("[Downloader] Batch cancelled at chapter %d/%d", i+1, total)
			os.RemoveAll(workDir)
			return "", ctx.Err()
		default:
		}

		sink.Update(int(float64(i)/float64(total)*100), fmt.Sprintf("Downloading chapter %d/%d", i+1, total))

		key, number, err := id.Split()
		if err != nil {
			log.Printf("[Downloader] Skipping %s: %v", id, err)
			continue
		}
		label := parser.SanitizeLabel(number)
		if prev, dup := done[label]; dup {
			log.Printf("[Downloader] ⚠️ Skipping %s: chapter %s already downloaded as %s", id, number, prev)
			continue
		}

		ok, err := m.downloadChapter(ctx, adapter, id, key, number, workDir)
		if err != nil {
			if IsFatal(err) || ctx.Err() != nil {
				log.Printf("[Downloader] ✗ Aborting batch at %s: %v", id, err)
				os.RemoveAll(workDir)
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				return "", err
			}
			log.Printf("[Downloader] Skipping %s: %v", id, err)
			continue
		}
		if ok {
			materialized++
			done[label] = id
		}
	}

	if materialized == 0 {
		os.RemoveAll(workDir)
		return "", ErrNoChaptersMaterialized
	}

	log.Printf("[Downloader] ✓ Batch complete: %d/%d chapters", materialized, total)
	sink.Update(100, "Finished")
	return workDir, nil
}

// downloadChapter reports false without error for a chapter that resolved
// to nothing.
func (m *Manager) downloadChapter(ctx context.Context, adapter SourceAdapter, id models.ChapterIdentifier, key, number, workDir string) (bool, error) {
	assets, err := adapter.ResolveChapterAssets(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to resolve pages: %w", err)
	}
	if len(assets) == 0 {
		log.Printf("[Downloader] Skipping %s: no pages", id)
		return false, nil
	}

	res, err := m.materializer.Materialize(ctx, assets, number, workDir)
	if err != nil {
		return false, err
	}
	if res.Pages == 0 {
		log.Printf("[Downloader] Skipping %s: every page was dropped", id)
		if res.Created {
			os.RemoveAll(res.Dir)
		}
		return false, nil
	}
	return true, nil
}
