package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tankobon/downloader"
	"tankobon/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopAdapter struct{ src models.Source }

func (n nopAdapter) Source() models.Source { return n.src }
func (nopAdapter) Search(context.Context, string) ([]models.ComicSummary, error) {
	return nil, nil
}
func (nopAdapter) ListChapters(context.Context, string) ([]models.VolumeListing, error) {
	return nil, nil
}
func (nopAdapter) ResolveChapterAssets(context.Context, string) ([]models.AssetReference, error) {
	return nil, nil
}

func newTestQueue(t *testing.T, run BatchFunc, opts QueueOptions) *JobQueue {
	t.Helper()
	if opts.DownloadDir == "" {
		opts.DownloadDir = t.TempDir()
	}
	registry := downloader.NewStaticRegistry(nopAdapter{models.SourceMangaDex}, nopAdapter{models.SourceBato})
	q := NewJobQueue(registry, run, opts)
	q.Start()
	t.Cleanup(q.Shutdown)
	return q
}

func request(n int) models.JobRequest {
	ids := make([]models.ChapterIdentifier, n)
	for i := range ids {
		ids[i] = models.NewChapterIdentifier("key", "1")
	}
	return models.JobRequest{ChapterIDs: ids, Source: models.SourceMangaDex, ComicTitle: "Comic", Format: models.FormatCBZ}
}

func waitTerminal(t *testing.T, q *JobQueue, id string) JobStatus {
	t.Helper()
	var st JobStatus
	require.Eventually(t, func() bool {
		var ok bool
		st, ok = q.Status(id)
		return ok && st.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestSubmitValidates(t *testing.T) {
	q := newTestQueue(t, func(context.Context, models.JobRequest, downloader.ProgressSink) (string, error) {
		t.Fatal("nothing should run")
		return "", nil
	}, QueueOptions{})

	req := request(1)
	req.Source = models.SourceToongod
	_, err := q.Submit(req)
	var invalid *downloader.InvalidSourceError
	assert.ErrorAs(t, err, &invalid)

	_, err = q.Submit(request(0))
	assert.ErrorIs(t, err, downloader.ErrEmptyBatch)

	req = request(1)
	req.Format = models.FormatCBR
	_, err = q.Submit(req)
	var unsupported *downloader.UnsupportedFormatError
	assert.ErrorAs(t, err, &unsupported)
}

func TestJobSucceeds(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "Chapters.zip")
	require.NoError(t, os.WriteFile(archive, []byte("zipdata"), 0o644))

	progressSeen := make(chan JobStatus, 1)
	idCh := make(chan string, 1)
	var q *JobQueue
	q = newTestQueue(t, func(ctx context.Context, req models.JobRequest, sink downloader.ProgressSink) (string, error) {
		assert.Equal(t, models.FormatEPUB, req.Format)
		sink.Update(50, "Downloading chapter 2/3")
		st, _ := q.Status(<-idCh)
		progressSeen <- st
		return archive, nil
	}, QueueOptions{Workers: 1})

	req := request(3)
	req.Format = models.FormatEPUB
	id, err := q.Submit(req)
	require.NoError(t, err)
	assert.Len(t, id, 36)
	idCh <- id

	st := waitTerminal(t, q, id)
	assert.Equal(t, StateSuccess, st.State)
	assert.Equal(t, archive, st.ZipPath)
	assert.EqualValues(t, 7, st.FileSize)
	assert.Equal(t, 3, st.TotalChapters)
	assert.Equal(t, "Comic", st.ComicTitle)

	mid := <-progressSeen
	assert.Equal(t, StateProgress, mid.State)
	assert.Equal(t, 50, mid.Progress)
	assert.Equal(t, "Downloading chapter 2/3", mid.Status)
}

func TestSubmitDefaultsToCBZ(t *testing.T) {
	got := make(chan models.Format, 1)
	q := newTestQueue(t, func(_ context.Context, req models.JobRequest, _ downloader.ProgressSink) (string, error) {
		got <- req.Format
		return "", errors.New("stop")
	}, QueueOptions{})

	req := request(1)
	req.Format = ""
	_, err := q.Submit(req)
	require.NoError(t, err)
	assert.Equal(t, models.FormatCBZ, <-got)
}

func TestJobFailureHidesPaths(t *testing.T) {
	q := newTestQueue(t, func(context.Context, models.JobRequest, downloader.ProgressSink) (string, error) {
		return "", &downloader.FatalIOError{Path: "/srv/data/abc/1", Err: os.ErrPermission}
	}, QueueOptions{})

	id, err := q.Submit(request(1))
	require.NoError(t, err)

	st := waitTerminal(t, q, id)
	assert.Equal(t, StateFailure, st.State)
	assert.Equal(t, "storage error while saving pages", st.Error)
	assert.NotContains(t, st.Error, "/srv/data")
}

func TestRevokeRunningJob(t *testing.T) {
	started := make(chan struct{})
	q := newTestQueue(t, func(ctx context.Context, _ models.JobRequest, _ downloader.ProgressSink) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}, QueueOptions{})

	id, err := q.Submit(request(2))
	require.NoError(t, err)
	<-started

	require.NoError(t, q.Revoke(id))
	st := waitTerminal(t, q, id)
	assert.Equal(t, StateFailure, st.State)
	assert.Equal(t, "revoked", st.Error)

	assert.Error(t, q.Revoke(id), "finished jobs cannot be revoked")
	assert.ErrorIs(t, q.Revoke("nope"), ErrJobNotFound)
}

func TestRevokePendingJob(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	ran := map[int]bool{}
	q := newTestQueue(t, func(_ context.Context, req models.JobRequest, _ downloader.ProgressSink) (string, error) {
		mu.Lock()
		ran[len(req.ChapterIDs)] = true
		mu.Unlock()
		<-release
		return "", errors.New("done")
	}, QueueOptions{Workers: 1})

	first, err := q.Submit(request(1))
	require.NoError(t, err)
	second, err := q.Submit(request(2))
	require.NoError(t, err)

	st, ok := q.Status(second)
	require.True(t, ok)
	assert.Equal(t, StatePending, st.State)

	require.NoError(t, q.Revoke(second))
	close(release)

	waitTerminal(t, q, first)
	st = waitTerminal(t, q, second)
	assert.Equal(t, "revoked", st.Error)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, ran[2], "a revoked pending job never runs")
}

func TestSoftTimeLimitCancelsBatch(t *testing.T) {
	q := newTestQueue(t, func(ctx context.Context, _ models.JobRequest, _ downloader.ProgressSink) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, QueueOptions{SoftTimeLimit: 20 * time.Millisecond, HardTimeLimit: time.Second})

	id, err := q.Submit(request(1))
	require.NoError(t, err)

	st := waitTerminal(t, q, id)
	assert.Equal(t, "soft time limit exceeded", st.Error)
}

func TestHardTimeLimitAbandonsBatch(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	q := newTestQueue(t, func(_ context.Context, _ models.JobRequest, sink downloader.ProgressSink) (string, error) {
		<-block
		sink.Update(99, "late update")
		return "", nil
	}, QueueOptions{SoftTimeLimit: 10 * time.Millisecond, HardTimeLimit: 30 * time.Millisecond})

	id, err := q.Submit(request(1))
	require.NoError(t, err)

	st := waitTerminal(t, q, id)
	assert.Equal(t, StateFailure, st.State)
	assert.Equal(t, "hard time limit exceeded", st.Error)
}

func TestLimitsScaleWithCostAndSize(t *testing.T) {
	q := NewJobQueue(downloader.NewStaticRegistry(), nil, QueueOptions{
		SoftTimeLimit: 10 * time.Minute,
		HardTimeLimit: 12 * time.Minute,
		Cost: func(src models.Source) float64 {
			if src == models.SourceBato {
				return 2
			}
			return 1
		},
	})

	soft, hard := q.Limits(request(1))
	assert.Equal(t, 10*time.Minute, soft)
	assert.Equal(t, 12*time.Minute, hard)

	soft, _ = q.Limits(request(10))
	assert.Equal(t, 10*time.Minute, soft)

	soft, _ = q.Limits(request(11))
	assert.Equal(t, 20*time.Minute, soft)

	req := request(25)
	req.Source = models.SourceBato
	soft, hard = q.Limits(req)
	assert.Equal(t, 60*time.Minute, soft)
	assert.Equal(t, 72*time.Minute, hard)
}

func TestScheduleCleanupRemovesBatch(t *testing.T) {
	downloadDir := t.TempDir()
	batch := filepath.Join(downloadDir, "0123abcd")
	require.NoError(t, os.MkdirAll(batch, 0o755))
	archive := filepath.Join(batch, "Chapters.zip")
	require.NoError(t, os.WriteFile(archive, []byte("x"), 0o644))

	q := newTestQueue(t, nil, QueueOptions{DownloadDir: downloadDir})
	q.ScheduleCleanup(archive)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(batch)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResultsExpire(t *testing.T) {
	q := newTestQueue(t, func(context.Context, models.JobRequest, downloader.ProgressSink) (string, error) {
		return "", errors.New("boom")
	}, QueueOptions{ResultTTL: 50 * time.Millisecond})

	id, err := q.Submit(request(1))
	require.NoError(t, err)
	waitTerminal(t, q, id)

	assert.Eventually(t, func() bool {
		_, ok := q.Status(id)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
