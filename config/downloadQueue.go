package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"tankobon/downloader"
	"tankobon/models"
	"tankobon/packager"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// JobState is the lifecycle stage of a submitted batch.
type JobState string

const (
	StatePending  JobState = "PENDING"
	StateProgress JobState = "PROGRESS"
	StateSuccess  JobState = "SUCCESS"
	StateFailure  JobState = "FAILURE"
)

// ErrJobNotFound is returned for unknown or expired job ids.
var ErrJobNotFound = errors.New("job not found")

// ErrQueueFull is returned when the pending backlog is at capacity.
var ErrQueueFull = errors.New("download queue is full")

// JobStatus is what callers see when polling a job.
type JobStatus struct {
	ID    string   `json:"task_id"`
	State JobState `json:"state"`

	// PROGRESS
	Progress      int    `json:"progress"`
	Status        string `json:"status,omitempty"`
	TotalChapters int    `json:"total_chapters,omitempty"`
	ComicTitle    string `json:"comic_title,omitempty"`

	// SUCCESS
	ZipPath  string `json:"zip_path,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`

	// FAILURE
	Error string `json:"error,omitempty"`
}

// Terminal reports whether the job will not change any more.
func (s JobStatus) Terminal() bool {
	return s.State == StateSuccess || s.State == StateFailure
}

// BatchFunc runs one job to completion and returns the archive path.
type BatchFunc func(ctx context.Context, req models.JobRequest, sink downloader.ProgressSink) (string, error)

// PackagedBatch downloads the batch with m and packages it.
func PackagedBatch(m *downloader.Manager) BatchFunc {
	return func(ctx context.Context, req models.JobRequest, sink downloader.ProgressSink) (string, error) {
		workDir, err := m.DownloadBatch(ctx, req.ChapterIDs, req.Source, sink)
		if err != nil {
			return "", err
		}
		return packager.Pack(ctx, workDir, req.Format, req.ComicTitle, sink)
	}
}

// QueueOptions tune the job queue.
type QueueOptions struct {
	Workers       int
	Backlog       int
	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration
	ResultTTL     time.Duration
	Cost          func(models.Source) float64
	DownloadDir   string
}

// QueueOptionsFrom derives queue options from the configuration.
func QueueOptionsFrom(c Config) QueueOptions {
	return QueueOptions{
		Workers:       c.Workers,
		SoftTimeLimit: c.SoftTimeLimit,
		HardTimeLimit: c.HardTimeLimit,
		ResultTTL:     c.ResultTTL,
		Cost:          c.Cost,
		DownloadDir:   c.DownloadDir,
	}
}

type job struct {
	id     string
	req    models.JobRequest
	cancel context.CancelFunc

	revoked  bool
	finished bool
}

// JobQueue runs batch downloads on a fixed pool of workers. Statuses live
// in a TTL cache so finished jobs disappear after ResultTTL. A separate
// lane removes served batch directories.
type JobQueue struct {
	opts     QueueOptions
	registry *downloader.Registry
	run      BatchFunc

	pending  chan *job
	cleanups chan string
	results  *cache.Cache

	mu   sync.Mutex
	jobs map[string]*job

	startOnce sync.Once
	wg        sync.WaitGroup
	ctx       context.Context
	stop      context.CancelFunc
}

// NewJobQueue creates a queue; call Start to launch the workers.
func NewJobQueue(registry *downloader.Registry, run BatchFunc, opts QueueOptions) *JobQueue {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Backlog <= 0 {
		opts.Backlog = 256
	}
	if opts.SoftTimeLimit <= 0 {
		opts.SoftTimeLimit = 25 * time.Minute
	}
	if opts.HardTimeLimit < opts.SoftTimeLimit {
		opts.HardTimeLimit = opts.SoftTimeLimit + 5*time.Minute
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = time.Hour
	}
	if opts.Cost == nil {
		opts.Cost = func(models.Source) float64 { return 1 }
	}

	ctx, stop := context.WithCancel(context.Background())
	return &JobQueue{
		opts:     opts,
		registry: registry,
		run:      run,
		pending:  make(chan *job, opts.Backlog),
		cleanups: make(chan string, opts.Backlog),
		results:  cache.New(opts.ResultTTL, opts.ResultTTL/2+time.Second),
		jobs:     make(map[string]*job),
		ctx:      ctx,
		stop:     stop,
	}
}

// Start launches the workers and the cleanup lane. It is safe to call
// more than once.
func (q *JobQueue) Start() {
	q.startOnce.Do(func() {
		for i := 0; i < q.opts.Workers; i++ {
			q.wg.Add(1)
			go q.worker(i)
		}
		q.wg.Add(1)
		go q.cleanupLane()
		log.Printf("[Queue] Started %d workers", q.opts.Workers)
	})
}

// Shutdown cancels running jobs and waits for the workers to exit.
func (q *JobQueue) Shutdown() {
	q.stop()
	q.wg.Wait()
	log.Println("[Queue] Stopped")
}

// Validate checks a request the same way Submit does without queueing it.
func (q *JobQueue) Validate(req *models.JobRequest) error {
	if _, err := q.registry.Adapter(req.Source); err != nil {
		return err
	}
	if len(req.ChapterIDs) == 0 {
		return downloader.ErrEmptyBatch
	}
	if req.Format == "" {
		req.Format = models.FormatCBZ
	}
	if !packager.Supported(req.Format) {
		return &downloader.UnsupportedFormatError{Format: req.Format}
	}
	return nil
}

// Submit validates req and queues it, returning the job id right away.
func (q *JobQueue) Submit(req models.JobRequest) (string, error) {
	if err := q.Validate(&req); err != nil {
		return "", err
	}

	j := &job{id: uuid.NewString(), req: req}

	q.mu.Lock()
	q.jobs[j.id] = j
	q.mu.Unlock()
	q.results.Set(j.id, JobStatus{ID: j.id, State: StatePending, ComicTitle: req.ComicTitle}, cache.NoExpiration)

	select {
	case q.pending <- j:
	default:
		q.mu.Lock()
		delete(q.jobs, j.id)
		q.mu.Unlock()
		q.results.Delete(j.id)
		return "", ErrQueueFull
	}

	log.Printf("[Queue] Added task %s: %d chapters from %s as %s", j.id, len(req.ChapterIDs), req.Source, req.Format)
	return j.id, nil
}

// Status returns the latest known status of a job.
func (q *JobQueue) Status(id string) (JobStatus, bool) {
	v, ok := q.results.Get(id)
	if !ok {
		return JobStatus{}, false
	}
	return v.(JobStatus), true
}

// Revoke cancels a pending or running job. A running batch stops at the
// next chapter boundary.
func (q *JobQueue) Revoke(id string) error {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		if _, known := q.Status(id); known {
			return fmt.Errorf("task %s already finished", id)
		}
		return ErrJobNotFound
	}
	j.revoked = true
	cancel := j.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	log.Printf("[Queue] Revoked task %s", id)
	return nil
}

// ScheduleCleanup removes the batch directory holding path on the
// cleanup lane.
func (q *JobQueue) ScheduleCleanup(path string) {
	select {
	case q.cleanups <- path:
	default:
		go q.cleanup(path)
	}
}

func (q *JobQueue) cleanupLane() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case path := <-q.cleanups:
			q.cleanup(path)
		}
	}
}

func (q *JobQueue) cleanup(path string) {
	if err := downloader.Cleanup(q.opts.DownloadDir, path); err != nil {
		log.Printf("[Queue] ⚠️ Cleanup of %s failed: %v", path, err)
	}
}

// Limits returns the soft and hard time limits for req. Both scale with
// the source cost and with every started block of ten chapters.
func (q *JobQueue) Limits(req models.JobRequest) (soft, hard time.Duration) {
	blocks := math.Max(1, math.Ceil(float64(len(req.ChapterIDs))/10))
	factor := q.opts.Cost(req.Source) * blocks
	return time.Duration(float64(q.opts.SoftTimeLimit) * factor),
		time.Duration(float64(q.opts.HardTimeLimit) * factor)
}

func (q *JobQueue) worker(n int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			log.Printf("[Queue] Worker %d stopped", n)
			return
		case j := <-q.pending:
			q.execute(j)
		}
	}
}

type outcome struct {
	path string
	err  error
}

func (q *JobQueue) execute(j *job) {
	soft, hard := q.Limits(j.req)
	ctx, cancel := context.WithTimeout(q.ctx, soft)
	defer cancel()

	q.mu.Lock()
	if j.revoked {
		q.mu.Unlock()
		q.finish(j, JobStatus{State: StateFailure, Error: "revoked"})
		return
	}
	j.cancel = cancel
	q.mu.Unlock()

	log.Printf("[Queue] Processing task %s (soft limit %s, hard limit %s)", j.id, soft, hard)
	q.update(j, 0, "Starting download...")

	sink := downloader.ProgressFunc(func(percent int, status string) {
		q.update(j, percent, status)
	})

	done := make(chan outcome, 1)
	go func() {
		path, err := q.run(ctx, j.req, sink)
		done <- outcome{path, err}
	}()

	hardTimer := time.NewTimer(hard)
	defer hardTimer.Stop()

	select {
	case out := <-done:
		q.complete(ctx, j, out)
	case <-hardTimer.C:
		// the batch goroutine is abandoned; sweep reaps what it leaves
		log.Printf("[Queue] ✗ Task %s exceeded its hard time limit", j.id)
		q.finish(j, JobStatus{State: StateFailure, Error: "hard time limit exceeded"})
	}
}

func (q *JobQueue) complete(ctx context.Context, j *job, out outcome) {
	if out.err != nil {
		q.mu.Lock()
		revoked := j.revoked
		q.mu.Unlock()

		msg := downloader.PublicMessage(out.err)
		switch {
		case revoked:
			msg = "revoked"
		case errors.Is(out.err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			msg = "soft time limit exceeded"
		}
		log.Printf("[Queue] ✗ Task %s failed: %v", j.id, out.err)
		q.finish(j, JobStatus{State: StateFailure, Error: msg})
		return
	}

	var size int64
	if info, err := os.Stat(out.path); err == nil {
		size = info.Size()
	}
	log.Printf("[Queue] ✓ Task %s completed: %s (%d bytes)", j.id, out.path, size)
	q.finish(j, JobStatus{State: StateSuccess, Progress: 100, Status: "Finished", ZipPath: out.path, FileSize: size})
}

func (q *JobQueue) update(j *job, percent int, status string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j.finished {
		return
	}
	q.results.Set(j.id, JobStatus{
		ID:            j.id,
		State:         StateProgress,
		Progress:      percent,
		Status:        status,
		TotalChapters: len(j.req.ChapterIDs),
		ComicTitle:    j.req.ComicTitle,
	}, cache.NoExpiration)
}

// finish records a terminal status once; later updates from an abandoned
// batch are dropped.
func (q *JobQueue) finish(j *job, st JobStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j.finished {
		return
	}
	j.finished = true
	delete(q.jobs, j.id)

	st.ID = j.id
	st.ComicTitle = j.req.ComicTitle
	st.TotalChapters = len(j.req.ChapterIDs)
	q.results.Set(j.id, st, cache.DefaultExpiration)
}
