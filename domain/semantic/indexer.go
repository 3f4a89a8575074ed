package semantic

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loreweave/loreweave/pkg/logger"
)

const defaultPollInterval = 100 * time.Millisecond

// IndexerConfig tunes the re-index queue and worker.
type IndexerConfig struct {
	// QueueSize bounds pending distinct roots; the oldest pending job
	// is evicted in favor of the newest when full.
	QueueSize int
	// Debounce collapses repeated enqueues of one root into one job.
	Debounce time.Duration
	// MaxAttempts caps retries per job before it is dropped.
	MaxAttempts int
	// RetryBaseDelay is the base for exponential retry backoff.
	RetryBaseDelay time.Duration
}

type indexJob struct {
	rootID   string
	readyAt  time.Time
	attempts int
}

// Indexer is a bounded, debounced work queue with a background worker.
// Producers enqueue root ids; the worker hands each due root to the
// process callback. Jobs retry with exponential backoff and are dropped
// after MaxAttempts so a dead embedding backend cannot grow the queue
// without bound.
type Indexer struct {
	cfg     IndexerConfig
	process func(ctx context.Context, rootID string) error
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]*list.Element
	order   *list.List

	runMu     sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}

	// Worker statistics.
	statsMu   sync.RWMutex
	processed int64
	succeeded int64
	failed    int64
	dropped   int64
}

// IndexerStats is a snapshot of worker counters.
type IndexerStats struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Depth     int   `json:"depth"`
}

// NewIndexer creates an indexer. process is invoked outside the queue
// lock, one job at a time.
func NewIndexer(cfg IndexerConfig, log *slog.Logger, process func(ctx context.Context, rootID string) error) *Indexer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}

	return &Indexer{
		cfg:     cfg,
		process: process,
		log:     log.With(logger.Scope("semantic-indexer")),
		pending: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Enqueue schedules rootID for re-indexing after the debounce window.
// Re-enqueueing a pending root restarts its window and resets retries.
// When the queue is full the oldest pending root is evicted.
func (ix *Indexer) Enqueue(rootID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	readyAt := time.Now().Add(ix.cfg.Debounce)

	if el, ok := ix.pending[rootID]; ok {
		job := el.Value.(*indexJob)
		job.readyAt = readyAt
		job.attempts = 0
		return
	}

	if ix.order.Len() >= ix.cfg.QueueSize {
		oldest := ix.order.Front()
		evicted := oldest.Value.(*indexJob)
		ix.order.Remove(oldest)
		delete(ix.pending, evicted.rootID)
		ix.noteDropped()
		ix.log.Warn("queue full, evicting oldest pending root",
			slog.String("root_id", evicted.rootID),
		)
	}

	ix.pending[rootID] = ix.order.PushBack(&indexJob{rootID: rootID, readyAt: readyAt})
	queueDepth.Set(float64(ix.order.Len()))
}

// Start begins the worker loop.
func (ix *Indexer) Start(ctx context.Context) error {
	ix.runMu.Lock()
	if ix.running {
		ix.runMu.Unlock()
		return nil
	}
	ix.running = true
	ix.stopCh = make(chan struct{})
	ix.stoppedCh = make(chan struct{})
	ix.runMu.Unlock()

	ix.log.Info("indexer starting",
		slog.Int("queue_size", ix.cfg.QueueSize),
		slog.Duration("debounce", ix.cfg.Debounce),
	)

	go ix.run()
	return nil
}

// Stop halts the worker, waiting for the in-flight job to finish or ctx
// to expire. Pending jobs are discarded; the index is rebuildable.
func (ix *Indexer) Stop(ctx context.Context) error {
	ix.runMu.Lock()
	if !ix.running {
		ix.runMu.Unlock()
		return nil
	}
	ix.running = false
	close(ix.stopCh)
	ix.runMu.Unlock()

	select {
	case <-ix.stoppedCh:
		ix.log.Info("indexer stopped")
	case <-ctx.Done():
		ix.log.Warn("indexer stop timeout")
	}
	return nil
}

// Stats returns a snapshot of the worker counters. The queue lock is
// released before the stats lock is taken; drop accounting nests them
// the other way around.
func (ix *Indexer) Stats() IndexerStats {
	ix.mu.Lock()
	depth := ix.order.Len()
	ix.mu.Unlock()

	ix.statsMu.RLock()
	defer ix.statsMu.RUnlock()

	return IndexerStats{
		Processed: ix.processed,
		Succeeded: ix.succeeded,
		Failed:    ix.failed,
		Dropped:   ix.dropped,
		Depth:     depth,
	}
}

func (ix *Indexer) noteDropped() {
	ix.statsMu.Lock()
	ix.dropped++
	ix.statsMu.Unlock()
	jobsDropped.Inc()
}

func (ix *Indexer) run() {
	defer close(ix.stoppedCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-ix.stopCh
		cancel()
	}()

	interval := defaultPollInterval
	if ix.cfg.Debounce > 0 && ix.cfg.Debounce < interval {
		interval = ix.cfg.Debounce
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ix.stopCh:
			return
		case <-ticker.C:
			ix.Drain(ctx)
		}
	}
}

// Drain processes every currently-due job, checking for cancellation
// between jobs. Exported for deterministic tests.
func (ix *Indexer) Drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok := ix.takeDue()
		if !ok {
			return
		}
		ix.runJob(ctx, job)
	}
}

func (ix *Indexer) takeDue() (*indexJob, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	now := time.Now()
	for el := ix.order.Front(); el != nil; el = el.Next() {
		job := el.Value.(*indexJob)
		if job.readyAt.After(now) {
			continue
		}
		ix.order.Remove(el)
		delete(ix.pending, job.rootID)
		queueDepth.Set(float64(ix.order.Len()))
		return job, true
	}
	return nil, false
}

func (ix *Indexer) runJob(ctx context.Context, job *indexJob) {
	ix.statsMu.Lock()
	ix.processed++
	ix.statsMu.Unlock()

	err := ix.process(ctx, job.rootID)
	if err == nil {
		ix.statsMu.Lock()
		ix.succeeded++
		ix.statsMu.Unlock()
		jobsSucceeded.Inc()
		return
	}
	if ctx.Err() != nil {
		// Shutdown raced the job; requeue so a restart picks it up.
		ix.requeue(job)
		return
	}

	job.attempts++
	if job.attempts >= ix.cfg.MaxAttempts {
		ix.statsMu.Lock()
		ix.failed++
		ix.statsMu.Unlock()
		jobsFailed.Inc()
		ix.log.Error("dropping job after max attempts",
			slog.String("root_id", job.rootID),
			slog.Int("attempts", job.attempts),
			logger.Error(err),
		)
		return
	}

	backoff := ix.cfg.RetryBaseDelay << (job.attempts - 1)
	job.readyAt = time.Now().Add(backoff)
	ix.log.Warn("re-index failed, retrying",
		slog.String("root_id", job.rootID),
		slog.Int("attempt", job.attempts),
		slog.Duration("backoff", backoff),
		logger.Error(err),
	)
	ix.requeue(job)
}

func (ix *Indexer) requeue(job *indexJob) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	// A fresh enqueue during processing supersedes the retry.
	if _, ok := ix.pending[job.rootID]; ok {
		return
	}
	if ix.order.Len() >= ix.cfg.QueueSize {
		ix.noteDropped()
		ix.log.Warn("queue full, dropping retry",
			slog.String("root_id", job.rootID),
			slog.Int("attempts", job.attempts),
		)
		return
	}
	ix.pending[job.rootID] = ix.order.PushBack(job)
	queueDepth.Set(float64(ix.order.Len()))
}
