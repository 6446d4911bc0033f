// Package archive copies saved media off the device. A bounded queue feeds
// a small worker pool; each upload is retried with backoff and the store
// is stamped once the object is safely written.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/avaropoint/camlink/internal/logging"
	"github.com/avaropoint/camlink/internal/metrics"
	"github.com/avaropoint/camlink/internal/store"
	"github.com/avaropoint/camlink/internal/util"
)

// Uploader writes the file at localPath under key.
type Uploader interface {
	Upload(ctx context.Context, key, localPath string, m store.MediaRecord) error
}

// Options configures the worker pool.
type Options struct {
	Prefix    string
	Workers   int
	QueueSize int
	Retry     *util.RetryConfig
	// UploadTimeout bounds a single attempt.
	UploadTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.QueueSize < 1 {
		o.QueueSize = 64
	}
	if o.Retry == nil {
		o.Retry = util.DefaultRetryConfig()
	}
	if o.UploadTimeout <= 0 {
		o.UploadTimeout = 5 * time.Minute
	}
}

// Archiver implements the server's media sink.
type Archiver struct {
	opts     Options
	uploader Uploader
	store    store.Store
	metrics  *metrics.Collector

	queue chan store.MediaRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New returns a stopped archiver. st and m may be nil.
func New(opts Options, up Uploader, st store.Store, m *metrics.Collector) *Archiver {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Archiver{
		opts:     opts,
		uploader: up,
		store:    st,
		metrics:  m,
		queue:    make(chan store.MediaRecord, opts.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the workers.
func (a *Archiver) Start() {
	a.once.Do(func() {
		for i := 0; i < a.opts.Workers; i++ {
			util.GoTracked(&a.wg, fmt.Sprintf("archive-worker-%d", i), a.worker)
		}
		logging.Info("archive workers started", logging.Component("archive"), "workers", a.opts.Workers)
	})
}

// Enqueue schedules m for upload. It never blocks and reports false when
// the queue is full or the archiver is stopped.
func (a *Archiver) Enqueue(m store.MediaRecord) bool {
	if a.ctx.Err() != nil {
		return false
	}
	select {
	case a.queue <- m:
		return true
	default:
		return false
	}
}

// Backfill queues media the store still lists as unarchived, oldest
// first, up to the free queue space. It returns how many were queued.
func (a *Archiver) Backfill(ctx context.Context) (int, error) {
	if a.store == nil {
		return 0, nil
	}
	free := cap(a.queue) - len(a.queue)
	if free <= 0 {
		return 0, nil
	}
	pending, err := a.store.ListUnarchived(ctx, free)
	if err != nil {
		return 0, fmt.Errorf("list unarchived: %w", err)
	}
	n := 0
	for _, m := range pending {
		if !a.Enqueue(*m) {
			break
		}
		n++
	}
	return n, nil
}

// Pending is the current queue depth.
func (a *Archiver) Pending() int { return len(a.queue) }

// Close stops the workers. Queued media stays unarchived in the store and
// is picked up by the next Backfill.
func (a *Archiver) Close() {
	a.cancel()
	a.wg.Wait()
}

func (a *Archiver) worker() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case m := <-a.queue:
			a.archive(m)
		}
	}
}

// Key is the object key for m: prefix/kind/YYYY/MM/DD/filename.
func Key(prefix string, m store.MediaRecord) string {
	day := m.CreatedAt.UTC().Format("2006/01/02")
	return path.Join(prefix, m.Kind, day, m.Filename)
}

func (a *Archiver) archive(m store.MediaRecord) {
	log := logging.With(logging.Component("archive"), "file", m.Filename)
	key := Key(a.opts.Prefix, m)

	res := util.Retry(a.ctx, a.opts.Retry, func() error {
		if _, err := os.Stat(m.Path); err != nil {
			return util.MarkNonRetryable(err)
		}
		ctx, cancel := context.WithTimeout(a.ctx, a.opts.UploadTimeout)
		defer cancel()
		return a.uploader.Upload(ctx, key, m.Path, m)
	})
	if res.LastError != nil {
		a.metrics.ArchiveUpload(false)
		if errors.Is(res.LastError, util.ErrContextCanceled) {
			log.Info("archive upload abandoned on shutdown")
			return
		}
		log.Warn("archive upload failed", "attempts", res.Attempts, logging.Err(res.LastError))
		return
	}
	a.metrics.ArchiveUpload(true)
	log.Info("media archived", "key", key, "attempts", res.Attempts, "duration", res.Duration)

	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.MarkArchived(ctx, m.ID, time.Now()); err != nil {
		log.Warn("failed to mark media archived", logging.Err(err))
	}
}
