package streaming

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/avaropoint/camlink/internal/logging"
	"github.com/avaropoint/camlink/internal/protocol"
)

// Grabber produces source frames. Grab blocks for at most timeout.
type Grabber interface {
	Grab(ctx context.Context, timeout time.Duration) (image.Image, error)
}

// Resizer scales src into dst, filling dst's bounds.
type Resizer interface {
	Resize(dst *image.RGBA, src image.Image)
}

// Encoder compresses a frame at the given quality (1-100).
type Encoder interface {
	Encode(img image.Image, quality int) ([]byte, error)
}

// Sink receives each encoded frame. A sink error ends the loop.
type Sink func(seq uint32, data []byte) error

// ErrStopTimeout is returned by Stop when the worker did not exit in time.
var ErrStopTimeout = errors.New("streaming: loop did not stop in time")

// LoopConfig describes one stream.
type LoopConfig struct {
	Name           string
	FPS            int
	Width, Height  int
	GrabTimeout    time.Duration
	MaxTimeouts    int
	Quality        int // used when DynamicQuality is off
	MinQuality     int
	MaxQuality     int
	DynamicQuality bool
	SkipFrames     bool
	// Duration ends the stream after this long; zero runs until stopped.
	Duration    time.Duration
	PoolSize    int
	StopTimeout time.Duration
}

func (c *LoopConfig) setDefaults() {
	if c.FPS <= 0 {
		c.FPS = 10
	}
	if c.GrabTimeout <= 0 {
		c.GrabTimeout = 5 * time.Second
	}
	if c.MaxTimeouts <= 0 {
		c.MaxTimeouts = 10
	}
	if c.Quality <= 0 {
		c.Quality = 80
	}
	if c.MaxQuality <= 0 {
		c.MaxQuality = 90
	}
	if c.MinQuality <= 0 {
		c.MinQuality = 30
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 2 * time.Second
	}
}

// Pipeline wires a Loop to its collaborators. Congestion and Monitor are
// optional; without a controller the loop never skips and always encodes
// at LoopConfig.Quality.
type Pipeline struct {
	Grabber    Grabber
	Resizer    Resizer
	Encoder    Encoder
	Sink       Sink
	Congestion *CongestionController
	Monitor    *PerformanceMonitor
	OnSkip     func(seq uint32)
}

// Loop is a single paced grab, resize, encode, deliver worker.
type Loop struct {
	cfg  LoopConfig
	p    Pipeline
	pool *BufferPool

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}

	mu   sync.Mutex
	err  error
	seq  uint32
	sent uint64
	minQ int
	maxQ int
}

// NewLoop validates the pipeline and allocates the frame pool.
func NewLoop(cfg LoopConfig, p Pipeline) (*Loop, error) {
	if p.Grabber == nil || p.Resizer == nil || p.Encoder == nil || p.Sink == nil {
		return nil, errors.New("streaming: grabber, resizer, encoder and sink are required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("streaming: invalid output size %dx%d", cfg.Width, cfg.Height)
	}
	cfg.setDefaults()
	if p.Monitor == nil {
		p.Monitor = NewPerformanceMonitor(DefaultWindow)
	}
	return &Loop{
		cfg:  cfg,
		p:    p,
		pool: NewBufferPool(cfg.PoolSize, cfg.Width, cfg.Height),
		done: make(chan struct{}),
		minQ: cfg.MinQuality,
		maxQ: cfg.MaxQuality,
	}, nil
}

// Start launches the worker. It must be called once.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	go func() {
		defer close(l.done)
		err := l.run(ctx)
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
	}()
}

// Stop asks the worker to finish and waits up to StopTimeout for it.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
	})
	if l.cancel == nil {
		return nil
	}
	t := time.NewTimer(l.cfg.StopTimeout)
	defer t.Stop()
	select {
	case <-l.done:
		return nil
	case <-t.C:
		return ErrStopTimeout
	}
}

// Done is closed when the worker has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Err is the reason the worker exited: nil after Stop, ctx cancellation or
// the configured duration, otherwise the terminating error.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Sent returns the number of frames delivered to the sink.
func (l *Loop) Sent() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

func (l *Loop) Config() LoopConfig { return l.cfg }
func (l *Loop) Pool() *BufferPool { return l.pool }
func (l *Loop) Monitor() *PerformanceMonitor { return l.p.Monitor }

func (l *Loop) run(ctx context.Context) error {
	log := logging.With(logging.Component("stream"), "stream", l.cfg.Name)
	log.Info("stream started",
		"fps", l.cfg.FPS,
		"width", l.cfg.Width,
		"height", l.cfg.Height,
		"duration", l.cfg.Duration)

	interval := time.Second / time.Duration(l.cfg.FPS)
	start := time.Now()
	timeouts := 0

	for {
		if ctx.Err() != nil {
			log.Info("stream stopped", "frames", l.Sent())
			return nil
		}
		if l.cfg.Duration > 0 && time.Since(start) >= l.cfg.Duration {
			log.Info("stream duration reached", "frames", l.Sent())
			return nil
		}

		began := time.Now()
		src, err := l.p.Grabber.Grab(ctx, l.cfg.GrabTimeout)
		switch {
		case err == nil:
			timeouts = 0
			if err := l.process(src, began); err != nil {
				log.Warn("stream sink failed", logging.Err(err))
				return err
			}
		case ctx.Err() != nil:
			continue
		case isDisconnect(err):
			log.Error("camera lost during stream", logging.Err(err))
			return fmt.Errorf("grab: %w", protocol.CameraDisconnected)
		default:
			timeouts++
			log.Warn("grab failed", logging.Err(err), "consecutive", timeouts)
			if timeouts >= l.cfg.MaxTimeouts {
				log.Error("too many consecutive grab failures, stopping stream", "count", timeouts)
				return fmt.Errorf("%d consecutive grab failures: %w", timeouts, protocol.CameraDisconnected)
			}
		}

		if wait := interval - time.Since(began); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}
}

// process runs one grabbed frame through skip, resize, encode and sink.
// Only sink failures are returned; encode failures drop the frame.
func (l *Loop) process(src image.Image, began time.Time) error {
	l.mu.Lock()
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	if l.cfg.SkipFrames && l.p.Congestion != nil && l.p.Congestion.ShouldSkip(seq) {
		l.p.Monitor.RecordDropped()
		if l.p.OnSkip != nil {
			l.p.OnSkip(seq)
		}
		return nil
	}

	buf := l.pool.AcquireOrCreate()
	l.p.Resizer.Resize(buf, src)

	encStart := time.Now()
	data, err := l.p.Encoder.Encode(buf, l.quality())
	l.pool.Release(buf)
	if err != nil {
		l.p.Monitor.RecordDropped()
		logging.Warn("frame encode failed", logging.Component("stream"), "seq", seq, logging.Err(err))
		return nil
	}
	l.p.Monitor.RecordEncode(time.Since(encStart))

	sendStart := time.Now()
	if err := l.p.Sink(seq, data); err != nil {
		return err
	}
	l.p.Monitor.RecordSend(time.Since(sendStart))
	l.p.Monitor.RecordFrame(time.Since(began))

	l.mu.Lock()
	l.sent++
	l.mu.Unlock()
	return nil
}

// SetQualityBounds changes the clamp applied to dynamic quality from the
// next frame on.
func (l *Loop) SetQualityBounds(lo, hi int) {
	l.mu.Lock()
	l.minQ, l.maxQ = lo, hi
	l.mu.Unlock()
}

func (l *Loop) quality() int {
	if !l.cfg.DynamicQuality || l.p.Congestion == nil {
		return l.cfg.Quality
	}
	q := l.p.Congestion.State().RecommendedQuality
	l.mu.Lock()
	lo, hi := l.minQ, l.maxQ
	l.mu.Unlock()
	return max(lo, min(q, hi))
}

func isDisconnect(err error) bool {
	switch protocol.CodeOf(err) {
	case protocol.CameraDisconnected, protocol.CameraNotConnected:
		return true
	}
	return false
}
