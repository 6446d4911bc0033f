package streaming

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avaropoint/camlink/internal/protocol"
)

type scriptedGrabber struct {
	mu    sync.Mutex
	errs  []error // consumed in order; nil entries yield a frame
	calls int
}

func (g *scriptedGrabber) Grab(ctx context.Context, timeout time.Duration) (image.Image, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	return img, nil
}

type copyResizer struct{}

func (copyResizer) Resize(dst *image.RGBA, src image.Image) {
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x, y, src.At(x, y))
		}
	}
}

type recordingEncoder struct {
	mu        sync.Mutex
	qualities []int
	fail      bool
}

func (e *recordingEncoder) Encode(img image.Image, quality int) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, errors.New("encoder broken")
	}
	e.qualities = append(e.qualities, quality)
	return []byte{0xFF, 0xD8, byte(quality), 0xFF, 0xD9}, nil
}

func testLoopConfig() LoopConfig {
	return LoopConfig{
		Name:        "test",
		FPS:         200,
		Width:       16,
		Height:      12,
		GrabTimeout: 10 * time.Millisecond,
		MaxTimeouts: 3,
		Quality:     80,
		PoolSize:    2,
	}
}

func waitDone(t *testing.T, l *Loop) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not finish")
	}
}

func TestNewLoopValidates(t *testing.T) {
	if _, err := NewLoop(testLoopConfig(), Pipeline{}); err == nil {
		t.Error("expected error for empty pipeline")
	}
	cfg := testLoopConfig()
	cfg.Width = 0
	p := Pipeline{Grabber: &scriptedGrabber{}, Resizer: copyResizer{}, Encoder: &recordingEncoder{}, Sink: func(uint32, []byte) error { return nil }}
	if _, err := NewLoop(cfg, p); err == nil {
		t.Error("expected error for zero width")
	}
}

func TestLoopDeliversUntilStopped(t *testing.T) {
	var got atomic.Int32
	var lastSeq atomic.Uint32
	l, err := NewLoop(testLoopConfig(), Pipeline{
		Grabber: &scriptedGrabber{},
		Resizer: copyResizer{},
		Encoder: &recordingEncoder{},
		Sink: func(seq uint32, data []byte) error {
			got.Add(1)
			lastSeq.Store(seq)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	l.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for got.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got.Load() < 5 {
		t.Fatalf("only %d frames delivered", got.Load())
	}
	if l.Err() != nil {
		t.Errorf("Err() = %v after Stop", l.Err())
	}
	if uint64(got.Load()) != l.Sent() {
		t.Errorf("Sent() = %d, sink saw %d", l.Sent(), got.Load())
	}
	if st := l.Pool().Stats(); st.InUse != 0 {
		t.Errorf("pool has %d buffers in use after stop", st.InUse)
	}
	if l.Monitor().Stats().Total != l.Sent() {
		t.Error("monitor total does not match delivered frames")
	}
}

func TestLoopConsecutiveTimeouts(t *testing.T) {
	timeout := protocol.CameraGrabTimeout
	g := &scriptedGrabber{errs: []error{timeout, nil, timeout, timeout, timeout}}
	l, err := NewLoop(testLoopConfig(), Pipeline{
		Grabber: g,
		Resizer: copyResizer{},
		Encoder: &recordingEncoder{},
		Sink:    func(uint32, []byte) error { return nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	l.Start(context.Background())
	waitDone(t, l)

	if code := protocol.CodeOf(l.Err()); code != protocol.CameraDisconnected {
		t.Fatalf("Err() = %v, want CameraDisconnected", l.Err())
	}
	if l.Sent() != 1 {
		t.Errorf("Sent() = %d, want 1 (the success reset the counter)", l.Sent())
	}
	if g.calls != 5 {
		t.Errorf("grab calls = %d, want 5", g.calls)
	}
}

func TestLoopDisconnectEndsImmediately(t *testing.T) {
	l, _ := NewLoop(testLoopConfig(), Pipeline{
		Grabber: &scriptedGrabber{errs: []error{protocol.CameraNotConnected}},
		Resizer: copyResizer{},
		Encoder: &recordingEncoder{},
		Sink:    func(uint32, []byte) error { return nil },
	})
	l.Start(context.Background())
	waitDone(t, l)
	if !errors.Is(l.Err(), protocol.CameraDisconnected) {
		t.Errorf("Err() = %v", l.Err())
	}
}

func TestLoopDuration(t *testing.T) {
	cfg := testLoopConfig()
	cfg.Duration = 50 * time.Millisecond
	l, _ := NewLoop(cfg, Pipeline{
		Grabber: &scriptedGrabber{},
		Resizer: copyResizer{},
		Encoder: &recordingEncoder{},
		Sink:    func(uint32, []byte) error { return nil },
	})
	l.Start(context.Background())
	waitDone(t, l)
	if l.Err() != nil {
		t.Errorf("Err() = %v after duration", l.Err())
	}
	if l.Sent() == 0 {
		t.Error("no frames delivered before duration elapsed")
	}
}

func TestLoopSinkErrorEnds(t *testing.T) {
	closed := errors.New("session closed")
	l, _ := NewLoop(testLoopConfig(), Pipeline{
		Grabber: &scriptedGrabber{},
		Resizer: copyResizer{},
		Encoder: &recordingEncoder{},
		Sink:    func(uint32, []byte) error { return closed },
	})
	l.Start(context.Background())
	waitDone(t, l)
	if !errors.Is(l.Err(), closed) {
		t.Errorf("Err() = %v", l.Err())
	}
}

func TestLoopEncodeFailureDropsFrame(t *testing.T) {
	cfg := testLoopConfig()
	cfg.Duration = 30 * time.Millisecond
	var delivered atomic.Int32
	l, _ := NewLoop(cfg, Pipeline{
		Grabber: &scriptedGrabber{},
		Resizer: copyResizer{},
		Encoder: &recordingEncoder{fail: true},
		Sink: func(uint32, []byte) error {
			delivered.Add(1)
			return nil
		},
	})
	l.Start(context.Background())
	waitDone(t, l)
	if delivered.Load() != 0 {
		t.Errorf("sink called %d times with a broken encoder", delivered.Load())
	}
	if l.Monitor().Stats().Dropped == 0 {
		t.Error("dropped frames not counted")
	}
}

func TestLoopSkipsAndAdaptsQuality(t *testing.T) {
	cc := NewCongestionController(DefaultCongestionConfig())
	cc.ObserveLatency(200 * time.Millisecond) // level 0.6: skip 1, quality 54

	cfg := testLoopConfig()
	cfg.SkipFrames = true
	cfg.DynamicQuality = true
	enc := &recordingEncoder{}

	var mu sync.Mutex
	var seqs []uint32
	var skipped atomic.Int32
	l, _ := NewLoop(cfg, Pipeline{
		Grabber:    &scriptedGrabber{},
		Resizer:    copyResizer{},
		Encoder:    enc,
		Congestion: cc,
		OnSkip:     func(uint32) { skipped.Add(1) },
		Sink: func(seq uint32, _ []byte) error {
			mu.Lock()
			seqs = append(seqs, seq)
			mu.Unlock()
			return nil
		},
	})
	l.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for skipped.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := l.Stop(); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, s := range seqs {
		if s%2 != 0 {
			t.Errorf("odd sequence %d should have been skipped", s)
		}
	}
	enc.mu.Lock()
	defer enc.mu.Unlock()
	for _, q := range enc.qualities {
		if q != 54 {
			t.Errorf("quality = %d, want 54", q)
		}
	}
}

func TestLoopStopBeforeStart(t *testing.T) {
	l, _ := NewLoop(testLoopConfig(), Pipeline{
		Grabber: &scriptedGrabber{},
		Resizer: copyResizer{},
		Encoder: &recordingEncoder{},
		Sink:    func(uint32, []byte) error { return nil },
	})
	if err := l.Stop(); err != nil {
		t.Errorf("Stop() before Start = %v", err)
	}
}

func TestLoopSetQualityBounds(t *testing.T) {
	cong := NewCongestionController(DefaultCongestionConfig())
	cfg := testLoopConfig()
	cfg.DynamicQuality = true
	l, err := NewLoop(cfg, Pipeline{
		Grabber:    &scriptedGrabber{},
		Resizer:    copyResizer{},
		Encoder:    &recordingEncoder{},
		Sink:       func(uint32, []byte) error { return nil },
		Congestion: cong,
	})
	if err != nil {
		t.Fatal(err)
	}
	if q := l.quality(); q != 80 {
		t.Fatalf("quality = %d, want 80", q)
	}
	l.SetQualityBounds(20, 50)
	if q := l.quality(); q != 50 {
		t.Errorf("quality = %d, want 50 after lowering the ceiling", q)
	}
}
