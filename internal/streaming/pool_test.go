package streaming

import (
	"image"
	"sync"
	"testing"
)

func TestPoolAcquireRelease(t *testing.T) {
	p := NewBufferPool(2, 64, 48)
	a := p.Acquire()
	b := p.Acquire()
	if a == nil || b == nil || a == b {
		t.Fatal("expected two distinct buffers")
	}
	if a.Bounds().Dx() != 64 || a.Bounds().Dy() != 48 {
		t.Errorf("buffer bounds = %v", a.Bounds())
	}
	if c := p.Acquire(); c != nil {
		t.Error("Acquire() on an empty pool should return nil")
	}
	if st := p.Stats(); st.Misses != 1 || st.InUse != 2 || st.Available != 0 {
		t.Errorf("stats = %+v", st)
	}

	if !p.Release(a) {
		t.Error("Release of an owned buffer failed")
	}
	if p.Release(a) {
		t.Error("double Release should be rejected")
	}
	if p.Release(image.NewRGBA(image.Rect(0, 0, 64, 48))) {
		t.Error("foreign buffer should be rejected")
	}
	if p.Release(nil) {
		t.Error("nil buffer should be rejected")
	}
	if p.Available() != 1 || p.InUse() != 1 {
		t.Errorf("Available/InUse = %d/%d", p.Available(), p.InUse())
	}
}

func TestPoolAcquireOrCreate(t *testing.T) {
	p := NewBufferPool(1, 8, 8)
	owned := p.AcquireOrCreate()
	extra := p.AcquireOrCreate()
	if extra == nil || extra == owned {
		t.Fatal("expected a transient buffer")
	}
	if p.Release(extra) {
		t.Error("transient buffer should not be accepted")
	}
	if !p.Release(owned) {
		t.Error("owned buffer should be accepted")
	}
}

func TestPoolResize(t *testing.T) {
	p := NewBufferPool(3, 16, 16)
	old := p.Acquire()
	p.Resize(32, 8)

	if w, h := p.Bounds(); w != 32 || h != 8 {
		t.Errorf("Bounds() = %dx%d", w, h)
	}
	if p.Available() != 3 {
		t.Errorf("Available() = %d after resize", p.Available())
	}
	if p.Release(old) {
		t.Error("buffer from before the resize should be rejected")
	}
	if b := p.Acquire(); b.Bounds().Dx() != 32 {
		t.Errorf("new buffer bounds = %v", b.Bounds())
	}
}

func TestPoolClear(t *testing.T) {
	p := NewBufferPool(2, 4, 4)
	p.Acquire()
	p.Acquire()
	p.Clear()
	if p.Available() != 2 || p.InUse() != 0 {
		t.Errorf("Available/InUse = %d/%d after Clear", p.Available(), p.InUse())
	}
}

func TestPoolConcurrent(t *testing.T) {
	p := NewBufferPool(4, 4, 4)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if b := p.Acquire(); b != nil {
					p.Release(b)
				}
			}
		}()
	}
	wg.Wait()
	if p.Available() != 4 {
		t.Errorf("Available() = %d, want 4", p.Available())
	}
}
