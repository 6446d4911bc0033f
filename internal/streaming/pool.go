package streaming

import (
	"image"
	"sync"
)

// PoolStats are cumulative BufferPool counters.
type PoolStats struct {
	Size      int `json:"size"`
	Width     int `json:"width"`
	Height    int `json:"height"`
	Available int `json:"available"`
	InUse     int `json:"in_use"`
	Acquires  int `json:"acquires"`
	Releases  int `json:"releases"`
	Misses    int `json:"misses"`
}

// BufferPool holds a fixed set of same-sized RGBA frames so the streaming
// loop can resize into preallocated memory. Exhaustion is never fatal:
// Acquire returns nil and the caller decides whether to allocate.
type BufferPool struct {
	mu        sync.Mutex
	size      int
	w, h      int
	owned     map[*image.RGBA]bool // true while available
	available []*image.RGBA
	stats     PoolStats
}

// NewBufferPool preallocates size frames of w×h.
func NewBufferPool(size, w, h int) *BufferPool {
	p := &BufferPool{}
	p.fill(size, w, h)
	return p
}

func (p *BufferPool) fill(size, w, h int) {
	if size < 0 {
		size = 0
	}
	p.size, p.w, p.h = size, w, h
	p.owned = make(map[*image.RGBA]bool, size)
	p.available = make([]*image.RGBA, 0, size)
	for i := 0; i < size; i++ {
		b := image.NewRGBA(image.Rect(0, 0, w, h))
		p.owned[b] = true
		p.available = append(p.available, b)
	}
}

// Acquire takes a free frame, or returns nil when none is left.
func (p *BufferPool) Acquire() *image.RGBA {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.available)
	if n == 0 {
		p.stats.Misses++
		return nil
	}
	b := p.available[n-1]
	p.available = p.available[:n-1]
	p.owned[b] = false
	p.stats.Acquires++
	return b
}

// AcquireOrCreate falls back to a transient frame that Release will
// refuse.
func (p *BufferPool) AcquireOrCreate() *image.RGBA {
	if b := p.Acquire(); b != nil {
		return b
	}
	p.mu.Lock()
	w, h := p.w, p.h
	p.mu.Unlock()
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

// Release returns b to the pool. It reports false, without side effects,
// for frames the pool does not own or that are already free.
func (p *BufferPool) Release(b *image.RGBA) bool {
	if b == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	free, ok := p.owned[b]
	if !ok || free {
		return false
	}
	p.owned[b] = true
	p.available = append(p.available, b)
	p.stats.Releases++
	return true
}

// Resize discards every frame and reallocates at the new shape. Frames
// handed out before the call are no longer accepted by Release.
func (p *BufferPool) Resize(w, h int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w == p.w && h == p.h {
		return
	}
	p.fill(p.size, w, h)
}

// Clear marks every owned frame available again.
func (p *BufferPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = p.available[:0]
	for b := range p.owned {
		p.owned[b] = true
		p.available = append(p.available, b)
	}
}

// Bounds returns the frame shape.
func (p *BufferPool) Bounds() (w, h int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w, p.h
}

func (p *BufferPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

func (p *BufferPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.owned) - len(p.available)
}

func (p *BufferPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Size, s.Width, s.Height = p.size, p.w, p.h
	s.Available = len(p.available)
	s.InUse = len(p.owned) - len(p.available)
	return s
}
