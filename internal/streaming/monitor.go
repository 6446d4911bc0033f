package streaming

import (
	"sync"
	"time"
)

// TimingStats summarises one window of durations.
type TimingStats struct {
	Avg time.Duration `json:"avg"`
	Max time.Duration `json:"max"`
	Min time.Duration `json:"min"`
}

// PerfStats is a PerformanceMonitor snapshot.
type PerfStats struct {
	FPS     float64     `json:"fps"`
	Frame   TimingStats `json:"frame"`
	Encode  TimingStats `json:"encode"`
	Send    TimingStats `json:"send"`
	Dropped uint64      `json:"dropped"`
	Total   uint64      `json:"total"`
}

// DefaultWindow is the number of samples kept per timing series.
const DefaultWindow = 60

type window struct {
	samples []time.Duration
	next    int
	size    int
}

func (w *window) add(d time.Duration) {
	if len(w.samples) < w.size {
		w.samples = append(w.samples, d)
		return
	}
	w.samples[w.next] = d
	w.next = (w.next + 1) % w.size
}

func (w *window) stats() TimingStats {
	if len(w.samples) == 0 {
		return TimingStats{}
	}
	var s TimingStats
	var sum time.Duration
	s.Min = w.samples[0]
	for _, d := range w.samples {
		sum += d
		s.Max = max(s.Max, d)
		s.Min = min(s.Min, d)
	}
	s.Avg = sum / time.Duration(len(w.samples))
	return s
}

func (w *window) reset() {
	w.samples = w.samples[:0]
	w.next = 0
}

// PerformanceMonitor tracks per-stage timings over a sliding window and an
// fps figure recomputed about once per second.
type PerformanceMonitor struct {
	mu                  sync.Mutex
	frame, encode, send window
	total, dropped      uint64
	fps                 float64
	fpsStart            time.Time
	fpsCount            int
	now                 func() time.Time
}

// NewPerformanceMonitor keeps the last size samples of each series.
func NewPerformanceMonitor(size int) *PerformanceMonitor {
	if size <= 0 {
		size = DefaultWindow
	}
	m := &PerformanceMonitor{
		frame:  window{size: size},
		encode: window{size: size},
		send:   window{size: size},
		now:    time.Now,
	}
	m.fpsStart = m.now()
	return m
}

// RecordFrame counts one processed frame and its total pipeline time.
func (m *PerformanceMonitor) RecordFrame(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.frame.add(d)
	m.total++
	m.fpsCount++

	now := m.now()
	if elapsed := now.Sub(m.fpsStart); elapsed >= time.Second {
		m.fps = float64(m.fpsCount) / elapsed.Seconds()
		m.fpsCount = 0
		m.fpsStart = now
	}
}

func (m *PerformanceMonitor) RecordEncode(d time.Duration) {
	m.mu.Lock()
	m.encode.add(d)
	m.mu.Unlock()
}

func (m *PerformanceMonitor) RecordSend(d time.Duration) {
	m.mu.Lock()
	m.send.add(d)
	m.mu.Unlock()
}

// RecordDropped counts a frame that was grabbed but not delivered.
func (m *PerformanceMonitor) RecordDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func (m *PerformanceMonitor) Stats() PerfStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return PerfStats{
		FPS:     m.fps,
		Frame:   m.frame.stats(),
		Encode:  m.encode.stats(),
		Send:    m.send.stats(),
		Dropped: m.dropped,
		Total:   m.total,
	}
}

func (m *PerformanceMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame.reset()
	m.encode.reset()
	m.send.reset()
	m.total, m.dropped = 0, 0
	m.fps, m.fpsCount = 0, 0
	m.fpsStart = m.now()
}
