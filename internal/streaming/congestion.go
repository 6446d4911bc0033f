// Package streaming drives the adaptive preview and record pipelines: the
// congestion controller that turns send latency and backlog into a JPEG
// quality and a frame-skip cadence, the frame buffer pool, the performance
// monitor and the paced grab/encode loop that ties them together.
package streaming

import (
	"fmt"
	"sync"
	"time"
)

// CongestionConfig tunes a CongestionController.
type CongestionConfig struct {
	LatencyThreshold time.Duration
	QueueThreshold   int
	HistorySize      int
	MinQuality       int
	MaxQuality       int
	// InitialQuality is reported before the first measurement.
	InitialQuality int
	// PendingTTL bounds how long an unacknowledged send is remembered.
	PendingTTL time.Duration
}

// DefaultCongestionConfig returns the stock thresholds.
func DefaultCongestionConfig() CongestionConfig {
	return CongestionConfig{
		LatencyThreshold: 100 * time.Millisecond,
		QueueThreshold:   5,
		HistorySize:      30,
		MinQuality:       30,
		MaxQuality:       90,
		InitialQuality:   80,
		PendingTTL:       5 * time.Second,
	}
}

// CongestionState is a snapshot of the controller's view of the link.
type CongestionState struct {
	Level              float64       `json:"level"`
	RecommendedQuality int           `json:"recommended_quality"`
	RecommendedSkip    int           `json:"recommended_skip"`
	QueueDepth         int           `json:"queue_depth"`
	AvgLatency         time.Duration `json:"avg_latency"`
	IsCongested        bool          `json:"is_congested"`
}

// CongestionController blends average send latency and send-queue depth
// into a congestion level in [0, 1]:
//
//	level   = 0.6*min(1, avg/LatencyThreshold) + 0.4*min(1, depth/QueueThreshold)
//	quality = int(MaxQuality - level*(MaxQuality-MinQuality))
//	skip    = 2 above 0.8, 1 above 0.5, else 0
//
// It is safe for concurrent use.
type CongestionController struct {
	mu      sync.Mutex
	cfg     CongestionConfig
	history []time.Duration // ring of the last HistorySize latencies
	next    int
	pending map[uint32]time.Time
	state   CongestionState
	now     func() time.Time
}

// NewCongestionController returns a controller with no history.
func NewCongestionController(cfg CongestionConfig) *CongestionController {
	def := DefaultCongestionConfig()
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = def.LatencyThreshold
	}
	if cfg.QueueThreshold <= 0 {
		cfg.QueueThreshold = def.QueueThreshold
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.MaxQuality <= 0 {
		cfg.MaxQuality = def.MaxQuality
	}
	if cfg.MinQuality <= 0 || cfg.MinQuality > cfg.MaxQuality {
		cfg.MinQuality = min(def.MinQuality, cfg.MaxQuality)
	}
	if cfg.InitialQuality <= 0 {
		cfg.InitialQuality = def.InitialQuality
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = def.PendingTTL
	}

	c := &CongestionController{cfg: cfg, now: time.Now}
	c.resetLocked()
	return c
}

// RecordSend remembers when seq was handed to the transport and forgets
// sends older than PendingTTL that were never acknowledged.
func (c *CongestionController) RecordSend(seq uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pending[seq] = now
	for k, t := range c.pending {
		if now.Sub(t) > c.cfg.PendingTTL {
			delete(c.pending, k)
		}
	}
}

// RecordAck closes out seq and returns its latency. Unknown sequence
// numbers are ignored and report ok == false.
func (c *CongestionController) RecordAck(seq uint32) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sent, ok := c.pending[seq]
	if !ok {
		return 0, false
	}
	delete(c.pending, seq)

	lat := c.now().Sub(sent)
	if lat < 0 {
		lat = 0
	}
	c.observeLocked(lat)
	return lat, true
}

// ObserveLatency feeds a latency measured elsewhere.
func (c *CongestionController) ObserveLatency(lat time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observeLocked(lat)
}

// UpdateQueueDepth records the current send-queue backlog.
func (c *CongestionController) UpdateQueueDepth(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 {
		n = 0
	}
	c.state.QueueDepth = n
	c.updateLocked()
}

// State returns a copy of the current state.
func (c *CongestionController) State() CongestionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ShouldSkip reports whether frame seq should be dropped under the current
// skip recommendation. With skip N only every (N+1)th sequence is kept.
func (c *CongestionController) ShouldSkip(seq uint32) bool {
	c.mu.Lock()
	skip := c.state.RecommendedSkip
	c.mu.Unlock()
	return skipFrame(seq, skip)
}

// SetQualityBounds replaces the quality range and recomputes the
// recommendation. lo must be in 1..hi and hi at most 100.
func (c *CongestionController) SetQualityBounds(lo, hi int) error {
	if lo < 1 || hi > 100 || lo > hi {
		return fmt.Errorf("invalid quality bounds %d..%d", lo, hi)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.MinQuality, c.cfg.MaxQuality = lo, hi
	if len(c.history) == 0 && c.state.QueueDepth == 0 {
		c.state.RecommendedQuality = max(lo, min(c.cfg.InitialQuality, hi))
		return nil
	}
	c.updateLocked()
	return nil
}

// QualityBounds returns the current quality range.
func (c *CongestionController) QualityBounds() (lo, hi int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.MinQuality, c.cfg.MaxQuality
}

// Pending returns the number of unacknowledged sends.
func (c *CongestionController) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Reset drops all history and pending sends.
func (c *CongestionController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *CongestionController) resetLocked() {
	c.history = c.history[:0]
	c.next = 0
	c.pending = make(map[uint32]time.Time)
	c.state = CongestionState{RecommendedQuality: c.cfg.InitialQuality}
}

func (c *CongestionController) observeLocked(lat time.Duration) {
	if len(c.history) < c.cfg.HistorySize {
		c.history = append(c.history, lat)
	} else {
		c.history[c.next] = lat
		c.next = (c.next + 1) % c.cfg.HistorySize
	}
	c.updateLocked()
}

func (c *CongestionController) updateLocked() {
	var avg time.Duration
	if n := len(c.history); n > 0 {
		var sum time.Duration
		for _, l := range c.history {
			sum += l
		}
		avg = sum / time.Duration(n)
	}

	latencyFactor := min(1, float64(avg)/float64(c.cfg.LatencyThreshold))
	queueFactor := min(1, float64(c.state.QueueDepth)/float64(c.cfg.QueueThreshold))
	level := 0.6*latencyFactor + 0.4*queueFactor

	c.state.AvgLatency = avg
	c.state.Level = level
	c.state.IsCongested = level > 0.5
	c.state.RecommendedQuality = qualityFor(level, c.cfg.MinQuality, c.cfg.MaxQuality)
	c.state.RecommendedSkip = skipFor(level)
}

func qualityFor(level float64, lo, hi int) int {
	return int(float64(hi) - level*float64(hi-lo))
}

func skipFor(level float64) int {
	switch {
	case level > 0.8:
		return 2
	case level > 0.5:
		return 1
	}
	return 0
}

func skipFrame(seq uint32, skip int) bool {
	return skip > 0 && seq%uint32(skip+1) != 0
}
