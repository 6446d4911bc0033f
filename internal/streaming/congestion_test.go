package streaming

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestController() (*CongestionController, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewCongestionController(DefaultCongestionConfig())
	c.now = clk.now
	return c, clk
}

func TestCongestionInitialState(t *testing.T) {
	c, _ := newTestController()
	s := c.State()
	if s.Level != 0 || s.RecommendedSkip != 0 || s.RecommendedQuality != 80 || s.IsCongested {
		t.Errorf("initial state = %+v", s)
	}
}

func TestCongestionFormula(t *testing.T) {
	tests := []struct {
		name        string
		latency     time.Duration
		depth       int
		wantLevel   float64
		wantQuality int
		wantSkip    int
	}{
		{"idle", 0, 0, 0, 90, 0},
		{"half_latency", 50 * time.Millisecond, 0, 0.3, 72, 0},
		{"full_latency", 200 * time.Millisecond, 0, 0.6, 54, 1},
		{"full_queue", 0, 10, 0.4, 66, 0},
		{"saturated", time.Second, 5, 1.0, 30, 2},
		{"mixed", 100 * time.Millisecond, 3, 0.84, 39, 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCongestionController(DefaultCongestionConfig())
			c.ObserveLatency(tc.latency)
			c.UpdateQueueDepth(tc.depth)
			s := c.State()
			if diff := s.Level - tc.wantLevel; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Level = %v, want %v", s.Level, tc.wantLevel)
			}
			if s.RecommendedQuality != tc.wantQuality {
				t.Errorf("RecommendedQuality = %d, want %d", s.RecommendedQuality, tc.wantQuality)
			}
			if s.RecommendedSkip != tc.wantSkip {
				t.Errorf("RecommendedSkip = %d, want %d", s.RecommendedSkip, tc.wantSkip)
			}
			if s.IsCongested != (tc.wantLevel > 0.5) {
				t.Errorf("IsCongested = %v at level %v", s.IsCongested, s.Level)
			}
		})
	}
}

func TestCongestionMonotonic(t *testing.T) {
	for _, depth := range []int{0, 2, 5} {
		prevLevel := -1.0
		prevQuality := 101
		for ms := 0; ms <= 300; ms += 5 {
			c := NewCongestionController(DefaultCongestionConfig())
			c.UpdateQueueDepth(depth)
			c.ObserveLatency(time.Duration(ms) * time.Millisecond)
			s := c.State()
			if s.Level < prevLevel {
				t.Fatalf("depth %d: level fell from %v to %v at %dms", depth, prevLevel, s.Level, ms)
			}
			if s.RecommendedQuality > prevQuality {
				t.Fatalf("depth %d: quality rose from %d to %d at %dms", depth, prevQuality, s.RecommendedQuality, ms)
			}
			prevLevel, prevQuality = s.Level, s.RecommendedQuality
		}
	}
}

func TestCongestionSendAck(t *testing.T) {
	c, clk := newTestController()
	c.RecordSend(7)
	clk.advance(40 * time.Millisecond)

	lat, ok := c.RecordAck(7)
	if !ok || lat != 40*time.Millisecond {
		t.Fatalf("RecordAck(7) = (%v, %v)", lat, ok)
	}
	if s := c.State(); s.AvgLatency != 40*time.Millisecond {
		t.Errorf("AvgLatency = %v", s.AvgLatency)
	}
	if _, ok := c.RecordAck(7); ok {
		t.Error("second ack for the same sequence should be ignored")
	}
	if _, ok := c.RecordAck(99); ok {
		t.Error("ack for unknown sequence should be ignored")
	}
}

func TestCongestionPurgesStaleSends(t *testing.T) {
	c, clk := newTestController()
	c.RecordSend(1)
	c.RecordSend(2)
	clk.advance(6 * time.Second)
	c.RecordSend(3)

	if got := c.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
	if _, ok := c.RecordAck(1); ok {
		t.Error("expired send should not be acknowledged")
	}
}

func TestCongestionHistoryWindow(t *testing.T) {
	c := NewCongestionController(DefaultCongestionConfig())
	for i := 0; i < 30; i++ {
		c.ObserveLatency(time.Second)
	}
	for i := 0; i < 30; i++ {
		c.ObserveLatency(0)
	}
	if s := c.State(); s.AvgLatency != 0 || s.Level != 0 {
		t.Errorf("old samples not evicted: %+v", s)
	}
}

func TestSkipCadence(t *testing.T) {
	c := NewCongestionController(DefaultCongestionConfig())
	c.ObserveLatency(200 * time.Millisecond) // level 0.6, skip 1
	if s := c.State(); s.RecommendedSkip != 1 {
		t.Fatalf("RecommendedSkip = %d, want 1", s.RecommendedSkip)
	}
	for seq := uint32(1); seq <= 20; seq++ {
		want := seq%2 != 0
		if got := c.ShouldSkip(seq); got != want {
			t.Errorf("ShouldSkip(%d) = %v, want %v", seq, got, want)
		}
	}

	c.UpdateQueueDepth(5) // level 1.0, skip 2
	kept := 0
	for seq := uint32(1); seq <= 30; seq++ {
		if !c.ShouldSkip(seq) {
			kept++
		}
	}
	if kept != 10 {
		t.Errorf("skip 2 kept %d of 30 frames, want 10", kept)
	}
}

func TestCongestionReset(t *testing.T) {
	c := NewCongestionController(DefaultCongestionConfig())
	c.ObserveLatency(time.Second)
	c.UpdateQueueDepth(9)
	c.RecordSend(1)
	c.Reset()

	if s := c.State(); s.Level != 0 || s.QueueDepth != 0 || s.RecommendedQuality != 80 {
		t.Errorf("state after Reset = %+v", s)
	}
	if c.Pending() != 0 {
		t.Error("pending sends survived Reset")
	}
}

func TestCongestionSetQualityBounds(t *testing.T) {
	c, _ := newTestController()
	for _, b := range [][2]int{{0, 50}, {60, 50}, {40, 101}} {
		if err := c.SetQualityBounds(b[0], b[1]); err == nil {
			t.Errorf("SetQualityBounds(%d, %d) accepted", b[0], b[1])
		}
	}
	if lo, hi := c.QualityBounds(); lo != 30 || hi != 90 {
		t.Fatalf("rejected bounds changed the range to %d..%d", lo, hi)
	}

	if err := c.SetQualityBounds(40, 60); err != nil {
		t.Fatal(err)
	}
	if q := c.State().RecommendedQuality; q != 60 {
		t.Errorf("idle quality = %d, want initial 80 clamped to 60", q)
	}

	c.ObserveLatency(time.Second)
	c.UpdateQueueDepth(10)
	if q := c.State().RecommendedQuality; q != 40 {
		t.Errorf("saturated quality = %d, want new floor 40", q)
	}
}
