// Package reconnect restores a dropped link with a bounded number of
// fixed-interval attempts. The same supervisor serves the device link on
// the server and the TCP link in the controller client.
package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/avaropoint/camlink/internal/logging"
)

// Link is the connection being supervised.
type Link interface {
	Connected() bool
	Connect(ctx context.Context) error
}

// Observer is told about the outcome of a recovery. Each method is called
// at most once per recovery cycle, from the supervisor's goroutine.
type Observer interface {
	Reconnected(attempts int)
	ReconnectFailed(attempts int, err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnReconnected func(attempts int)
	OnFailed      func(attempts int, err error)
}

func (o ObserverFuncs) Reconnected(attempts int) {
	if o.OnReconnected != nil {
		o.OnReconnected(attempts)
	}
}

func (o ObserverFuncs) ReconnectFailed(attempts int, err error) {
	if o.OnFailed != nil {
		o.OnFailed(attempts, err)
	}
}

// Config controls the retry cadence.
type Config struct {
	Interval time.Duration
	// MaxAttempts stops the supervisor after this many consecutive
	// failures. Zero retries forever.
	MaxAttempts int
}

// DefaultConfig retries every 5s, ten times.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, MaxAttempts: 10}
}

// State is a snapshot of a supervisor.
type State struct {
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	Interval    time.Duration `json:"interval"`
	Running     bool          `json:"running"`
	Exhausted   bool          `json:"exhausted"`
}

// Supervisor runs at most one recovery loop at a time. After MaxAttempts
// failures it refuses further triggers until Rearm is called.
type Supervisor struct {
	name string
	cfg  Config
	link Link
	obs  Observer

	mu        sync.Mutex
	attempts  int
	running   bool
	exhausted bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New returns an idle supervisor. obs may be nil.
func New(name string, cfg Config, link Link, obs Observer) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if obs == nil {
		obs = ObserverFuncs{}
	}
	return &Supervisor{name: name, cfg: cfg, link: link, obs: obs}
}

// Trigger starts a recovery loop. It reports false when a loop is already
// running, the supervisor is exhausted or ctx is already done.
func (s *Supervisor) Trigger(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.exhausted || ctx.Err() != nil {
		return false
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	return true
}

// Rearm clears the exhausted flag and the attempt counter.
func (s *Supervisor) Rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exhausted = false
	s.attempts = 0
}

// Stop cancels a running loop and waits for it to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// State returns the current counters.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Attempts:    s.attempts,
		MaxAttempts: s.cfg.MaxAttempts,
		Interval:    s.cfg.Interval,
		Running:     s.running,
		Exhausted:   s.exhausted,
	}
}

func (s *Supervisor) run(ctx context.Context) {
	log := logging.With(logging.Component("reconnect"), "link", s.name)
	defer func() {
		s.mu.Lock()
		s.running = false
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	log.Info("reconnect loop started", "interval", s.cfg.Interval, "max_attempts", s.cfg.MaxAttempts)
	t := time.NewTimer(s.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("reconnect loop cancelled")
			return
		case <-t.C:
		}

		if s.link.Connected() {
			s.mu.Lock()
			s.attempts = 0
			s.mu.Unlock()
			log.Info("link already restored")
			return
		}

		s.mu.Lock()
		s.attempts++
		n := s.attempts
		s.mu.Unlock()

		log.Info("reconnecting", "attempt", n)
		err := s.link.Connect(ctx)
		if err == nil {
			s.mu.Lock()
			s.attempts = 0
			s.mu.Unlock()
			log.Info("reconnected", "attempts", n)
			s.obs.Reconnected(n)
			return
		}
		if ctx.Err() != nil {
			return
		}

		log.Warn("reconnect attempt failed", "attempt", n, logging.Err(err))
		if s.cfg.MaxAttempts > 0 && n >= s.cfg.MaxAttempts {
			s.mu.Lock()
			s.exhausted = true
			s.mu.Unlock()
			log.Error("reconnect attempts exhausted", "attempts", n)
			s.obs.ReconnectFailed(n, err)
			return
		}
		t.Reset(s.cfg.Interval)
	}
}
