// Package server is the device-side TCP endpoint. It accepts controller
// clients, arbitrates which one may operate the camera, dispatches
// commands through a static handler table and runs the preview and record
// streams.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/avaropoint/camlink/internal/config"
	"github.com/avaropoint/camlink/internal/device"
	"github.com/avaropoint/camlink/internal/logging"
	"github.com/avaropoint/camlink/internal/metrics"
	"github.com/avaropoint/camlink/internal/protocol"
	"github.com/avaropoint/camlink/internal/reconnect"
	"github.com/avaropoint/camlink/internal/store"
	"github.com/avaropoint/camlink/internal/streaming"
	"github.com/avaropoint/camlink/internal/util"
)

const (
	readChunk    = 8 << 10
	socketBuffer = 64 << 10
)

// PreviewOptions tunes the preview stream.
type PreviewOptions struct {
	Quality        int
	MinQuality     int
	MaxQuality     int
	PoolSize       int
	SkipFrames     bool
	DynamicQuality bool
}

// Options configures a Server.
type Options struct {
	Addr              string
	HeartbeatTimeout  time.Duration
	BroadcastInterval time.Duration
	MaxClients        int
	AcceptRate        float64
	AcceptBurst       int
	SendQueue         int
	WriteTimeout      time.Duration
	GrabTimeout       time.Duration
	RecordQuality     int
	Preview           PreviewOptions
	Reconnect         reconnect.Config
}

// OptionsFrom maps the YAML configuration onto server options.
func OptionsFrom(c *config.Config) Options {
	return Options{
		Addr:              c.Server.Addr(),
		HeartbeatTimeout:  c.Server.HeartbeatTimeout.Std(),
		BroadcastInterval: c.Server.BroadcastInterval.Std(),
		MaxClients:        c.Server.MaxClients,
		AcceptRate:        c.Server.AcceptRate,
		AcceptBurst:       c.Server.AcceptBurst,
		SendQueue:         c.Server.SendQueue,
		WriteTimeout:      c.Server.WriteTimeout.Std(),
		GrabTimeout:       c.Camera.GrabTimeout.Std(),
		RecordQuality:     c.Storage.JPEGQuality,
		Preview: PreviewOptions{
			Quality:        c.Preview.JPEGQuality,
			MinQuality:     c.Preview.MinQuality,
			MaxQuality:     c.Preview.MaxQuality,
			PoolSize:       c.Preview.BufferPoolSize,
			SkipFrames:     c.Preview.SkipFrames,
			DynamicQuality: c.Preview.DynamicQuality,
		},
		Reconnect: reconnect.Config{
			Interval:    c.Camera.ReconnectInterval.Std(),
			MaxAttempts: c.Camera.ReconnectMaxAttempts,
		},
	}
}

func (o *Options) setDefaults() {
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 30 * time.Second
	}
	if o.BroadcastInterval <= 0 {
		o.BroadcastInterval = time.Second
	}
	if o.MaxClients <= 0 {
		o.MaxClients = 5
	}
	if o.AcceptRate <= 0 {
		o.AcceptRate = 20
	}
	if o.AcceptBurst <= 0 {
		o.AcceptBurst = 10
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 100
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.GrabTimeout <= 0 {
		o.GrabTimeout = 5 * time.Second
	}
	if o.RecordQuality <= 0 {
		o.RecordQuality = 95
	}
	if o.Reconnect.Interval <= 0 {
		o.Reconnect = reconnect.DefaultConfig()
	}
}

// Archiver accepts saved media for off-site upload.
type Archiver interface {
	Enqueue(m store.MediaRecord) bool
}

// FrameObserver receives a copy of every preview JPEG.
type FrameObserver interface {
	Publish(jpeg []byte)
}

// Deps are the server's collaborators. Camera may be nil, in which case
// every camera command fails with CameraNotConnected. Store, Metrics,
// Archive and Observer are optional.
type Deps struct {
	Camera   device.Camera
	Storage  device.Storage
	Encoder  streaming.Encoder
	Resizer  streaming.Resizer
	Store    store.Store
	Metrics  *metrics.Collector
	Archive  Archiver
	Observer FrameObserver
}

// Server owns the listener, the session registry and the active streams.
type Server struct {
	opts     Options
	deps     Deps
	registry *Registry
	handlers map[protocol.Command]handlerFunc
	tracer   trace.Tracer
	limiter  *rate.Limiter
	link     *reconnect.Supervisor
	cong     *streaming.CongestionController
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	ln        net.Listener
	capturing bool
	preview   *streaming.Loop
	record    *recording
	cameraUp  bool
	closed    bool

	// recordOpening is set while RECORD_START creates its file.
	recordOpening bool
}

// New builds a server. Call Serve or ListenAndServe to start it.
func New(opts Options, deps Deps) *Server {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:     opts,
		deps:     deps,
		registry: NewRegistry(),
		tracer:   otel.Tracer("github.com/avaropoint/camlink/internal/server"),
		limiter:  rate.NewLimiter(rate.Limit(opts.AcceptRate), opts.AcceptBurst),
		cong: streaming.NewCongestionController(streaming.CongestionConfig{
			MinQuality: opts.Preview.MinQuality,
			MaxQuality: opts.Preview.MaxQuality,
		}),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	s.handlers = s.handlerTable()
	if deps.Camera != nil {
		s.cameraUp = deps.Camera.Connected()
		s.link = reconnect.New("camera", opts.Reconnect, deps.Camera, s)
	}
	deps.Metrics.SetCameraConnected(s.cameraUp)
	return s
}

// Registry exposes the live sessions.
func (s *Server) Registry() *Registry { return s.registry }

// Congestion exposes the preview congestion controller.
func (s *Server) Congestion() *streaming.CongestionController { return s.cong }

// SetPreviewQuality changes the dynamic quality range of the congestion
// controller, of the running preview and of previews started later.
func (s *Server) SetPreviewQuality(lo, hi int) error {
	if err := s.cong.SetQualityBounds(lo, hi); err != nil {
		return err
	}
	s.mu.Lock()
	s.opts.Preview.MinQuality, s.opts.Preview.MaxQuality = lo, hi
	loop := s.preview
	s.mu.Unlock()
	if loop != nil {
		loop.SetQualityBounds(lo, hi)
	}
	logging.Info("preview quality bounds changed", logging.Component("preview"), "min", lo, "max", hi)
	return nil
}

// ListenAndServe listens on Options.Addr and serves until ctx is done or
// Close is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close() //nolint:errcheck
		case <-s.ctx.Done():
		}
	}()
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close. It starts the broadcast
// loop and returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close() //nolint:errcheck
		return net.ErrClosed
	}
	s.ln = ln
	s.mu.Unlock()

	logging.Info("server listening", logging.Component("server"), "addr", ln.Addr().String())
	util.GoTracked(&s.wg, "broadcast", s.broadcastLoop)

	for {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return nil
		}
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logging.Warn("accept failed", logging.Component("server"), logging.Err(err))
			continue
		}
		s.accept(conn)
	}
}

// Addr is the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) accept(conn net.Conn) {
	log := logging.With(logging.Component("server"), logging.Remote(conn.RemoteAddr().String()))
	if s.registry.Len() >= s.opts.MaxClients {
		log.Warn("client rejected, server full", "max_clients", s.opts.MaxClients)
		conn.Close() //nolint:errcheck
		return
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetReadBuffer(socketBuffer)
		_ = tcp.SetWriteBuffer(socketBuffer)
	}

	sess := newSession(conn, s.opts.SendQueue, s.now())
	controller := s.registry.Add(sess)
	s.deps.Metrics.SessionOpened()
	log.Info("client connected", logging.SessionID(sess.ID), "role", sess.Role().String(), "clients", s.registry.Len())

	if s.deps.Store != nil {
		rec := &store.SessionRecord{ID: sess.ID, Remote: sess.Remote, ConnectedAt: sess.ConnectedAt, WasController: controller}
		if err := s.deps.Store.OpenSession(s.ctx, rec); err != nil {
			log.Warn("failed to record session", logging.Err(err))
		}
	}

	util.GoTracked(&s.wg, "session-writer", func() { sess.writeLoop(s.opts.WriteTimeout) })
	util.GoTracked(&s.wg, "session-reader", func() { s.readLoop(sess) })
}

// readLoop feeds the decoder and dispatches frames in arrival order. A
// silent peer is disconnected after HeartbeatTimeout.
func (s *Server) readLoop(sess *Session) {
	defer s.drop(sess)

	buf := make([]byte, readChunk)
	var last protocol.DecoderStats
	for {
		sess.conn.SetReadDeadline(s.now().Add(s.opts.HeartbeatTimeout)) //nolint:errcheck
		n, err := sess.conn.Read(buf)
		if n > 0 {
			frames := sess.decoder.Feed(buf[:n])
			st := sess.decoder.Stats()
			s.deps.Metrics.Decoded(int(st.Frames-last.Frames), int(st.Resyncs-last.Resyncs))
			last = st
			for _, f := range frames {
				s.handleFrame(sess, f)
			}
		}
		if err != nil {
			sess.Close(readCloseReason(err))
			return
		}
	}
}

func readCloseReason(err error) string {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
		return "closed by peer"
	case errors.As(err, &ne) && ne.Timeout(), errors.Is(err, os.ErrDeadlineExceeded):
		return "heartbeat timeout"
	case errors.Is(err, net.ErrClosed):
		return "closed"
	}
	return "read failed: " + err.Error()
}

func (s *Server) handleFrame(sess *Session, f protocol.Frame) {
	if !protocol.Compatible(f.Version) {
		logging.Warn("incompatible protocol version",
			logging.Component("server"),
			logging.SessionID(sess.ID),
			"version", protocol.FormatVersion(f.Version))
		sess.Send(protocol.Failure(f.Command, protocol.ProtocolVersionMismatch))
		return
	}
	sess.touch(s.now())
	s.dispatch(s.ctx, sess, f)
}

// drop removes a finished session and hands control to the oldest
// remaining one.
func (s *Server) drop(sess *Session) {
	next, wasController := s.registry.Remove(sess)
	s.deps.Metrics.SessionClosed()

	reason := sess.closeReason()
	log := logging.With(logging.Component("server"), logging.SessionID(sess.ID))
	log.Info("client disconnected", "reason", reason, "clients", s.registry.Len())

	if wasController && next != nil {
		s.deps.Metrics.Handover()
		log.Info("controller handover", "new_controller", next.ID)
	}

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.CloseSession(ctx, sess.ID, s.now(), wasController, reason); err != nil {
			log.Warn("failed to close session record", logging.Err(err))
		}
	}
}

// Status is the current device bitmask.
func (s *Server) Status() protocol.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st protocol.Status
	if s.cameraUp {
		st |= protocol.StatusConnected
	}
	if s.capturing {
		st |= protocol.StatusCapturing
	}
	if s.record != nil {
		st |= protocol.StatusRecording
	}
	if s.preview != nil {
		st |= protocol.StatusPreviewing
	}
	return st
}

// broadcastLoop sends the status to every session once per interval,
// evicts silent sessions and watches the camera link.
func (s *Server) broadcastLoop() {
	t := time.NewTicker(s.opts.BroadcastInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.checkCamera()
			s.broadcast(protocol.StatusReport(s.Status()))
			s.evictStale()
		}
	}
}

func (s *Server) broadcast(frame []byte) {
	for _, sess := range s.registry.Snapshot() {
		if !sess.Stream(frame) {
			s.deps.Metrics.QueueDropped()
		}
	}
}

func (s *Server) evictStale() {
	cutoff := s.now().Add(-s.opts.HeartbeatTimeout)
	for _, sess := range s.registry.Snapshot() {
		if sess.LastHeartbeat().Before(cutoff) {
			sess.Close("heartbeat timeout")
		}
	}
}

// Close stops accepting, closes every session, stops the streams and the
// camera supervisor and waits for all workers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	s.mu.Unlock()

	s.cancel()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, sess := range s.registry.Snapshot() {
		sess.Close("server shutdown")
	}
	s.stopStreams()
	if s.link != nil {
		s.link.Stop()
	}
	s.wg.Wait()
	return err
}
