package server

import (
	"context"
	"fmt"
	"time"

	"github.com/avaropoint/camlink/internal/device"
	"github.com/avaropoint/camlink/internal/logging"
	"github.com/avaropoint/camlink/internal/protocol"
	"github.com/avaropoint/camlink/internal/reconnect"
	"github.com/avaropoint/camlink/internal/store"
	"github.com/avaropoint/camlink/internal/streaming"
)

// recording is an active RECORD_START stream.
type recording struct {
	loop     *streaming.Loop
	filename string
}

func (s *Server) handleCapture(ctx context.Context, sess *Session, _ []byte) error {
	cam, err := s.connectedCamera()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.recordingLocked() {
		s.mu.Unlock()
		return protocol.StateRecording
	}
	s.capturing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.capturing = false
		s.mu.Unlock()
	}()

	img, err := cam.Grab(ctx, s.opts.GrabTimeout)
	if err != nil {
		return fmt.Errorf("grab: %w", err)
	}
	media, err := s.deps.Storage.Save(img)
	if err != nil {
		return fmt.Errorf("save image: %v: %w", err, protocol.CodeOr(err, protocol.FileCreateFailed))
	}

	logging.Info("image captured", logging.Component("capture"), "file", media.Filename, "size", media.Size)
	sess.Send(protocol.Success(protocol.CmdCaptureSingle))
	sess.Send(protocol.CaptureComplete(media.Filename))
	s.mediaSaved(media)
	return nil
}

func (s *Server) handleRecordStart(_ context.Context, sess *Session, p []byte) error {
	cam, err := s.connectedCamera()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.recordingLocked() {
		s.mu.Unlock()
		return protocol.StateRecording
	}
	if s.capturing {
		s.mu.Unlock()
		return protocol.StateCapturing
	}
	req, err := protocol.ParseRecordStart(p)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	// Reserve the slot; the file is created without the lock held.
	s.recordOpening = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.recordOpening = false
		s.mu.Unlock()
	}()

	res := protocol.RecordResolution(req.ResIndex)
	fps := protocol.ClampFPS(int(req.FPS), 1, 30)
	name, err := s.deps.Storage.OpenVideo(fps, res.Width, res.Height)
	if err != nil {
		return fmt.Errorf("open video: %v: %w", err, protocol.CodeOr(err, protocol.VideoWriterInitFailed))
	}

	loop, err := streaming.NewLoop(streaming.LoopConfig{
		Name:        "record",
		FPS:         fps,
		Width:       res.Width,
		Height:      res.Height,
		GrabTimeout: s.opts.GrabTimeout,
		Quality:     s.opts.RecordQuality,
		Duration:    req.Length(),
	}, streaming.Pipeline{
		Grabber: cam,
		Resizer: s.deps.Resizer,
		Encoder: s.deps.Encoder,
		Sink: func(_ uint32, jpeg []byte) error {
			return s.deps.Storage.WriteFrame(jpeg)
		},
	})
	if err != nil {
		s.deps.Storage.CloseVideo() //nolint:errcheck
		return fmt.Errorf("record loop: %v: %w", err, protocol.UnknownError)
	}

	rec := &recording{loop: loop, filename: name}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.deps.Storage.CloseVideo() //nolint:errcheck
		return fmt.Errorf("server closed: %w", protocol.UnknownError)
	}
	s.record = rec
	s.recordOpening = false
	sess.Send(protocol.Success(protocol.CmdRecordStart))
	loop.Start(s.ctx)
	s.wg.Add(1)
	go s.finishRecording(rec)
	s.mu.Unlock()

	logging.Info("recording started",
		logging.Component("record"),
		"file", name,
		"fps", fps,
		"width", res.Width,
		"height", res.Height,
		"duration", req.Length())
	return nil
}

// recordingLocked reports whether a recording is running or being opened.
// s.mu must be held.
func (s *Server) recordingLocked() bool {
	return s.record != nil || s.recordOpening
}

// finishRecording waits for the record loop, closes the video and tells
// whoever is controller at that moment.
func (s *Server) finishRecording(rec *recording) {
	defer s.wg.Done()
	<-rec.loop.Done()

	log := logging.With(logging.Component("record"), "file", rec.filename)
	if err := rec.loop.Err(); err != nil {
		log.Warn("recording ended early", logging.Err(err))
	}
	media, err := s.deps.Storage.CloseVideo()

	s.mu.Lock()
	if s.record == rec {
		s.record = nil
	}
	s.mu.Unlock()

	if err != nil {
		log.Error("failed to close video", logging.Err(err))
		return
	}
	log.Info("recording complete", "frames", media.Frames, "size", media.Size)
	if ctrl := s.registry.Controller(); ctrl != nil {
		ctrl.Send(protocol.RecordComplete(media.Filename))
	}
	s.mediaSaved(media)
}

func (s *Server) handleRecordStop(_ context.Context, sess *Session, _ []byte) error {
	s.mu.Lock()
	rec := s.record
	s.mu.Unlock()
	if rec == nil {
		return fmt.Errorf("not recording: %w", protocol.UnknownError)
	}
	// The completion notice must follow the ack.
	sess.Send(protocol.Success(protocol.CmdRecordStop))
	if err := rec.loop.Stop(); err != nil {
		logging.Warn("record loop slow to stop", logging.Component("record"), logging.Err(err))
	}
	return nil
}

func (s *Server) handlePreviewStart(_ context.Context, sess *Session, p []byte) error {
	cam, err := s.connectedCamera()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preview != nil {
		return protocol.PreviewAlreadyStarted
	}
	if s.recordingLocked() {
		return protocol.StateRecording
	}
	req, err := protocol.ParsePreviewStart(p)
	if err != nil {
		return err
	}

	res := protocol.PreviewResolution(req.ResIndex)
	fps := protocol.ClampFPS(int(req.FPS), 5, 30)
	s.cong.Reset()

	loop, err := streaming.NewLoop(streaming.LoopConfig{
		Name:           "preview",
		FPS:            fps,
		Width:          res.Width,
		Height:         res.Height,
		GrabTimeout:    s.opts.GrabTimeout,
		Quality:        s.opts.Preview.Quality,
		MinQuality:     s.opts.Preview.MinQuality,
		MaxQuality:     s.opts.Preview.MaxQuality,
		DynamicQuality: s.opts.Preview.DynamicQuality,
		SkipFrames:     s.opts.Preview.SkipFrames,
		PoolSize:       s.opts.Preview.PoolSize,
	}, streaming.Pipeline{
		Grabber:    cam,
		Resizer:    s.deps.Resizer,
		Encoder:    s.deps.Encoder,
		Sink:       s.previewSink,
		Congestion: s.cong,
		OnSkip:     func(uint32) { s.deps.Metrics.PreviewSkipped() },
	})
	if err != nil {
		return fmt.Errorf("preview loop: %v: %w", err, protocol.UnknownError)
	}

	s.preview = loop
	sess.Send(protocol.Success(protocol.CmdPreviewStart))
	loop.Start(s.ctx)
	s.wg.Add(1)
	go s.finishPreview(loop)

	logging.Info("preview started", logging.Component("preview"), "fps", fps, "width", res.Width, "height", res.Height)
	return nil
}

func (s *Server) finishPreview(loop *streaming.Loop) {
	defer s.wg.Done()
	<-loop.Done()

	s.mu.Lock()
	if s.preview == loop {
		s.preview = nil
	}
	s.mu.Unlock()

	s.deps.Metrics.PoolMisses(uint64(loop.Pool().Stats().Misses))
	if err := loop.Err(); err != nil {
		logging.Warn("preview ended", logging.Component("preview"), logging.Err(err))
	}
}

// previewSink delivers one preview JPEG to the controller's queue and to
// any admin observers. Delivery latency is measured from enqueue to the
// end of the socket write.
func (s *Server) previewSink(seq uint32, jpeg []byte) error {
	if s.deps.Observer != nil {
		s.deps.Observer.Publish(jpeg)
	}
	ctrl := s.registry.Controller()
	if ctrl == nil {
		return nil
	}
	frame, err := protocol.PreviewFrame(seq, jpeg)
	if err != nil {
		return err
	}

	s.cong.RecordSend(seq)
	ok := ctrl.enqueue(outbound{data: frame, ack: func() { s.cong.RecordAck(seq) }})
	if !ok {
		s.deps.Metrics.QueueDropped()
	}
	s.cong.UpdateQueueDepth(ctrl.QueueLen())

	st := s.cong.State()
	s.deps.Metrics.SetCongestion(st.Level)
	s.deps.Metrics.PreviewSent(st.RecommendedQuality)
	return nil
}

func (s *Server) handlePreviewStop(_ context.Context, sess *Session, _ []byte) error {
	s.mu.Lock()
	loop := s.preview
	s.mu.Unlock()
	if loop != nil {
		if err := loop.Stop(); err != nil {
			logging.Warn("preview loop slow to stop", logging.Component("preview"), logging.Err(err))
		}
		logging.Info("preview stopped", logging.Component("preview"), "frames", loop.Sent())
	}
	sess.Send(protocol.Success(protocol.CmdPreviewStop))
	return nil
}

// stopStreams ends the preview and record loops. Their finish goroutines
// clear the server state.
func (s *Server) stopStreams() {
	s.mu.Lock()
	preview, rec := s.preview, s.record
	s.mu.Unlock()
	if preview != nil {
		preview.Stop() //nolint:errcheck
	}
	if rec != nil {
		rec.loop.Stop() //nolint:errcheck
	}
}

// mediaSaved records new media in the store and queues it for archiving.
func (s *Server) mediaSaved(m device.Media) {
	s.deps.Metrics.MediaSaved(string(m.Kind))
	rec := store.MediaRecord{
		ID:        m.ID,
		Kind:      string(m.Kind),
		Filename:  m.Filename,
		Path:      m.Path,
		Size:      m.Size,
		Digest:    m.Digest,
		CreatedAt: m.CreatedAt,
	}
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.AddMedia(ctx, &rec); err != nil {
			logging.Warn("failed to record media", logging.Component("server"), "file", m.Filename, logging.Err(err))
			return
		}
	}
	if s.deps.Archive != nil && !s.deps.Archive.Enqueue(rec) {
		logging.Warn("archive queue full", logging.Component("server"), "file", m.Filename)
	}
}

// checkCamera notices link changes and keeps the reconnect supervisor
// running while the camera is down.
func (s *Server) checkCamera() {
	cam := s.deps.Camera
	if cam == nil {
		return
	}
	up := cam.Connected()

	s.mu.Lock()
	was := s.cameraUp
	s.cameraUp = up
	s.mu.Unlock()

	if was && !up {
		logging.Warn("camera disconnected", logging.Component("camera"))
		s.deps.Metrics.SetCameraConnected(false)
		s.stopStreams()
	}
	if !was && up {
		s.deps.Metrics.SetCameraConnected(true)
	}
	if !up {
		s.link.Trigger(s.ctx)
	}
}

// Reconnected implements reconnect.Observer.
func (s *Server) Reconnected(attempts int) {
	s.mu.Lock()
	s.cameraUp = true
	s.mu.Unlock()
	s.deps.Metrics.SetCameraConnected(true)
	logging.Info("camera reconnected", logging.Component("camera"), "attempts", attempts)
}

// ReconnectFailed implements reconnect.Observer.
func (s *Server) ReconnectFailed(attempts int, err error) {
	logging.Error("camera reconnect gave up", logging.Component("camera"), "attempts", attempts, logging.Err(err))
}

// CameraLink reports the camera supervisor state, or false without a camera.
func (s *Server) CameraLink() (reconnect.State, bool) {
	if s.link == nil {
		return reconnect.State{}, false
	}
	return s.link.State(), true
}

// RearmCamera clears an exhausted camera supervisor and starts a new
// reconnect cycle. It reports false without a camera or when a cycle is
// already running.
func (s *Server) RearmCamera() bool {
	if s.link == nil {
		return false
	}
	s.link.Rearm()
	return s.link.Trigger(s.ctx)
}
