package server

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/avaropoint/camlink/internal/logging"
	"github.com/avaropoint/camlink/internal/protocol"
)

// handlerFunc runs one command for sess. On success the handler has
// already queued its replies; a returned error becomes a failure response
// carrying the error's code.
type handlerFunc func(ctx context.Context, sess *Session, payload []byte) error

func (s *Server) handlerTable() map[protocol.Command]handlerFunc {
	return map[protocol.Command]handlerFunc{
		protocol.CmdHeartbeat: s.handleHeartbeat,

		protocol.CmdQueryStatus:      s.handleQueryStatus,
		protocol.CmdQueryParams:      s.handleQueryParams,
		protocol.CmdQueryResolutions: s.handleQueryResolutions,
		protocol.CmdQueryGainAuto:    s.handleQueryGainAuto,

		protocol.CmdSetExposure:     s.handleSetExposure,
		protocol.CmdSetWhiteBalance: s.handleSetWhiteBalance,
		protocol.CmdSetGain:         s.handleSetGain,
		protocol.CmdSetResolution:   s.handleSetResolution,
		protocol.CmdSetGainAuto:     s.handleSetGainAuto,
		protocol.CmdSetFrameRate:    s.handleSetFrameRate,
		protocol.CmdSetPixelFormat:  s.handleSetPixelFormat,

		protocol.CmdCaptureSingle: s.handleCapture,
		protocol.CmdRecordStart:   s.handleRecordStart,
		protocol.CmdRecordStop:    s.handleRecordStop,
		protocol.CmdPreviewStart:  s.handlePreviewStart,
		protocol.CmdPreviewStop:   s.handlePreviewStop,
	}
}

// dispatch enforces controller arbitration, looks the command up and
// converts handler errors and panics into failure responses.
func (s *Server) dispatch(ctx context.Context, sess *Session, f protocol.Frame) {
	cmd := f.Command
	log := logging.With(logging.Component("dispatch"), logging.SessionID(sess.ID), logging.Command(cmd.String(), uint8(cmd)))

	if cmd != protocol.CmdHeartbeat && !s.registry.IsController(sess) {
		log.Warn("command from non-controller rejected")
		s.deps.Metrics.Command(cmd.String(), "rejected", 0)
		sess.Send(protocol.Failure(cmd, protocol.UnknownError))
		return
	}

	h, ok := s.handlers[cmd]
	if !ok {
		log.Warn("unknown command")
		s.deps.Metrics.Command(cmd.String(), "unknown", 0)
		sess.Send(protocol.Failure(cmd, protocol.UnknownCommand))
		return
	}

	ctx, span := s.tracer.Start(ctx, "camlink."+cmd.String(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("camlink.session_id", sess.ID),
			attribute.Int("camlink.command", int(cmd)),
			attribute.Int("camlink.payload_len", len(f.Payload)),
		))
	defer span.End()

	start := time.Now()
	err := invoke(ctx, h, sess, f.Payload)
	elapsed := time.Since(start)

	if err != nil {
		code := protocol.CodeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Int("camlink.error_code", int(code)))
		log.Warn("command failed", logging.Err(err), "code", fmt.Sprintf("0x%04X", uint16(code)))
		s.deps.Metrics.Command(cmd.String(), "failed", elapsed)
		sess.Send(protocol.Failure(cmd, code))
		return
	}
	span.SetStatus(codes.Ok, "")
	if cmd != protocol.CmdHeartbeat {
		log.Debug("command handled", "elapsed", elapsed)
	}
	s.deps.Metrics.Command(cmd.String(), "ok", elapsed)
}

// invoke runs h, turning a panic into UnknownError.
func invoke(ctx context.Context, h handlerFunc, sess *Session, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("handler panic recovered", logging.Component("dispatch"), "panic", r)
			err = fmt.Errorf("handler panic: %v: %w", r, protocol.UnknownError)
		}
	}()
	return h(ctx, sess, payload)
}
