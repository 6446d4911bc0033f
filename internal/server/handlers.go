package server

import (
	"context"
	"fmt"

	"github.com/avaropoint/camlink/internal/device"
	"github.com/avaropoint/camlink/internal/protocol"
)

func (s *Server) handleHeartbeat(_ context.Context, sess *Session, _ []byte) error {
	sess.Send(protocol.HeartbeatAck())
	return nil
}

func (s *Server) handleQueryStatus(_ context.Context, sess *Session, _ []byte) error {
	sess.Send(protocol.StatusReport(s.Status()))
	return nil
}

func (s *Server) handleQueryParams(_ context.Context, sess *Session, _ []byte) error {
	params := protocol.DefaultParams()
	if cam := s.deps.Camera; cam != nil {
		if p, ok := cam.Parameters(); ok {
			params = p
		}
	}
	sess.Send(protocol.ParamsReport(params))
	return nil
}

func (s *Server) handleQueryResolutions(_ context.Context, sess *Session, _ []byte) error {
	list := protocol.DefaultResolutions
	if cam := s.deps.Camera; cam != nil && cam.Connected() {
		if rs := cam.SupportedResolutions(); len(rs) > 0 {
			list = rs
		}
	}
	sess.Send(protocol.ResolutionsReport(list))
	return nil
}

func (s *Server) handleQueryGainAuto(_ context.Context, sess *Session, _ []byte) error {
	enabled := false
	if cam := s.deps.Camera; cam != nil && cam.Connected() {
		enabled = cam.GainAuto()
	}
	sess.Send(protocol.GainAutoReport(enabled))
	return nil
}

// connectedCamera returns the camera or CameraNotConnected.
func (s *Server) connectedCamera() (device.Camera, error) {
	cam := s.deps.Camera
	if cam == nil || !cam.Connected() {
		return nil, protocol.CameraNotConnected
	}
	return cam, nil
}

// setParam runs the shared SET_* sequence: camera check, payload length
// check, then apply. Device errors without a code become CameraParamFailed.
func (s *Server) setParam(sess *Session, cmd protocol.Command, payload []byte, size int, apply func(device.Camera) error) error {
	cam, err := s.connectedCamera()
	if err != nil {
		return err
	}
	if len(payload) < size {
		return protocol.DataLengthError
	}
	if err := apply(cam); err != nil {
		if protocol.CodeOf(err) == protocol.UnknownError {
			return fmt.Errorf("%s: %v: %w", cmd, err, protocol.CameraParamFailed)
		}
		return err
	}
	sess.Send(protocol.Success(cmd))
	return nil
}

func (s *Server) handleSetExposure(_ context.Context, sess *Session, p []byte) error {
	return s.setParam(sess, protocol.CmdSetExposure, p, protocol.ExposureSize, func(cam device.Camera) error {
		req, err := protocol.ParseExposure(p)
		if err != nil {
			return err
		}
		return cam.SetExposure(req.Auto, float64(req.Microseconds))
	})
}

func (s *Server) handleSetWhiteBalance(_ context.Context, sess *Session, p []byte) error {
	return s.setParam(sess, protocol.CmdSetWhiteBalance, p, protocol.WhiteBalanceSize, func(cam device.Camera) error {
		req, err := protocol.ParseWhiteBalance(p)
		if err != nil {
			return err
		}
		return cam.SetWhiteBalance(req.Auto, req.Red, req.Green, req.Blue)
	})
}

func (s *Server) handleSetGain(_ context.Context, sess *Session, p []byte) error {
	return s.setParam(sess, protocol.CmdSetGain, p, protocol.GainSize, func(cam device.Camera) error {
		req, err := protocol.ParseGain(p)
		if err != nil {
			return err
		}
		lo, hi := cam.GainRange()
		return cam.SetGain(protocol.MapGain(req.Value, lo, hi))
	})
}

func (s *Server) handleSetResolution(_ context.Context, sess *Session, p []byte) error {
	return s.setParam(sess, protocol.CmdSetResolution, p, protocol.ResolutionSize, func(cam device.Camera) error {
		req, err := protocol.ParseResolution(p)
		if err != nil {
			return err
		}
		w, h := int(req.Width), int(req.Height)
		if maxW, maxH := largest(cam.SupportedResolutions()); maxW > 0 && (w > maxW || h > maxH) {
			return fmt.Errorf("%dx%d exceeds %dx%d: %w", w, h, maxW, maxH, protocol.CameraUnsupportedRes)
		}
		return cam.SetResolution(w, h)
	})
}

func largest(list []protocol.Resolution) (w, h int) {
	for _, r := range list {
		w = max(w, r.Width)
		h = max(h, r.Height)
	}
	return w, h
}

func (s *Server) handleSetGainAuto(_ context.Context, sess *Session, p []byte) error {
	return s.setParam(sess, protocol.CmdSetGainAuto, p, protocol.GainAutoSize, func(cam device.Camera) error {
		req, err := protocol.ParseGainAutoRequest(p)
		if err != nil {
			return err
		}
		return cam.SetGainAuto(req.Enabled)
	})
}

func (s *Server) handleSetFrameRate(_ context.Context, sess *Session, p []byte) error {
	return s.setParam(sess, protocol.CmdSetFrameRate, p, protocol.FrameRateSize, func(cam device.Camera) error {
		req, err := protocol.ParseFrameRate(p)
		if err != nil {
			return err
		}
		return cam.SetFrameRate(req.Enabled, req.FPS)
	})
}

func (s *Server) handleSetPixelFormat(_ context.Context, sess *Session, p []byte) error {
	return s.setParam(sess, protocol.CmdSetPixelFormat, p, protocol.PixelFormatSize, func(cam device.Camera) error {
		req, err := protocol.ParsePixelFormat(p)
		if err != nil {
			return err
		}
		name, ok := protocol.PixelFormatName(req.Index)
		if !ok {
			return fmt.Errorf("pixel format index %d: %w", req.Index, protocol.CameraParamFailed)
		}
		return cam.SetPixelFormat(name)
	})
}
