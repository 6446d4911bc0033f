package server

import (
	"github.com/avaropoint/camlink/internal/reconnect"
	"github.com/avaropoint/camlink/internal/streaming"
)

// StreamInfo describes an active preview or record stream.
type StreamInfo struct {
	Name   string              `json:"name"`
	FPS    int                 `json:"fps"`
	Width  int                 `json:"width"`
	Height int                 `json:"height"`
	Sent   uint64              `json:"sent"`
	File   string              `json:"file,omitempty"`
	Pool   streaming.PoolStats `json:"pool"`
	Perf   streaming.PerfStats `json:"perf"`
}

// Snapshot is the admin view of the server.
type Snapshot struct {
	Status     string                    `json:"status"`
	StatusBits uint8                     `json:"status_bits"`
	Controller string                    `json:"controller,omitempty"`
	Sessions   []SessionInfo             `json:"sessions"`
	Congestion streaming.CongestionState `json:"congestion"`
	Preview    *StreamInfo               `json:"preview,omitempty"`
	Record     *StreamInfo               `json:"record,omitempty"`
	CameraLink *reconnect.State          `json:"camera_link,omitempty"`
}

func (s *Server) Snapshot() Snapshot {
	st := s.Status()
	snap := Snapshot{
		Status:     st.String(),
		StatusBits: uint8(st),
		Sessions:   []SessionInfo{},
		Congestion: s.cong.State(),
	}
	if ctrl := s.registry.Controller(); ctrl != nil {
		snap.Controller = ctrl.ID
	}
	for _, sess := range s.registry.Snapshot() {
		snap.Sessions = append(snap.Sessions, sess.Info())
	}

	s.mu.Lock()
	preview, rec := s.preview, s.record
	s.mu.Unlock()
	if preview != nil {
		snap.Preview = streamInfo(preview, "")
	}
	if rec != nil {
		snap.Record = streamInfo(rec.loop, rec.filename)
	}
	if link, ok := s.CameraLink(); ok {
		snap.CameraLink = &link
	}
	return snap
}

func streamInfo(l *streaming.Loop, file string) *StreamInfo {
	cfg := l.Config()
	return &StreamInfo{
		Name:   cfg.Name,
		FPS:    cfg.FPS,
		Width:  cfg.Width,
		Height: cfg.Height,
		Sent:   l.Sent(),
		File:   file,
		Pool:   l.Pool().Stats(),
		Perf:   l.Monitor().Stats(),
	}
}
