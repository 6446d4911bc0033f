package client

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avaropoint/camlink/internal/device"
	"github.com/avaropoint/camlink/internal/protocol"
	"github.com/avaropoint/camlink/internal/reconnect"
	"github.com/avaropoint/camlink/internal/server"
)

// startServer runs a camlink server backed by the simulator.
func startServer(t *testing.T, broadcast time.Duration) string {
	t.Helper()
	dir := t.TempDir()
	cam := device.NewSimulator(device.DefaultSimulatorConfig())
	if err := cam.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	srv := server.New(server.Options{
		HeartbeatTimeout:  5 * time.Second,
		BroadcastInterval: broadcast,
	}, server.Deps{
		Camera: cam,
		Storage: device.NewFileStorage(device.StorageConfig{
			ImagePath:    filepath.Join(dir, "images"),
			VideoPath:    filepath.Join(dir, "videos"),
			MinFreeBytes: 1,
		}),
		Encoder: device.JPEGEncoder{},
		Resizer: device.NewResizer("nearest"),
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	t.Cleanup(func() {
		srv.Close() //nolint:errcheck
		<-served
	})
	return ln.Addr().String()
}

func dial(t *testing.T, opts Options) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, opts)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck
	return c
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestQueries(t *testing.T) {
	addr := startServer(t, time.Hour)
	c := dial(t, Options{Addr: addr})
	ctx := context.Background()

	if err := c.Heartbeat(ctx); err != nil {
		t.Fatalf("Heartbeat() = %v", err)
	}
	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Has(protocol.StatusConnected) {
		t.Errorf("status = %s, want camera connected", st)
	}
	if _, err := c.Params(ctx); err != nil {
		t.Errorf("Params() = %v", err)
	}
	res, err := c.Resolutions(ctx)
	if err != nil || len(res) == 0 {
		t.Errorf("Resolutions() = %v, %v", res, err)
	}
	if err := c.SetGainAuto(ctx, true); err != nil {
		t.Fatal(err)
	}
	if on, err := c.GainAuto(ctx); err != nil || !on {
		t.Errorf("GainAuto() = %v, %v", on, err)
	}
}

func TestConcurrentRequests(t *testing.T) {
	addr := startServer(t, time.Hour)
	c := dial(t, Options{Addr: addr})

	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := c.Status(context.Background())
			errs <- err
		}()
	}
	for i := 0; i < 20; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Status() = %v", err)
		}
	}
}

var imageName = regexp.MustCompile(`^\d{8}_\d{6}_\d{3}\.jpg$`)

func TestCapture(t *testing.T) {
	addr := startServer(t, time.Hour)
	var notified atomic.Int32
	c := dial(t, Options{Addr: addr, Handlers: Handlers{
		OnCaptureComplete: func(string) { notified.Add(1) },
	}})

	name, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture() = %v", err)
	}
	if !imageName.MatchString(name) {
		t.Errorf("name = %q, want YYYYMMDD_HHMMSS_NNN.jpg", name)
	}
	if notified.Load() != 0 {
		t.Error("notice taken by Capture also reached the handler")
	}
}

func TestFailureCarriesCode(t *testing.T) {
	addr := startServer(t, time.Hour)
	c := dial(t, Options{Addr: addr})

	err := c.RecordStop(context.Background())
	if !errors.Is(err, protocol.UnknownError) {
		t.Fatalf("RecordStop() = %v, want UnknownError", err)
	}
	err = c.SetPixelFormat(context.Background(), 99)
	if protocol.CodeOf(err) != protocol.CameraParamFailed {
		t.Errorf("SetPixelFormat(99) code = %v", protocol.CodeOf(err))
	}
}

func TestObserverRejected(t *testing.T) {
	addr := startServer(t, time.Hour)
	_ = dial(t, Options{Addr: addr})
	observer := dial(t, Options{Addr: addr})

	if err := observer.Heartbeat(context.Background()); err != nil {
		t.Errorf("observer heartbeat = %v", err)
	}
	if _, err := observer.Capture(context.Background()); !errors.Is(err, protocol.UnknownError) {
		t.Errorf("observer Capture() = %v", err)
	}
}

func TestRecordStopAndWait(t *testing.T) {
	addr := startServer(t, time.Hour)
	c := dial(t, Options{Addr: addr})
	ctx := context.Background()

	if err := c.RecordStart(ctx, protocol.RecordStartRequest{ResIndex: 6, FPS: 10}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	name, err := c.RecordStopAndWait(ctx)
	if err != nil {
		t.Fatalf("RecordStopAndWait() = %v", err)
	}
	if !strings.HasPrefix(name, "VID_") {
		t.Errorf("name = %q", name)
	}
}

func TestPreviewAndStatusHandlers(t *testing.T) {
	addr := startServer(t, 50*time.Millisecond)
	var frames, reports atomic.Int32
	c := dial(t, Options{Addr: addr, Handlers: Handlers{
		OnPreviewFrame: func(uint32, []byte) { frames.Add(1) },
		OnStatus:       func(protocol.Status) { reports.Add(1) },
	}})
	ctx := context.Background()

	if err := c.PreviewStart(ctx, protocol.PreviewStartRequest{ResIndex: 2, FPS: 15}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, "preview frames", func() bool { return frames.Load() >= 3 })
	waitFor(t, 3*time.Second, "status broadcasts", func() bool { return reports.Load() >= 2 })
	if err := c.PreviewStop(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestHeartbeatLoop(t *testing.T) {
	addr := startServer(t, time.Hour)
	c := dial(t, Options{Addr: addr, HeartbeatInterval: 20 * time.Millisecond})
	time.Sleep(200 * time.Millisecond)
	if n := c.HeartbeatFailures(); n != 0 {
		t.Errorf("HeartbeatFailures() = %d", n)
	}
}

// silentServer accepts connections and never answers. Accepted
// connections are delivered on the returned channel.
func silentServer(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	conns := make(chan net.Conn, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- conn
		}
	}()
	t.Cleanup(func() {
		ln.Close() //nolint:errcheck
		<-done
		close(conns)
		for conn := range conns {
			conn.Close() //nolint:errcheck
		}
	})
	return ln.Addr().String(), conns
}

func TestRequestTimeout(t *testing.T) {
	addr, _ := silentServer(t)
	c := dial(t, Options{Addr: addr, RequestTimeout: 50 * time.Millisecond, HeartbeatInterval: time.Hour})

	if _, err := c.Status(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Errorf("Status() = %v, want ErrTimeout", err)
	}
}

func TestDisconnectFailsPending(t *testing.T) {
	addr, conns := silentServer(t)
	c := dial(t, Options{Addr: addr, RequestTimeout: 5 * time.Second, HeartbeatInterval: time.Hour})
	conn := <-conns

	errs := make(chan error, 1)
	go func() {
		_, err := c.Status(context.Background())
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	conn.Close() //nolint:errcheck

	select {
	case err := <-errs:
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("Status() = %v, want ErrNotConnected", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("pending request not failed on disconnect")
	}
	waitFor(t, time.Second, "link cleared", func() bool { return !c.Connected() })
}

func TestAutoReconnect(t *testing.T) {
	addr, conns := silentServer(t)
	var ups, downs atomic.Int32
	c := dial(t, Options{
		Addr:              addr,
		HeartbeatInterval: time.Hour,
		AutoReconnect:     true,
		Reconnect:         reconnect.Config{Interval: 20 * time.Millisecond, MaxAttempts: 5},
		Handlers: Handlers{OnConnection: func(up bool) {
			if up {
				ups.Add(1)
			} else {
				downs.Add(1)
			}
		}},
	})

	first := <-conns
	first.Close() //nolint:errcheck
	waitFor(t, 3*time.Second, "second connection", func() bool { return len(conns) > 0 })
	waitFor(t, 3*time.Second, "reconnected", func() bool { return c.Connected() && ups.Load() == 2 })
	if downs.Load() != 1 {
		t.Errorf("disconnect callbacks = %d, want 1", downs.Load())
	}
}

func TestClosedClient(t *testing.T) {
	addr := startServer(t, time.Hour)
	c := dial(t, Options{Addr: addr})
	if err := c.Close(); err != nil {
		t.Logf("Close() = %v", err)
	}
	if _, err := c.Status(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Status() after Close = %v", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Close = %v", err)
	}
}
