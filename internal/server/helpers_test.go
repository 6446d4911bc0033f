package server

import (
	"context"
	"errors"
	"image"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avaropoint/camlink/internal/device"
	"github.com/avaropoint/camlink/internal/protocol"
)

// countingStorage counts calls into the wrapped storage.
type countingStorage struct {
	device.Storage
	saves atomic.Int32
}

func (c *countingStorage) Save(img image.Image) (device.Media, error) {
	c.saves.Add(1)
	return c.Storage.Save(img)
}

type harness struct {
	srv     *Server
	addr    string
	cam     *device.Simulator
	storage *countingStorage
	dir     string
}

func newHarness(t *testing.T, mutate func(*Options, *Deps)) *harness {
	t.Helper()
	dir := t.TempDir()

	cam := device.NewSimulator(device.DefaultSimulatorConfig())
	if err := cam.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := &countingStorage{Storage: device.NewFileStorage(device.StorageConfig{
		ImagePath:    filepath.Join(dir, "images"),
		VideoPath:    filepath.Join(dir, "videos"),
		MinFreeBytes: 1,
	})}

	opts := Options{
		HeartbeatTimeout:  5 * time.Second,
		BroadcastInterval: time.Hour,
	}
	deps := Deps{
		Camera:  cam,
		Storage: st,
		Encoder: device.JPEGEncoder{},
		Resizer: device.NewResizer("nearest"),
	}
	if mutate != nil {
		mutate(&opts, &deps)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := New(opts, deps)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	t.Cleanup(func() {
		srv.Close() //nolint:errcheck
		select {
		case <-served:
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after Close")
		}
	})
	return &harness{srv: srv, addr: ln.Addr().String(), cam: cam, storage: st, dir: dir}
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	dec  *protocol.Decoder
	buf  []protocol.Frame
}

func (h *harness) dial(t *testing.T) *testClient {
	t.Helper()
	want := h.srv.Registry().Len() + 1
	conn, err := net.Dial("tcp", h.addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck
	waitFor(t, 2*time.Second, "session registered", func() bool { return h.srv.Registry().Len() >= want })
	return &testClient{t: t, conn: conn, dec: protocol.NewDecoder()}
}

func (c *testClient) send(cmd protocol.Command, payload []byte) {
	c.t.Helper()
	frame, err := protocol.Encode(protocol.Version, cmd, payload)
	if err != nil {
		c.t.Fatal(err)
	}
	c.sendRaw(frame)
}

func (c *testClient) sendRaw(b []byte) {
	c.t.Helper()
	if _, err := c.conn.Write(b); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// next returns the next frame from the server.
func (c *testClient) next(timeout time.Duration) (protocol.Frame, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 64<<10)
	for len(c.buf) == 0 {
		c.conn.SetReadDeadline(deadline) //nolint:errcheck
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.buf = append(c.buf, c.dec.Feed(buf[:n])...)
		}
		if err != nil && len(c.buf) == 0 {
			return protocol.Frame{}, err
		}
	}
	f := c.buf[0]
	c.buf = c.buf[1:]
	return f, nil
}

// expect skips status reports and preview frames until a frame with cmd
// arrives.
func (c *testClient) expect(cmd protocol.Command) protocol.Frame {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		f, err := c.next(time.Until(deadline))
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", cmd, err)
		}
		if f.Command == cmd {
			return f
		}
		if f.Command == protocol.ReportStatus || f.Command == protocol.StreamPreviewFrame {
			continue
		}
		c.t.Fatalf("got %s (payload % X), want %s", f.Command, f.Payload, cmd)
	}
}

func (c *testClient) expectFailure(cmd protocol.Command, code protocol.ErrorCode) {
	c.t.Helper()
	f := c.expect(protocol.RespFailed)
	gotCmd, gotCode, err := protocol.ParseFailure(f.Payload)
	if err != nil {
		c.t.Fatal(err)
	}
	if gotCmd != cmd || gotCode != code {
		c.t.Fatalf("failure = (%s, 0x%04X), want (%s, 0x%04X)", gotCmd, uint16(gotCode), cmd, uint16(code))
	}
}

func (c *testClient) expectSuccess(cmd protocol.Command) {
	c.t.Helper()
	f := c.expect(protocol.RespSuccess)
	got, err := protocol.ParseSuccess(f.Payload)
	if err != nil {
		c.t.Fatal(err)
	}
	if got != cmd {
		c.t.Fatalf("success for %s, want %s", got, cmd)
	}
}

// expectClosed waits for the server to close the connection.
func (c *testClient) expectClosed(timeout time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		_, err := c.next(time.Until(deadline))
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			c.t.Fatal("connection still open")
		}
		return
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
