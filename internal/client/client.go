// Package client is the controller side of the camlink protocol: a TCP
// connection with request/response correlation, a heartbeat loop and an
// optional reconnect supervisor.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avaropoint/camlink/internal/logging"
	"github.com/avaropoint/camlink/internal/protocol"
	"github.com/avaropoint/camlink/internal/reconnect"
	"github.com/avaropoint/camlink/internal/util"
)

var (
	ErrNotConnected = errors.New("client: not connected")
	ErrClosed       = errors.New("client: closed")
	ErrTimeout      = errors.New("client: request timed out")
)

// Handlers receive unsolicited frames. They run on the receive goroutine
// and must not block.
type Handlers struct {
	OnStatus          func(protocol.Status)
	OnCaptureComplete func(name string)
	OnRecordComplete  func(name string)
	OnPreviewFrame    func(seq uint32, jpeg []byte)
	OnConnection      func(connected bool)
}

// Options configures a Client.
type Options struct {
	Addr              string
	DialTimeout       time.Duration
	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	// ReadTimeout drops the connection when the server goes silent.
	ReadTimeout   time.Duration
	AutoReconnect bool
	Reconnect     reconnect.Config
	Handlers      Handlers
}

func (o *Options) setDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 30 * time.Second
	}
	if o.Reconnect.Interval <= 0 {
		o.Reconnect = reconnect.DefaultConfig()
	}
}

// replyFor maps a query to the report that answers it.
var replyFor = map[protocol.Command]protocol.Command{
	protocol.ReportStatus:      protocol.CmdQueryStatus,
	protocol.ReportParams:      protocol.CmdQueryParams,
	protocol.ReportResolutions: protocol.CmdQueryResolutions,
	protocol.ReportGainAuto:    protocol.CmdQueryGainAuto,
}

// link is one TCP connection.
type link struct {
	conn net.Conn
	done chan struct{}
}

// Client is safe for concurrent use. Requests for the same command are
// answered in order.
type Client struct {
	opts Options
	sup  *reconnect.Supervisor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	link    *link
	waiters map[protocol.Command][]chan protocol.Frame
	closed  bool

	writeMu sync.Mutex

	heartbeatFailures atomic.Uint64
	resyncs           atomic.Uint64
}

// New returns an unconnected client.
func New(opts Options) *Client {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		waiters: make(map[protocol.Command][]chan protocol.Frame),
	}
	c.sup = reconnect.New("server", opts.Reconnect, c, reconnect.ObserverFuncs{
		OnReconnected: func(n int) {
			logging.Info("reconnected to server", logging.Component("client"), "attempts", n)
		},
		OnFailed: func(n int, err error) {
			logging.Error("giving up on server", logging.Component("client"), "attempts", n, logging.Err(err))
		},
	})
	return c
}

// Dial connects a new client to addr.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	c := New(opts)
	if err := c.Connect(ctx); err != nil {
		c.Close() //nolint:errcheck
		return nil, err
	}
	return c, nil
}

// Connected reports whether a connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// Connect dials the server and starts the receive and heartbeat loops. It
// is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.link != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	d := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.opts.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.Addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	l := &link{conn: conn, done: make(chan struct{})}
	c.mu.Lock()
	if c.closed || c.link != nil {
		c.mu.Unlock()
		conn.Close() //nolint:errcheck
		if c.closed {
			return ErrClosed
		}
		return nil
	}
	c.link = l
	c.mu.Unlock()

	logging.Info("connected to server", logging.Component("client"), "addr", c.opts.Addr)
	if h := c.opts.Handlers.OnConnection; h != nil {
		h(true)
	}
	util.GoTracked(&c.wg, "client-recv", func() { c.recvLoop(l) })
	util.GoTracked(&c.wg, "client-heartbeat", func() { c.heartbeatLoop(l) })
	return nil
}

// Close disconnects and stops all background work.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.sup.Stop()

	// A reconnect may have landed while the supervisor was stopping.
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	var err error
	if l != nil {
		err = l.conn.Close()
	}
	c.wg.Wait()
	return err
}

// HeartbeatFailures counts heartbeats that got no ack.
func (c *Client) HeartbeatFailures() uint64 { return c.heartbeatFailures.Load() }

// ReconnectState exposes the supervisor.
func (c *Client) ReconnectState() reconnect.State { return c.sup.State() }

func (c *Client) recvLoop(l *link) {
	defer c.disconnected(l)

	dec := protocol.NewDecoder()
	buf := make([]byte, 64<<10)
	for {
		l.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)) //nolint:errcheck
		n, err := l.conn.Read(buf)
		if n > 0 {
			before := dec.Stats().Resyncs
			for _, f := range dec.Feed(buf[:n]) {
				c.route(f)
			}
			if r := dec.Stats().Resyncs - before; r > 0 {
				c.resyncs.Add(uint64(r))
			}
		}
		if err != nil {
			if c.ctx.Err() == nil {
				logging.Warn("connection lost", logging.Component("client"), logging.Err(err))
			}
			return
		}
	}
}

// disconnected tears down l, fails pending requests and, when enabled,
// starts the reconnect supervisor.
func (c *Client) disconnected(l *link) {
	l.conn.Close() //nolint:errcheck
	close(l.done)

	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	for cmd, list := range c.waiters {
		for _, ch := range list {
			close(ch)
		}
		delete(c.waiters, cmd)
	}
	closed := c.closed
	c.mu.Unlock()

	if h := c.opts.Handlers.OnConnection; h != nil {
		h(false)
	}
	if c.opts.AutoReconnect && !closed {
		c.sup.Trigger(c.ctx)
	}
}

// route hands f to the oldest waiter for its command, or to a handler.
func (c *Client) route(f protocol.Frame) {
	key := f.Command
	switch f.Command {
	case protocol.RespSuccess, protocol.RespFailed:
		if len(f.Payload) == 0 {
			return
		}
		key = protocol.Command(f.Payload[0])
	default:
		if q, ok := replyFor[f.Command]; ok {
			key = q
		}
	}
	delivered := c.deliver(key, f)

	h := c.opts.Handlers
	switch f.Command {
	case protocol.ReportStatus:
		if st, err := protocol.ParseStatus(f.Payload); err == nil && h.OnStatus != nil {
			h.OnStatus(st)
		}
	case protocol.NotifyCaptureComplete:
		if name, err := protocol.ParseName(f.Payload); err == nil && h.OnCaptureComplete != nil && !delivered {
			h.OnCaptureComplete(name)
		}
	case protocol.NotifyRecordComplete:
		if name, err := protocol.ParseName(f.Payload); err == nil && h.OnRecordComplete != nil && !delivered {
			h.OnRecordComplete(name)
		}
	case protocol.StreamPreviewFrame:
		if seq, data, err := protocol.ParsePreviewFrame(f.Payload); err == nil && h.OnPreviewFrame != nil {
			h.OnPreviewFrame(seq, data)
		}
	}
}

func (c *Client) deliver(key protocol.Command, f protocol.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.waiters[key]
	if len(list) == 0 {
		return false
	}
	ch := list[0]
	if len(list) == 1 {
		delete(c.waiters, key)
	} else {
		c.waiters[key] = list[1:]
	}
	ch <- f
	close(ch)
	return true
}

// await registers interest in the next frame keyed by key. The returned
// cancel must be called if the frame is no longer wanted.
func (c *Client) await(key protocol.Command) (<-chan protocol.Frame, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return nil, nil, ErrNotConnected
	}
	ch := make(chan protocol.Frame, 1)
	c.waiters[key] = append(c.waiters[key], ch)
	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.waiters[key]
		for i, w := range list {
			if w == ch {
				c.waiters[key] = append(list[:i:i], list[i+1:]...)
				if len(c.waiters[key]) == 0 {
					delete(c.waiters, key)
				}
				return
			}
		}
	}
	return ch, cancel, nil
}

func (c *Client) write(frame []byte) error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(c.opts.RequestTimeout)) //nolint:errcheck
	if _, err := l.conn.Write(frame); err != nil {
		l.conn.Close() //nolint:errcheck
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// wait blocks for the frame on ch, honouring ctx and the request timeout.
func (c *Client) wait(ctx context.Context, ch <-chan protocol.Frame) (protocol.Frame, error) {
	t := time.NewTimer(c.opts.RequestTimeout)
	defer t.Stop()
	select {
	case f, ok := <-ch:
		if !ok {
			return protocol.Frame{}, ErrNotConnected
		}
		return f, nil
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	case <-c.ctx.Done():
		return protocol.Frame{}, ErrClosed
	case <-t.C:
		return protocol.Frame{}, ErrTimeout
	}
}

// Request sends cmd and waits for its reply. A failure response is
// returned as an error wrapping the protocol.ErrorCode.
func (c *Client) Request(ctx context.Context, cmd protocol.Command, payload []byte) (protocol.Frame, error) {
	frame, err := protocol.Encode(protocol.Version, cmd, payload)
	if err != nil {
		return protocol.Frame{}, err
	}
	ch, cancel, err := c.await(cmd)
	if err != nil {
		return protocol.Frame{}, err
	}
	if err := c.write(frame); err != nil {
		cancel()
		return protocol.Frame{}, err
	}
	f, err := c.wait(ctx, ch)
	if err != nil {
		cancel()
		return protocol.Frame{}, fmt.Errorf("%s: %w", cmd, err)
	}
	if f.Command == protocol.RespFailed {
		_, code, perr := protocol.ParseFailure(f.Payload)
		if perr != nil {
			return f, perr
		}
		return f, fmt.Errorf("%s rejected: %w", cmd, code)
	}
	return f, nil
}

// heartbeatLoop pings the server until l goes away. Misses are only
// counted; the read timeout decides when the link is dead.
func (c *Client) heartbeatLoop(l *link) {
	t := time.NewTicker(c.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-c.ctx.Done():
			return
		case <-t.C:
			if _, err := c.Request(c.ctx, protocol.CmdHeartbeat, nil); err != nil {
				n := c.heartbeatFailures.Add(1)
				logging.Warn("heartbeat failed", logging.Component("client"), "failures", n, logging.Err(err))
			}
		}
	}
}
