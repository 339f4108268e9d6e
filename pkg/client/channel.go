package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"nft-shop/internal/realtime"
	"nft-shop/pkg"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ChannelError wraps a transport failure. It only drives reconnection and is
// handed to OnError for reporting.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("realtime %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

var heartbeatFrame = []byte(`{"type":"ping"}`)

type ChannelOptions struct {
	URL string
	// HeartbeatInterval defaults to 25s.
	HeartbeatInterval time.Duration
	// Backoff defaults to a fixed 3s delay.
	Backoff Backoff
	Dialer  *websocket.Dialer
	Logger  pkg.Logger

	OnStateChange func(State)
	OnError       func(error)
}

// Channel is a reconnecting realtime connection. Delivery is at most once:
// frames sent while disconnected are never replayed.
type Channel struct {
	opts ChannelOptions

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	closeOnce sync.Once

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	subs   map[int]func(realtime.Frame)
	nextID int
}

func NewChannel(opts ChannelOptions) *Channel {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 25 * time.Second
	}
	if opts.Backoff == nil {
		opts.Backoff = DefaultBackoff
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Channel{
		opts: opts,
		done: make(chan struct{}),
		subs: make(map[int]func(realtime.Frame)),
	}
}

// Subscribe registers fn for every inbound application frame. The returned
// func removes it.
func (c *Channel) Subscribe(fn func(realtime.Frame)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the channel reaches its terminal Disconnected state.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Start connects in the background. Calling it again is a no-op.
func (c *Channel) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.ctx, c.cancel = context.WithCancel(ctx)
		c.mu.Unlock()
		go c.run()
	})
}

// Close stops the channel from any state and waits until it is Disconnected.
func (c *Channel) Close() error {
	started := true
	c.startOnce.Do(func() {
		started = false
		close(c.done)
	})
	if !started {
		return nil
	}
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.cancel()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		}
	})
	<-c.done
	return nil
}

func (c *Channel) run() {
	defer close(c.done)
	defer c.setState(StateDisconnected)

	attempt := 0
	for {
		c.setState(StateConnecting)
		conn, _, err := c.opts.Dialer.DialContext(c.ctx, c.opts.URL, nil)
		if c.ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			c.reportError(&ChannelError{Op: "dial", Err: err})
		} else {
			attempt = 0
			code, err := c.serve(conn)
			if c.ctx.Err() != nil {
				return
			}
			if code == websocket.CloseNormalClosure {
				c.opts.Logger.Info("realtime: closed by server")
				return
			}
			c.reportError(&ChannelError{Op: "read", Err: err})
		}

		attempt++
		c.setState(StateReconnecting)
		delay := c.opts.Backoff.Next(attempt)
		c.opts.Logger.Warn("realtime: connection lost, reconnecting",
			zap.Int("attempt", attempt), zap.Duration("delay", delay))
		t := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// serve owns one live connection until it ends and returns the close code
// the peer sent, or -1 when it ended without one.
func (c *Channel) serve(conn *websocket.Conn) (int, error) {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		// Close ran between dial and here and did not see this conn
		c.mu.Unlock()
		conn.Close()
		return -1, c.ctx.Err()
	}
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	hbCtx, stopHeartbeat := context.WithCancel(c.ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeat(hbCtx, conn)
	}()
	defer func() {
		stopHeartbeat()
		wg.Wait()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr.Code, err
			}
			return -1, err
		}
		f, err := realtime.ParseFrame(msg)
		if err != nil {
			c.opts.Logger.Warn("realtime: bad frame", zap.Error(err))
			continue
		}
		if f.Type == realtime.FramePong {
			continue
		}
		c.dispatch(f)
	}
}

func (c *Channel) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, heartbeatFrame); err != nil {
				c.opts.Logger.Debug("realtime: heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Channel) dispatch(f realtime.Frame) {
	c.mu.Lock()
	subs := make([]func(realtime.Frame), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(f)
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

func (c *Channel) reportError(err error) {
	c.opts.Logger.Debug("realtime: transport error", zap.Error(err))
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}
