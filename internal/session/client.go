// Package session talks to the device-session daemon that owns the
// attached devices, and exposes each remote device as a device.Device.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/dectpair/internal/device"
	"github.com/nextlevelbuilder/dectpair/pkg/protocol"
)

var (
	// ErrClosed is returned for calls on a closed or broken connection.
	ErrClosed = errors.New("session: connection closed")

	// ErrRemote matches every error reported by the daemon.
	ErrRemote = errors.New("session: daemon error")
)

// RemoteError is an error response from the daemon.
type RemoteError struct {
	Method  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Method, e.Message, e.Code)
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// Config configures a Client.
type Config struct {
	URL   string
	Token string

	// RPCPerSecond throttles calls to the daemon; 0 disables throttling.
	RPCPerSecond float64
	Burst        int

	// RequestTimeout bounds each call when the context has no deadline.
	RequestTimeout time.Duration
}

// maxWSMessageSize is the maximum accepted frame size (512KB).
const maxWSMessageSize = 512 * 1024

// Client is a connection to the device-session daemon.
type Client struct {
	cfg     Config
	conn    *websocket.Conn
	limiter *rate.Limiter

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *protocol.ResponseFrame
	devices map[string]*Remote
	err     error
	done    chan struct{}
}

// Dial connects to the daemon and performs the connect handshake.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to device daemon at %s: %w", cfg.URL, err)
	}
	conn.SetReadLimit(maxWSMessageSize)

	c := &Client{
		cfg:     cfg,
		conn:    conn,
		limiter: rate.NewLimiter(rate.Inf, 0),
		pending: make(map[string]chan *protocol.ResponseFrame),
		devices: make(map[string]*Remote),
		done:    make(chan struct{}),
	}
	if cfg.RPCPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPCPerSecond), burst)
	}
	go c.readLoop()

	err = c.Call(ctx, protocol.MethodConnect, protocol.ConnectParams{
		Token:    cfg.Token,
		Protocol: protocol.ProtocolVersion,
	}, nil)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("connect handshake: %w", err)
	}
	slog.Debug("session: connected", "url", cfg.URL)
	return c, nil
}

// Call invokes method with params and decodes the payload into out
// (which may be nil).
func (c *Client) Call(ctx context.Context, method string, params, out interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	req, err := protocol.NewRequest(uuid.NewString(), method, params)
	if err != nil {
		return fmt.Errorf("%s: marshal params: %w", method, err)
	}

	ch := make(chan *protocol.ResponseFrame, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if !resp.OK {
			re := &RemoteError{Method: method, Code: protocol.ErrInternal, Message: "unknown error"}
			if resp.Error != nil {
				re.Code, re.Message = resp.Error.Code, resp.Error.Message
			}
			return re
		}
		if out != nil && len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, out); err != nil {
				return fmt.Errorf("%s: decode payload: %w", method, err)
			}
		}
		return nil
	case <-c.done:
		return fmt.Errorf("%s: %w", method, c.Err())
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, protocol.MethodPing, nil, nil)
}

// Devices lists the attached devices. Handles are reused across calls,
// so subscriptions on a device survive a re-list.
func (c *Client) Devices(ctx context.Context) ([]device.Device, error) {
	var res protocol.DevicesListResult
	if err := c.Call(ctx, protocol.MethodDevicesList, nil, &res); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]device.Device, 0, len(res.Devices))
	for _, di := range res.Devices {
		r, ok := c.devices[di.ID]
		if !ok {
			r = &Remote{client: c, Events: device.NewEvents()}
			c.devices[di.ID] = r
		}
		r.setInfo(device.Info{ID: di.ID, Name: di.Name, Vendor: di.Vendor, Serial: di.Serial, Product: di.ProductID})
		out = append(out, r)
	}
	return out, nil
}

// Err returns why the connection ended, or nil while it is up.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close shuts the connection down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	var err error
	defer func() {
		c.mu.Lock()
		c.err = fmt.Errorf("%w: %v", ErrClosed, err)
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		var data []byte
		_, data, err = c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("session: read error", "error", err)
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		slog.Warn("session: invalid frame", "error", err)
		return
	}

	switch frameType {
	case protocol.FrameTypeResponse:
		var resp protocol.ResponseFrame
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Warn("session: malformed response", "error", err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}

	case protocol.FrameTypeEvent:
		var ev protocol.EventFrame
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("session: malformed event", "error", err)
			return
		}
		c.dispatchEvent(&ev)

	default:
		slog.Debug("session: ignoring frame", "type", frameType)
	}
}

func (c *Client) dispatchEvent(ev *protocol.EventFrame) {
	var env protocol.DeviceEvent
	if err := json.Unmarshal(ev.Payload, &env); err != nil || env.DeviceID == "" {
		slog.Debug("session: event without device", "event", ev.Event)
		return
	}
	c.mu.Lock()
	r, ok := c.devices[env.DeviceID]
	c.mu.Unlock()
	if !ok {
		return
	}

	switch ev.Event {
	case protocol.EventBatteryStatus:
		var p protocol.BatteryStatusPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			slog.Warn("session: malformed battery event", "error", err)
			return
		}
		r.Emit(device.BatteryStatus{
			LevelInPercent: p.LevelInPercent,
			IsCharging:     p.IsCharging,
			IsBatteryLow:   p.IsBatteryLow,
		})
	case protocol.EventHeadsetConnection:
		var p protocol.HeadsetConnectionPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			slog.Warn("session: malformed headset event", "error", err)
			return
		}
		r.Emit(device.HeadsetConnection{Connected: p.Connected})
	}
}
