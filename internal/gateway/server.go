// Package gateway serves a set of devices to session clients over
// WebSocket. It backs the simulated daemon used by `dectpair simulate`
// and the end-to-end tests of the session client.
package gateway

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/dectpair/internal/device"
	"github.com/nextlevelbuilder/dectpair/pkg/protocol"
)

// Options configures a Server.
type Options struct {
	// Token, when set, must be presented in the connect handshake.
	Token string

	// RateLimitRPM caps requests per minute per connection; 0 disables it.
	RateLimitRPM int
	Burst        int
}

// Server owns the devices and the connected clients.
type Server struct {
	opts     Options
	devices  []device.Device
	byID     map[string]device.Device
	router   *MethodRouter
	limiter  *RateLimiter
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
	tokens  []deviceSub
	seq     atomic.Int64
}

type deviceSub struct {
	dev device.Device
	tok device.Token
}

func NewServer(devices []device.Device, opts Options) *Server {
	s := &Server{
		opts:    opts,
		devices: devices,
		byID:    make(map[string]device.Device, len(devices)),
		limiter: NewRateLimiter(opts.RateLimitRPM, opts.Burst),
		clients: make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, d := range devices {
		s.byID[d.Info().ID] = d
	}
	s.router = NewMethodRouter(s)
	return s
}

// Router exposes the method router so device handlers can be registered.
func (s *Server) Router() *MethodRouter { return s.router }

// Devices returns the served devices in listing order.
func (s *Server) Devices() []device.Device { return s.devices }

// Device looks a served device up by ID.
func (s *Server) Device(id string) (device.Device, bool) {
	d, ok := s.byID[id]
	return d, ok
}

// Start forwards device events to connected clients.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		d := d
		for _, kind := range []device.EventKind{device.EventBatteryStatus, device.EventHeadsetConnection} {
			tok := d.Subscribe(kind, func(ev device.Event) { s.forward(d, ev) })
			s.tokens = append(s.tokens, deviceSub{dev: d, tok: tok})
		}
	}
}

// Close stops forwarding events and disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	tokens, clients := s.tokens, s.clients
	s.tokens, s.clients = nil, make(map[string]*Client)
	s.mu.Unlock()

	for _, t := range tokens {
		t.dev.Unsubscribe(t.tok)
	}
	for _, c := range clients {
		if ev, err := protocol.NewEvent(protocol.EventShutdown, s.seq.Add(1), map[string]string{}); err == nil {
			c.SendEvent(ev)
		}
		c.Close()
	}
}

// ServeHTTP upgrades the request and serves the connection until it ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := NewClient(conn, s)
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	slog.Debug("client connected", "client", c.id, "remote", r.RemoteAddr)

	c.Run(r.Context())

	s.mu.Lock()
	_, owned := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()
	if owned {
		c.Close()
	}
	s.limiter.Forget(c.id)
	slog.Debug("client disconnected", "client", c.id)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) forward(d device.Device, ev device.Event) {
	id := d.Info().ID
	var payload interface{}
	switch e := ev.(type) {
	case device.BatteryStatus:
		payload = protocol.BatteryStatusPayload{
			DeviceID:       id,
			LevelInPercent: e.LevelInPercent,
			IsCharging:     e.IsCharging,
			IsBatteryLow:   e.IsBatteryLow,
		}
	case device.HeadsetConnection:
		payload = protocol.HeadsetConnectionPayload{DeviceID: id, Connected: e.Connected}
	default:
		return
	}

	frame, err := protocol.NewEvent(string(ev.Kind()), s.seq.Add(1), payload)
	if err != nil {
		slog.Error("marshal event failed", "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.Authenticated() {
			c.SendEvent(frame)
		}
	}
}
