package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nextlevelbuilder/dectpair/pkg/protocol"
)

// MethodHandler processes a single RPC method request.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter maps method names to handlers.
type MethodRouter struct {
	handlers map[string]MethodHandler
	server   *Server
}

func NewMethodRouter(server *Server) *MethodRouter {
	r := &MethodRouter{
		handlers: make(map[string]MethodHandler),
		server:   server,
	}
	r.registerDefaults()
	return r
}

// Register adds a method handler.
func (r *MethodRouter) Register(method string, handler MethodHandler) {
	r.handlers[method] = handler
}

// Handle dispatches a request to the appropriate handler.
func (r *MethodRouter) Handle(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	handler, ok := r.handlers[req.Method]
	if !ok {
		slog.Warn("unknown method", "method", req.Method, "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(
			req.ID,
			protocol.ErrInvalidRequest,
			"unknown method: "+req.Method,
		))
		return
	}

	if req.Method != protocol.MethodConnect && !r.server.limiter.Allow(client.id) {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrDeviceBusy, "rate limited"))
		return
	}

	slog.Debug("handling method", "method", req.Method, "client", client.id, "req_id", req.ID)
	handler(ctx, client, req)
}

func (r *MethodRouter) registerDefaults() {
	r.Register(protocol.MethodConnect, r.handleConnect)
	r.Register(protocol.MethodPing, r.handlePing)
}

// --- Built-in handlers ---

func (r *MethodRouter) handleConnect(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params protocol.ConnectParams
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	if params.Protocol != protocol.ProtocolVersion {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"unsupported protocol version"))
		return
	}
	if token := r.server.opts.Token; token != "" && params.Token != token {
		slog.Warn("security.connect_rejected", "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "invalid token"))
		return
	}

	client.setAuthenticated()
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"protocol": protocol.ProtocolVersion,
		"server": map[string]interface{}{
			"name":    "dectpair-sim",
			"devices": len(r.server.devices),
		},
	}))
}

func (r *MethodRouter) handlePing(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"status": "ok",
	}))
}
