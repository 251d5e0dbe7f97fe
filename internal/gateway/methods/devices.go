package methods

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nextlevelbuilder/dectpair/internal/device"
	"github.com/nextlevelbuilder/dectpair/internal/gateway"
	"github.com/nextlevelbuilder/dectpair/pkg/protocol"
)

// DeviceMethods handles devices.list and the device.* RPCs by calling the
// server's devices.
type DeviceMethods struct {
	server *gateway.Server
}

func NewDeviceMethods(server *gateway.Server) *DeviceMethods {
	return &DeviceMethods{server: server}
}

func (m *DeviceMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodDevicesList, m.handleList)
	router.Register(protocol.MethodCapabilityQuery, m.handleCapability)
	router.Register(protocol.MethodPairingKeyRead, m.handleReadKey)
	router.Register(protocol.MethodPairingKeyWrite, m.handleWriteKey)
	router.Register(protocol.MethodSecurePairingTrigger, m.handleTrigger)
	router.Register(protocol.MethodHeadsetNameRead, m.handleHeadsetName)
}

func (m *DeviceMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	devices := m.server.Devices()
	res := protocol.DevicesListResult{Devices: make([]protocol.DeviceInfo, 0, len(devices))}
	for _, d := range devices {
		info := d.Info()
		res.Devices = append(res.Devices, protocol.DeviceInfo{
			ID:        info.ID,
			Name:      info.Name,
			Vendor:    info.Vendor,
			Serial:    info.Serial,
			ProductID: info.Product,
		})
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, res))
}

func (m *DeviceMethods) handleCapability(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.CapabilityParams
	d, ok := m.lookup(client, req, &params, func() string { return params.DeviceID })
	if !ok {
		return
	}
	supported, err := d.QueryCapability(ctx, device.Capability(params.Capability))
	m.reply(client, req, protocol.CapabilityResult{Supported: supported}, err)
}

func (m *DeviceMethods) handleReadKey(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.DeviceParams
	d, ok := m.lookup(client, req, &params, func() string { return params.DeviceID })
	if !ok {
		return
	}
	key, err := d.ReadPairingKey(ctx)
	m.reply(client, req, protocol.PairingKeyResult{Key: uint32(key)}, err)
}

func (m *DeviceMethods) handleWriteKey(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.PairingKeyParams
	d, ok := m.lookup(client, req, &params, func() string { return params.DeviceID })
	if !ok {
		return
	}
	m.reply(client, req, nil, d.WritePairingKey(ctx, device.PairingKey(params.Key)))
}

func (m *DeviceMethods) handleTrigger(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.DeviceParams
	d, ok := m.lookup(client, req, &params, func() string { return params.DeviceID })
	if !ok {
		return
	}
	m.reply(client, req, nil, d.TriggerSecurePairing(ctx))
}

func (m *DeviceMethods) handleHeadsetName(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params protocol.HeadsetNameParams
	d, ok := m.lookup(client, req, &params, func() string { return params.DeviceID })
	if !ok {
		return
	}
	sel, err := device.ParseNameSelector(params.Selector)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, err.Error()))
		return
	}
	name, err := d.ReadConnectedHeadsetName(ctx, sel)
	m.reply(client, req, protocol.HeadsetNameResult{Primary: name.Primary, Secondary: name.Secondary}, err)
}

// lookup decodes params and resolves the addressed device, answering the
// request itself when either fails.
func (m *DeviceMethods) lookup(client *gateway.Client, req *protocol.RequestFrame, params interface{}, id func() string) (device.Device, bool) {
	if req.Params == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "params are required"))
		return nil, false
	}
	if err := json.Unmarshal(req.Params, params); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "malformed params: "+err.Error()))
		return nil, false
	}
	if id() == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "deviceId is required"))
		return nil, false
	}
	d, ok := m.server.Device(id())
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "unknown device: "+id()))
		return nil, false
	}
	return d, true
}

func (m *DeviceMethods) reply(client *gateway.Client, req *protocol.RequestFrame, payload interface{}, err error) {
	switch {
	case err == nil:
		client.SendResponse(protocol.NewOKResponse(req.ID, payload))
	case errors.Is(err, device.ErrUnsupported):
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnsupported, err.Error()))
	default:
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrDeviceFailure, err.Error()))
	}
}
