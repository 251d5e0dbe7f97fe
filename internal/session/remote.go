package session

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/dectpair/internal/device"
	"github.com/nextlevelbuilder/dectpair/pkg/protocol"
)

// Remote is a device owned by the daemon. Events pushed by the daemon
// for this device are delivered to its subscribers.
type Remote struct {
	*device.Events

	client *Client

	mu   sync.RWMutex
	info device.Info
}

// Info may be called from event handlers while Devices re-lists.
func (r *Remote) Info() device.Info {
	if r == nil {
		return device.Info{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info
}

func (r *Remote) setInfo(info device.Info) {
	r.mu.Lock()
	r.info = info
	r.mu.Unlock()
}

func (r *Remote) id() string { return r.Info().ID }

func (r *Remote) QueryCapability(ctx context.Context, c device.Capability) (bool, error) {
	var res protocol.CapabilityResult
	err := r.client.Call(ctx, protocol.MethodCapabilityQuery, protocol.CapabilityParams{
		DeviceID:   r.id(),
		Capability: string(c),
	}, &res)
	return res.Supported, err
}

func (r *Remote) ReadPairingKey(ctx context.Context) (device.PairingKey, error) {
	var res protocol.PairingKeyResult
	err := r.client.Call(ctx, protocol.MethodPairingKeyRead, protocol.DeviceParams{DeviceID: r.id()}, &res)
	return device.PairingKey(res.Key), err
}

func (r *Remote) WritePairingKey(ctx context.Context, key device.PairingKey) error {
	return r.client.Call(ctx, protocol.MethodPairingKeyWrite, protocol.PairingKeyParams{
		DeviceID: r.id(),
		Key:      uint32(key),
	}, nil)
}

func (r *Remote) TriggerSecurePairing(ctx context.Context) error {
	return r.client.Call(ctx, protocol.MethodSecurePairingTrigger, protocol.DeviceParams{DeviceID: r.id()}, nil)
}

func (r *Remote) ReadConnectedHeadsetName(ctx context.Context, sel device.NameSelector) (device.HeadsetName, error) {
	var res protocol.HeadsetNameResult
	err := r.client.Call(ctx, protocol.MethodHeadsetNameRead, protocol.HeadsetNameParams{
		DeviceID: r.id(),
		Selector: sel.String(),
	}, &res)
	return device.HeadsetName{Primary: res.Primary, Secondary: res.Secondary}, err
}
