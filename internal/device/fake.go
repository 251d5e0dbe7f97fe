package device

import (
	"context"
	"errors"
	"sync"
)

// Method names recorded by Fake in call order.
const (
	MethodQueryCapability          = "QueryCapability"
	MethodReadPairingKey           = "ReadPairingKey"
	MethodWritePairingKey          = "WritePairingKey"
	MethodTriggerSecurePairing     = "TriggerSecurePairing"
	MethodReadConnectedHeadsetName = "ReadConnectedHeadsetName"
)

// ErrUnsupported is returned by Fake for operations the simulated
// hardware does not implement.
var ErrUnsupported = errors.New("device: operation not supported")

// Fake is an in-memory Device. It backs the simulator and tests.
type Fake struct {
	*Events

	info        Info
	caps        map[Capability]bool
	acceptsKey  bool
	key         PairingKey
	headsetName HeadsetName
	written     []PairingKey
	calls       []string
	failures    map[string]error
	onTrigger   func()
	mu          sync.Mutex
}

func NewFake(info Info) *Fake {
	return &Fake{
		Events:   NewEvents(),
		info:     info,
		caps:     make(map[Capability]bool),
		failures: make(map[string]error),
	}
}

// WithCapabilities marks the given capabilities as supported.
func (f *Fake) WithCapabilities(caps ...Capability) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range caps {
		f.caps[c] = true
	}
	return f
}

// AcceptPairingKey makes WritePairingKey succeed, as a headset does.
func (f *Fake) AcceptPairingKey() *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acceptsKey = true
	return f
}

// Fail makes every call of method return err.
func (f *Fake) Fail(method string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = err
	return f
}

// OnTrigger runs fn after every successful TriggerSecurePairing.
func (f *Fake) OnTrigger(fn func()) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrigger = fn
	return f
}

func (f *Fake) SetPairingKey(k PairingKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.key = k
}

func (f *Fake) SetHeadsetName(n HeadsetName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headsetName = n
}

// Calls returns the methods invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// WrittenKeys returns every key passed to WritePairingKey, in order.
func (f *Fake) WrittenKeys() []PairingKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PairingKey, len(f.written))
	copy(out, f.written)
	return out
}

func (f *Fake) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	return f.failures[method]
}

func (f *Fake) Info() Info {
	if f == nil {
		return Info{}
	}
	return f.info
}

func (f *Fake) QueryCapability(ctx context.Context, c Capability) (bool, error) {
	if err := f.record(MethodQueryCapability); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps[c], nil
}

func (f *Fake) ReadPairingKey(ctx context.Context) (PairingKey, error) {
	if err := f.record(MethodReadPairingKey); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key, nil
}

func (f *Fake) WritePairingKey(ctx context.Context, key PairingKey) error {
	if err := f.record(MethodWritePairingKey); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.acceptsKey {
		return ErrUnsupported
	}
	f.written = append(f.written, key)
	return nil
}

func (f *Fake) TriggerSecurePairing(ctx context.Context) error {
	if err := f.record(MethodTriggerSecurePairing); err != nil {
		return err
	}
	f.mu.Lock()
	fn := f.onTrigger
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (f *Fake) ReadConnectedHeadsetName(ctx context.Context, sel NameSelector) (HeadsetName, error) {
	if err := f.record(MethodReadConnectedHeadsetName); err != nil {
		return HeadsetName{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch sel {
	case NamePrimary:
		return HeadsetName{Primary: f.headsetName.Primary}, nil
	case NameSecondary:
		return HeadsetName{Secondary: f.headsetName.Secondary}, nil
	}
	return f.headsetName, nil
}
