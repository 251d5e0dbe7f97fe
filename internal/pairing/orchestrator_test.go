package pairing

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nextlevelbuilder/dectpair/internal/bus"
	"github.com/nextlevelbuilder/dectpair/internal/device"
	"github.com/nextlevelbuilder/dectpair/internal/probe"
	"github.com/nextlevelbuilder/dectpair/internal/selector"
	"github.com/nextlevelbuilder/dectpair/internal/waiter"
)

type pair struct {
	dongle  *device.Fake
	headset *device.Fake
}

// newPair returns a dongle/headset pair whose headset trigger makes the
// dongle emit battery once the orchestrator is waiting for it.
func newPair(battery int, name string) *pair {
	p := &pair{
		dongle: device.NewFake(device.Info{ID: "dongle", Name: "Link 400"}).
			WithCapabilities(device.CapabilityBasicDECTPairing, device.CapabilitySecureDECTPairing),
		headset: device.NewFake(device.Info{ID: "headset", Name: "Elite 65"}).AcceptPairingKey(),
	}
	p.dongle.SetPairingKey(4711)
	p.dongle.SetHeadsetName(device.HeadsetName{Primary: name})
	p.headset.OnTrigger(func() {
		go func() {
			for p.dongle.Subscriptions() == 0 {
				time.Sleep(time.Millisecond)
			}
			p.dongle.Emit(device.BatteryStatus{LevelInPercent: battery})
		}()
	})
	return p
}

func TestPairDevices_Success(t *testing.T) {
	p := newPair(45, "Elite 65")

	var seen []State
	o := New(Config{
		ConfirmationTimeout: time.Second,
		OnStateChanged:      func(s *Session) { seen = append(seen, s.State) },
	}, nil, nil)

	s, err := o.PairDevices(context.Background(), p.dongle, p.headset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State != StateDone {
		t.Errorf("state = %s, want DONE", s.State)
	}
	if s.HeadsetName != "Elite 65" || s.Battery.LevelInPercent != 45 {
		t.Errorf("session = %+v", s)
	}

	want := []State{StateInit, StateTriggerDongle, StateReadKey, StateWriteKeyToHeadset,
		StateTriggerHeadset, StateAwaitConfirmation, StateVerify, StateDone}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] || s.History[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}

	keys := p.headset.WrittenKeys()
	if len(keys) != 1 || keys[0] != 4711 {
		t.Errorf("headset keys = %v, want [4711]", keys)
	}
	if p.dongle.Subscriptions() != 0 {
		t.Errorf("dangling dongle subscriptions: %d", p.dongle.Subscriptions())
	}
}

func TestPairDevices_KeyWrittenBeforeHeadsetTrigger(t *testing.T) {
	p := newPair(45, "Elite 65")
	var keysAtTrigger []device.PairingKey
	p.headset.OnTrigger(func() {
		keysAtTrigger = p.headset.WrittenKeys()
		go func() {
			for p.dongle.Subscriptions() == 0 {
				time.Sleep(time.Millisecond)
			}
			p.dongle.Emit(device.BatteryStatus{LevelInPercent: 45})
		}()
	})

	if _, err := New(Config{ConfirmationTimeout: time.Second}, nil, nil).PairDevices(context.Background(), p.dongle, p.headset); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keysAtTrigger) != 1 || keysAtTrigger[0] != 4711 {
		t.Errorf("keys at headset trigger = %v, want [4711]", keysAtTrigger)
	}

	wantDongle := []string{device.MethodTriggerSecurePairing, device.MethodReadPairingKey, device.MethodReadConnectedHeadsetName}
	gotDongle := p.dongle.Calls()
	if len(gotDongle) != len(wantDongle) {
		t.Fatalf("dongle calls = %v, want %v", gotDongle, wantDongle)
	}
	for i := range wantDongle {
		if gotDongle[i] != wantDongle[i] {
			t.Errorf("dongle call %d = %s, want %s", i, gotDongle[i], wantDongle[i])
		}
	}
}

func TestPairDevices_MissingHandle(t *testing.T) {
	p := newPair(45, "Elite 65")
	o := New(Config{}, nil, nil)

	s, err := o.PairDevices(context.Background(), p.dongle, nil)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}
	if s.State != StateFailed {
		t.Errorf("state = %s, want FAILED", s.State)
	}
	if calls := p.dongle.Calls(); len(calls) != 0 {
		t.Errorf("device RPCs invoked: %v", calls)
	}

	if _, err := o.PairDevices(context.Background(), nil, p.headset); !errors.Is(err, ErrPrecondition) {
		t.Errorf("err = %v, want ErrPrecondition", err)
	}
}

func TestPairDevices_TypedNilHandle(t *testing.T) {
	p := newPair(45, "Elite 65")
	var dongle *device.Fake

	_, err := New(Config{}, nil, nil).PairDevices(context.Background(), dongle, p.headset)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}
	if calls := p.headset.Calls(); len(calls) != 0 {
		t.Errorf("device RPCs invoked: %v", calls)
	}
}

func TestPairDevices_ZeroBatteryFailsVerification(t *testing.T) {
	p := newPair(0, "Elite 65")

	_, err := New(Config{ConfirmationTimeout: time.Second}, nil, nil).PairDevices(context.Background(), p.dongle, p.headset)
	if !errors.Is(err, ErrVerification) {
		t.Fatalf("err = %v, want ErrVerification", err)
	}
	var se *StepError
	if !errors.As(err, &se) || se.Step != StateVerify {
		t.Errorf("err = %v, want step VERIFY", err)
	}
	for _, c := range p.dongle.Calls() {
		if c == device.MethodReadConnectedHeadsetName {
			t.Error("headset name was read despite zero battery")
		}
	}
}

func TestPairDevices_EmptyNameFailsVerification(t *testing.T) {
	p := newPair(60, "")

	_, err := New(Config{ConfirmationTimeout: time.Second}, nil, nil).PairDevices(context.Background(), p.dongle, p.headset)
	if !errors.Is(err, ErrVerification) {
		t.Fatalf("err = %v, want ErrVerification", err)
	}
}

func TestPairDevices_ConfirmationTimeout(t *testing.T) {
	p := newPair(45, "Elite 65")
	p.headset.OnTrigger(nil) // dongle never confirms

	s, err := New(Config{ConfirmationTimeout: 50 * time.Millisecond}, nil, nil).PairDevices(context.Background(), p.dongle, p.headset)
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("err = %v, want ErrConfirmationTimeout", err)
	}
	if !errors.Is(err, waiter.ErrTimeout) {
		t.Errorf("err = %v, want it to wrap waiter.ErrTimeout", err)
	}
	if s.History[len(s.History)-2] != StateAwaitConfirmation {
		t.Errorf("history = %v, want failure after AWAIT_CONFIRMATION", s.History)
	}
	if p.dongle.Subscriptions() != 0 {
		t.Errorf("dangling dongle subscriptions: %d", p.dongle.Subscriptions())
	}
}

func TestPairDevices_StepFailuresAbort(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name   string
		setup  func(p *pair)
		step   State
		target error
	}{
		{"dongle trigger", func(p *pair) { p.dongle.Fail(device.MethodTriggerSecurePairing, boom) }, StateTriggerDongle, boom},
		{"read key", func(p *pair) { p.dongle.Fail(device.MethodReadPairingKey, boom) }, StateReadKey, boom},
		{"zero key", func(p *pair) { p.dongle.SetPairingKey(0) }, StateReadKey, ErrInvalidKey},
		{"write key", func(p *pair) { p.headset.Fail(device.MethodWritePairingKey, boom) }, StateWriteKeyToHeadset, boom},
		{"headset trigger", func(p *pair) { p.headset.Fail(device.MethodTriggerSecurePairing, boom) }, StateTriggerHeadset, boom},
		{"name read", func(p *pair) { p.dongle.Fail(device.MethodReadConnectedHeadsetName, boom) }, StateVerify, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPair(45, "Elite 65")
			tt.setup(p)

			s, err := New(Config{ConfirmationTimeout: time.Second}, nil, nil).PairDevices(context.Background(), p.dongle, p.headset)
			if !errors.Is(err, tt.target) {
				t.Fatalf("err = %v, want %v", err, tt.target)
			}
			var se *StepError
			if !errors.As(err, &se) || se.Step != tt.step {
				t.Fatalf("err = %v, want step %s", err, tt.step)
			}
			if s.State != StateFailed || s.Err != err {
				t.Errorf("session state = %s err = %v", s.State, s.Err)
			}
			// no step is retried
			for _, f := range []*device.Fake{p.dongle, p.headset} {
				seen := map[string]int{}
				for _, c := range f.Calls() {
					seen[c]++
				}
				for c, n := range seen {
					if n > 1 {
						t.Errorf("%s called %d times on %s", c, n, f.Info().ID)
					}
				}
			}
		})
	}
}

func TestPairDevices_StepSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	p := newPair(45, "Elite 65")
	p.headset.Fail(device.MethodWritePairingKey, errors.New("nak"))
	_, err := New(Config{ConfirmationTimeout: time.Second, Tracer: tp.Tracer("test")}, nil, nil).
		PairDevices(context.Background(), p.dongle, p.headset)
	if err == nil {
		t.Fatal("expected failure")
	}

	spans := rec.Ended()
	want := []string{"pairing.trigger_dongle", "pairing.read_key", "pairing.write_key_to_headset", "pairing.session"}
	if len(spans) != len(want) {
		t.Fatalf("got %d spans, want %d", len(spans), len(want))
	}
	for i, s := range spans {
		if s.Name() != want[i] {
			t.Errorf("span %d = %s, want %s", i, s.Name(), want[i])
		}
	}
	if spans[2].Status().Code != codes.Error || spans[3].Status().Code != codes.Error {
		t.Error("failed step and session spans should carry error status")
	}
	if spans[0].Status().Code == codes.Error {
		t.Error("successful step span marked as error")
	}
	if spans[0].Parent().SpanID() != spans[3].SpanContext().SpanID() {
		t.Error("step span is not a child of the session span")
	}
}

func TestSelectAndPair_Simulation(t *testing.T) {
	sim := device.NewSimulation(20 * time.Millisecond)
	keys := &subscribeNotifier{KeypressBus: bus.NewKeypressBus(), subscribed: make(chan struct{}, 4)}
	o := New(Config{ConfirmationTimeout: time.Second}, probe.NewProber(8, 2), selector.New(keys, &discard{}))

	// one dongle and one headset candidate: ENTER on each prompt picks both
	go func() {
		for i := 0; i < 2; i++ {
			<-keys.subscribed
			keys.Emit(bus.KeyEnter)
		}
	}()

	s, err := o.SelectAndPair(context.Background(), sim.Devices())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Dongle != device.Device(sim.Dongle) || s.Headset != device.Device(sim.Headset) {
		t.Errorf("paired %s with %s", s.Dongle.Info().ID, s.Headset.Info().ID)
	}
	if s.HeadsetName != "Elite 65" || s.Battery.LevelInPercent != 80 {
		t.Errorf("session = %+v", s)
	}
}

func TestSelect_BothGivenSkipsProbing(t *testing.T) {
	sim := device.NewSimulation(0)
	o := New(Config{}, probe.NewProber(8, 2), selector.New(bus.NewKeypressBus(), &discard{}))

	d, h, err := o.Select(context.Background(), sim.Devices(), sim.Dongle, sim.Headset)
	if err != nil || d != device.Device(sim.Dongle) || h != device.Device(sim.Headset) {
		t.Fatalf("Select = %v, %v, %v", d, h, err)
	}
	for _, f := range []*device.Fake{sim.Dongle, sim.Headset, sim.Speaker} {
		if calls := f.Calls(); len(calls) != 0 {
			t.Errorf("%s was probed: %v", f.Info().ID, calls)
		}
	}
}

func TestSelect_NoDongles(t *testing.T) {
	headset := device.NewFake(device.Info{ID: "h"}).AcceptPairingKey()
	o := New(Config{}, probe.NewProber(8, 2), selector.New(bus.NewKeypressBus(), &discard{}))

	_, _, err := o.Select(context.Background(), []device.Device{headset}, nil, nil)
	if !errors.Is(err, selector.ErrNoCandidates) {
		t.Fatalf("err = %v, want ErrNoCandidates", err)
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// subscribeNotifier signals every new key subscription, so a test knows
// when the next prompt is listening.
type subscribeNotifier struct {
	*bus.KeypressBus
	subscribed chan struct{}
}

func (n *subscribeNotifier) Subscribe(h bus.Handler[bus.KeyCode]) bus.Token {
	tok := n.KeypressBus.Subscribe(h)
	n.subscribed <- struct{}{}
	return tok
}
