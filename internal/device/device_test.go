package device

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEvents_SubscribeByKind(t *testing.T) {
	ev := NewEvents()

	var battery, conn int
	tb := ev.Subscribe(EventBatteryStatus, func(Event) { battery++ })
	ev.Subscribe(EventHeadsetConnection, func(Event) { conn++ })

	ev.Emit(BatteryStatus{LevelInPercent: 50})
	ev.Emit(HeadsetConnection{Connected: true})
	ev.Emit(BatteryStatus{LevelInPercent: 40})

	if battery != 2 || conn != 1 {
		t.Errorf("battery=%d conn=%d, want 2 and 1", battery, conn)
	}
	if ev.Subscriptions() != 2 {
		t.Errorf("subscriptions = %d, want 2", ev.Subscriptions())
	}

	ev.Unsubscribe(tb)
	ev.Emit(BatteryStatus{})
	if battery != 2 {
		t.Errorf("battery handler ran after unsubscribe")
	}
	if ev.Subscriptions() != 1 {
		t.Errorf("subscriptions = %d, want 1", ev.Subscriptions())
	}
}

func TestFake_RecordsCallsAndFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	f := NewFake(Info{ID: "x"}).
		WithCapabilities(CapabilityBasicDECTPairing).
		Fail(MethodTriggerSecurePairing, boom)

	ok, err := f.QueryCapability(ctx, CapabilityBasicDECTPairing)
	if err != nil || !ok {
		t.Fatalf("basic = %v, %v; want true, nil", ok, err)
	}
	ok, _ = f.QueryCapability(ctx, CapabilitySecureDECTPairing)
	if ok {
		t.Error("secure should be unsupported")
	}
	if err := f.TriggerSecurePairing(ctx); !errors.Is(err, boom) {
		t.Errorf("trigger err = %v, want boom", err)
	}
	if err := f.WritePairingKey(ctx, 7); !errors.Is(err, ErrUnsupported) {
		t.Errorf("write err = %v, want ErrUnsupported", err)
	}

	want := []string{MethodQueryCapability, MethodQueryCapability, MethodTriggerSecurePairing, MethodWritePairingKey}
	got := f.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFake_HeadsetNameSelector(t *testing.T) {
	f := NewFake(Info{})
	f.SetHeadsetName(HeadsetName{Primary: "A", Secondary: "B"})

	n, _ := f.ReadConnectedHeadsetName(context.Background(), NamePrimary)
	if n.Primary != "A" || n.Secondary != "" {
		t.Errorf("primary = %+v", n)
	}
	n, _ = f.ReadConnectedHeadsetName(context.Background(), NameBoth)
	if n.Primary != "A" || n.Secondary != "B" {
		t.Errorf("both = %+v", n)
	}
}

func TestSimulation_LinksOnMatchingKey(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulation(10 * time.Millisecond)

	got := make(chan Event, 1)
	sim.Dongle.Subscribe(EventBatteryStatus, func(e Event) { got <- e })

	if err := sim.Dongle.TriggerSecurePairing(ctx); err != nil {
		t.Fatal(err)
	}
	key, err := sim.Dongle.ReadPairingKey(ctx)
	if err != nil || key == 0 {
		t.Fatalf("key = %d, %v; want positive key", key, err)
	}
	if err := sim.Headset.WritePairingKey(ctx, key); err != nil {
		t.Fatal(err)
	}
	if err := sim.Headset.TriggerSecurePairing(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-got:
		bs, ok := e.(BatteryStatus)
		if !ok || bs.LevelInPercent != 80 {
			t.Errorf("event = %#v, want BatteryStatus 80%%", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no battery event after linking")
	}

	name, _ := sim.Dongle.ReadConnectedHeadsetName(ctx, NamePrimary)
	if name.Primary != "Elite 65" {
		t.Errorf("primary name = %q, want Elite 65", name.Primary)
	}
}

func TestParseNameSelector(t *testing.T) {
	for in, want := range map[string]NameSelector{"": NamePrimary, "primary": NamePrimary, "secondary": NameSecondary, "both": NameBoth} {
		got, err := ParseNameSelector(in)
		if err != nil || got != want {
			t.Errorf("ParseNameSelector(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseNameSelector("third"); err == nil {
		t.Error("expected error for unknown selector")
	}
}
