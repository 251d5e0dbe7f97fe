package waiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/dectpair/internal/device"
)

// emitWhenSubscribed emits ev once src has a live subscription.
func emitWhenSubscribed(src *device.Events, evs ...device.Event) {
	go func() {
		for src.Subscriptions() == 0 {
			time.Sleep(time.Millisecond)
		}
		for _, ev := range evs {
			src.Emit(ev)
		}
	}()
}

func TestWaitFor_FirstEvent(t *testing.T) {
	src := device.NewEvents()
	emitWhenSubscribed(src, device.BatteryStatus{LevelInPercent: 45})

	ev, err := WaitFor[device.BatteryStatus](context.Background(), src, device.EventBatteryStatus, nil, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.LevelInPercent != 45 {
		t.Errorf("level = %d, want 45", ev.LevelInPercent)
	}
	if n := src.Subscriptions(); n != 0 {
		t.Errorf("residual subscriptions = %d, want 0", n)
	}
}

func TestWaitFor_Match(t *testing.T) {
	src := device.NewEvents()
	emitWhenSubscribed(src,
		device.BatteryStatus{LevelInPercent: 10},
		device.BatteryStatus{LevelInPercent: 90, IsCharging: true},
	)

	ev, err := WaitFor(context.Background(), src, device.EventBatteryStatus,
		func(b device.BatteryStatus) bool { return b.IsCharging }, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.LevelInPercent != 90 {
		t.Errorf("level = %d, want 90", ev.LevelInPercent)
	}
}

func TestWaitFor_TimeoutLeavesNoSubscription(t *testing.T) {
	src := device.NewEvents()

	start := time.Now()
	_, err := WaitFor[device.BatteryStatus](context.Background(), src, "x", nil, 100*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("returned after %v, before the timeout", elapsed)
	}
	if n := src.Subscriptions(); n != 0 {
		t.Errorf("residual subscriptions = %d, want 0", n)
	}
}

func TestWaitFor_NonMatchingEventsTimeOut(t *testing.T) {
	src := device.NewEvents()
	emitWhenSubscribed(src, device.BatteryStatus{LevelInPercent: 1})

	_, err := WaitFor(context.Background(), src, device.EventBatteryStatus,
		func(b device.BatteryStatus) bool { return b.LevelInPercent > 50 }, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestWaitFor_ContextCancel(t *testing.T) {
	src := device.NewEvents()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for src.Subscriptions() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := WaitFor[device.BatteryStatus](ctx, src, device.EventBatteryStatus, nil, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := src.Subscriptions(); n != 0 {
		t.Errorf("residual subscriptions = %d, want 0", n)
	}
}
