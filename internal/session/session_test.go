package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/dectpair/internal/device"
	"github.com/nextlevelbuilder/dectpair/internal/gateway"
	"github.com/nextlevelbuilder/dectpair/internal/gateway/methods"
	"github.com/nextlevelbuilder/dectpair/internal/pairing"
	"github.com/nextlevelbuilder/dectpair/pkg/protocol"
)

func startSim(t *testing.T, opts gateway.Options) (*device.Simulation, string) {
	t.Helper()
	sim := device.NewSimulation(50 * time.Millisecond)
	srv := gateway.NewServer(sim.Devices(), opts)
	methods.NewDeviceMethods(srv).Register(srv.Router())
	srv.Start()

	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
	})
	return sim, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func dial(t *testing.T, url, token string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), Config{URL: url, Token: token, RequestTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func findDevice(t *testing.T, devices []device.Device, id string) device.Device {
	t.Helper()
	for _, d := range devices {
		if d.Info().ID == id {
			return d
		}
	}
	t.Fatalf("device %s not listed", id)
	return nil
}

func TestDevicesListAndRPC(t *testing.T) {
	sim, url := startSim(t, gateway.Options{})
	c := dial(t, url, "")
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	devices, err := c.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("got %d devices, want 3", len(devices))
	}
	if got := devices[0].Info(); got != sim.Speaker.Info() {
		t.Errorf("first device = %+v, want %+v", got, sim.Speaker.Info())
	}

	dongle := findDevice(t, devices, sim.Dongle.Info().ID)
	ok, err := dongle.QueryCapability(ctx, device.CapabilitySecureDECTPairing)
	if err != nil || !ok {
		t.Errorf("QueryCapability = %v, %v", ok, err)
	}

	speaker := findDevice(t, devices, sim.Speaker.Info().ID)
	if err := speaker.WritePairingKey(ctx, 0); !errors.Is(err, ErrRemote) {
		t.Errorf("speaker write err = %v, want ErrRemote", err)
	}
	var re *RemoteError
	if err := speaker.WritePairingKey(ctx, 0); !errors.As(err, &re) || re.Code != protocol.ErrUnsupported {
		t.Errorf("speaker write err = %v, want code %s", err, protocol.ErrUnsupported)
	}

	// handles are stable across listings
	again, _ := c.Devices(ctx)
	if findDevice(t, again, sim.Dongle.Info().ID) != dongle {
		t.Error("re-listing returned a new handle for the dongle")
	}
}

func TestUnknownDevice(t *testing.T) {
	_, url := startSim(t, gateway.Options{})
	c := dial(t, url, "")

	err := c.Call(context.Background(), protocol.MethodPairingKeyRead, protocol.DeviceParams{DeviceID: "nope"}, nil)
	var re *RemoteError
	if !errors.As(err, &re) || re.Code != protocol.ErrNotFound {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestConnectToken(t *testing.T) {
	_, url := startSim(t, gateway.Options{Token: "s3cret"})

	if _, err := Dial(context.Background(), Config{URL: url, Token: "wrong"}); !errors.Is(err, ErrRemote) {
		t.Fatalf("Dial with wrong token err = %v, want ErrRemote", err)
	}
	c := dial(t, url, "s3cret")
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestEventsRoutedToDevice(t *testing.T) {
	sim, url := startSim(t, gateway.Options{})
	c := dial(t, url, "")
	ctx := context.Background()

	devices, err := c.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	dongle := findDevice(t, devices, sim.Dongle.Info().ID)
	headset := findDevice(t, devices, sim.Headset.Info().ID)

	got := make(chan device.BatteryStatus, 1)
	dongle.Subscribe(device.EventBatteryStatus, func(ev device.Event) {
		got <- ev.(device.BatteryStatus)
	})
	headset.Subscribe(device.EventBatteryStatus, func(device.Event) {
		t.Error("dongle event delivered to headset")
	})

	sim.Dongle.Emit(device.BatteryStatus{LevelInPercent: 33, IsCharging: true})

	select {
	case ev := <-got:
		if ev.LevelInPercent != 33 || !ev.IsCharging {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("battery event not delivered")
	}
}

func TestPairOverWebSocket(t *testing.T) {
	sim, url := startSim(t, gateway.Options{RateLimitRPM: 6000, Burst: 20})
	c := dial(t, url, "")
	ctx := context.Background()

	devices, err := c.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	dongle := findDevice(t, devices, sim.Dongle.Info().ID)
	headset := findDevice(t, devices, sim.Headset.Info().ID)

	s, err := pairing.New(pairing.Config{ConfirmationTimeout: 2 * time.Second}, nil, nil).PairDevices(ctx, dongle, headset)
	if err != nil {
		t.Fatalf("PairDevices: %v", err)
	}
	if s.HeadsetName != "Elite 65" || s.Battery.LevelInPercent != sim.Battery {
		t.Errorf("session = %+v", s)
	}
	keys := sim.Headset.WrittenKeys()
	if len(keys) != 1 || keys[0] != s.Key {
		t.Errorf("headset keys = %v, want [%d]", keys, s.Key)
	}
}

func TestCallAfterServerGone(t *testing.T) {
	_, url := startSim(t, gateway.Options{})
	c := dial(t, url, "")
	c.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection not marked done")
	}
	if err := c.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping after close err = %v, want ErrClosed", err)
	}
}

func TestRelistWhileEventsArrive(t *testing.T) {
	sim, url := startSim(t, gateway.Options{RateLimitRPM: 60000, Burst: 100})
	c := dial(t, url, "")
	ctx := context.Background()

	devices, err := c.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	dongle := findDevice(t, devices, sim.Dongle.Info().ID)

	seen := make(chan string, 64)
	dongle.Subscribe(device.EventBatteryStatus, func(device.Event) {
		select {
		case seen <- dongle.Info().ID:
		default:
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			sim.Dongle.Emit(device.BatteryStatus{LevelInPercent: i})
		}
	}()
	for i := 0; i < 10; i++ {
		if _, err := c.Devices(ctx); err != nil {
			t.Fatalf("re-list %d: %v", i, err)
		}
	}
	<-done

	select {
	case id := <-seen:
		if id != sim.Dongle.Info().ID {
			t.Errorf("handler saw id %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}
