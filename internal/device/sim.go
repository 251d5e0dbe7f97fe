package device

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"time"
)

// Simulation is a scripted dongle/headset set used by --simulate.
//
// Triggering the dongle makes it generate a fresh key. Triggering the
// headset after it has been given that key links the two: after Delay
// the dongle learns the headset name and emits a battery status event.
type Simulation struct {
	Dongle  *Fake
	Headset *Fake
	Speaker *Fake // neither dongle- nor headset-capable
	Delay   time.Duration
	Battery int
}

func NewSimulation(delay time.Duration) *Simulation {
	s := &Simulation{
		Dongle: NewFake(Info{ID: "sim-dongle-1", Name: "Link 400 (simulated)", Vendor: "simulator", Serial: "SIM-D-0001", Product: 0x0a10}).
			WithCapabilities(CapabilityBasicDECTPairing, CapabilitySecureDECTPairing),
		Headset: NewFake(Info{ID: "sim-headset-1", Name: "Elite 65 (simulated)", Vendor: "simulator", Serial: "SIM-H-0001", Product: 0x0b20}).
			AcceptPairingKey(),
		Speaker: NewFake(Info{ID: "sim-speaker-1", Name: "Speak 710 (simulated)", Vendor: "simulator", Serial: "SIM-S-0001", Product: 0x0c30}),
		Delay:   delay,
		Battery: 80,
	}
	s.Dongle.OnTrigger(func() {
		s.Dongle.SetPairingKey(randomKey())
	})
	s.Headset.OnTrigger(s.link)
	return s
}

// Devices returns the simulated devices in enumeration order.
func (s *Simulation) Devices() []Device {
	return []Device{s.Speaker, s.Dongle, s.Headset}
}

func (s *Simulation) link() {
	written := s.Headset.WrittenKeys()
	if len(written) == 0 {
		return
	}
	s.Dongle.mu.Lock()
	want := s.Dongle.key
	s.Dongle.mu.Unlock()
	if want == 0 || written[len(written)-1] != want {
		slog.Debug("simulator: headset key mismatch, not linking")
		return
	}
	time.AfterFunc(s.Delay, func() {
		s.Dongle.SetHeadsetName(HeadsetName{Primary: "Elite 65"})
		s.Dongle.Emit(HeadsetConnection{Connected: true})
		s.Dongle.Emit(BatteryStatus{LevelInPercent: s.Battery, IsBatteryLow: s.Battery < 10})
	})
}

func randomKey() PairingKey {
	var b [4]byte
	for {
		rand.Read(b[:])
		if k := PairingKey(binary.BigEndian.Uint32(b[:])); k != 0 {
			return k
		}
	}
}
