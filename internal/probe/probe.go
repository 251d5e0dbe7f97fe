// Package probe classifies devices as dongle- or headset-capable.
//
// IsHeadsetCapable writes pairing key 0 to the device. Whether 0 is a
// safe reset value on every firmware is unconfirmed, so the probe may
// disturb a pairing already in progress. Callers should ask before
// probing and Prober caches results so each device is probed once.
package probe

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/dectpair/internal/device"
)

// ProbeKey is the neutral key written by IsHeadsetCapable.
const ProbeKey device.PairingKey = 0

// IsDongleCapable reports whether d supports both basic and secure DECT
// pairing. Query errors count as unsupported.
func IsDongleCapable(ctx context.Context, d device.Device) bool {
	for _, c := range []device.Capability{device.CapabilityBasicDECTPairing, device.CapabilitySecureDECTPairing} {
		ok, err := d.QueryCapability(ctx, c)
		if err != nil {
			slog.Debug("probe: capability query failed", "device", d.Info().ID, "capability", c, "error", err)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// IsHeadsetCapable reports whether d accepts a pairing key write.
func IsHeadsetCapable(ctx context.Context, d device.Device) bool {
	if err := d.WritePairingKey(ctx, ProbeKey); err != nil {
		slog.Debug("probe: pairing key write rejected", "device", d.Info().ID, "error", err)
		return false
	}
	return true
}

// Roles is the classification of one device.
type Roles struct {
	Dongle  bool
	Headset bool
}

// Prober classifies devices, remembering results by device ID.
type Prober struct {
	cache       *lru.Cache[string, Roles]
	concurrency int
}

// NewProber creates a Prober caching up to size devices and probing at
// most concurrency devices at a time.
func NewProber(size, concurrency int) *Prober {
	if size <= 0 {
		size = 64
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	cache, _ := lru.New[string, Roles](size) // only fails for size <= 0
	return &Prober{cache: cache, concurrency: concurrency}
}

// Roles classifies d. The headset probe runs only when the device is
// not already dongle-capable, so a dongle never receives the probe write.
func (p *Prober) Roles(ctx context.Context, d device.Device) Roles {
	id := d.Info().ID
	if r, ok := p.cache.Get(id); ok {
		return r
	}
	var r Roles
	r.Dongle = IsDongleCapable(ctx, d)
	if !r.Dongle {
		r.Headset = IsHeadsetCapable(ctx, d)
	}
	p.cache.Add(id, r)
	return r
}

// Classify splits devices into dongle and headset candidates, keeping
// enumeration order. Devices are probed concurrently; one device is
// never probed by two goroutines.
func (p *Prober) Classify(ctx context.Context, devices []device.Device) (dongles, headsets []device.Device) {
	roles := make([]Roles, len(devices))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, d := range devices {
		g.Go(func() error {
			roles[i] = p.Roles(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	for i, d := range devices {
		if roles[i].Dongle {
			dongles = append(dongles, d)
		}
		if roles[i].Headset {
			headsets = append(headsets, d)
		}
	}
	return dongles, headsets
}

// Dongles returns the dongle-capable devices, keeping enumeration order.
// It only queries capabilities and never writes to a device.
func (p *Prober) Dongles(ctx context.Context, devices []device.Device) []device.Device {
	capable := make([]bool, len(devices))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, d := range devices {
		g.Go(func() error {
			if r, ok := p.cache.Get(d.Info().ID); ok {
				capable[i] = r.Dongle
				return nil
			}
			capable[i] = IsDongleCapable(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	var out []device.Device
	for i, d := range devices {
		if capable[i] {
			out = append(out, d)
		}
	}
	return out
}

// Forget drops the cached classification for a device.
func (p *Prober) Forget(id string) {
	p.cache.Remove(id)
}
