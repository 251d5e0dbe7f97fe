package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/nextlevelbuilder/dectpair/internal/device"
	"github.com/nextlevelbuilder/dectpair/internal/discovery"
	"github.com/nextlevelbuilder/dectpair/internal/session"
	"github.com/nextlevelbuilder/dectpair/pkg/protocol"
)

// simulationDelay is how long the simulated dongle takes to report the
// newly linked headset.
const simulationDelay = 750 * time.Millisecond

// openDevices enumerates the attached devices, either through the
// device-session daemon or from an in-process simulation. The returned
// close function releases the daemon connection.
func (a *app) openDevices(ctx context.Context, simulate bool) ([]device.Device, func(), error) {
	if simulate {
		return device.NewSimulation(simulationDelay).Devices(), func() {}, nil
	}

	c, err := a.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	devices, err := c.Devices(ctx)
	if err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, func() { c.Close() }, nil
}

func (a *app) dial(ctx context.Context) (*session.Client, error) {
	url, err := a.sessionURL(ctx)
	if err != nil {
		return nil, err
	}
	return session.Dial(ctx, session.Config{
		URL:            url,
		Token:          a.cfg.Session.Token,
		RPCPerSecond:   a.cfg.Session.RPCPerSecond,
		Burst:          a.cfg.Session.Burst,
		RequestTimeout: a.cfg.RequestTimeout(),
	})
}

// sessionURL is session.url, or the first daemon found over mDNS when
// session.discover is set.
func (a *app) sessionURL(ctx context.Context) (string, error) {
	if !a.cfg.Session.Discover {
		return a.cfg.Session.URL, nil
	}
	r, err := discovery.NewResolver(nil, a.cfg.DiscoverTimeout())
	if err != nil {
		return "", err
	}
	d, err := r.Find(ctx)
	if err != nil {
		return "", err
	}
	if d.Protocol != 0 && d.Protocol != protocol.ProtocolVersion {
		slog.Warn("discovered daemon speaks another protocol", "instance", d.Instance, "protocol", d.Protocol)
	}
	slog.Debug("discovered device daemon", "instance", d.Instance, "url", d.URL())
	return d.URL(), nil
}

// findDevice returns the device with the given ID, or nil for an empty ID.
func findDevice(devices []device.Device, id string) (device.Device, error) {
	if id == "" {
		return nil, nil
	}
	for _, d := range devices {
		if d.Info().ID == id {
			return d, nil
		}
	}
	if near := closestID(devices, id); near != "" {
		return nil, fmt.Errorf("no attached device with id %q (did you mean %q?)", id, near)
	}
	return nil, fmt.Errorf("no attached device with id %q", id)
}

// closestID returns the attached ID within a third of its length in edits
// of id, or "".
func closestID(devices []device.Device, id string) string {
	best, bestDist := "", -1
	for _, d := range devices {
		cand := d.Info().ID
		dist := levenshtein.ComputeDistance(strings.ToLower(id), strings.ToLower(cand))
		if dist > max(len(cand)/3, 1) {
			continue
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = cand, dist
		}
	}
	return best
}

func printDeviceList(w io.Writer, devices []device.Device) {
	fmt.Fprintln(w, "Device list:")
	for i, d := range devices {
		info := d.Info()
		serial := info.Serial
		if serial == "" {
			serial = "-"
		}
		fmt.Fprintf(w, "  %d: %s, %s (#%s)\n", i, serial, info.Name, info.ID)
	}
}
