package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/dectpair/internal/bus"
	"github.com/nextlevelbuilder/dectpair/internal/config"
	"github.com/nextlevelbuilder/dectpair/internal/device"
)

func monitorCmd(a *app) *cobra.Command {
	var (
		deviceID string
		simulate bool
		dedupe   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print battery and headset connection events until q is pressed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			devices, closeDevices, err := a.openDevices(ctx, simulate)
			if err != nil {
				return err
			}
			defer closeDevices()

			if deviceID != "" {
				d, err := findDevice(devices, deviceID)
				if err != nil {
					return err
				}
				devices = []device.Device{d}
			}

			if w := a.watchConfig(); w != nil {
				defer w.Stop()
			}

			if err := a.keys.Listen(ctx, os.Stdin); err != nil {
				return fmt.Errorf("keyboard input: %w", err)
			}
			defer a.keys.Close()

			var seen *bus.DedupeCache
			if dedupe > 0 {
				seen = bus.NewDedupeCache(dedupe, 1024)
			}
			return monitor(ctx, a.keys, devices, seen, a.out)
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "only watch this device ID")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "watch simulated devices")
	cmd.Flags().DurationVar(&dedupe, "dedupe", 0, "hide repeats of an identical event from the same device within this window")
	return cmd
}

// monitor prints device events to w until Q arrives on keys or ctx ends.
// When seen is non-nil, repeats it already holds are skipped.
func monitor(ctx context.Context, keys *bus.KeypressBus, devices []device.Device, seen *bus.DedupeCache, w io.Writer) error {
	type sub struct {
		dev device.Device
		tok device.Token
	}
	var subs []sub
	defer func() {
		for _, s := range subs {
			s.dev.Unsubscribe(s.tok)
		}
	}()

	events := make(chan string, 64)
	for _, d := range devices {
		d := d
		for _, kind := range []device.EventKind{device.EventBatteryStatus, device.EventHeadsetConnection} {
			tok := d.Subscribe(kind, func(ev device.Event) {
				line := formatEvent(d.Info(), ev)
				if seen != nil && seen.IsDuplicate(line) {
					return
				}
				select {
				case events <- time.Now().Format("15:04:05.000") + "  " + line:
				default:
					slog.Warn("monitor: output behind, dropping event", "device", d.Info().ID)
				}
			})
			subs = append(subs, sub{d, tok})
		}
	}

	quit := make(chan struct{}, 1)
	tok := keys.Subscribe(func(k bus.KeyCode) {
		if k == bus.KeyQ {
			select {
			case quit <- struct{}{}:
			default:
			}
		}
	})
	defer keys.Unsubscribe(tok)

	fmt.Fprintf(w, "Watching %d device(s), press 'q' to quit\n", len(devices))
	for {
		select {
		case line := <-events:
			fmt.Fprintln(w, line)
		case <-quit:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func formatEvent(info device.Info, ev device.Event) string {
	switch e := ev.(type) {
	case device.BatteryStatus:
		flags := ""
		if e.IsCharging {
			flags += " charging"
		}
		if e.IsBatteryLow {
			flags += " low"
		}
		return fmt.Sprintf("%-16s battery %3d%%%s", info.ID, e.LevelInPercent, flags)
	case device.HeadsetConnection:
		state := "disconnected"
		if e.Connected {
			state = "connected"
		}
		return fmt.Sprintf("%-16s headset %s", info.ID, state)
	}
	return fmt.Sprintf("%-16s %s", info.ID, ev.Kind())
}

// watchConfig reloads the log level when the config file changes.
// It returns nil when the file cannot be watched.
func (a *app) watchConfig() *config.Watcher {
	w, err := config.NewWatcher(a.cfgPath)
	if err != nil {
		slog.Debug("config watcher unavailable", "error", err)
		return nil
	}
	w.OnChange(a.applyLevel)
	if err := w.Start(); err != nil {
		slog.Debug("config watcher unavailable", "path", a.cfgPath, "error", err)
		w.Stop()
		return nil
	}
	return w
}
