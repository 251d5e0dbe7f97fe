package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/dectpair/internal/bus"
	"github.com/nextlevelbuilder/dectpair/internal/device"
	"github.com/nextlevelbuilder/dectpair/internal/pairing"
	"github.com/nextlevelbuilder/dectpair/internal/probe"
	"github.com/nextlevelbuilder/dectpair/internal/selector"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	stepStyle = lipgloss.NewStyle().Faint(true)
)

// errAborted marks a run the user quit with Q.
var errAborted = errors.New("aborted")

type pairOptions struct {
	dongleID  string
	headsetID string
	filter    string
	simulate  bool
	yes       bool
}

func pairCmd(a *app) *cobra.Command {
	var opts pairOptions
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Pair a headset with a DECT dongle",
		Long: `Select a DECT dongle and a headset with the arrow keys and run the
secure pairing handshake between them. Press q at any time to quit.

Finding headset candidates writes a neutral pairing key to every
non-dongle device; pass --headset to skip that probe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return a.pair(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.dongleID, "dongle", "", "dongle device ID (skips dongle selection)")
	cmd.Flags().StringVar(&opts.headsetID, "headset", "", "headset device ID (skips headset selection and probing)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "CEL expression over id, name, vendor, serial, product")
	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "pair simulated devices instead of the daemon's")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "do not ask before probing or pairing")
	return cmd
}

func (a *app) pair(ctx context.Context, opts pairOptions) error {
	if a.cfg.Telemetry.Enabled {
		shutdown := initTelemetry(ctx, a.cfg)
		defer shutdown()
	}

	fmt.Fprintln(a.out, "Press 'q' to quit")
	fmt.Fprintln(a.out, "Scanning for devices..")
	devices, closeDevices, err := a.openDevices(ctx, opts.simulate)
	if err != nil {
		return err
	}
	defer closeDevices()

	if devices, err = filterDevices(devices, opts.filter); err != nil {
		return err
	}

	// the huh prompt reads stdin itself, so it runs before the key listener
	if opts.headsetID == "" && !opts.simulate && a.cfg.Pairing.ConfirmProbe && !opts.yes {
		if !bus.Interactive(os.Stdin) {
			return errors.New("headset probing writes to every candidate device; pass --yes or --headset when not on a terminal")
		}
		ok, err := promptConfirm("Probe devices for headset capability?",
			"Finding headsets writes a neutral pairing key to every device that is not a dongle.", true)
		if err != nil || !ok {
			fmt.Fprintln(a.out, "Cancelled.")
			return nil
		}
	}

	if err := a.keys.Listen(ctx, os.Stdin); err != nil {
		return fmt.Errorf("keyboard input: %w", err)
	}
	defer a.keys.Close()

	s, err := a.runPair(ctx, devices, opts)
	switch {
	case errors.Is(err, errAborted), errors.Is(err, selector.ErrCancelled):
		fmt.Fprintln(a.out, "Aborted.")
		return nil
	case err != nil:
		return err
	}
	fmt.Fprintf(a.out, "Paired in %s (session %s)\n", s.Duration().Round(time.Millisecond), s.ID)
	return nil
}

// runPair runs selection and the handshake in the background and returns
// once Q is seen on the keyboard bus. Finishing emits Q itself. A Q typed
// during selection or at the start prompt cancels that step; once the
// handshake has begun only ctx or the confirmation timeout can end it.
func (a *app) runPair(ctx context.Context, devices []device.Device, opts pairOptions) (*pairing.Session, error) {
	flowCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	quit := make(chan struct{})
	var once sync.Once
	tok := a.keys.Subscribe(func(k bus.KeyCode) {
		if k == bus.KeyQ {
			once.Do(func() { close(quit) })
		}
	})
	defer a.keys.Unsubscribe(tok)

	var gate handshakeGate
	type result struct {
		s   *pairing.Session
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := a.pairFlow(flowCtx, devices, opts, func() (context.Context, bool) {
			return ctx, gate.begin()
		})
		done <- result{s, err}
		a.keys.Emit(bus.KeyQ)
	}()

	var r result
	select {
	case <-quit:
		select {
		case r = <-done:
		default:
			if gate.abort() {
				cancel()
				r = <-done
				if r.err != nil && !errors.Is(r.err, errAborted) {
					r.err = fmt.Errorf("%w: %w", errAborted, r.err)
				} else {
					r.err = errAborted
				}
				break
			}
			slog.Info("pair: quit requested, waiting for the handshake to settle")
			r = <-done
		}
	case <-ctx.Done():
		r = <-done
	}
	fmt.Fprintln(a.out, "Closing down...")
	return r.s, r.err
}

// handshakeGate decides the race between Q and the start of the handshake.
type handshakeGate struct {
	mu      sync.Mutex
	started bool
	aborted bool
}

// begin marks the handshake started unless the run was already aborted.
func (g *handshakeGate) begin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.aborted {
		return false
	}
	g.started = true
	return true
}

// abort marks the run aborted unless the handshake already started.
func (g *handshakeGate) abort() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return false
	}
	g.aborted = true
	return true
}

// pairFlow selects the devices and runs the handshake. begin hands out
// the context the handshake runs under, or false when the run was quit.
func (a *app) pairFlow(ctx context.Context, devices []device.Device, opts pairOptions, begin func() (context.Context, bool)) (*pairing.Session, error) {
	printDeviceList(a.out, devices)

	dongle, err := findDevice(devices, opts.dongleID)
	if err != nil {
		return nil, err
	}
	headset, err := findDevice(devices, opts.headsetID)
	if err != nil {
		return nil, err
	}

	sel := selector.New(a.keys, a.out)
	orch := pairing.New(pairing.Config{
		ConfirmationTimeout: a.cfg.ConfirmationTimeout(),
		OnStateChanged:      a.printStep,
	}, probe.NewProber(a.cfg.Probe.CacheSize, a.cfg.Probe.Concurrency), sel)

	fmt.Fprintln(a.out)
	dongle, headset, err = orch.Select(ctx, devices, dongle, headset)
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(a.out, "\nAttempting to pair these devices:")
	fmt.Fprintf(a.out, "  Dongle:  #%s: %s\n", dongle.Info().ID, dongle.Info().Name)
	fmt.Fprintf(a.out, "  Headset: #%s: %s\n\n", headset.Info().ID, headset.Info().Name)

	if !opts.yes {
		k, err := sel.WaitKey(ctx, "Press 'p' to start pairing, 'q' to quit ", bus.KeyP, bus.KeyQ)
		if err != nil {
			return nil, err
		}
		if k == bus.KeyQ {
			return nil, errAborted
		}
	}

	hsCtx, ok := begin()
	if !ok {
		return nil, errAborted
	}
	s, err := orch.PairDevices(hsCtx, dongle, headset)
	if err != nil {
		fmt.Fprintf(a.out, "%s %v\n", failStyle.Render("Pairing failed:"), err)
		return s, reportedError{err}
	}
	fmt.Fprintf(a.out, "Connected to headset '%s' (battery: %d%%)\n", s.HeadsetName, s.Battery.LevelInPercent)
	fmt.Fprintln(a.out, okStyle.Render("Pairing completed"))
	return s, nil
}

func (a *app) printStep(s *pairing.Session) {
	if s.State == pairing.StateInit || s.State.Terminal() {
		return
	}
	fmt.Fprintf(a.out, "%s\n", stepStyle.Render("  "+stepText(s.State)))
}

func stepText(st pairing.State) string {
	switch st {
	case pairing.StateTriggerDongle:
		return "Triggering secure pairing on dongle"
	case pairing.StateReadKey:
		return "Reading pairing key"
	case pairing.StateWriteKeyToHeadset:
		return "Writing pairing key to headset"
	case pairing.StateTriggerHeadset:
		return "Starting secure pairing on headset"
	case pairing.StateAwaitConfirmation:
		return "Waiting for headset battery level report"
	case pairing.StateVerify:
		return "Verifying connection"
	}
	return st.String()
}
