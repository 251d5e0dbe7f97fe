// Package pairing runs the DECT secure pairing handshake between a
// dongle (base) and a headset.
//
// The handshake is a fixed sequence:
//  1. Trigger secure pairing on the dongle
//  2. Read the pairing key the dongle generated
//  3. Write that key to the headset
//  4. Trigger secure pairing on the headset
//  5. Wait for a battery status event from the dongle (the link is up)
//  6. Verify: non-zero battery level and a connected headset name
//
// The key always reaches the headset before the headset is triggered.
// Any failed step ends the session; nothing is retried.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/dectpair/internal/device"
	"github.com/nextlevelbuilder/dectpair/internal/probe"
	"github.com/nextlevelbuilder/dectpair/internal/selector"
	"github.com/nextlevelbuilder/dectpair/internal/waiter"
)

// DefaultConfirmationTimeout bounds the wait for the dongle's battery
// status event after the headset was triggered.
const DefaultConfirmationTimeout = 30 * time.Second

// Config configures an Orchestrator.
type Config struct {
	// ConfirmationTimeout defaults to DefaultConfirmationTimeout if zero.
	ConfirmationTimeout time.Duration

	// Tracer for step spans. Defaults to the global tracer provider.
	Tracer trace.Tracer

	// OnStateChanged is called on every transition, including the
	// terminal one.
	OnStateChanged func(s *Session)
}

// Orchestrator runs pairing sessions.
type Orchestrator struct {
	cfg      Config
	prober   *probe.Prober
	selector *selector.Selector
}

// New creates an Orchestrator. prober and sel are only needed by
// SelectAndPair and may be nil when PairDevices is called directly.
func New(cfg Config, prober *probe.Prober, sel *selector.Selector) *Orchestrator {
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/nextlevelbuilder/dectpair/internal/pairing")
	}
	return &Orchestrator{cfg: cfg, prober: prober, selector: sel}
}

// PairDevices runs one handshake between dongle and headset. The
// returned session is never nil; on failure its Err equals the returned
// error, which is a *StepError naming the failed step.
func (o *Orchestrator) PairDevices(ctx context.Context, dongle, headset device.Device) (*Session, error) {
	s := newSession(dongle, headset)
	o.transition(s, StateInit)
	if missing(dongle) || missing(headset) {
		return s, o.fail(s, &StepError{Step: StateInit, Err: ErrPrecondition})
	}

	ctx, span := o.cfg.Tracer.Start(ctx, "pairing.session", trace.WithAttributes(
		attribute.String("pairing.session_id", s.ID),
		attribute.String("dongle.id", dongle.Info().ID),
		attribute.String("headset.id", headset.Info().ID),
	))
	defer span.End()

	slog.Info("pairing: starting", "session", s.ID, "dongle", dongle.Info().ID, "headset", headset.Info().ID)

	steps := []struct {
		state State
		run   func(context.Context) error
	}{
		{StateTriggerDongle, dongle.TriggerSecurePairing},
		{StateReadKey, func(ctx context.Context) error {
			key, err := dongle.ReadPairingKey(ctx)
			if err != nil {
				return err
			}
			if key == 0 {
				return ErrInvalidKey
			}
			s.Key = key
			return nil
		}},
		{StateWriteKeyToHeadset, func(ctx context.Context) error {
			return headset.WritePairingKey(ctx, s.Key)
		}},
		{StateTriggerHeadset, headset.TriggerSecurePairing},
		{StateAwaitConfirmation, func(ctx context.Context) error {
			ev, err := waiter.WaitFor[device.BatteryStatus](ctx, dongle, device.EventBatteryStatus, nil, o.cfg.ConfirmationTimeout)
			if errors.Is(err, waiter.ErrTimeout) {
				return fmt.Errorf("%w: %w", ErrConfirmationTimeout, err)
			}
			if err != nil {
				return err
			}
			s.Battery = ev
			return nil
		}},
		{StateVerify, func(ctx context.Context) error {
			if s.Battery.LevelInPercent == 0 {
				return fmt.Errorf("%w: headset battery reported 0%%", ErrVerification)
			}
			name, err := dongle.ReadConnectedHeadsetName(ctx, device.NamePrimary)
			if err != nil {
				return err
			}
			if name.Primary == "" {
				return fmt.Errorf("%w: connected headset name is empty", ErrVerification)
			}
			s.HeadsetName = name.Primary
			return nil
		}},
	}

	for _, st := range steps {
		if err := o.runStep(ctx, s, st.state, st.run); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return s, o.fail(s, err)
		}
	}

	s.FinishedAt = time.Now()
	o.transition(s, StateDone)
	span.SetAttributes(
		attribute.Int("headset.battery_percent", s.Battery.LevelInPercent),
		attribute.String("headset.name", s.HeadsetName),
	)
	slog.Info("pairing: complete",
		"session", s.ID,
		"battery", s.Battery.LevelInPercent,
		"charging", s.Battery.IsCharging,
		"headset", s.HeadsetName,
		"duration", s.Duration().Round(time.Millisecond),
	)
	return s, nil
}

func (o *Orchestrator) runStep(ctx context.Context, s *Session, st State, run func(context.Context) error) error {
	o.transition(s, st)

	ctx, span := o.cfg.Tracer.Start(ctx, st.spanName())
	defer span.End()

	if err := run(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &StepError{Step: st, Err: err}
	}
	return nil
}

func (o *Orchestrator) transition(s *Session, st State) {
	s.State = st
	s.History = append(s.History, st)
	slog.Debug("pairing: state", "session", s.ID, "state", st.String())
	if o.cfg.OnStateChanged != nil {
		o.cfg.OnStateChanged(s)
	}
}

func (o *Orchestrator) fail(s *Session, err error) error {
	s.Err = err
	s.FinishedAt = time.Now()
	o.transition(s, StateFailed)
	slog.Warn("pairing: failed", "session", s.ID, "error", err)
	return err
}

// Select classifies candidates and lets the user choose a dongle and a
// headset. A non-nil dongle or headset argument skips that choice.
func (o *Orchestrator) Select(ctx context.Context, candidates []device.Device, dongle, headset device.Device) (device.Device, device.Device, error) {
	if o.prober == nil || o.selector == nil {
		return nil, nil, errors.New("pairing: selection needs a prober and a selector")
	}
	if dongle != nil && headset != nil {
		return dongle, headset, nil
	}

	// with the headset fixed only dongle candidates are needed, and no
	// device receives the headset probe write
	var dongles, headsets []device.Device
	rest := exclude(candidates, dongle, headset)
	if headset != nil {
		dongles = o.prober.Dongles(ctx, rest)
	} else {
		dongles, headsets = o.prober.Classify(ctx, rest)
	}

	var err error
	if dongle == nil {
		if dongle, err = o.selector.Choose(ctx, dongles, "dongle"); err != nil {
			return nil, nil, err
		}
	}
	if headset == nil {
		if headset, err = o.selector.Choose(ctx, exclude(headsets, dongle), "headset"); err != nil {
			return nil, nil, err
		}
	}
	return dongle, headset, nil
}

// SelectAndPair runs Select and then PairDevices on the chosen pair.
func (o *Orchestrator) SelectAndPair(ctx context.Context, candidates []device.Device) (*Session, error) {
	dongle, headset, err := o.Select(ctx, candidates, nil, nil)
	if err != nil {
		return nil, err
	}
	return o.PairDevices(ctx, dongle, headset)
}

func exclude(devices []device.Device, drop ...device.Device) []device.Device {
	out := make([]device.Device, 0, len(devices))
outer:
	for _, d := range devices {
		for _, x := range drop {
			if x != nil && d.Info().ID == x.Info().ID {
				continue outer
			}
		}
		out = append(out, d)
	}
	return out
}

// missing reports an absent handle. A typed nil pointer inside the
// interface is not == nil; the adapters answer Info on a nil receiver
// with an empty ID, which counts as absent too.
func missing(d device.Device) bool {
	return d == nil || d.Info().ID == ""
}
