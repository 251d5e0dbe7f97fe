package pairing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/dectpair/internal/device"
)

// State is a step of the secure pairing handshake. States are visited
// strictly in declaration order until StateDone, or end in StateFailed.
type State int

const (
	StateInit State = iota
	StateTriggerDongle
	StateReadKey
	StateWriteKeyToHeadset
	StateTriggerHeadset
	StateAwaitConfirmation
	StateVerify
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateTriggerDongle:
		return "TRIGGER_DONGLE"
	case StateReadKey:
		return "READ_KEY"
	case StateWriteKeyToHeadset:
		return "WRITE_KEY_TO_HEADSET"
	case StateTriggerHeadset:
		return "TRIGGER_HEADSET"
	case StateAwaitConfirmation:
		return "AWAIT_CONFIRMATION"
	case StateVerify:
		return "VERIFY"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// spanName is the tracing span name for the step.
func (s State) spanName() string {
	return "pairing." + strings.ToLower(s.String())
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Session is one handshake attempt. It is discarded once settled.
type Session struct {
	ID      string
	Dongle  device.Device
	Headset device.Device

	Key     device.PairingKey
	State   State
	History []State

	Battery     device.BatteryStatus
	HeadsetName string
	Err         error

	StartedAt  time.Time
	FinishedAt time.Time
}

func newSession(dongle, headset device.Device) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Dongle:    dongle,
		Headset:   headset,
		StartedAt: time.Now(),
	}
}

// Duration is how long the session ran (so far, if unsettled).
func (s *Session) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
