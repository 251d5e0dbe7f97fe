// Package device defines the view of an attached DECT device that the
// pairing core works against.
//
// A Device is owned by the device-session layer; the core only queries
// capabilities, moves the pairing key, triggers secure pairing, reads the
// connected headset name and subscribes to events. Adapters implement
// Device over a concrete access layer (see internal/session) or in memory
// (see Fake).
package device

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/dectpair/internal/bus"
)

// Capability is a feature flag a device may report as supported.
type Capability string

const (
	CapabilityBasicDECTPairing  Capability = "dect.pairing.basic"
	CapabilitySecureDECTPairing Capability = "dect.pairing.secure"
)

// PairingKey is the handshake secret generated by a dongle. Valid keys
// are positive; zero is the neutral value used by the headset probe.
type PairingKey uint32

// NameSelector picks which headset name a dongle reports.
type NameSelector int

const (
	NamePrimary NameSelector = iota
	NameSecondary
	NameBoth
)

func (s NameSelector) String() string {
	switch s {
	case NamePrimary:
		return "primary"
	case NameSecondary:
		return "secondary"
	case NameBoth:
		return "both"
	default:
		return fmt.Sprintf("NameSelector(%d)", int(s))
	}
}

// ParseNameSelector accepts "primary", "secondary" or "both".
func ParseNameSelector(s string) (NameSelector, error) {
	switch s {
	case "", "primary":
		return NamePrimary, nil
	case "secondary":
		return NameSecondary, nil
	case "both":
		return NameBoth, nil
	}
	return NamePrimary, fmt.Errorf("unknown name selector %q", s)
}

// HeadsetName is the name read back from a dongle for its connected headset.
type HeadsetName struct {
	Primary   string `json:"primary,omitempty"`
	Secondary string `json:"secondary,omitempty"`
}

// Info identifies a device for display and filtering.
type Info struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Vendor  string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Serial  string `json:"serial,omitempty" yaml:"serial,omitempty"` // ESN
	Product uint16 `json:"productId,omitempty" yaml:"productId,omitempty"`
}

func (i Info) String() string {
	if i.Serial == "" {
		return i.Name
	}
	return fmt.Sprintf("%s (ESN %s)", i.Name, i.Serial)
}

// Token identifies an event subscription on a device.
type Token = bus.Token

// EventSource is anything that emits device events.
type EventSource interface {
	// Subscribe registers handler for events of the given kind and
	// returns the token needed to unsubscribe.
	Subscribe(kind EventKind, handler func(Event)) Token
	Unsubscribe(tok Token)
}

// Device is a capability-checked handle on an attached device.
type Device interface {
	EventSource

	Info() Info
	QueryCapability(ctx context.Context, c Capability) (bool, error)
	ReadPairingKey(ctx context.Context) (PairingKey, error)
	WritePairingKey(ctx context.Context, key PairingKey) error
	TriggerSecurePairing(ctx context.Context) error
	ReadConnectedHeadsetName(ctx context.Context, sel NameSelector) (HeadsetName, error)
}
