package device

import (
	"sync"

	"github.com/nextlevelbuilder/dectpair/internal/bus"
)

// EventKind names a device event stream.
type EventKind string

const (
	EventBatteryStatus     EventKind = "battery.status"
	EventHeadsetConnection EventKind = "headset.connection"
)

// Event is the tagged union of device events. Concrete types are
// BatteryStatus and HeadsetConnection.
type Event interface {
	Kind() EventKind
}

// BatteryStatus reports the battery of the headset attached to a dongle.
type BatteryStatus struct {
	LevelInPercent int  `json:"levelInPercent"`
	IsCharging     bool `json:"isCharging"`
	IsBatteryLow   bool `json:"isBatteryLow"`
}

func (BatteryStatus) Kind() EventKind { return EventBatteryStatus }

// HeadsetConnection reports a headset linking to or dropping off a dongle.
type HeadsetConnection struct {
	Connected bool `json:"connected"`
}

func (HeadsetConnection) Kind() EventKind { return EventHeadsetConnection }

// Events is a per-kind event hub adapters embed to implement EventSource.
type Events struct {
	hubs   map[EventKind]*bus.Hub[Event]
	owners map[Token]EventKind
	mu     sync.Mutex
}

func NewEvents() *Events {
	return &Events{
		hubs:   make(map[EventKind]*bus.Hub[Event]),
		owners: make(map[Token]EventKind),
	}
}

func (e *Events) hub(kind EventKind) *bus.Hub[Event] {
	h, ok := e.hubs[kind]
	if !ok {
		h = bus.NewHub[Event]()
		e.hubs[kind] = h
	}
	return h
}

// Subscribe implements EventSource.
func (e *Events) Subscribe(kind EventKind, handler func(Event)) Token {
	e.mu.Lock()
	defer e.mu.Unlock()
	tok := e.hub(kind).Subscribe(handler)
	e.owners[tok] = kind
	return tok
}

// Unsubscribe implements EventSource.
func (e *Events) Unsubscribe(tok Token) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kind, ok := e.owners[tok]
	if !ok {
		return
	}
	delete(e.owners, tok)
	e.hubs[kind].Unsubscribe(tok)
}

// Emit delivers ev to the subscribers of its kind.
func (e *Events) Emit(ev Event) {
	e.mu.Lock()
	h := e.hub(ev.Kind())
	e.mu.Unlock()
	h.Publish(ev)
}

// Subscriptions returns the number of live subscriptions across all kinds.
func (e *Events) Subscriptions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.owners)
}
