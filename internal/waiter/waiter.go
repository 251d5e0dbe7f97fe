// Package waiter waits for a single device event with a deadline.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/dectpair/internal/device"
)

// ErrTimeout is returned when no matching event arrives in time.
var ErrTimeout = errors.New("waiter: timed out waiting for event")

// WaitFor subscribes once to kind on src and returns the first event of
// type E accepted by match (nil match accepts any). It fails with
// ErrTimeout after timeout, or with ctx's error if ctx ends first.
// The subscription is removed on every return path.
func WaitFor[E device.Event](ctx context.Context, src device.EventSource, kind device.EventKind, match func(E) bool, timeout time.Duration) (E, error) {
	var zero E

	got := make(chan E, 1)
	tok := src.Subscribe(kind, func(ev device.Event) {
		e, ok := ev.(E)
		if !ok {
			return
		}
		if match != nil && !match(e) {
			return
		}
		select {
		case got <- e:
		default: // already have one
		}
	})
	defer src.Unsubscribe(tok)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e := <-got:
		return e, nil
	case <-timer.C:
		return zero, fmt.Errorf("%w %q after %s", ErrTimeout, kind, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
