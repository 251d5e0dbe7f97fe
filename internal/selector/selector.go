// Package selector implements keyboard-driven device selection.
//
// Choose renders the current candidate on a single, rewritten line and
// moves a clamped cursor with the arrow keys. ENTER resolves the choice
// directly from the key handler; Q or context cancellation abandons it.
package selector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/nextlevelbuilder/dectpair/internal/bus"
	"github.com/nextlevelbuilder/dectpair/internal/device"
)

var (
	// ErrNoCandidates is returned before any key is read when there is
	// nothing to choose from.
	ErrNoCandidates = errors.New("selector: no candidates")

	// ErrCancelled is returned when the user quits a pending selection.
	ErrCancelled = errors.New("selector: selection cancelled")
)

const defaultWidth = 80

// KeySource is the keyboard input a Selector listens to.
type KeySource interface {
	Subscribe(handler bus.Handler[bus.KeyCode]) bus.Token
	Unsubscribe(tok bus.Token)
}

var (
	labelStyle   = lipgloss.NewStyle().Bold(true)
	currentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	hintStyle    = lipgloss.NewStyle().Faint(true)
)

// Selector drives selections over a shared KeySource.
type Selector struct {
	input KeySource
	out   io.Writer
}

func New(input KeySource, out io.Writer) *Selector {
	return &Selector{input: input, out: out}
}

// Choose lets the user pick one of candidates. label names the kind of
// device in prompts and errors ("dongle", "headset").
func (s *Selector) Choose(ctx context.Context, candidates []device.Device, label string) (device.Device, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no %ss found: %w", label, ErrNoCandidates)
	}

	st := NewState(candidates)
	keys, stop := s.listen()
	defer stop()

	s.render(st, label)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(s.out, "\r\n")
			return nil, ctx.Err()
		case k := <-keys:
			switch k {
			case bus.KeyArrowUp:
				st.Up()
			case bus.KeyArrowDown:
				st.Down()
			case bus.KeyEnter:
				st.Commit()
			case bus.KeyQ:
				fmt.Fprint(s.out, "\r\n")
				return nil, fmt.Errorf("%s selection: %w", label, ErrCancelled)
			}
			s.render(st, label)
			if st.Committed {
				fmt.Fprint(s.out, "\r\n")
				return st.Current(), nil
			}
		}
	}
}

// WaitKey blocks until one of want is pressed and returns it.
func (s *Selector) WaitKey(ctx context.Context, prompt string, want ...bus.KeyCode) (bus.KeyCode, error) {
	keys, stop := s.listen()
	defer stop()

	fmt.Fprintf(s.out, "\r\033[2K%s", prompt)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(s.out, "\r\n")
			return 0, ctx.Err()
		case k := <-keys:
			for _, w := range want {
				if k == w {
					fmt.Fprint(s.out, "\r\n")
					return k, nil
				}
			}
		}
	}
}

// listen subscribes to the key source. Keys arrive on the returned
// channel until stop is called; stop unsubscribes.
func (s *Selector) listen() (<-chan bus.KeyCode, func()) {
	keys := make(chan bus.KeyCode)
	done := make(chan struct{})
	tok := s.input.Subscribe(func(k bus.KeyCode) {
		select {
		case keys <- k:
		case <-done:
		}
	})
	return keys, func() {
		close(done)
		s.input.Unsubscribe(tok)
	}
}

func (s *Selector) render(st *State, label string) {
	prefix := fmt.Sprintf("Select %s [%d/%d] ", label, st.Index+1, len(st.Candidates))
	hint := "  ↑/↓ move · enter select · q quit"
	if st.Committed {
		hint = ""
	}
	name := st.Current().Info().String()
	room := s.width() - runewidth.StringWidth(prefix) - runewidth.StringWidth(hint) - 2
	if room < 8 {
		room = 8
	}
	name = runewidth.Truncate(name, room, "…")

	line := labelStyle.Render(prefix) + currentStyle.Render("▸ "+name) + hintStyle.Render(hint)
	fmt.Fprintf(s.out, "\r\033[2K%s", line)
}

func (s *Selector) width() int {
	if f, ok := s.out.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return defaultWidth
}
