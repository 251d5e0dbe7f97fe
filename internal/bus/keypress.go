package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"
)

// KeypressBus turns raw terminal input into KeyCode events.
// It is created once by the entry point and handed to whoever needs
// keyboard input; Emit lets code inject keys (e.g. Q at shutdown).
type KeypressBus struct {
	*Hub[KeyCode]

	listenOnce sync.Once
	restore    func()
}

func NewKeypressBus() *KeypressBus {
	return &KeypressBus{Hub: NewHub[KeyCode]()}
}

// Emit publishes a key as if it had been typed.
func (kb *KeypressBus) Emit(k KeyCode) {
	kb.Publish(k)
}

// Listen starts decoding r in the background. When r is an interactive
// terminal it is switched to raw mode until Close is called. Only the
// first call has an effect.
func (kb *KeypressBus) Listen(ctx context.Context, r io.Reader) error {
	var err error
	kb.listenOnce.Do(func() {
		if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			var prev *term.State
			prev, err = term.MakeRaw(int(f.Fd()))
			if err != nil {
				return
			}
			fd := int(f.Fd())
			kb.restore = func() { _ = term.Restore(fd, prev) }
		}
		go kb.readLoop(ctx, r)
	})
	return err
}

// Close restores the terminal if Listen put it into raw mode.
func (kb *KeypressBus) Close() {
	if kb.restore != nil {
		kb.restore()
		kb.restore = nil
	}
}

func (kb *KeypressBus) readLoop(ctx context.Context, r io.Reader) {
	var dec Decoder
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		if ctx.Err() != nil {
			return
		}
		for _, k := range dec.Feed(buf[:n]) {
			kb.Publish(k)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("keypress: input read failed", "error", err)
			}
			return
		}
	}
}

// Interactive reports whether f is a terminal.
func Interactive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
