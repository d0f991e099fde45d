// Package rawmode provides scoped raw-mode handling for the controlling
// terminal. Acquire switches the terminal to raw mode and returns a guard;
// the guard restores the original settings exactly once, on every exit path
// the caller defers it on.
package rawmode

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/term"
)

// Guard holds the terminal state to restore. The zero-state guard (returned
// when the fd is not a terminal) restores nothing.
type Guard struct {
	fd    int
	state *term.State
	once  sync.Once
}

// Acquire puts the terminal on fd into raw mode: byte-at-a-time input, no
// local echo, signal characters delivered as bytes. When fd is not a
// terminal (tests, CI, redirected stdin) this is a no-op.
func Acquire(fd int) (*Guard, error) {
	if !term.IsTerminal(fd) {
		return &Guard{fd: fd}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("entering raw mode: %w", err)
	}
	return &Guard{fd: fd, state: state}, nil
}

// Active reports whether the guard actually switched the terminal.
func (g *Guard) Active() bool { return g.state != nil }

// Restore puts the terminal back into its original mode. Safe to call more
// than once. A restore failure is logged rather than returned so it can
// never mask the error that ended the session.
func (g *Guard) Restore() {
	g.once.Do(func() {
		if g.state == nil {
			return
		}
		if err := term.Restore(g.fd, g.state); err != nil {
			slog.Warn("failed to restore terminal mode", "fd", g.fd, "error", err)
		}
	})
}
