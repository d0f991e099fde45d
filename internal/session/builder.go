package session

import (
	"context"
	"fmt"

	"github.com/mbrock/molt/internal/ptyproc"
)

// TriggerKind says what caused a build.
type TriggerKind int

const (
	// TriggerInitial is the first build at session start.
	TriggerInitial TriggerKind = iota
	// TriggerFileChanged is a rebuild caused by watched-file changes.
	TriggerFileChanged
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerInitial:
		return "initial"
	case TriggerFileChanged:
		return "file-changed"
	default:
		return fmt.Sprintf("trigger(%d)", int(k))
	}
}

// Trigger describes what caused a build. Paths is set only for
// TriggerFileChanged.
type Trigger struct {
	Kind  TriggerKind
	Paths []string
}

// Initial returns the session-start trigger.
func Initial() Trigger { return Trigger{Kind: TriggerInitial} }

// FileChanged returns a trigger for the given changed paths.
func FileChanged(paths []string) Trigger {
	return Trigger{Kind: TriggerFileChanged, Paths: paths}
}

// BuildContext is the immutable value handed to the builder on every build
// attempt. A fresh context is constructed per attempt and never mutated.
type BuildContext struct {
	// Dir is the session's current working directory.
	Dir string
	// Env is the session's environment snapshot.
	Env map[string]string
	// Trigger says why this build is happening.
	Trigger Trigger
}

// Builder produces the command for the next shell instance. Implemented by
// the consumer; each call is independent and must be safe to repeat. Build
// may take arbitrarily long — the manager keeps servicing the live shell
// while a build runs — and should honor ctx cancellation.
type Builder interface {
	Build(ctx context.Context, bctx BuildContext) (ptyproc.Command, error)
}

// BuildFunc adapts a function to the Builder interface.
type BuildFunc func(ctx context.Context, bctx BuildContext) (ptyproc.Command, error)

func (f BuildFunc) Build(ctx context.Context, bctx BuildContext) (ptyproc.Command, error) {
	return f(ctx, bctx)
}

// ExecBuilder always returns the same command; what the CLI uses when the
// "rebuild" is simply re-running the configured shell command.
type ExecBuilder struct {
	Cmd ptyproc.Command
}

func (b ExecBuilder) Build(ctx context.Context, bctx BuildContext) (ptyproc.Command, error) {
	cmd := b.Cmd
	if cmd.Dir == "" {
		cmd.Dir = bctx.Dir
	}
	return cmd, nil
}

// BuildError wraps a failure reported by the Builder. Build failures are
// never fatal to a running session: the old shell stays untouched.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string { return fmt.Sprintf("build failed: %v", e.Err) }
func (e *BuildError) Unwrap() error { return e.Err }

// WatchError wraps a fatal failure of the file-watch subsystem. Once it
// fires the manager can no longer detect changes.
type WatchError struct {
	Err error
}

func (e *WatchError) Error() string { return fmt.Sprintf("file watch failed: %v", e.Err) }
func (e *WatchError) Unwrap() error { return e.Err }
