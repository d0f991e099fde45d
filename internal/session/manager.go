// Package session runs an interactive shell on a PTY, watches files, and on
// change builds a replacement shell and transplants the live terminal
// session onto it. The user keeps their scrollback, cursor position, and
// terminal modes across the swap.
//
// All session state is owned by a single event loop; stdin bytes, PTY
// output, watcher notifications, resizes, and build completions are
// serialized through one channel, so there are no locks around the active
// PTY or the terminal model.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mbrock/molt/internal/ptyproc"
	"github.com/mbrock/molt/internal/rawmode"
	"github.com/mbrock/molt/internal/watch"
	"github.com/mbrock/molt/pkg/vterm"
)

// Source is the file-watch event feed the manager consumes. Satisfied by
// *watch.Watcher; tests inject their own.
type Source interface {
	Events() <-chan watch.Event
	Errors() <-chan error
	Close() error
}

// Config configures a Manager. Builder is required; everything else has
// defaults. The IO endpoints and constructors are injectable so the whole
// manager runs against fakes in tests.
type Config struct {
	Builder Builder

	// WatchPaths and Debounce form the watch set. Empty WatchPaths means
	// no hot reload; the manager just runs the shell.
	WatchPaths []string
	Debounce   time.Duration

	// Rows and Cols are the initial terminal dimensions (default 24x80).
	Rows, Cols uint16

	Restart RestartPolicy

	// ContinueOnWatchError keeps the session alive (without hot reload)
	// when the watch subsystem fails; by default the failure ends the
	// session.
	ContinueOnWatchError bool

	// Stdin and Stdout are the real-terminal endpoints (default
	// os.Stdin/os.Stdout). When Stdin is a terminal it is switched to raw
	// mode for the duration of Run.
	Stdin  io.Reader
	Stdout io.Writer

	// Spawn creates PTY-attached shells (default ptyproc.Spawn).
	Spawn func(cmd ptyproc.Command, rows, cols uint16) (ptyproc.PTY, error)
	// NewWatcher creates the watch source (default watch.New).
	NewWatcher func(paths []string, debounce time.Duration) (Source, error)
}

type eventKind int

const (
	evStdin eventKind = iota
	evStdinEOF
	evOutput
	evExit
	evChanged
	evBuildDone
	evResize
	evPause
	evShutdown
	evWatchFail
)

// event is one unit of work for the loop. Output and exit events carry the
// generation of the PTY that produced them; events from retired generations
// are discarded, which is what diverts an old shell's output away from the
// terminal after a swap.
type event struct {
	kind       eventKind
	gen        uint64
	data       []byte
	paths      []string
	cmd        ptyproc.Command
	err        error
	rows, cols uint16
	code       int
	pause      bool
}

const maxScrollback = 10000

// Manager is the session orchestrator. Create with New, drive with Run.
type Manager struct {
	cfg Config

	events  chan event
	msgs    chan Message
	stopped chan struct{}

	mu         sync.Mutex
	state      State
	scrollback []string
}

// New validates the configuration and creates a manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Builder == nil {
		return nil, fmt.Errorf("session: Builder is required")
	}
	if cfg.Rows == 0 {
		cfg.Rows = 24
	}
	if cfg.Cols == 0 {
		cfg.Cols = 80
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Spawn == nil {
		cfg.Spawn = func(cmd ptyproc.Command, rows, cols uint16) (ptyproc.PTY, error) {
			return ptyproc.Spawn(cmd, rows, cols)
		}
	}
	if cfg.NewWatcher == nil {
		cfg.NewWatcher = func(paths []string, debounce time.Duration) (Source, error) {
			return watch.New(paths, debounce)
		}
	}
	return &Manager{
		cfg:     cfg,
		events:  make(chan event, 256),
		msgs:    make(chan Message, 16),
		stopped: make(chan struct{}),
	}, nil
}

// Messages delivers reload notifications. Best-effort; read it or lose it.
func (m *Manager) Messages() <-chan Message { return m.msgs }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	old := m.state
	m.state = s
	m.mu.Unlock()
	if old != s {
		slog.Debug("session state", "from", old, "to", s)
	}
}

// Scrollback returns the last n lines scrolled off the top of the primary
// screen.
func (m *Manager) Scrollback(n int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || len(m.scrollback) == 0 {
		return nil
	}
	if n > len(m.scrollback) {
		n = len(m.scrollback)
	}
	out := make([]string, n)
	copy(out, m.scrollback[len(m.scrollback)-n:])
	return out
}

// Resize tells the session the real terminal changed size. Applied to the
// active PTY; during a swap the latest size wins and is applied to the new
// PTY on activation.
func (m *Manager) Resize(rows, cols uint16) {
	m.post(event{kind: evResize, rows: rows, cols: cols})
}

// Pause suspends reaction to file changes; Resume re-enables it.
func (m *Manager) Pause()  { m.post(event{kind: evPause, pause: true}) }
func (m *Manager) Resume() { m.post(event{kind: evPause, pause: false}) }

// Shutdown asks the running session to stop.
func (m *Manager) Shutdown() { m.post(event{kind: evShutdown}) }

func (m *Manager) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.stopped:
	}
}

func (m *Manager) notify(msg Message) {
	select {
	case m.msgs <- msg:
	default:
	}
}

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// Run executes the session until the shell exits, a fatal error occurs, or
// the context is cancelled. It returns the child's exit code. Terminal mode
// is restored on every exit path.
func (m *Manager) Run(ctx context.Context) (exitCode int, err error) {
	defer close(m.stopped)
	defer m.setState(StateStopped)
	m.setState(StateStarting)

	cwd, err := os.Getwd()
	if err != nil {
		return 1, fmt.Errorf("getting working directory: %w", err)
	}

	var src Source
	if len(m.cfg.WatchPaths) > 0 {
		src, err = m.cfg.NewWatcher(m.cfg.WatchPaths, m.cfg.Debounce)
		if err != nil {
			return 1, &WatchError{Err: err}
		}
		defer src.Close()
	}

	// Initial build is synchronous; there is no session to preserve yet,
	// so failure is fatal.
	cmd, err := m.cfg.Builder.Build(ctx, BuildContext{Dir: cwd, Env: environMap(), Trigger: Initial()})
	if err != nil {
		return 1, &BuildError{Err: err}
	}

	rows, cols := m.cfg.Rows, m.cfg.Cols
	active, err := m.cfg.Spawn(cmd, rows, cols)
	if err != nil {
		return 1, err
	}
	slog.Info("shell started", "command", cmd.String(), "rows", rows, "cols", cols)

	// Raw mode last, so earlier failures never leave the terminal raw.
	var guard *rawmode.Guard
	if f, ok := m.cfg.Stdin.(*os.File); ok {
		guard, err = rawmode.Acquire(int(f.Fd()))
		if err != nil {
			active.Kill()
			return 1, err
		}
		defer guard.Restore()
	}

	vt := vterm.New(int(rows), int(cols))
	vt.OnPushLine(func(line string) {
		m.mu.Lock()
		m.scrollback = append(m.scrollback, line)
		if len(m.scrollback) > maxScrollback {
			m.scrollback = m.scrollback[1:]
		}
		m.mu.Unlock()
	})

	var gen uint64
	go m.readStdin()
	go m.readPTY(active, gen)
	if src != nil {
		go m.forwardWatch(src)
	}

	// Loop-owned state. Nothing outside the loop touches these.
	paused := false
	pendingChange := false
	var queuedPaths []string
	var inflightPaths []string
	var buildCancel context.CancelFunc
	watchDead := src == nil

	defer func() {
		if buildCancel != nil {
			buildCancel()
		}
		go func(p ptyproc.PTY) { p.Kill(); p.Wait() }(active)
	}()

	startReload := func(paths []string) {
		m.setState(StateReloading)
		inflightPaths = paths
		bctx := BuildContext{Dir: cwd, Env: environMap(), Trigger: FileChanged(paths)}
		bldCtx, cancel := context.WithCancel(ctx)
		buildCancel = cancel
		go func() {
			builtCmd, buildErr := m.cfg.Builder.Build(bldCtx, bctx)
			m.post(event{kind: evBuildDone, cmd: builtCmd, err: buildErr, paths: paths})
		}()
	}

	// startPending kicks off the single coalesced reload queued while a
	// previous one was in flight.
	startPending := func() {
		if pendingChange && !watchDead {
			pendingChange = false
			paths := queuedPaths
			queuedPaths = nil
			startReload(paths)
		}
	}

	m.setState(StateRunning)

	for {
		var ev event
		select {
		case <-ctx.Done():
			m.setState(StateTerminating)
			return 0, ctx.Err()
		case ev = <-m.events:
		}

		switch ev.kind {
		case evStdin:
			if _, werr := active.Write(ev.data); werr != nil {
				// child likely exited; the exit event will follow
				slog.Debug("stdin write to pty failed", "error", werr)
			}

		case evStdinEOF:
			// controlling terminal hung up
			m.setState(StateTerminating)
			return 0, nil

		case evOutput:
			if ev.gen != gen {
				continue // retired shell's stragglers
			}
			vt.Write(ev.data)
			if _, werr := m.cfg.Stdout.Write(ev.data); werr != nil {
				m.setState(StateTerminating)
				return 1, fmt.Errorf("writing to terminal: %w", werr)
			}

		case evExit:
			if ev.gen != gen {
				continue
			}
			if m.cfg.Restart == RestartAlways {
				slog.Info("shell exited, restarting", "code", ev.code)
				newPTY, rerr := m.respawn(ctx, cwd, rows, cols)
				if rerr != nil {
					slog.Error("restart failed", "error", rerr)
					m.setState(StateTerminating)
					return ev.code, rerr
				}
				active = newPTY
				gen++
				go m.readPTY(active, gen)
				continue
			}
			slog.Info("shell exited", "code", ev.code)
			m.setState(StateTerminating)
			return ev.code, nil

		case evChanged:
			if paused {
				slog.Debug("watching paused, ignoring change", "paths", ev.paths)
				continue
			}
			if m.State() == StateRunning {
				slog.Info("files changed, rebuilding", "paths", ev.paths)
				startReload(ev.paths)
			} else {
				// already reloading: coalesce into one pending set
				pendingChange = true
				queuedPaths = mergePaths(queuedPaths, ev.paths)
			}

		case evBuildDone:
			buildCancel = nil
			if m.State() != StateReloading {
				continue // session is shutting down; discard
			}
			if ev.err != nil {
				// a failed build must never kill the working session
				slog.Error("build failed, keeping current shell", "error", ev.err)
				m.notify(Message{Kind: MessageBuildFailed, Paths: inflightPaths, Err: &BuildError{Err: ev.err}})
				m.setState(StateRunning)
				startPending()
				continue
			}
			newPTY, serr := m.cfg.Spawn(ev.cmd, rows, cols)
			if serr != nil {
				slog.Error("spawn failed, keeping current shell", "error", serr)
				m.notify(Message{Kind: MessageReloadFailed, Paths: inflightPaths, Err: serr})
				m.setState(StateRunning)
				startPending()
				continue
			}
			m.setState(StateSwapping)

			// Snapshot the retiring shell's screen, divert its remaining
			// output away from the terminal, repaint the terminal from
			// the snapshot, then hand the session to the new shell. The
			// visible screen does not change.
			snap := vt.Snapshot()
			old := active
			gen++
			if _, werr := m.cfg.Stdout.Write(snap.Render()); werr != nil {
				slog.Warn("replaying screen state failed", "error", werr)
			}
			active = newPTY
			go m.readPTY(active, gen)

			// old handle now belongs exclusively to the teardown task
			go func(p ptyproc.PTY) {
				p.Kill()
				p.Wait()
			}(old)

			slog.Info("shell reloaded", "paths", inflightPaths)
			m.notify(Message{Kind: MessageReloaded, Paths: inflightPaths})
			m.setState(StateRunning)
			startPending()

		case evResize:
			rows, cols = ev.rows, ev.cols
			vt.SetSize(int(rows), int(cols))
			if rerr := active.Resize(rows, cols); rerr != nil {
				slog.Debug("pty resize failed", "error", rerr)
			}

		case evPause:
			paused = ev.pause
			slog.Debug("file watching toggled", "paused", paused)

		case evWatchFail:
			if m.cfg.ContinueOnWatchError {
				slog.Warn("file watching failed; continuing without hot reload", "error", ev.err)
				watchDead = true
				pendingChange = false
				continue
			}
			m.setState(StateTerminating)
			return 1, &WatchError{Err: ev.err}

		case evShutdown:
			m.setState(StateTerminating)
			return 0, nil
		}
	}
}

// respawn rebuilds and spawns a replacement shell after an unexpected exit
// (RestartAlways policy).
func (m *Manager) respawn(ctx context.Context, cwd string, rows, cols uint16) (ptyproc.PTY, error) {
	cmd, err := m.cfg.Builder.Build(ctx, BuildContext{Dir: cwd, Env: environMap(), Trigger: Initial()})
	if err != nil {
		return nil, &BuildError{Err: err}
	}
	return m.cfg.Spawn(cmd, rows, cols)
}

func mergePaths(into, add []string) []string {
	seen := make(map[string]struct{}, len(into))
	for _, p := range into {
		seen[p] = struct{}{}
	}
	for _, p := range add {
		if _, dup := seen[p]; !dup {
			into = append(into, p)
			seen[p] = struct{}{}
		}
	}
	return into
}

// readStdin forwards terminal input into the loop.
func (m *Manager) readStdin() {
	buf := make([]byte, 1024)
	for {
		n, err := m.cfg.Stdin.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			m.post(event{kind: evStdin, data: data})
		}
		if err != nil {
			m.post(event{kind: evStdinEOF})
			return
		}
	}
}

// readPTY forwards one PTY's output into the loop, tagged with its
// generation, and reports the exit code when the stream ends.
func (m *Manager) readPTY(p ptyproc.PTY, gen uint64) {
	buf := make([]byte, 4096)
	for {
		n, err := p.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			m.post(event{kind: evOutput, gen: gen, data: data})
		}
		if err != nil {
			m.post(event{kind: evExit, gen: gen, code: p.Wait()})
			return
		}
	}
}

func (m *Manager) forwardWatch(src Source) {
	for {
		select {
		case ev, ok := <-src.Events():
			if !ok {
				return
			}
			m.post(event{kind: evChanged, paths: ev.Paths})
		case err, ok := <-src.Errors():
			if !ok {
				return
			}
			m.post(event{kind: evWatchFail, err: err})
			return
		case <-m.stopped:
			return
		}
	}
}
