// molt - run a shell that hot-reloads when watched files change
//
// Usage:
//
//	molt --watch shell.nix --watch flake.lock -- bash
//
// molt runs the command on a PTY and watches the given files. When one
// changes, it re-runs the command, transplants the live terminal session
// onto the fresh process, and keeps going; the visible screen, cursor, and
// terminal modes carry over. A failed respawn leaves the current shell
// untouched.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/mbrock/molt/internal/ptyproc"
	"github.com/mbrock/molt/internal/session"
	flag "github.com/spf13/pflag"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

var (
	watchFlags    []string
	debounceFlag  time.Duration
	rowsFlag      int
	colsFlag      int
	restartFlag   bool
	keepWatchFlag bool
	verboseFlag   bool
)

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "molt: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	flag.StringArrayVarP(&watchFlags, "watch", "w", nil, "File to watch for changes (can be repeated)")
	flag.DurationVar(&debounceFlag, "debounce", 500*time.Millisecond, "Quiet period before a change burst triggers a reload")
	flag.IntVar(&rowsFlag, "rows", 0, "Terminal rows (0 = detect)")
	flag.IntVar(&colsFlag, "cols", 0, "Terminal columns (0 = detect)")
	flag.BoolVar(&restartFlag, "restart", false, "Respawn the shell when it exits")
	flag.BoolVar(&keepWatchFlag, "keep-going", false, "Keep the session alive without hot reload if file watching fails")
	flag.BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `molt - run a shell that hot-reloads when watched files change

Usage:
  molt [flags] -- <command> [args...]

The command is respawned whenever a watched file's content changes; the
terminal session is transplanted onto the new process without disturbing
the visible screen.

Flags:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if verboseFlag {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	rows, cols := terminalSize()

	mgr, err := session.New(session.Config{
		Builder:              session.ExecBuilder{Cmd: ptyproc.Command{Path: args[0], Args: args[1:]}},
		WatchPaths:           watchFlags,
		Debounce:             debounceFlag,
		Rows:                 rows,
		Cols:                 cols,
		Restart:              restartPolicy(),
		ContinueOnWatchError: keepWatchFlag,
	})
	if err != nil {
		fatal("%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGWINCH keeps the child's idea of the window in sync. SIGTERM asks
	// the session to wind down; SIGINT is delivered through the PTY as a
	// byte while the terminal is raw, so it is not handled here.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGWINCH, unix.SIGTERM, unix.SIGHUP)
	go func() {
		for sig := range sigCh {
			switch sig {
			case unix.SIGWINCH:
				r, c := terminalSize()
				mgr.Resize(r, c)
			default:
				mgr.Shutdown()
			}
		}
	}()

	// drain notifications so reload outcomes show up in the log
	go func() {
		for msg := range mgr.Messages() {
			switch msg.Kind {
			case session.MessageReloaded:
				slog.Info("reloaded", "paths", msg.Paths)
			case session.MessageBuildFailed, session.MessageReloadFailed:
				slog.Error("reload failed", "paths", msg.Paths, "error", msg.Err)
			}
		}
	}()

	code, err := mgr.Run(ctx)
	if err != nil {
		fatal("%v", err)
	}
	os.Exit(code)
}

func restartPolicy() session.RestartPolicy {
	if restartFlag {
		return session.RestartAlways
	}
	return session.RestartNever
}

func terminalSize() (rows, cols uint16) {
	rows, cols = 24, 80
	if rowsFlag > 0 {
		rows = uint16(rowsFlag)
	}
	if colsFlag > 0 {
		cols = uint16(colsFlag)
	}
	if rowsFlag > 0 && colsFlag > 0 {
		return rows, cols
	}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		if c, r, err := term.GetSize(fd); err == nil {
			if rowsFlag <= 0 {
				rows = uint16(r)
			}
			if colsFlag <= 0 {
				cols = uint16(c)
			}
		}
	}
	return rows, cols
}
