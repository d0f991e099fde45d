// Package ptyproc owns pseudo-terminal pairs and the child processes
// attached to them. A Proc couples the PTY master with the child's
// lifecycle: read/write, resize, idempotent kill, and exit-status reaping.
package ptyproc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// Command describes the shell to run: executable path, arguments, working
// directory, and the full environment mapping. A nil Env inherits the
// parent's environment.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  map[string]string
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// SpawnError reports that the OS could not create the PTY or the process.
type SpawnError struct {
	Cmd string
	Err error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("failed to spawn %q: %v", e.Cmd, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// PTY is the handle the session manager drives. Read surfaces child output
// (io.EOF once the child has exited and the buffer drained), Write forwards
// input, Resize propagates window dimension changes to the child's line
// discipline, Kill terminates the child and releases descriptors, Wait
// blocks until exit and returns the exit code.
//
// Exactly one owner drives a PTY at a time; ownership moves, it is never
// shared.
type PTY interface {
	io.Reader
	io.Writer
	Resize(rows, cols uint16) error
	Kill() error
	Wait() int
}

// Proc is a real PTY-attached child process.
type Proc struct {
	master *os.File
	cmd    *exec.Cmd

	killOnce sync.Once
	done     chan struct{}
	exitCode int
}

// Spawn allocates a PTY pair, starts cmd attached to the slave side with
// the given window size, and begins reaping the child in the background.
func Spawn(cmd Command, rows, cols uint16) (*Proc, error) {
	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if cmd.Env != nil {
		env := cmd.Env
		if _, ok := env["TERM"]; !ok {
			env = make(map[string]string, len(cmd.Env)+1)
			for k, v := range cmd.Env {
				env[k] = v
			}
			env["TERM"] = "xterm-256color"
		}
		c.Env = flattenEnv(env)
	}

	master, err := pty.StartWithSize(c, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, &SpawnError{Cmd: cmd.String(), Err: err}
	}

	p := &Proc{master: master, cmd: c, done: make(chan struct{})}
	go p.reap()
	return p, nil
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func (p *Proc) reap() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		code = 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				code = 128 + int(ws.Signal())
			}
		}
	}
	p.exitCode = code
	close(p.done)
}

// Read surfaces child output from the PTY master. Returns io.EOF once the
// child has exited and its side of the PTY is closed (on Linux the master
// read fails with EIO, which is normalized to io.EOF).
func (p *Proc) Read(buf []byte) (int, error) {
	n, err := p.master.Read(buf)
	if err != nil && err != io.EOF {
		err = io.EOF
	}
	return n, err
}

// Write forwards input bytes to the child. Fails once the descriptor is no
// longer valid, which signals the child is gone; the caller treats that as
// a child-exit condition, not a fatal manager error.
func (p *Proc) Write(data []byte) (int, error) {
	return p.master.Write(data)
}

// Resize propagates new window dimensions so full-screen applications in
// the child re-layout.
func (p *Proc) Resize(rows, cols uint16) error {
	return pty.Setsize(p.master, &pty.Winsize{Rows: rows, Cols: cols})
}

// Kill terminates the child with SIGKILL and closes the master descriptor.
// Idempotent, and safe on an already-exited child.
func (p *Proc) Kill() error {
	p.killOnce.Do(func() {
		if p.cmd.Process != nil {
			// ignore errors: the child may already be gone
			p.cmd.Process.Kill()
		}
		p.master.Close()
	})
	return nil
}

// Wait blocks until the child has been reaped and returns its exit code.
// Children ended by a signal report 128+signal, shell convention.
func (p *Proc) Wait() int {
	<-p.done
	return p.exitCode
}
