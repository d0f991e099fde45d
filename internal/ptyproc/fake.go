package ptyproc

import (
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
)

// FakePTY implements PTY over a Unix socket pair for tests that need
// terminal-like plumbing without a real PTY or child process. Unlike pipes,
// socket pairs are bidirectional, matching real PTY semantics: the test
// holds the peer end and plays the child.
type FakePTY struct {
	master *os.File
	peer   *os.File

	mu         sync.Mutex
	rows, cols uint16
	killed     bool

	done     chan struct{}
	exitOnce sync.Once
	exitCode int
}

// OpenFakePTY creates a fake PTY pair.
func OpenFakePTY() (*FakePTY, error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("creating socket pair: %w", err)
	}
	return &FakePTY{
		master: os.NewFile(uintptr(fds[0]), "fakepty-master"),
		peer:   os.NewFile(uintptr(fds[1]), "fakepty-peer"),
		rows:   24,
		cols:   80,
		done:   make(chan struct{}),
	}, nil
}

// Peer returns the child-side endpoint. Tests write child "output" to it
// and read forwarded "input" from it.
func (p *FakePTY) Peer() io.ReadWriteCloser { return p.peer }

// Exit simulates the child exiting: records the code and closes the peer
// so the master side sees EOF.
func (p *FakePTY) Exit(code int) {
	p.exitOnce.Do(func() {
		p.exitCode = code
		p.peer.Close()
		close(p.done)
	})
}

func (p *FakePTY) Read(buf []byte) (int, error) {
	n, err := p.master.Read(buf)
	if err != nil && err != io.EOF {
		err = io.EOF
	}
	return n, err
}

func (p *FakePTY) Write(data []byte) (int, error) {
	return p.master.Write(data)
}

func (p *FakePTY) Resize(rows, cols uint16) error {
	p.mu.Lock()
	p.rows, p.cols = rows, cols
	p.mu.Unlock()
	return nil
}

// Size returns the last size set via Resize.
func (p *FakePTY) Size() (rows, cols uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows, p.cols
}

// Kill marks the fake child killed and closes both ends. Idempotent.
func (p *FakePTY) Kill() error {
	p.mu.Lock()
	already := p.killed
	p.killed = true
	p.mu.Unlock()
	if already {
		return nil
	}
	p.master.Close()
	p.Exit(137) // as if by SIGKILL
	return nil
}

// Killed reports whether Kill has been called.
func (p *FakePTY) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *FakePTY) Wait() int {
	<-p.done
	return p.exitCode
}
