package rawmode

import (
	"os"
	"testing"
)

func TestAcquireNonTerminal(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	guard, err := Acquire(int(r.Fd()))
	if err != nil {
		t.Fatalf("Acquire on pipe: %v", err)
	}
	if guard.Active() {
		t.Error("guard should be inactive for a non-terminal fd")
	}

	// restore must be safe, and safe twice
	guard.Restore()
	guard.Restore()
}
