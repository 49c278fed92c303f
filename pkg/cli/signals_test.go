package cli

import (
	"os"
	"syscall"
	"testing"
	"time"
)

func TestSetupSignalHandler_NotCancelledInitially(t *testing.T) {
	// The real exit would kill the test binary if a later test signals it.
	ctx := setupSignalHandler(nil, func() {})

	select {
	case <-ctx.Done():
		t.Error("context should not be cancelled initially")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestSetupSignalHandler_SecondSignalExits(t *testing.T) {
	if testing.Short() {
		t.Skip("sends signals to the test process")
	}

	exited := make(chan struct{})
	ctx := setupSignalHandler(nil, func() { close(exited) })

	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Signal(syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after SIGTERM")
	}

	select {
	case <-exited:
		t.Fatal("exit called after the first signal")
	default:
	}

	if err := p.Signal(syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("exit not called after the second signal")
	}
}
