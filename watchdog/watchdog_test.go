package watchdog

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestNewReturnsNilWithoutSocket(t *testing.T) {
	os.Unsetenv("NOTIFY_SOCKET")

	if n := New(); n != nil {
		t.Error("New() should return nil when NOTIFY_SOCKET is not set")
	}
}

func TestNilNotifierMethodsAreNoOps(t *testing.T) {
	var n *Notifier

	if err := n.Ready(); err != nil {
		t.Errorf("Ready() on nil notifier = %v", err)
	}
	if err := n.Stopping(); err != nil {
		t.Errorf("Stopping() on nil notifier = %v", err)
	}
	if err := n.Ping(); err != nil {
		t.Errorf("Ping() on nil notifier = %v", err)
	}
	if err := n.Status("processed=0"); err != nil {
		t.Errorf("Status() on nil notifier = %v", err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("Close() on nil notifier = %v", err)
	}

	stop := n.StartPinger(context.Background(), nil)
	if stop == nil {
		t.Fatal("StartPinger() on nil notifier should return a stop function")
	}
	stop()
}

func TestIntervalParsing(t *testing.T) {
	tests := []struct {
		usec     string
		expected time.Duration
	}{
		{"60000000", 30 * time.Second},
		{"30000000", 15 * time.Second},
		{"1000000", 500 * time.Millisecond},
		{"0", 0},
		{"-5", 0},
		{"", 0},
		{"invalid", 0},
	}

	for _, tt := range tests {
		os.Setenv("WATCHDOG_USEC", tt.usec)
		if got := Interval(); got != tt.expected {
			t.Errorf("Interval() with WATCHDOG_USEC=%q = %v, want %v", tt.usec, got, tt.expected)
		}
	}

	os.Unsetenv("WATCHDOG_USEC")
}

func TestStartPingerWithoutWatchdogIsNoOp(t *testing.T) {
	os.Unsetenv("WATCHDOG_USEC")

	n := &Notifier{addr: "/nonexistent/socket"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := n.StartPinger(ctx, nil)
	if stop == nil {
		t.Fatal("StartPinger() should return a stop function")
	}
	stop()
}

func TestStartPingerPreventsDuplicates(t *testing.T) {
	os.Setenv("WATCHDOG_USEC", "1000000")
	defer os.Unsetenv("WATCHDOG_USEC")

	n := &Notifier{addr: "/nonexistent/socket"}

	ctx, cancel := context.WithCancel(context.Background())

	stop1 := n.StartPinger(ctx, func() string { return "processed=0" })
	stop2 := n.StartPinger(ctx, nil)

	cancel()

	stop1()
	stop2()
}
