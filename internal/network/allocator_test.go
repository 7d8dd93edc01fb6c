package network

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/nbforge/spawnd/internal/config"
	domainerrors "github.com/nbforge/spawnd/internal/domain/errors"
)

// reservePorts binds n consecutive TCP ports and returns the first one.
// The returned listeners stay open until the test closes them.
func reservePorts(t *testing.T, n int) (int, []net.Listener) {
	t.Helper()

	for attempt := 0; attempt < 50; attempt++ {
		probe, err := net.Listen("tcp", ":0")
		if err != nil {
			t.Fatalf("probe listen: %v", err)
		}
		base := probe.Addr().(*net.TCPAddr).Port
		probe.Close()

		listeners := make([]net.Listener, 0, n)
		ok := true
		for i := 0; i < n; i++ {
			l, err := net.Listen("tcp", fmt.Sprintf(":%d", base+i))
			if err != nil {
				ok = false
				break
			}
			listeners = append(listeners, l)
		}
		if ok {
			return base, listeners
		}
		for _, l := range listeners {
			l.Close()
		}
	}

	t.Fatal("could not reserve consecutive ports")
	return 0, nil
}

func TestAllocateScanSkipsBoundPort(t *testing.T) {
	base, listeners := reservePorts(t, 2)
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	// First port of the range stays bound, second is released.
	listeners[1].Close()
	listeners = listeners[:1]

	a := NewAllocator(base, base+2, config.PortStrategyScan, 5)
	port, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if port != base+1 {
		t.Fatalf("expected port %d, got %d", base+1, port)
	}
}

func TestAllocateScanRangeExhausted(t *testing.T) {
	base, listeners := reservePorts(t, 2)
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	a := NewAllocator(base, base+2, config.PortStrategyScan, 5)
	_, err := a.Allocate()
	if err == nil {
		t.Fatal("expected allocation failure, got none")
	}

	var allocErr domainerrors.PortAllocationError
	if !errors.As(err, &allocErr) {
		t.Fatalf("expected PortAllocationError, got %T: %v", err, err)
	}
	if !strings.Contains(allocErr.Reason, "exhausted") {
		t.Fatalf("expected exhaustion reason, got %q", allocErr.Reason)
	}
}

func TestAllocateRandomExceedsRetryBudget(t *testing.T) {
	base, listeners := reservePorts(t, 1)
	defer listeners[0].Close()

	a := NewAllocator(base, base+1, config.PortStrategyRandom, 3)
	_, err := a.Allocate()
	if err == nil {
		t.Fatal("expected allocation failure, got none")
	}

	var allocErr domainerrors.PortAllocationError
	if !errors.As(err, &allocErr) {
		t.Fatalf("expected PortAllocationError, got %T: %v", err, err)
	}
	if !strings.Contains(allocErr.Reason, "attempts") {
		t.Fatalf("expected retry budget reason, got %q", allocErr.Reason)
	}
}

func TestAllocateRandomFindsFreePort(t *testing.T) {
	base, listeners := reservePorts(t, 1)
	listeners[0].Close()

	a := NewAllocator(base, base+1, config.PortStrategyRandom, 5)
	port, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if port != base {
		t.Fatalf("expected port %d, got %d", base, port)
	}
}

func TestProbeClosesListener(t *testing.T) {
	base, listeners := reservePorts(t, 1)
	listeners[0].Close()

	a := NewAllocator(base, base+1, config.PortStrategyScan, 5)
	if _, err := a.Allocate(); err != nil {
		t.Fatalf("first Allocate: %v", err)
	}

	// The probe must not hold the port: allocating again succeeds because
	// nothing was actually reserved.
	if _, err := a.Allocate(); err != nil {
		t.Fatalf("second Allocate: %v", err)
	}
}
