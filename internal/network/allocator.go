package network

import (
	"fmt"
	"math/rand"
	"net"
	"sync"

	"github.com/nbforge/spawnd/internal/config"
	domainerrors "github.com/nbforge/spawnd/internal/domain/errors"
)

// Allocator hands out host ports from [start, end). A successful probe only
// proves the port was bindable at that instant: the test listener is closed
// before the container engine binds the port itself, so another process can
// still claim it in between. That race is accepted; there is no port lease.
type Allocator struct {
	mu       sync.Mutex
	start    int
	end      int
	strategy string
	retries  int
}

func NewAllocator(start, end int, strategy string, retries int) *Allocator {
	return &Allocator{
		start:    start,
		end:      end,
		strategy: strategy,
		retries:  retries,
	}
}

// Allocate returns the first port in the configured range on which a local
// TCP listener could be bound.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.strategy == config.PortStrategyRandom {
		return a.allocateRandom()
	}
	return a.allocateScan()
}

func (a *Allocator) allocateScan() (int, error) {
	for port := a.start; port < a.end; port++ {
		if isPortAvailable(port) {
			return port, nil
		}
	}
	return 0, domainerrors.PortAllocationError{
		Reason: fmt.Sprintf("range %d-%d exhausted", a.start, a.end),
	}
}

func (a *Allocator) allocateRandom() (int, error) {
	for attempt := 0; attempt < a.retries; attempt++ {
		port := a.start + rand.Intn(a.end-a.start)
		if isPortAvailable(port) {
			return port, nil
		}
	}
	return 0, domainerrors.PortAllocationError{
		Reason: fmt.Sprintf("no free port found after %d attempts", a.retries),
	}
}

func isPortAvailable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
