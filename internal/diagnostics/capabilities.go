package diagnostics

import (
	"context"
	"sync"
)

// Prober is the subset of Checker that Capabilities caches.
type Prober interface {
	HasRequiredTools(ctx context.Context) bool
	HasHardwareAccel(ctx context.Context) bool
}

// Capabilities caches probe results for the process lifetime; hardware
// availability does not change during a run.
type Capabilities struct {
	prober   Prober
	enableHW bool

	mu       sync.Mutex
	tools    bool
	toolsSet bool
	hw       bool
	hwSet    bool
}

// NewCapabilities wraps prober. With enableHW false the hardware path is
// never probed and always reported unavailable.
func NewCapabilities(prober Prober, enableHW bool) *Capabilities {
	return &Capabilities{prober: prober, enableHW: enableHW}
}

// HasRequiredTools returns the cached tool check, probing on first use.
func (c *Capabilities) HasRequiredTools(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.toolsSet {
		return c.tools
	}

	ok := c.prober.HasRequiredTools(ctx)
	if ctx.Err() == nil {
		c.tools, c.toolsSet = ok, true
	}
	return ok
}

// HasHardwareAccel returns the cached hardware trial, probing on first use.
// A probe interrupted by ctx is not cached.
func (c *Capabilities) HasHardwareAccel(ctx context.Context) bool {
	if !c.enableHW {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hwSet {
		return c.hw
	}

	ok := c.prober.HasHardwareAccel(ctx)
	if ctx.Err() == nil {
		c.hw, c.hwSet = ok, true
	}
	return ok
}

// Refresh drops cached results so the next call probes again.
func (c *Capabilities) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsSet = false
	c.hwSet = false
}
