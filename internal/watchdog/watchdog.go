package watchdog

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"nukeguard/internal/logging"
)

// Watchdog flags background loops that stopped reporting. Components are
// registered before Run; Heartbeat and Check are safe to call concurrently.
type Watchdog struct {
	components    map[string]*ComponentHealth
	checkInterval time.Duration
	now           func() time.Time
}

type ComponentHealth struct {
	Name          string
	LastHeartbeat atomic.Int64
	IsHealthy     atomic.Bool
	Threshold     time.Duration
}

func NewWatchdog(checkInterval time.Duration) *Watchdog {
	return &Watchdog{
		components:    make(map[string]*ComponentHealth),
		checkInterval: checkInterval,
		now:           time.Now,
	}
}

// RegisterComponent starts tracking name. A component that never sent a
// heartbeat is considered healthy until threshold has passed since
// registration.
func (w *Watchdog) RegisterComponent(name string, threshold time.Duration) {
	comp := &ComponentHealth{Name: name, Threshold: threshold}
	comp.LastHeartbeat.Store(w.now().UnixNano())
	comp.IsHealthy.Store(true)
	w.components[name] = comp
}

func (w *Watchdog) Heartbeat(name string) {
	if comp, exists := w.components[name]; exists {
		comp.LastHeartbeat.Store(w.now().UnixNano())
		if !comp.IsHealthy.Swap(true) {
			logging.Info("Watchdog: %s recovered", name)
		}
	}
}

// Run checks every component on each tick until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkAllComponents()
		}
	}
}

func (w *Watchdog) checkAllComponents() {
	now := w.now().UnixNano()

	for name, comp := range w.components {
		elapsed := time.Duration(now - comp.LastHeartbeat.Load())
		if elapsed > comp.Threshold && comp.IsHealthy.Swap(false) {
			logging.Error("Watchdog: %s unhealthy (no heartbeat for %v)", name, elapsed)
		}
	}
}

func (w *Watchdog) IsHealthy(name string) bool {
	if comp, exists := w.components[name]; exists {
		return comp.IsHealthy.Load()
	}
	return false
}

// Check returns an error naming every unhealthy component.
func (w *Watchdog) Check(_ context.Context) error {
	var bad []string
	for name, comp := range w.components {
		if !comp.IsHealthy.Load() {
			bad = append(bad, name)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return fmt.Errorf("unhealthy components: %v", bad)
}

func (w *Watchdog) GetStatus() map[string]bool {
	status := make(map[string]bool, len(w.components))
	for name, comp := range w.components {
		status[name] = comp.IsHealthy.Load()
	}
	return status
}
