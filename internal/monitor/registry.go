package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"sentinel/internal/domain"
)

// Registry tracks all configured monitor runners by unique name.
// Params: none.
// Returns: empty registry ready for Register calls.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]*Runner
	order   []string
}

// NewRegistry creates empty monitor registry.
// Params: none.
// Returns: initialized registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]*Runner)}
}

// Register adds one runner under its monitor name.
// Params: constructed runner.
// Returns: error when the name is already taken.
func (r *Registry) Register(runner *Runner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := runner.Name()
	if _, exists := r.runners[name]; exists {
		return fmt.Errorf("monitor %q already registered", name)
	}
	r.runners[name] = runner
	r.order = append(r.order, name)
	sort.Strings(r.order)
	return nil
}

// Remove drops the named runner from the registry.
// Params: monitor name.
// Returns: false when the name is unknown.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runners[name]; !exists {
		return false
	}
	delete(r.runners, name)
	for i, candidate := range r.order {
		if candidate == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Runners lists registered runners in name order.
// Params: none.
// Returns: runners sorted by monitor name.
func (r *Registry) Runners() []*Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Runner, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.runners[name])
	}
	return out
}

// Len reports the number of registered monitors.
// Params: none.
// Returns: registry size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runners)
}

// Snapshots copies current state of every monitor in name order.
// Params: none.
// Returns: sorted monitor snapshots.
func (r *Registry) Snapshots() []domain.MonitorSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.MonitorSnapshot, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.runners[name].Snapshot())
	}
	return out
}

// MarkAlertSent records delivery time on the named monitor.
// Params: monitor name and delivery timestamp.
// Returns: false when the monitor is unknown.
func (r *Registry) MarkAlertSent(name string, at time.Time) bool {
	r.mu.RLock()
	runner, exists := r.runners[name]
	r.mu.RUnlock()
	if !exists {
		return false
	}
	runner.MarkAlertSent(at)
	return true
}
