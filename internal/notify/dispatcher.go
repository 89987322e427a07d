// Package notify maps reconciliation transitions to user-facing side effects.
//
// The engine only emits a transition when state genuinely changed, so the
// dispatcher is a direct 1:1 mapping with no deduplication of its own.
package notify

import (
	"log/slog"
	"sync"

	"github.com/mbd888/ledgerview/internal/metrics"
	"github.com/mbd888/ledgerview/internal/state"
)

// Effect is the user-facing reaction to one transition.
type Effect func(t state.Transition)

// Dispatcher invokes exactly one effect per transition kind.
type Dispatcher struct {
	mu      sync.RWMutex
	effects map[state.TransitionKind]Effect
	logger  *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		effects: make(map[state.TransitionKind]Effect),
		logger:  logger,
	}
}

// On registers the effect for a transition kind, replacing any previous one.
func (d *Dispatcher) On(kind state.TransitionKind, effect Effect) {
	d.mu.Lock()
	d.effects[kind] = effect
	d.mu.Unlock()
}

// Dispatch fires the registered effect for each transition, in order.
// Transitions with no registered effect are logged and dropped.
func (d *Dispatcher) Dispatch(transitions []state.Transition) {
	for _, t := range transitions {
		d.mu.RLock()
		effect, ok := d.effects[t.Kind]
		d.mu.RUnlock()

		if !ok {
			d.logger.Debug("no effect registered for transition", "kind", t.Kind)
			continue
		}

		metrics.NotificationsTotal.WithLabelValues(string(t.Kind)).Inc()
		effect(t)
	}
}
