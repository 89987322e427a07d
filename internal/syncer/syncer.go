// Package syncer drives the two input sources into the reconciliation engine.
//
// The orchestrator is the only component that decides when to poll and when
// to hold the push channel open. Polling and push are peers, not
// primary/fallback: either source may be the only one alive for a whole
// session and the merged state must come out the same.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/ledgerview/internal/api"
	"github.com/mbd888/ledgerview/internal/channel"
	"github.com/mbd888/ledgerview/internal/circuitbreaker"
	"github.com/mbd888/ledgerview/internal/metrics"
	"github.com/mbd888/ledgerview/internal/notify"
	"github.com/mbd888/ledgerview/internal/session"
	"github.com/mbd888/ledgerview/internal/state"
	"github.com/mbd888/ledgerview/internal/traces"
)

// Fetcher polls the dashboard snapshot.
type Fetcher interface {
	Dashboard(ctx context.Context) (*state.Snapshot, error)
}

// Channel is the push connection the orchestrator holds open.
type Channel interface {
	Connect(ctx context.Context, token, userID string)
	Disconnect()
	Subscribe(subscriber string, eventType state.EventType, h channel.Handler)
	OnDown(fn func())
}

// input is one unit of work for the apply loop. Exactly one of snap/ev is set.
type input struct {
	snap *state.Snapshot
	ev   *state.Event
	gen  uint64
}

// Orchestrator owns the poll timer and the channel subscription lifecycle,
// and is the single writer of the canonical AccountState.
type Orchestrator struct {
	fetcher      Fetcher
	channel      Channel
	dispatcher   *notify.Dispatcher
	logger       *slog.Logger
	pollInterval time.Duration
	breaker      *circuitbreaker.Breaker

	mu            sync.Mutex
	running       bool
	gen           uint64 // bumped on every Start; stale inputs are dropped by comparison
	cancel        context.CancelFunc
	current       state.AccountState
	subscribers   []func(state.AccountState)
	onChannelDown func()

	wg sync.WaitGroup
}

// New creates an orchestrator. pollInterval is fixed and independent of
// channel health.
func New(fetcher Fetcher, ch Channel, dispatcher *notify.Dispatcher, pollInterval time.Duration, logger *slog.Logger) *Orchestrator {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &Orchestrator{
		fetcher:      fetcher,
		channel:      ch,
		dispatcher:   dispatcher,
		logger:       logger,
		pollInterval: pollInterval,
		breaker:      circuitbreaker.New(5, 2*pollInterval),
		current:      state.NewAccountState(),
	}
}

// OnChannelDown registers the hook fired when push retries are exhausted.
// The orchestrator keeps polling as the sole source of truth either way.
func (o *Orchestrator) OnChannelDown(fn func()) {
	o.mu.Lock()
	o.onChannelDown = fn
	o.mu.Unlock()
}

// Subscribe registers a callback receiving a copy of the canonical state
// after every applied input.
func (o *Orchestrator) Subscribe(fn func(state.AccountState)) {
	o.mu.Lock()
	o.subscribers = append(o.subscribers, fn)
	o.mu.Unlock()
}

// State returns a copy of the current canonical state.
func (o *Orchestrator) State() state.AccountState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.Clone()
}

// Start begins the recurring poll and opens the push channel for sess.
// Calling Start while running is a no-op.
func (o *Orchestrator) Start(ctx context.Context, sess *session.Session) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.gen++
	gen := o.gen
	o.current = state.NewAccountState()
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	inputs := make(chan input, 64)

	o.channel.OnDown(func() {
		o.logger.Warn("live updates unavailable, polling continues as sole source")
		o.mu.Lock()
		fn := o.onChannelDown
		o.mu.Unlock()
		if fn != nil {
			fn()
		}
	})

	for _, eventType := range []state.EventType{
		state.EventBalanceUpdate,
		state.EventTransactionUpdate,
		state.EventAdminOnline,
	} {
		o.channel.Subscribe("syncer", eventType, func(ev state.Event) {
			enqueue(runCtx, inputs, input{ev: &ev, gen: gen})
		})
	}
	o.channel.Connect(runCtx, sess.Token, sess.User.ID)

	o.wg.Add(2)
	go o.applyLoop(runCtx, inputs)
	go o.pollLoop(runCtx, inputs, gen)

	o.logger.Info("sync started", "user", sess.User.ID, "pollInterval", o.pollInterval)
}

// Stop cancels the poll timer and disconnects the channel. After Stop
// returns, no further callback can mutate the canonical state. Idempotent.
//
// Stop waits for the worker goroutines, so it must not be called from a
// session clear hook or dispatcher effect (those run on a worker). Cancel
// the Start context from the hook and call Stop from the owner instead.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	o.channel.Disconnect()
	o.wg.Wait()
	o.logger.Info("sync stopped")
}

// enqueue submits an input unless the run is being torn down.
func enqueue(ctx context.Context, inputs chan<- input, in input) {
	select {
	case inputs <- in:
	case <-ctx.Done():
	}
}

// pollLoop fetches a snapshot immediately and then on a fixed cadence.
func (o *Orchestrator) pollLoop(ctx context.Context, inputs chan<- input, gen uint64) {
	defer o.wg.Done()

	o.poll(ctx, inputs, gen)

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx, inputs, gen)
		}
	}
}

// poll performs one snapshot fetch. Failures are not retried here: the next
// scheduled tick simply tries again, and the breaker skips ticks entirely
// while the backend is consistently down.
func (o *Orchestrator) poll(ctx context.Context, inputs chan<- input, gen uint64) {
	if !o.breaker.Allow() {
		metrics.PollsTotal.WithLabelValues("skipped").Inc()
		return
	}

	ctx, span := traces.StartSpan(ctx, "syncer.poll", traces.Source("poll"))
	defer span.End()

	start := time.Now()
	snap, err := o.fetcher.Dashboard(ctx)
	metrics.PollDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		o.breaker.RecordFailure()
		metrics.PollsTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, api.ErrAuthExpired) {
			// Session already cleared by the fetcher; teardown arrives via
			// the session store's clear hook.
			o.logger.Warn("poll rejected, session expired")
			return
		}
		o.logger.Warn("poll failed", "error", err)
		return
	}

	o.breaker.RecordSuccess()
	metrics.PollsTotal.WithLabelValues("ok").Inc()
	enqueue(ctx, inputs, input{snap: snap, gen: gen})
}

// applyLoop is the single writer of the canonical state. Inputs are applied
// strictly one at a time in arrival order; ordering across the two sources is
// irrelevant because the engine merges by server time.
func (o *Orchestrator) applyLoop(ctx context.Context, inputs <-chan input) {
	defer o.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case in := <-inputs:
			o.apply(in)
		}
	}
}

func (o *Orchestrator) apply(in input) {
	o.mu.Lock()
	if in.gen != o.gen {
		// A response from a previous session must never touch this one.
		o.mu.Unlock()
		metrics.StaleDiscardsTotal.WithLabelValues("superseded_session").Inc()
		o.logger.Debug("discarded input from superseded session", "gen", in.gen)
		return
	}

	var (
		next        state.AccountState
		transitions []state.Transition
		discards    []state.Discard
	)
	switch {
	case in.snap != nil:
		next, transitions, discards = state.ApplySnapshot(o.current, *in.snap)
	case in.ev != nil:
		next, transitions, discards = state.ApplyEvent(o.current, *in.ev)
	default:
		o.mu.Unlock()
		return
	}
	o.current = next
	subscribers := o.subscribers
	o.mu.Unlock()

	for _, d := range discards {
		metrics.StaleDiscardsTotal.WithLabelValues(string(d.Reason)).Inc()
		o.logger.Debug("discarded stale input", "reason", d.Reason, "key", d.Key, "serverTime", d.ServerTime)
	}
	for _, t := range transitions {
		metrics.TransitionsTotal.WithLabelValues(string(t.Kind)).Inc()
	}

	if len(transitions) > 0 {
		o.dispatcher.Dispatch(transitions)
	}

	if len(subscribers) > 0 {
		snapshot := next.Clone()
		for _, fn := range subscribers {
			fn(snapshot)
		}
	}
}
