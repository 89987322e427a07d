package syncer

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/ledgerview/internal/channel"
	"github.com/mbd888/ledgerview/internal/notify"
	"github.com/mbd888/ledgerview/internal/session"
	"github.com/mbd888/ledgerview/internal/state"
)

// fakeFetcher serves a scripted snapshot and counts calls.
type fakeFetcher struct {
	mu    sync.Mutex
	snap  state.Snapshot
	err   error
	calls int
}

func (f *fakeFetcher) Dashboard(ctx context.Context) (*state.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := f.snap
	return &cp, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) set(snap state.Snapshot) {
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
}

// fakeChannel records subscriptions and lets the test inject push events.
type fakeChannel struct {
	mu        sync.Mutex
	handlers  map[state.EventType]channel.Handler
	connects  int
	disconns  int
	lastToken string
	onDown    func()
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[state.EventType]channel.Handler)}
}

func (f *fakeChannel) Connect(ctx context.Context, token, userID string) {
	f.mu.Lock()
	f.connects++
	f.lastToken = token
	f.mu.Unlock()
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	f.disconns++
	f.handlers = make(map[state.EventType]channel.Handler)
	f.mu.Unlock()
}

func (f *fakeChannel) Subscribe(subscriber string, eventType state.EventType, h channel.Handler) {
	f.mu.Lock()
	f.handlers[eventType] = h
	f.mu.Unlock()
}

func (f *fakeChannel) OnDown(fn func()) {
	f.mu.Lock()
	f.onDown = fn
	f.mu.Unlock()
}

func (f *fakeChannel) push(ev state.Event) {
	f.mu.Lock()
	h := f.handlers[ev.Type]
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func testSession() *session.Session {
	return &session.Session{
		Token: "tok_1",
		User:  session.User{ID: "usr_1", Role: session.RoleUser},
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newOrchestrator(fetcher Fetcher, ch Channel) *Orchestrator {
	d := notify.NewDispatcher(slog.Default())
	return New(fetcher, ch, d, time.Hour, slog.Default())
}

func TestStart_PollsImmediatelyAndAppliesSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set(state.Snapshot{
		Balances:   map[state.Currency]int64{"BTC": 500},
		ServerTime: 100,
	})
	ch := newFakeChannel()

	o := newOrchestrator(fetcher, ch)
	o.Start(context.Background(), testSession())
	defer o.Stop()

	waitFor(t, func() bool {
		return o.State().Balances["BTC"].Amount == 500
	}, "initial snapshot never applied")

	assert.Equal(t, 1, fetcher.callCount())
	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Equal(t, 1, ch.connects)
	assert.Equal(t, "tok_1", ch.lastToken)
	assert.Len(t, ch.handlers, 3, "orchestrator subscribes to all three event types")
}

func TestPushEventsMergeIntoState(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set(state.Snapshot{ServerTime: 100})
	ch := newFakeChannel()

	o := newOrchestrator(fetcher, ch)
	o.Start(context.Background(), testSession())
	defer o.Stop()

	waitFor(t, func() bool { return o.State().LastServerTime == 100 }, "initial poll never applied")

	ch.push(state.Event{
		Type:       state.EventBalanceUpdate,
		Balances:   map[state.Currency]int64{"BTC": 900},
		ServerTime: 200,
	})

	waitFor(t, func() bool {
		return o.State().Balances["BTC"].Amount == 900
	}, "push event never merged")
}

func TestSubscribersReceiveStateCopies(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set(state.Snapshot{
		Balances:   map[state.Currency]int64{"BTC": 500},
		ServerTime: 100,
	})
	ch := newFakeChannel()

	o := newOrchestrator(fetcher, ch)

	states := make(chan state.AccountState, 8)
	o.Subscribe(func(s state.AccountState) { states <- s })

	o.Start(context.Background(), testSession())
	defer o.Stop()

	select {
	case got := <-states:
		assert.Equal(t, int64(500), got.Balances["BTC"].Amount)
		// Mutating the callback copy must not reach the canonical state.
		got.Balances["BTC"] = state.Balance{Amount: -1}
		assert.Equal(t, int64(500), o.State().Balances["BTC"].Amount)
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber never notified")
	}
}

func TestTransitionsReachDispatcher(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set(state.Snapshot{
		Balances:   map[state.Currency]int64{"BTC": 500},
		ServerTime: 100,
	})
	ch := newFakeChannel()

	d := notify.NewDispatcher(slog.Default())
	fired := make(chan state.Transition, 1)
	d.On(state.TransitionBalanceIncreased, func(tr state.Transition) { fired <- tr })

	o := New(fetcher, ch, d, time.Hour, slog.Default())
	o.Start(context.Background(), testSession())
	defer o.Stop()

	select {
	case tr := <-fired:
		assert.Equal(t, state.Currency("BTC"), tr.Currency)
		assert.Equal(t, int64(500), tr.Delta)
	case <-time.After(3 * time.Second):
		t.Fatal("balance transition never dispatched")
	}
}

func TestStop_DisconnectsAndIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{}
	ch := newFakeChannel()

	o := newOrchestrator(fetcher, ch)
	o.Start(context.Background(), testSession())

	o.Stop()
	o.Stop()
	o.Stop()

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Equal(t, 1, ch.disconns, "redundant Stop must not disconnect again")
}

func TestStart_WhileRunningIsNoop(t *testing.T) {
	fetcher := &fakeFetcher{}
	ch := newFakeChannel()

	o := newOrchestrator(fetcher, ch)
	o.Start(context.Background(), testSession())
	defer o.Stop()

	o.Start(context.Background(), testSession())

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Equal(t, 1, ch.connects)
}

func TestRestart_DiscardsInputsFromPreviousSession(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set(state.Snapshot{ServerTime: 100})
	ch := newFakeChannel()

	o := newOrchestrator(fetcher, ch)
	o.Start(context.Background(), testSession())
	waitFor(t, func() bool { return o.State().LastServerTime == 100 }, "initial poll never applied")

	// Capture a handler from the first run, then restart.
	ch.mu.Lock()
	staleHandler := ch.handlers[state.EventBalanceUpdate]
	ch.mu.Unlock()
	require.NotNil(t, staleHandler)

	o.Stop()
	o.Start(context.Background(), testSession())
	defer o.Stop()
	waitFor(t, func() bool { return o.State().LastServerTime == 100 }, "second run never polled")

	// The stale handler enqueues with the old generation; it must be dropped.
	staleHandler(state.Event{
		Type:       state.EventBalanceUpdate,
		Balances:   map[state.Currency]int64{"BTC": 9999},
		ServerTime: 500,
	})

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, o.State().Balances["BTC"].Amount,
		"event from a superseded session must never touch the new state")
}

func TestRestart_ResetsState(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set(state.Snapshot{
		Balances:   map[state.Currency]int64{"BTC": 500},
		ServerTime: 100,
	})
	ch := newFakeChannel()

	o := newOrchestrator(fetcher, ch)
	o.Start(context.Background(), testSession())
	waitFor(t, func() bool { return o.State().Balances["BTC"].Amount == 500 }, "snapshot never applied")
	o.Stop()

	// A new session must not inherit the previous account view.
	fetcher.set(state.Snapshot{ServerTime: 50})
	o.Start(context.Background(), testSession())
	defer o.Stop()
	waitFor(t, func() bool { return o.State().LastServerTime == 50 }, "second run never polled")

	assert.Empty(t, o.State().Balances["BTC"].Amount)
}
