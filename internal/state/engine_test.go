package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func txn(id string, status Status, amount int64) Transaction {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return Transaction{
		ID:        id,
		Type:      TypeDeposit,
		Amount:    amount,
		Currency:  "BTC",
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func kinds(transitions []Transition) []TransitionKind {
	out := make([]TransitionKind, 0, len(transitions))
	for _, t := range transitions {
		out = append(out, t.Kind)
	}
	return out
}

func TestApplyEvent_NewerWinsRegardlessOfArrivalOrder(t *testing.T) {
	newer := Event{Type: EventTransactionUpdate, ServerTime: 200,
		Transaction: ptr(txn("txn_1", StatusPending, 900))}
	older := Event{Type: EventTransactionUpdate, ServerTime: 100,
		Transaction: ptr(txn("txn_1", StatusPending, 500))}

	// Newer first, older second: older is discarded.
	s := NewAccountState()
	s, _, _ = ApplyEvent(s, newer)
	s, transitions, discards := ApplyEvent(s, older)

	require.Len(t, discards, 1)
	assert.Equal(t, DiscardStale, discards[0].Reason)
	assert.Empty(t, transitions)
	assert.Equal(t, int64(900), s.Transactions["txn_1"].Txn.Amount)

	// Older first, newer second: same final state.
	s2 := NewAccountState()
	s2, _, _ = ApplyEvent(s2, older)
	s2, _, _ = ApplyEvent(s2, newer)
	assert.Equal(t, int64(900), s2.Transactions["txn_1"].Txn.Amount)
}

func TestApplyEvent_StatusNeverRevisitsPending(t *testing.T) {
	s := NewAccountState()
	s, _, _ = ApplyEvent(s, Event{Type: EventTransactionUpdate, ServerTime: 100,
		Transaction: ptr(txn("txn_1", StatusPending, 500))})
	s, _, _ = ApplyEvent(s, Event{Type: EventTransactionUpdate, ServerTime: 150,
		Transaction: ptr(txn("txn_1", StatusConfirmed, 500))})

	// A pending update with a NEWER timestamp still must not regress status.
	s, transitions, discards := ApplyEvent(s, Event{Type: EventTransactionUpdate, ServerTime: 999,
		Transaction: ptr(txn("txn_1", StatusPending, 500))})

	require.Len(t, discards, 1)
	assert.Equal(t, DiscardStatusRegression, discards[0].Reason)
	assert.Empty(t, transitions)
	assert.Equal(t, StatusConfirmed, s.Transactions["txn_1"].Txn.Status)
}

func TestApplySnapshot_Idempotent(t *testing.T) {
	snap := Snapshot{
		Balances:     map[Currency]int64{"BTC": 1000, "USD": 250},
		Transactions: []Transaction{txn("txn_1", StatusPending, 500)},
		ServerTime:   100,
	}

	s := NewAccountState()
	s, first, _ := ApplySnapshot(s, snap)
	require.NotEmpty(t, first)

	again, transitions, discards := ApplySnapshot(s, snap)
	assert.Empty(t, transitions, "re-applying an applied snapshot must emit no transitions")
	assert.NotEmpty(t, discards)
	assert.Equal(t, s.Balances, again.Balances)
	assert.Equal(t, s.Transactions, again.Transactions)
	assert.Equal(t, s.LastServerTime, again.LastServerTime)
}

func TestApplyEvent_DuplicateConfirmationEmitsOneTransition(t *testing.T) {
	confirm := Event{Type: EventTransactionUpdate, ServerTime: 150,
		Transaction: ptr(txn("txn_1", StatusConfirmed, 500))}

	s := NewAccountState()
	s, _, _ = ApplyEvent(s, Event{Type: EventTransactionUpdate, ServerTime: 100,
		Transaction: ptr(txn("txn_1", StatusPending, 500))})

	confirmed := 0
	for i := 0; i < 5; i++ {
		var transitions []Transition
		s, transitions, _ = ApplyEvent(s, confirm)
		for _, tr := range transitions {
			if tr.Kind == TransitionTransactionConfirmed {
				confirmed++
			}
		}
	}

	assert.Equal(t, 1, confirmed, "duplicate confirmation events must notify exactly once")
}

// The out-of-order replay scenario: snapshot reports pending at t=100, a push
// confirms at t=150, then a replayed pending event arrives at t=120.
func TestReplayedEventAfterConfirmation(t *testing.T) {
	s := NewAccountState()

	s, transitions, _ := ApplySnapshot(s, Snapshot{
		Transactions: []Transaction{txn("txn_1", StatusPending, 500)},
		ServerTime:   100,
	})
	assert.Equal(t, []TransitionKind{TransitionTransactionSeen}, kinds(transitions))

	s, transitions, _ = ApplyEvent(s, Event{Type: EventTransactionUpdate, ServerTime: 150,
		Transaction: ptr(txn("txn_1", StatusConfirmed, 500))})
	assert.Equal(t, []TransitionKind{TransitionTransactionConfirmed}, kinds(transitions))

	s, transitions, discards := ApplyEvent(s, Event{Type: EventTransactionUpdate, ServerTime: 120,
		Transaction: ptr(txn("txn_1", StatusPending, 500))})
	assert.Empty(t, transitions)
	require.Len(t, discards, 1)

	entry := s.Transactions["txn_1"]
	assert.Equal(t, StatusConfirmed, entry.Txn.Status)
	assert.Equal(t, int64(500), entry.Txn.Amount)
}

func TestMergeBalance_PerEntryTimestamps(t *testing.T) {
	s := NewAccountState()

	// BTC is fresher than USD; an input between the two must update only USD.
	s, _, _ = ApplyEvent(s, Event{Type: EventBalanceUpdate, ServerTime: 300,
		Balances: map[Currency]int64{"BTC": 100}})
	s, _, _ = ApplyEvent(s, Event{Type: EventBalanceUpdate, ServerTime: 100,
		Balances: map[Currency]int64{"USD": 50}})

	s, transitions, discards := ApplyEvent(s, Event{Type: EventBalanceUpdate, ServerTime: 200,
		Balances: map[Currency]int64{"BTC": 999, "USD": 75}})

	require.Len(t, discards, 1)
	assert.Equal(t, "BTC", discards[0].Key)
	assert.Equal(t, []TransitionKind{TransitionBalanceIncreased}, kinds(transitions))
	assert.Equal(t, int64(100), s.Balances["BTC"].Amount)
	assert.Equal(t, int64(75), s.Balances["USD"].Amount)
}

func TestMergeBalance_EqualAmountNoTransition(t *testing.T) {
	s := NewAccountState()
	s, _, _ = ApplyEvent(s, Event{Type: EventBalanceUpdate, ServerTime: 100,
		Balances: map[Currency]int64{"BTC": 100}})

	s, transitions, discards := ApplyEvent(s, Event{Type: EventBalanceUpdate, ServerTime: 200,
		Balances: map[Currency]int64{"BTC": 100}})

	assert.Empty(t, transitions)
	assert.Empty(t, discards)
	// The entry timestamp still advances.
	assert.Equal(t, int64(200), s.Balances["BTC"].ServerTime)
}

func TestMergeBalance_DecreaseKind(t *testing.T) {
	s := NewAccountState()
	s, _, _ = ApplyEvent(s, Event{Type: EventBalanceUpdate, ServerTime: 100,
		Balances: map[Currency]int64{"BTC": 100}})
	_, transitions, _ := ApplyEvent(s, Event{Type: EventBalanceUpdate, ServerTime: 200,
		Balances: map[Currency]int64{"BTC": 40}})

	require.Len(t, transitions, 1)
	assert.Equal(t, TransitionBalanceDecreased, transitions[0].Kind)
	assert.Equal(t, int64(-60), transitions[0].Delta)
}

func TestLastServerTimeMonotonic(t *testing.T) {
	s := NewAccountState()
	s, _, _ = ApplySnapshot(s, Snapshot{ServerTime: 500})
	s, _, _ = ApplyEvent(s, Event{Type: EventBalanceUpdate, ServerTime: 200,
		Balances: map[Currency]int64{"USD": 10}})

	assert.Equal(t, int64(500), s.LastServerTime)
}

func TestApplyEvent_AdminPresence(t *testing.T) {
	s := NewAccountState()
	s, transitions, _ := ApplyEvent(s, Event{Type: EventAdminOnline, AdminCount: 3, ServerTime: 100})
	require.Len(t, transitions, 1)
	assert.Equal(t, TransitionAdminPresence, transitions[0].Kind)
	assert.Equal(t, 3, transitions[0].AdminCount)

	// Same count again: no transition.
	s, transitions, _ = ApplyEvent(s, Event{Type: EventAdminOnline, AdminCount: 3, ServerTime: 200})
	assert.Empty(t, transitions)

	// Stale count: discarded.
	_, transitions, discards := ApplyEvent(s, Event{Type: EventAdminOnline, AdminCount: 9, ServerTime: 150})
	assert.Empty(t, transitions)
	assert.Len(t, discards, 1)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	s := NewAccountState()
	s, _, _ = ApplyEvent(s, Event{Type: EventBalanceUpdate, ServerTime: 100,
		Balances: map[Currency]int64{"BTC": 100}})

	before := s.Clone()
	_, _, _ = ApplyEvent(s, Event{Type: EventBalanceUpdate, ServerTime: 200,
		Balances: map[Currency]int64{"BTC": 999}})

	assert.Equal(t, before.Balances, s.Balances, "Apply must not mutate its input state")
}

func ptr(t Transaction) *Transaction { return &t }
