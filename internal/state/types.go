// Package state holds the canonical account state and the reconciliation
// engine that merges poll snapshots and push events into it.
//
// The engine is the single writer of AccountState. Merging is last-writer-wins
// by server time, never by arrival order: the two input sources fail and
// reorder independently, so each balance and transaction entry carries the
// server timestamp that produced its current value.
package state

import "time"

// Currency code, e.g. "BTC", "USD".
type Currency string

// TransactionType classifies a ledger transaction.
type TransactionType string

const (
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeInvestment TransactionType = "investment"
	TypeProfit     TransactionType = "profit"
)

// Status of a transaction. The only legal moves are pending to one of the
// terminal statuses; a terminal status never changes again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusRejected
}

// Transaction is a single ledger entry. Amount is in integer minor units
// (satoshis, cents); display formatting happens strictly outside this package.
type Transaction struct {
	ID        string          `json:"id"`
	Type      TransactionType `json:"type"`
	Amount    int64           `json:"amount"`
	Currency  Currency        `json:"currency"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Balance is one currency balance plus the server time that produced it.
type Balance struct {
	Amount     int64 `json:"amount"`
	ServerTime int64 `json:"serverTime"` // unix milliseconds
}

// TransactionEntry pairs a transaction with the server time that produced it.
type TransactionEntry struct {
	Txn        Transaction `json:"txn"`
	ServerTime int64       `json:"serverTime"`
}

// AccountState is the canonical client view of the account.
// LastServerTime is monotonically non-decreasing.
type AccountState struct {
	Balances       map[Currency]Balance        `json:"balances"`
	Transactions   map[string]TransactionEntry `json:"transactions"`
	AdminOnline    int                         `json:"adminOnline"`
	AdminTime      int64                       `json:"adminTime"`
	LastServerTime int64                       `json:"lastServerTime"`
}

// NewAccountState returns an empty canonical state.
func NewAccountState() AccountState {
	return AccountState{
		Balances:     make(map[Currency]Balance),
		Transactions: make(map[string]TransactionEntry),
	}
}

// Clone returns a deep copy. Apply never mutates its input, and readers get
// copies so no one can alias the canonical maps.
func (s AccountState) Clone() AccountState {
	next := s
	next.Balances = make(map[Currency]Balance, len(s.Balances))
	for c, b := range s.Balances {
		next.Balances[c] = b
	}
	next.Transactions = make(map[string]TransactionEntry, len(s.Transactions))
	for id, e := range s.Transactions {
		next.Transactions[id] = e
	}
	return next
}

// Snapshot is a full or partial account payload obtained via REST polling.
// ServerTime is the fetch-completion marker: the snapshot is at least as
// fresh as that instant.
type Snapshot struct {
	Balances     map[Currency]int64 `json:"balances"`
	Transactions []Transaction      `json:"transactions"`
	ServerTime   int64              `json:"serverTimestamp"`
}

// EventType of a push channel message.
type EventType string

const (
	EventBalanceUpdate     EventType = "balance_update"
	EventTransactionUpdate EventType = "transaction_update"
	EventAdminOnline       EventType = "admin:online"
)

// Event is an asynchronous push message carrying a partial state update.
// Events may arrive out of order or be duplicated by the transport.
type Event struct {
	Type        EventType          `json:"type"`
	Balances    map[Currency]int64 `json:"balances,omitempty"`
	Transaction *Transaction       `json:"transaction,omitempty"`
	AdminCount  int                `json:"count,omitempty"`
	ServerTime  int64              `json:"serverTimestamp"`
}

// TransitionKind names a semantic state change.
type TransitionKind string

const (
	TransitionBalanceIncreased     TransitionKind = "balance_increased"
	TransitionBalanceDecreased     TransitionKind = "balance_decreased"
	TransitionTransactionSeen      TransitionKind = "transaction_seen"
	TransitionTransactionConfirmed TransitionKind = "transaction_confirmed"
	TransitionTransactionFailed    TransitionKind = "transaction_failed"
	TransitionTransactionRejected  TransitionKind = "transaction_rejected"
	TransitionTransactionUpdated   TransitionKind = "transaction_updated"
	TransitionAdminPresence        TransitionKind = "admin_presence"
)

// Transition is emitted only when an applied value genuinely differs from the
// prior value, so re-applying the same input yields none.
type Transition struct {
	Kind        TransitionKind
	Currency    Currency     // balance transitions
	Delta       int64        // balance transitions: new minus old
	Transaction *Transaction // transaction transitions
	AdminCount  int          // admin presence
}

// DiscardReason explains why an input entry was not applied.
type DiscardReason string

const (
	DiscardStale            DiscardReason = "stale_timestamp"
	DiscardStatusRegression DiscardReason = "status_regression"
)

// Discard records a silently dropped input entry, for diagnostics only.
type Discard struct {
	Reason     DiscardReason
	Key        string // currency or transaction id
	ServerTime int64
}
