package state

// ApplySnapshot merges a poll snapshot into the canonical state. Each entry
// is merged independently under the snapshot's fetch-completion time.
func ApplySnapshot(cur AccountState, snap Snapshot) (AccountState, []Transition, []Discard) {
	next := cur.Clone()
	var transitions []Transition
	var discards []Discard

	for currency, amount := range snap.Balances {
		t, d := mergeBalance(&next, currency, amount, snap.ServerTime)
		transitions = append(transitions, t...)
		discards = append(discards, d...)
	}

	for _, txn := range snap.Transactions {
		t, d := mergeTransaction(&next, txn, snap.ServerTime)
		transitions = append(transitions, t...)
		discards = append(discards, d...)
	}

	bumpServerTime(&next, snap.ServerTime)
	return next, transitions, discards
}

// ApplyEvent merges a push channel event into the canonical state.
func ApplyEvent(cur AccountState, ev Event) (AccountState, []Transition, []Discard) {
	next := cur.Clone()
	var transitions []Transition
	var discards []Discard

	switch ev.Type {
	case EventBalanceUpdate:
		for currency, amount := range ev.Balances {
			t, d := mergeBalance(&next, currency, amount, ev.ServerTime)
			transitions = append(transitions, t...)
			discards = append(discards, d...)
		}

	case EventTransactionUpdate:
		if ev.Transaction != nil {
			t, d := mergeTransaction(&next, *ev.Transaction, ev.ServerTime)
			transitions = append(transitions, t...)
			discards = append(discards, d...)
		}

	case EventAdminOnline:
		if ev.ServerTime <= next.AdminTime {
			discards = append(discards, Discard{Reason: DiscardStale, Key: "admin", ServerTime: ev.ServerTime})
			break
		}
		changed := next.AdminOnline != ev.AdminCount
		next.AdminOnline = ev.AdminCount
		next.AdminTime = ev.ServerTime
		if changed {
			transitions = append(transitions, Transition{
				Kind:       TransitionAdminPresence,
				AdminCount: ev.AdminCount,
			})
		}
	}

	bumpServerTime(&next, ev.ServerTime)
	return next, transitions, discards
}

// mergeBalance applies one currency balance under last-writer-wins by server
// time. An equal or older timestamp is discarded; an applied identical amount
// produces no transition.
func mergeBalance(s *AccountState, currency Currency, amount, serverTime int64) ([]Transition, []Discard) {
	prev, exists := s.Balances[currency]
	if exists && serverTime <= prev.ServerTime {
		return nil, []Discard{{Reason: DiscardStale, Key: string(currency), ServerTime: serverTime}}
	}

	s.Balances[currency] = Balance{Amount: amount, ServerTime: serverTime}

	if exists && amount == prev.Amount {
		return nil, nil
	}

	delta := amount
	kind := TransitionBalanceIncreased
	if exists {
		delta = amount - prev.Amount
	}
	if exists && delta < 0 {
		kind = TransitionBalanceDecreased
	}
	if !exists && amount == 0 {
		// First sight of an empty balance is not a change worth announcing.
		return nil, nil
	}
	return []Transition{{Kind: kind, Currency: currency, Delta: delta}}, nil
}

// mergeTransaction applies one transaction under last-writer-wins by server
// time, additionally enforcing status monotonicity: an incoming pending for a
// transaction already terminal is discarded regardless of timestamp, which
// defends against replayed and duplicated push events.
func mergeTransaction(s *AccountState, txn Transaction, serverTime int64) ([]Transition, []Discard) {
	prev, exists := s.Transactions[txn.ID]

	if exists && prev.Txn.Status.Terminal() && txn.Status != prev.Txn.Status {
		// Terminal statuses never change, whatever the timestamp says.
		return nil, []Discard{{Reason: DiscardStatusRegression, Key: txn.ID, ServerTime: serverTime}}
	}
	if exists && serverTime <= prev.ServerTime {
		return nil, []Discard{{Reason: DiscardStale, Key: txn.ID, ServerTime: serverTime}}
	}

	s.Transactions[txn.ID] = TransactionEntry{Txn: txn, ServerTime: serverTime}

	if exists && prev.Txn == txn {
		// Identical re-application: timestamp advanced, nothing to announce.
		return nil, nil
	}

	applied := txn
	var transitions []Transition

	if !exists {
		transitions = append(transitions, Transition{Kind: TransitionTransactionSeen, Transaction: &applied})
	}

	// A status change to terminal is announced exactly once, whether it was
	// observed via push or first seen already-terminal in a poll diff.
	statusChanged := !exists || prev.Txn.Status != txn.Status
	if statusChanged && txn.Status.Terminal() {
		transitions = append(transitions, Transition{Kind: terminalKind(txn.Status), Transaction: &applied})
	} else if exists && !statusChanged {
		transitions = append(transitions, Transition{Kind: TransitionTransactionUpdated, Transaction: &applied})
	}

	return transitions, nil
}

func terminalKind(s Status) TransitionKind {
	switch s {
	case StatusConfirmed:
		return TransitionTransactionConfirmed
	case StatusFailed:
		return TransitionTransactionFailed
	default:
		return TransitionTransactionRejected
	}
}

// bumpServerTime keeps LastServerTime monotonically non-decreasing.
func bumpServerTime(s *AccountState, serverTime int64) {
	if serverTime > s.LastServerTime {
		s.LastServerTime = serverTime
	}
}
