package services

import (
	"context"
	"time"

	"loop-economy/models"
	"loop-economy/store"

	"github.com/oklog/ulid/v2"
)

// Ledger appends immutable entries. It is called in the same transaction as
// the counter update it records, after that update, so an account's entries
// follow the order its balance changed.
type Ledger struct {
	now func() time.Time
}

func NewLedger(now func() time.Time) *Ledger {
	return &Ledger{now: now}
}

// newEntryID returns a ULID; DefaultEntropy is monotonic within a millisecond.
func (l *Ledger) newEntryID() string {
	return ulid.MustNew(ulid.Timestamp(l.now()), ulid.DefaultEntropy()).String()
}

func (l *Ledger) Append(ctx context.Context, st store.Store, userID string, kind models.LedgerKind, amount, after int64, reason string, metadata map[string]any) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{
		ID:           l.newEntryID(),
		UserID:       userID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: after,
		Reason:       reason,
		Metadata:     metadata,
		CreatedAt:    l.now(),
	}
	if err := st.AppendLedger(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
