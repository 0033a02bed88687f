package services

import (
	"context"
	"errors"
	"fmt"

	"loop-economy/apperrors"
	"loop-economy/models"
	"loop-economy/store"

	log "github.com/sirupsen/logrus"
)

type BalanceService struct {
	ledger *Ledger
}

func NewBalanceService(ledger *Ledger) *BalanceService {
	return &BalanceService{ledger: ledger}
}

// ApplyDelta changes a coin balance by amount and writes one ledger entry.
// Debits are a single conditional update, so two concurrent debits can never
// both succeed when only one is affordable. Credits create the account when
// it does not exist yet.
func (s *BalanceService) ApplyDelta(ctx context.Context, st store.Store, userID string, amount int64, reason string, metadata map[string]any) (int64, error) {
	if amount == 0 {
		return 0, apperrors.Validation("amount must not be zero")
	}
	if userID == "" {
		return 0, apperrors.Validation("user id is required")
	}

	if amount > 0 {
		if _, err := st.EnsureAccount(ctx, userID, models.AccountKindUser); err != nil {
			return 0, fmt.Errorf("ensure account %s: %w", userID, err)
		}
	}

	newBalance, err := st.AddBalance(ctx, userID, amount)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return 0, apperrors.ErrAccountNotFound.WithDetails(map[string]interface{}{"user_id": userID})
	case errors.Is(err, store.ErrConditionFailed):
		log.WithFields(log.Fields{"user_id": userID, "amount": amount, "reason": reason}).
			Info("💸 Debit rejected: insufficient funds")
		return 0, apperrors.ErrInsufficientFunds.WithDetails(map[string]interface{}{
			"user_id":  userID,
			"required": -amount,
		})
	case err != nil:
		return 0, fmt.Errorf("apply balance delta: %w", err)
	}

	if _, err := s.ledger.Append(ctx, st, userID, models.LedgerKindCoins, amount, newBalance, reason, metadata); err != nil {
		return 0, fmt.Errorf("append ledger: %w", err)
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"amount":  amount,
		"balance": newBalance,
		"reason":  reason,
	}).Debug("balance updated")
	return newBalance, nil
}

// Balance returns the current coin balance; unknown accounts read as zero.
func (s *BalanceService) Balance(ctx context.Context, st store.Store, userID string) (int64, error) {
	acct, err := st.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}
