package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/paysync/internal/domain"
)

// WalletRepository is the storage surface the credit applier needs.
type WalletRepository interface {
	GetWalletByUser(ctx context.Context, userID string) (*domain.Wallet, error)
	FindLedgerEntry(ctx context.Context, walletID, referenceID string, dir domain.Direction) (*domain.LedgerEntry, error)
	IncrementBalance(ctx context.Context, walletID string, currency domain.Currency, delta int64) (int64, error)
	InsertLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
}

type CreditResult struct {
	Entry *domain.LedgerEntry
	// Balance is the new balance, zero when AlreadyApplied.
	Balance int64
	// AlreadyApplied is set when a ledger entry for the reference existed,
	// in which case nothing was written.
	AlreadyApplied bool
}

type CreditApplier struct {
	currencies domain.CurrencySet
	logger     *zap.Logger
}

func NewCreditApplier(currencies domain.CurrencySet, logger *zap.Logger) *CreditApplier {
	return &CreditApplier{currencies: currencies, logger: logger}
}

// Supports reports whether wallets hold a balance in c.
func (a *CreditApplier) Supports(c domain.Currency) bool {
	return a.currencies.Contains(c)
}

// Apply credits a wallet deposit for payment paymentID. It must run inside
// the same transaction as the event claim: the increment and the ledger
// entry commit together or not at all.
//
// The existing-entry check keyed on paymentID makes a repeat of the same
// deposit a no-op even when its processed-event marker is gone (pruned, or
// a different event id for the same payment).
func (a *CreditApplier) Apply(ctx context.Context, repo WalletRepository, paymentID string, dep domain.DepositInstruction, metadata map[string]string) (CreditResult, error) {
	log := a.logger.With(
		zap.String("payment_id", paymentID),
		zap.String("user_id", dep.UserID),
		zap.String("currency", string(dep.Currency)),
		zap.Int64("amount", dep.AmountMinorUnits))

	if !a.Supports(dep.Currency) {
		log.Warn("deposit in unsupported currency")
		return CreditResult{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, dep.Currency)
	}
	if dep.AmountMinorUnits <= 0 {
		return CreditResult{}, fmt.Errorf("%w: deposit amount must be positive", domain.ErrMalformedPayload)
	}

	wallet, err := repo.GetWalletByUser(ctx, dep.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			log.Warn("deposit for user without wallet")
		}
		return CreditResult{}, err
	}

	existing, err := repo.FindLedgerEntry(ctx, wallet.ID, paymentID, domain.DirectionCredit)
	if err != nil {
		return CreditResult{}, fmt.Errorf("check ledger entry: %w", err)
	}
	if existing != nil {
		log.Info("deposit already credited", zap.String("entry_id", existing.ID))
		return CreditResult{Entry: existing, AlreadyApplied: true}, nil
	}

	balance, err := repo.IncrementBalance(ctx, wallet.ID, dep.Currency, dep.AmountMinorUnits)
	if err != nil {
		return CreditResult{}, fmt.Errorf("increment balance: %w", err)
	}

	entry := &domain.LedgerEntry{
		ID:               uuid.NewString(),
		WalletID:         wallet.ID,
		OwnerUserID:      dep.UserID,
		Direction:        domain.DirectionCredit,
		TransactionType:  domain.TransactionDeposit,
		Currency:         dep.Currency,
		AmountMinorUnits: dep.AmountMinorUnits,
		ReferenceID:      paymentID,
		Status:           domain.EntryStatusCompleted,
		Metadata:         metadata,
	}
	if err := repo.InsertLedgerEntry(ctx, entry); err != nil {
		// The caller's transaction rolls the increment back with this error.
		log.Error("ledger entry write failed after increment", zap.Error(err))
		return CreditResult{}, fmt.Errorf("append ledger entry: %w", err)
	}

	log.Info("wallet credited", zap.String("entry_id", entry.ID), zap.Int64("balance", balance))
	return CreditResult{Entry: entry, Balance: balance}, nil
}
