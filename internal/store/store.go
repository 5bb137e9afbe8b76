// Package store defines the storage contract the reconciliation engine runs
// against and its PostgreSQL implementation.
package store

import (
	"context"
	"time"

	"github.com/punchamoorthee/paysync/internal/domain"
)

// Tx is the set of operations available inside one storage transaction.
// Every mutation either commits with the rest of the transaction or not at
// all.
type Tx interface {
	// ClaimEvent inserts the processed-event marker for eventID if absent.
	// It reports false when another transaction already committed the
	// marker. A concurrent uncommitted claim blocks the caller until it
	// resolves.
	ClaimEvent(ctx context.Context, eventID, eventType string, at time.Time) (bool, error)

	// GetPayment returns domain.ErrUnknownPayment if id is not tracked.
	GetPayment(ctx context.Context, id string) (*domain.PaymentRecord, error)
	// CompareAndSetStatus moves the payment from one status to another and
	// reports false if the stored status is no longer from.
	CompareAndSetStatus(ctx context.Context, id string, from, to domain.PaymentStatus, at time.Time) (bool, error)
	// TouchPayment advances updated_at while the status still equals status.
	TouchPayment(ctx context.Context, id string, status domain.PaymentStatus, at time.Time) (bool, error)

	// GetWalletByUser returns domain.ErrWalletNotFound if the user has none.
	GetWalletByUser(ctx context.Context, userID string) (*domain.Wallet, error)
	// FindLedgerEntry returns nil, nil when no entry matches.
	FindLedgerEntry(ctx context.Context, walletID, referenceID string, dir domain.Direction) (*domain.LedgerEntry, error)
	// IncrementBalance atomically adds delta to one currency balance and
	// returns the new balance.
	IncrementBalance(ctx context.Context, walletID string, currency domain.Currency, delta int64) (int64, error)
	// InsertLedgerEntry returns domain.ErrDuplicateCredit when an entry with
	// the same (wallet, reference, direction) already exists.
	InsertLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
}

// Runner executes fn inside a transaction. The transaction commits only if
// fn returns nil.
type Runner interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Reader serves the read-only operator endpoints.
type Reader interface {
	GetPayment(ctx context.Context, id string) (*domain.PaymentRecord, error)
	GetWallet(ctx context.Context, userID string) (*domain.Wallet, error)
	ListLedgerEntries(ctx context.Context, walletID string, limit, offset int) ([]domain.LedgerEntry, error)
}
