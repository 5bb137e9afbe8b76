package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/paysync/internal/domain"
)

type pgTx struct {
	tx    pgx.Tx
	store *Store
}

func (t *pgTx) ClaimEvent(ctx context.Context, eventID, eventType string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, at,
	)
	if err != nil {
		return false, classify(fmt.Errorf("claim event %s: %w", eventID, err))
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) GetPayment(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	return getPayment(ctx, t.tx, id)
}

func (t *pgTx) CompareAndSetStatus(ctx context.Context, id string, from, to domain.PaymentStatus, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE stripe_payments
		SET status = $3, updated_at = GREATEST(updated_at, $4)
		WHERE stripe_payment_intent_id = $1 AND status = $2`,
		id, string(from), string(to), at,
	)
	if err != nil {
		return false, classify(fmt.Errorf("update payment %s status: %w", id, err))
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) TouchPayment(ctx context.Context, id string, status domain.PaymentStatus, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE stripe_payments
		SET updated_at = GREATEST(updated_at, $3)
		WHERE stripe_payment_intent_id = $1 AND status = $2`,
		id, string(status), at,
	)
	if err != nil {
		return false, classify(fmt.Errorf("touch payment %s: %w", id, err))
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) GetWalletByUser(ctx context.Context, userID string) (*domain.Wallet, error) {
	return t.store.getWalletByUser(ctx, t.tx, userID)
}

func (t *pgTx) FindLedgerEntry(ctx context.Context, walletID, referenceID string, dir domain.Direction) (*domain.LedgerEntry, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, wallet_id, to_user_id, direction, transaction_type, currency,
		       amount, reference_id, status, metadata, created_at
		FROM wallet_transactions
		WHERE wallet_id = $1 AND reference_id = $2 AND direction = $3`,
		walletID, referenceID, string(dir),
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(fmt.Errorf("find ledger entry %s: %w", referenceID, err))
	}
	return e, nil
}

// IncrementBalance uses a single in-place UPDATE so concurrent credits to
// the same wallet never read-modify-write.
func (t *pgTx) IncrementBalance(ctx context.Context, walletID string, currency domain.Currency, delta int64) (int64, error) {
	if !containsCurrency(t.store.currencies, currency) {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, currency)
	}
	col := balanceColumn(currency)

	var balance int64
	err := t.tx.QueryRow(ctx,
		"UPDATE wallets SET "+col+" = "+col+" + $2, updated_at = NOW() WHERE id = $1 RETURNING "+col,
		walletID, delta,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: wallet %s", domain.ErrWalletNotFound, walletID)
		}
		return 0, classify(fmt.Errorf("increment %s for wallet %s: %w", col, walletID, err))
	}
	return balance, nil
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (
			id, wallet_id, to_user_id, direction, transaction_type, currency,
			amount, reference_id, status, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT ON CONSTRAINT wallet_transactions_reference_key DO NOTHING
		RETURNING created_at`,
		e.ID, e.WalletID, e.OwnerUserID, string(e.Direction), e.TransactionType, string(e.Currency),
		e.AmountMinorUnits, e.ReferenceID, e.Status, metadata,
	).Scan(&e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateCredit, e.ReferenceID)
		}
		return classify(fmt.Errorf("ledger entry failed: %w", err))
	}
	return nil
}

func containsCurrency(set []domain.Currency, c domain.Currency) bool {
	for _, s := range set {
		if s == c {
			return true
		}
	}
	return false
}
