package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/paysync/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

var currencyCode = regexp.MustCompile(`^[a-z]{3}$`)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db         *pgxpool.Pool
	currencies []domain.Currency
	balanceSQL string
}

// NewStore wraps an existing pool. Each supported currency maps to a
// <code>_balance column on the wallets table.
func NewStore(db *pgxpool.Pool, currencies domain.CurrencySet) (*Store, error) {
	codes := currencies.Codes()
	if len(codes) == 0 {
		return nil, errors.New("at least one wallet currency is required")
	}
	cols := make([]string, 0, len(codes))
	for _, c := range codes {
		if !currencyCode.MatchString(string(c)) {
			return nil, fmt.Errorf("invalid currency code %q", c)
		}
		cols = append(cols, balanceColumn(c))
	}
	return &Store{
		db:         db,
		currencies: codes,
		balanceSQL: strings.Join(cols, ", "),
	}, nil
}

// Connect opens and pings a pool for connString.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func balanceColumn(c domain.Currency) string {
	return string(c) + "_balance"
}

// InTx runs fn in a READ COMMITTED transaction. Under READ COMMITTED a
// blocked INSERT ... ON CONFLICT DO NOTHING or conditional UPDATE re-checks
// the row once the competing transaction ends, which is what the claim and
// status compare-and-set rely on.
func (s *Store) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("tx begin failed: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx, store: s}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("tx commit failed: %w", err))
	}
	return nil
}

// PruneProcessedEvents deletes processed-event markers older than cutoff
// and returns how many were removed.
func (s *Store) PruneProcessedEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM processed_events WHERE processed_at < $1", cutoff)
	if err != nil {
		return 0, classify(fmt.Errorf("prune processed events: %w", err))
	}
	return tag.RowsAffected(), nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	return getPayment(ctx, s.db, id)
}

func (s *Store) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	return s.getWalletByUser(ctx, s.db, userID)
}

// ListLedgerEntries returns one page of a wallet's entries, newest first.
func (s *Store) ListLedgerEntries(ctx context.Context, walletID string, limit, offset int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, wallet_id, to_user_id, direction, transaction_type, currency,
		       amount, reference_id, status, metadata, created_at
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, walletID, limit, offset)
	if err != nil {
		return nil, classify(fmt.Errorf("list ledger entries: %w", err))
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("list ledger entries: %w", err))
	}
	return entries, nil
}

func getPayment(ctx context.Context, q querier, id string) (*domain.PaymentRecord, error) {
	var p domain.PaymentRecord
	var currency, status string
	err := q.QueryRow(ctx, `
		SELECT stripe_payment_intent_id, user_id, amount, currency, status, metadata, updated_at
		FROM stripe_payments
		WHERE stripe_payment_intent_id = $1`, id,
	).Scan(&p.ID, &p.Owner, &p.AmountMinorUnits, &currency, &status, &p.Metadata, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownPayment, id)
		}
		return nil, classify(fmt.Errorf("get payment %s: %w", id, err))
	}
	p.Currency = domain.Currency(currency)
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

func (s *Store) getWalletByUser(ctx context.Context, q querier, userID string) (*domain.Wallet, error) {
	w := domain.Wallet{Balances: make(map[domain.Currency]int64, len(s.currencies))}
	balances := make([]int64, len(s.currencies))
	dest := []any{&w.ID, &w.UserID, &w.UpdatedAt}
	for i := range balances {
		dest = append(dest, &balances[i])
	}

	err := q.QueryRow(ctx,
		"SELECT id, user_id, updated_at, "+s.balanceSQL+" FROM wallets WHERE user_id = $1",
		userID,
	).Scan(dest...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", domain.ErrWalletNotFound, userID)
		}
		return nil, classify(fmt.Errorf("get wallet for %s: %w", userID, err))
	}
	for i, c := range s.currencies {
		w.Balances[c] = balances[i]
	}
	return &w, nil
}

func scanLedgerEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var direction, currency string
	err := row.Scan(&e.ID, &e.WalletID, &e.OwnerUserID, &direction, &e.TransactionType, &currency,
		&e.AmountMinorUnits, &e.ReferenceID, &e.Status, &e.Metadata, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Direction = domain.Direction(direction)
	e.Currency = domain.Currency(currency)
	return &e, nil
}

// classify wraps errors that are safe to retry with domain.ErrStorageTransient.
func classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrStorageTransient) {
		return err
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %w", domain.ErrStorageTransient, err)
	}
	return err
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57014", // query_canceled
			"57P01": // admin_shutdown
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		pgconn.Timeout(err) ||
		pgconn.SafeToRetry(err)
}
