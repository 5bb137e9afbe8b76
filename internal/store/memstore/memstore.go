// Package memstore is an in-memory implementation of the store contracts.
// Transactions are serialized and rolled back by restoring a snapshot, and
// hooks allow faults to be injected at individual storage operations.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/punchamoorthee/paysync/internal/domain"
	"github.com/punchamoorthee/paysync/internal/store"
)

// Hooks run before the matching operation; a non-nil error aborts it.
type Hooks struct {
	ClaimEvent        func(eventID string) error
	IncrementBalance  func(walletID string, currency domain.Currency, delta int64) error
	InsertLedgerEntry func(entry domain.LedgerEntry) error
	CompareAndSet     func(id string, from, to domain.PaymentStatus) error
}

// Stats counts operations applied by committed transactions.
type Stats struct {
	Commits    int
	Rollbacks  int
	Increments int
	Claims     int
}

type state struct {
	payments  map[string]domain.PaymentRecord
	wallets   map[string]domain.Wallet // by wallet id
	byUser    map[string]string        // user id -> wallet id
	entries   []domain.LedgerEntry
	processed map[string]domain.ProcessedEvent
	stats     Stats
}

type Store struct {
	mu         sync.Mutex
	currencies domain.CurrencySet
	hooks      Hooks
	st         state
}

var (
	_ store.Runner = (*Store)(nil)
	_ store.Reader = (*Store)(nil)
)

func New(currencies domain.CurrencySet) *Store {
	return &Store{
		currencies: currencies,
		st: state{
			payments:  make(map[string]domain.PaymentRecord),
			wallets:   make(map[string]domain.Wallet),
			byUser:    make(map[string]string),
			processed: make(map[string]domain.ProcessedEvent),
		},
	}
}

func (s *Store) SetHooks(h Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = h
}

// AddPayment seeds a payment record.
func (s *Store) AddPayment(p domain.PaymentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == "" {
		p.Status = domain.StatusPending
	}
	s.st.payments[p.ID] = p
}

// AddWallet seeds a wallet with zero balances and returns its id.
func (s *Store) AddWallet(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("wlt_%d", len(s.st.wallets)+1)
	balances := make(map[domain.Currency]int64, len(s.currencies))
	for c := range s.currencies {
		balances[c] = 0
	}
	s.st.wallets[id] = domain.Wallet{ID: id, UserID: userID, Balances: balances}
	s.st.byUser[userID] = id
	return id
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.stats
}

// Entries returns every ledger entry with the given reference.
func (s *Store) Entries(referenceID string) []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range s.st.entries {
		if e.ReferenceID == referenceID {
			out = append(out, e)
		}
	}
	return out
}

// Processed reports whether eventID has a committed marker.
func (s *Store) Processed(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.st.processed[eventID]
	return ok
}

// InTx holds the store lock for the whole of fn, so transactions are
// serializable. On error every change made by fn is discarded.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorageTransient, err)
	}

	snapshot := s.st.clone()
	if err := fn(&memTx{s: s}); err != nil {
		s.st = snapshot
		s.st.stats.Rollbacks++
		return err
	}
	s.st.stats.Commits++
	return nil
}

// PruneProcessedEvents mirrors the Postgres retention sweep.
func (s *Store) PruneProcessedEvents(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.st.processed {
		if p.ProcessedAt.Before(cutoff) {
			delete(s.st.processed, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (*domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.payment(id)
}

func (s *Store) GetWallet(_ context.Context, userID string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.walletByUser(userID)
}

func (s *Store) ListLedgerEntries(_ context.Context, walletID string, limit, offset int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	skipped := 0
	for i := len(s.st.entries) - 1; i >= 0; i-- {
		if s.st.entries[i].WalletID != walletID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, s.st.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// memTx is only used while Store.mu is held by InTx.
type memTx struct {
	s *Store
}

func (t *memTx) ClaimEvent(_ context.Context, eventID, eventType string, at time.Time) (bool, error) {
	if h := t.s.hooks.ClaimEvent; h != nil {
		if err := h(eventID); err != nil {
			return false, err
		}
	}
	if _, ok := t.s.st.processed[eventID]; ok {
		return false, nil
	}
	t.s.st.processed[eventID] = domain.ProcessedEvent{EventID: eventID, EventType: eventType, ProcessedAt: at}
	t.s.st.stats.Claims++
	return true, nil
}

func (t *memTx) GetPayment(_ context.Context, id string) (*domain.PaymentRecord, error) {
	return t.s.st.payment(id)
}

func (t *memTx) CompareAndSetStatus(_ context.Context, id string, from, to domain.PaymentStatus, at time.Time) (bool, error) {
	if h := t.s.hooks.CompareAndSet; h != nil {
		if err := h(id, from, to); err != nil {
			return false, err
		}
	}
	p, ok := t.s.st.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	if at.After(p.UpdatedAt) {
		p.UpdatedAt = at
	}
	t.s.st.payments[id] = p
	return true, nil
}

func (t *memTx) TouchPayment(_ context.Context, id string, status domain.PaymentStatus, at time.Time) (bool, error) {
	p, ok := t.s.st.payments[id]
	if !ok || p.Status != status {
		return false, nil
	}
	if at.After(p.UpdatedAt) {
		p.UpdatedAt = at
	}
	t.s.st.payments[id] = p
	return true, nil
}

func (t *memTx) GetWalletByUser(_ context.Context, userID string) (*domain.Wallet, error) {
	return t.s.st.walletByUser(userID)
}

func (t *memTx) FindLedgerEntry(_ context.Context, walletID, referenceID string, dir domain.Direction) (*domain.LedgerEntry, error) {
	for _, e := range t.s.st.entries {
		if e.WalletID == walletID && e.ReferenceID == referenceID && e.Direction == dir {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) IncrementBalance(_ context.Context, walletID string, currency domain.Currency, delta int64) (int64, error) {
	if h := t.s.hooks.IncrementBalance; h != nil {
		if err := h(walletID, currency, delta); err != nil {
			return 0, err
		}
	}
	if !t.s.currencies.Contains(currency) {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, currency)
	}
	w, ok := t.s.st.wallets[walletID]
	if !ok {
		return 0, fmt.Errorf("%w: wallet %s", domain.ErrWalletNotFound, walletID)
	}
	w.Balances[currency] += delta
	w.UpdatedAt = time.Now()
	t.s.st.wallets[walletID] = w
	t.s.st.stats.Increments++
	return w.Balances[currency], nil
}

func (t *memTx) InsertLedgerEntry(_ context.Context, e *domain.LedgerEntry) error {
	if h := t.s.hooks.InsertLedgerEntry; h != nil {
		if err := h(*e); err != nil {
			return err
		}
	}
	for _, existing := range t.s.st.entries {
		if existing.WalletID == e.WalletID && existing.ReferenceID == e.ReferenceID && existing.Direction == e.Direction {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateCredit, e.ReferenceID)
		}
	}
	e.CreatedAt = time.Now()
	t.s.st.entries = append(t.s.st.entries, *e)
	return nil
}

func (st *state) payment(id string) (*domain.PaymentRecord, error) {
	p, ok := st.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownPayment, id)
	}
	p.Metadata = cloneStrings(p.Metadata)
	return &p, nil
}

func (st *state) walletByUser(userID string) (*domain.Wallet, error) {
	id, ok := st.byUser[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", domain.ErrWalletNotFound, userID)
	}
	w := st.wallets[id]
	w.Balances = cloneBalances(w.Balances)
	return &w, nil
}

func (st state) clone() state {
	out := state{
		payments:  make(map[string]domain.PaymentRecord, len(st.payments)),
		wallets:   make(map[string]domain.Wallet, len(st.wallets)),
		byUser:    make(map[string]string, len(st.byUser)),
		entries:   append([]domain.LedgerEntry(nil), st.entries...),
		processed: make(map[string]domain.ProcessedEvent, len(st.processed)),
		stats:     st.stats,
	}
	for k, v := range st.payments {
		out.payments[k] = v
	}
	for k, v := range st.wallets {
		v.Balances = cloneBalances(v.Balances)
		out.wallets[k] = v
	}
	for k, v := range st.byUser {
		out.byUser[k] = v
	}
	for k, v := range st.processed {
		out.processed[k] = v
	}
	return out
}

func cloneBalances(in map[domain.Currency]int64) map[domain.Currency]int64 {
	out := make(map[domain.Currency]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
