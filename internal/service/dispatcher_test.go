package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/punchamoorthee/paysync/internal/domain"
	"github.com/punchamoorthee/paysync/internal/store/memstore"
)

// mockCache implements ProcessedCache for testing.
type mockCache struct {
	mu        sync.Mutex
	SeenFunc  func(eventID string) (bool, error)
	marked    map[string]bool
	MarkCalls int
}

func (m *mockCache) Seen(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SeenFunc != nil {
		return m.SeenFunc(eventID)
	}
	return m.marked[eventID], nil
}

func (m *mockCache) Mark(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.marked == nil {
		m.marked = make(map[string]bool)
	}
	m.marked[eventID] = true
	m.MarkCalls++
	return nil
}

type fixture struct {
	store      *memstore.Store
	dispatcher *Dispatcher
	clock      *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T, cache ProcessedCache) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ms := memstore.New(testCurrencies)
	logger := zap.NewNop()
	d := NewDispatcher(ms,
		NewReconciler(logger, clock.Now),
		NewCreditApplier(testCurrencies, logger),
		cache,
		logger)
	d.now = clock.Now
	return &fixture{store: ms, dispatcher: d, clock: clock}
}

func depositEvent(eventID, paymentID, userID string, amount int64, currency domain.Currency) domain.CheckoutCompleted {
	return domain.CheckoutCompleted{
		EventMeta: domain.EventMeta{ID: eventID, Type: domain.EventCheckoutCompleted},
		PaymentID: paymentID,
		Metadata:  map[string]string{"transaction_type": "wallet_deposit", "user_id": userID},
		Deposit:   &domain.DepositInstruction{UserID: userID, AmountMinorUnits: amount, Currency: currency},
	}
}

func completedEvent(eventID, paymentID string) domain.CheckoutCompleted {
	return domain.CheckoutCompleted{
		EventMeta: domain.EventMeta{ID: eventID, Type: domain.EventCheckoutCompleted},
		PaymentID: paymentID,
	}
}

func succeededEvent(eventID, paymentID string) domain.PaymentSucceeded {
	return domain.PaymentSucceeded{
		EventMeta: domain.EventMeta{ID: eventID, Type: domain.EventPaymentSucceeded},
		PaymentID: paymentID,
	}
}

func failedEvent(eventID, paymentID string) domain.PaymentFailed {
	return domain.PaymentFailed{
		EventMeta: domain.EventMeta{ID: eventID, Type: domain.EventPaymentFailed},
		PaymentID: paymentID,
		Reason:    "card_declined",
	}
}

func (f *fixture) payment(t *testing.T, id string) *domain.PaymentRecord {
	t.Helper()
	p, err := f.store.GetPayment(context.Background(), id)
	if err != nil {
		t.Fatalf("GetPayment(%s): %v", id, err)
	}
	return p
}

func (f *fixture) balance(t *testing.T, userID string, c domain.Currency) int64 {
	t.Helper()
	w, err := f.store.GetWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetWallet(%s): %v", userID, err)
	}
	return w.Balances[c]
}

func TestDispatchIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddPayment(domain.PaymentRecord{ID: "pay_1", AmountMinorUnits: 2000, Currency: "usd"})
	f.store.AddWallet("user_1")
	ev := depositEvent("evt_1", "pay_1", "user_1", 2000, "usd")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		outcome, err := f.dispatcher.Dispatch(ctx, ev)
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		want := OutcomeAlreadyProcessed
		if i == 0 {
			want = OutcomeApplied
		}
		if outcome != want {
			t.Fatalf("delivery %d: outcome = %s, want %s", i, outcome, want)
		}
	}

	if got := f.balance(t, "user_1", "usd"); got != 2000 {
		t.Fatalf("usd balance = %d, want 2000", got)
	}
	if n := len(f.store.Entries("pay_1")); n != 1 {
		t.Fatalf("ledger entries = %d, want 1", n)
	}
	if got := f.payment(t, "pay_1").Status; got != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
}

func TestConcurrentDuplicateDepositCreditsOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddPayment(domain.PaymentRecord{ID: "pay_1", AmountMinorUnits: 2000, Currency: "usd"})
	f.store.AddWallet("user_1")
	ev := depositEvent("evt_1", "pay_1", "user_1", 2000, "usd")

	const deliveries = 8
	var wg sync.WaitGroup
	outcomes := make([]Outcome, deliveries)
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.dispatcher.Dispatch(context.Background(), ev)
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := range outcomes {
		if errs[i] != nil {
			t.Fatalf("delivery %d: %v", i, errs[i])
		}
		if outcomes[i] == OutcomeApplied {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("applied %d times, want 1", applied)
	}
	if got := f.balance(t, "user_1", "usd"); got != 2000 {
		t.Fatalf("usd balance = %d, want 2000", got)
	}
	if got := f.store.Stats().Increments; got != 1 {
		t.Fatalf("increments = %d, want 1", got)
	}
	if n := len(f.store.Entries("pay_1")); n != 1 {
		t.Fatalf("ledger entries = %d, want 1", n)
	}
}

func TestStatusIsOrderIndependent(t *testing.T) {
	ctx := context.Background()

	run := func(events ...domain.Event) domain.PaymentStatus {
		f := newFixture(t, nil)
		f.store.AddPayment(domain.PaymentRecord{ID: "pay_1"})
		for _, ev := range events {
			if _, err := f.dispatcher.Dispatch(ctx, ev); err != nil {
				t.Fatalf("Dispatch(%s): %v", ev.Meta().ID, err)
			}
		}
		return f.payment(t, "pay_1").Status
	}

	a := run(succeededEvent("evt_s", "pay_1"), completedEvent("evt_c", "pay_1"))
	b := run(completedEvent("evt_c", "pay_1"), succeededEvent("evt_s", "pay_1"))
	if a != b || a != domain.StatusSucceeded {
		t.Fatalf("succeeded-then-completed = %s, completed-then-succeeded = %s", a, b)
	}
}

func TestDeclinedAttemptThenDepositCredits(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddPayment(domain.PaymentRecord{ID: "pay_1"})
	f.store.AddWallet("user_1")
	ctx := context.Background()

	events := []domain.Event{
		failedEvent("evt_f", "pay_1"),
		depositEvent("evt_c", "pay_1", "user_1", 2000, "usd"),
	}
	for _, ev := range events {
		if _, err := f.dispatcher.Dispatch(ctx, ev); err != nil {
			t.Fatalf("Dispatch(%s): %v", ev.Meta().ID, err)
		}
	}
	if got := f.payment(t, "pay_1").Status; got != domain.StatusCompleted {
		t.Fatalf("status after deposit = %s, want completed", got)
	}

	if _, err := f.dispatcher.Dispatch(ctx, succeededEvent("evt_s", "pay_1")); err != nil {
		t.Fatalf("Dispatch(evt_s): %v", err)
	}
	// A late failure for the first attempt changes nothing.
	if _, err := f.dispatcher.Dispatch(ctx, failedEvent("evt_f2", "pay_1")); err != nil {
		t.Fatalf("Dispatch(evt_f2): %v", err)
	}

	if got := f.payment(t, "pay_1").Status; got != domain.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", got)
	}
	if got := f.balance(t, "user_1", "usd"); got != 2000 {
		t.Fatalf("usd balance = %d, want 2000", got)
	}
	if n := len(f.store.Entries("pay_1")); n != 1 {
		t.Fatalf("ledger entries = %d, want 1", n)
	}
}

func TestPartialFailureRecovery(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddPayment(domain.PaymentRecord{ID: "pay_1"})
	f.store.AddWallet("user_1")

	fail := true
	f.store.SetHooks(memstore.Hooks{
		InsertLedgerEntry: func(domain.LedgerEntry) error {
			if fail {
				fail = false
				return domain.ErrStorageTransient
			}
			return nil
		},
	})

	ev := depositEvent("evt_1", "pay_1", "user_1", 2000, "usd")
	ctx := context.Background()

	if _, err := f.dispatcher.Dispatch(ctx, ev); !errors.Is(err, domain.ErrStorageTransient) {
		t.Fatalf("first delivery err = %v, want ErrStorageTransient", err)
	}
	if f.store.Processed("evt_1") {
		t.Fatal("failed delivery left a processed marker")
	}
	if got := f.balance(t, "user_1", "usd"); got != 0 {
		t.Fatalf("balance after failed delivery = %d, want 0", got)
	}
	if got := f.payment(t, "pay_1").Status; got != domain.StatusPending {
		t.Fatalf("status after failed delivery = %s, want pending", got)
	}

	outcome, err := f.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("redelivery outcome = %s", outcome)
	}
	if got := f.balance(t, "user_1", "usd"); got != 2000 {
		t.Fatalf("balance = %d, want 2000", got)
	}
	if got := f.store.Stats().Increments; got != 1 {
		t.Fatalf("increments = %d, want 1", got)
	}
	if n := len(f.store.Entries("pay_1")); n != 1 {
		t.Fatalf("ledger entries = %d, want 1", n)
	}
}

func TestUnrecognizedEventIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddPayment(domain.PaymentRecord{ID: "pay_1"})

	ev := domain.Unrecognized{EventMeta: domain.EventMeta{ID: "evt_x", Type: "invoice.created"}}
	outcome, err := f.dispatcher.Dispatch(context.Background(), ev)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Fatalf("outcome = %s, want ignored", outcome)
	}
	if st := f.store.Stats(); st.Commits != 0 || st.Rollbacks != 0 {
		t.Fatalf("storage touched: %+v", st)
	}
	if f.store.Processed("evt_x") {
		t.Fatal("unrecognized event was claimed")
	}
}

func TestDuplicateCompletedOnlyTransitionsOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddPayment(domain.PaymentRecord{ID: "pay_2"})
	ctx := context.Background()

	if _, err := f.dispatcher.Dispatch(ctx, completedEvent("evt_a", "pay_2")); err != nil {
		t.Fatalf("first: %v", err)
	}
	first := f.payment(t, "pay_2").UpdatedAt

	f.clock.Advance(time.Minute)
	// Same gateway event redelivered.
	if _, err := f.dispatcher.Dispatch(ctx, completedEvent("evt_a", "pay_2")); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	// A distinct event carrying the same status.
	if _, err := f.dispatcher.Dispatch(ctx, completedEvent("evt_b", "pay_2")); err != nil {
		t.Fatalf("second completed: %v", err)
	}

	p := f.payment(t, "pay_2")
	if p.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", p.Status)
	}
	if !p.UpdatedAt.Equal(first) {
		t.Fatalf("updated_at moved from %v to %v without a transition", first, p.UpdatedAt)
	}
}

func TestDispatchRejectionsLeaveNoClaim(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddPayment(domain.PaymentRecord{ID: "pay_1"})
	ctx := context.Background()

	tests := []struct {
		name string
		ev   domain.Event
		want error
	}{
		{"unknown payment", succeededEvent("evt_1", "pay_missing"), domain.ErrUnknownPayment},
		{"wallet not found", depositEvent("evt_2", "pay_1", "user_none", 100, "usd"), domain.ErrWalletNotFound},
		{"unsupported currency", depositEvent("evt_3", "pay_1", "user_none", 100, "jpy"), domain.ErrUnsupportedCurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.dispatcher.Dispatch(ctx, tt.ev)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if f.store.Processed(tt.ev.Meta().ID) {
				t.Fatal("rejected event left a processed marker")
			}
		})
	}
	if got := f.payment(t, "pay_1").Status; got != domain.StatusPending {
		t.Fatalf("status = %s after rejected deposit, want pending", got)
	}
}

func TestRedeliveryAfterPruneDoesNotDoubleCredit(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddPayment(domain.PaymentRecord{ID: "pay_1"})
	f.store.AddWallet("user_1")
	ev := depositEvent("evt_1", "pay_1", "user_1", 2000, "usd")
	ctx := context.Background()

	if _, err := f.dispatcher.Dispatch(ctx, ev); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n, _ := f.store.PruneProcessedEvents(ctx, f.clock.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("pruned %d markers, want 1", n)
	}

	if _, err := f.dispatcher.Dispatch(ctx, ev); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := f.balance(t, "user_1", "usd"); got != 2000 {
		t.Fatalf("balance = %d, want 2000", got)
	}
	if n := len(f.store.Entries("pay_1")); n != 1 {
		t.Fatalf("ledger entries = %d, want 1", n)
	}
}

func TestDispatchUsesCache(t *testing.T) {
	cache := &mockCache{}
	f := newFixture(t, cache)
	f.store.AddPayment(domain.PaymentRecord{ID: "pay_1"})
	ctx := context.Background()

	if _, err := f.dispatcher.Dispatch(ctx, succeededEvent("evt_1", "pay_1")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if cache.MarkCalls != 1 {
		t.Fatalf("mark calls = %d, want 1", cache.MarkCalls)
	}

	before := f.store.Stats()
	outcome, err := f.dispatcher.Dispatch(ctx, succeededEvent("evt_1", "pay_1"))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome != OutcomeAlreadyProcessed {
		t.Fatalf("outcome = %s", outcome)
	}
	if after := f.store.Stats(); after.Commits != before.Commits {
		t.Fatal("cache hit still opened a transaction")
	}
}

func TestDispatchFallsBackWhenCacheFails(t *testing.T) {
	cache := &mockCache{SeenFunc: func(string) (bool, error) { return false, errors.New("redis down") }}
	f := newFixture(t, cache)
	f.store.AddPayment(domain.PaymentRecord{ID: "pay_1"})

	outcome, err := f.dispatcher.Dispatch(context.Background(), succeededEvent("evt_1", "pay_1"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("outcome = %s, want applied", outcome)
	}
	if got := f.payment(t, "pay_1").Status; got != domain.StatusSucceeded {
		t.Fatalf("status = %s", got)
	}
}

func TestDispatchLogsEventCreated(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	ms := memstore.New(testCurrencies)
	ms.AddPayment(domain.PaymentRecord{ID: "pay_1"})
	d := NewDispatcher(ms, NewReconciler(logger, nil), NewCreditApplier(testCurrencies, logger), nil, logger)

	created := time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC)
	ev := succeededEvent("evt_1", "pay_1")
	ev.Created = created
	if _, err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	entries := logs.FilterMessage("event dispatched").AllUntimed()
	if len(entries) != 1 {
		t.Fatalf("dispatched log entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if got, ok := fields["event_created"].(time.Time); !ok || !got.Equal(created) {
		t.Fatalf("event_created = %v, want %v", fields["event_created"], created)
	}
	if fields["event_id"] != "evt_1" {
		t.Fatalf("event_id = %v", fields["event_id"])
	}

	ev2 := succeededEvent("evt_2", "pay_1")
	if _, err := d.Dispatch(context.Background(), ev2); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	last := logs.FilterMessage("event dispatched").AllUntimed()[1].ContextMap()
	if _, ok := last["event_created"]; ok {
		t.Fatal("event_created logged for an event without a creation time")
	}
}
