package domain

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		from, target, want PaymentStatus
	}{
		{StatusPending, StatusCompleted, StatusCompleted},
		{StatusPending, StatusSucceeded, StatusSucceeded},
		{StatusCompleted, StatusSucceeded, StatusSucceeded},
		{StatusSucceeded, StatusCompleted, StatusSucceeded},
		{StatusCompleted, StatusCompleted, StatusCompleted},
		{StatusSucceeded, StatusFailed, StatusSucceeded},
		{StatusPending, StatusFailed, StatusFailed},
		{StatusCompleted, StatusFailed, StatusFailed},
		{StatusFailed, StatusFailed, StatusFailed},
		{StatusFailed, StatusPending, StatusFailed},
		{StatusFailed, StatusSucceeded, StatusSucceeded},
		{StatusFailed, StatusCompleted, StatusCompleted},
	}
	for _, tt := range tests {
		if got := tt.from.Resolve(tt.target); got != tt.want {
			t.Errorf("%s.Resolve(%s) = %s, want %s", tt.from, tt.target, got, tt.want)
		}
	}
}

func TestResolveOrderIndependent(t *testing.T) {
	a := StatusPending.Resolve(StatusSucceeded).Resolve(StatusCompleted)
	b := StatusPending.Resolve(StatusCompleted).Resolve(StatusSucceeded)
	if a != b {
		t.Fatalf("succeeded-then-completed = %s, completed-then-succeeded = %s", a, b)
	}
}

func TestResolveRetriedAttemptEndsSucceeded(t *testing.T) {
	// A declined attempt, the checkout completing on retry, then the
	// intent succeeding, delivered in any order, ends succeeded.
	orders := [][]PaymentStatus{
		{StatusFailed, StatusCompleted, StatusSucceeded},
		{StatusCompleted, StatusFailed, StatusSucceeded},
		{StatusSucceeded, StatusFailed, StatusCompleted},
		{StatusFailed, StatusSucceeded, StatusCompleted},
	}
	for _, order := range orders {
		s := StatusPending
		for _, target := range order {
			s = s.Resolve(target)
		}
		if s != StatusSucceeded {
			t.Errorf("%v ended %s, want succeeded", order, s)
		}
	}
}

func TestCurrencySet(t *testing.T) {
	set := NewCurrencySet(" USD", "eur", "")
	if !set.Contains("usd") || !set.Contains("eur") {
		t.Fatalf("expected usd and eur in %v", set.Codes())
	}
	if set.Contains("gbp") {
		t.Fatal("gbp should not be supported")
	}
	if codes := set.Codes(); len(codes) != 2 || codes[0] != "eur" {
		t.Fatalf("Codes() = %v", codes)
	}
}

func TestLedgerEntrySigned(t *testing.T) {
	credit := LedgerEntry{Direction: DirectionCredit, AmountMinorUnits: 500}
	debit := LedgerEntry{Direction: DirectionDebit, AmountMinorUnits: 200}
	if credit.Signed()+debit.Signed() != 300 {
		t.Fatalf("signed sum = %d", credit.Signed()+debit.Signed())
	}
}
