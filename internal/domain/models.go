package domain

import (
	"sort"
	"strings"
	"time"
)

// PaymentStatus is the lifecycle state of a tracked gateway payment.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusCompleted PaymentStatus = "completed"
	StatusSucceeded PaymentStatus = "succeeded"
	StatusFailed    PaymentStatus = "failed"
)

// rank orders the non-failed statuses. Failed is handled by Resolve.
func (s PaymentStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusCompleted:
		return 1
	case StatusSucceeded:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the known statuses.
func (s PaymentStatus) Valid() bool {
	return s == StatusFailed || s.rank() >= 0
}

// Resolve returns the status a record currently in s should hold after a
// transition towards target is requested.
//
// A failure ends one payment attempt, not the payment: a failed record moves
// on to completed or succeeded when a later attempt goes through. Succeeded
// is terminal, so a failure delivered after it belongs to an earlier attempt
// and leaves the status alone.
func (s PaymentStatus) Resolve(target PaymentStatus) PaymentStatus {
	switch {
	case s == StatusSucceeded:
		return s
	case target == StatusFailed:
		return StatusFailed
	case s == StatusFailed:
		if target.rank() > StatusPending.rank() {
			return target
		}
		return s
	case target.rank() > s.rank():
		return target
	default:
		return s
	}
}

// PaymentRecord is the durable view of one gateway payment, keyed by the
// gateway payment identifier.
type PaymentRecord struct {
	ID               string            `json:"id"`
	Owner            *string           `json:"owner,omitempty"`
	AmountMinorUnits int64             `json:"amount_minor_units"`
	Currency         Currency          `json:"currency"`
	Status           PaymentStatus     `json:"status"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Currency is a lower-case ISO 4217 code as the gateway reports it.
type Currency string

// NormalizeCurrency lower-cases and trims a currency code.
func NormalizeCurrency(c string) Currency {
	return Currency(strings.ToLower(strings.TrimSpace(c)))
}

// CurrencySet is the set of currencies a wallet holds a balance column for.
type CurrencySet map[Currency]struct{}

// NewCurrencySet builds a set from raw codes, normalising each.
func NewCurrencySet(codes ...string) CurrencySet {
	set := make(CurrencySet, len(codes))
	for _, c := range codes {
		if n := NormalizeCurrency(c); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func (cs CurrencySet) Contains(c Currency) bool {
	_, ok := cs[c]
	return ok
}

// Codes returns the members in sorted order.
func (cs CurrencySet) Codes() []Currency {
	out := make([]Currency, 0, len(cs))
	for c := range cs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Wallet holds one balance per supported currency, in minor units.
type Wallet struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	Balances  map[Currency]int64 `json:"balances"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Direction is the sign of a ledger entry.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// LedgerEntry is one immutable credit or debit applied to a wallet.
// (WalletID, ReferenceID, Direction) is unique.
type LedgerEntry struct {
	ID               string            `json:"id"`
	WalletID         string            `json:"wallet_id"`
	OwnerUserID      string            `json:"owner_user_id"`
	Direction        Direction         `json:"direction"`
	TransactionType  string            `json:"transaction_type"`
	Currency         Currency          `json:"currency"`
	AmountMinorUnits int64             `json:"amount_minor_units"`
	ReferenceID      string            `json:"reference_id"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Signed returns the entry amount with the direction applied.
func (e LedgerEntry) Signed() int64 {
	if e.Direction == DirectionDebit {
		return -e.AmountMinorUnits
	}
	return e.AmountMinorUnits
}

const (
	EntryStatusCompleted = "completed"
	TransactionDeposit   = "deposit"
)

// ProcessedEvent marks a gateway event id whose effects have been committed.
type ProcessedEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}
