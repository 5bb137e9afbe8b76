package domain

import "errors"

var (
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
	ErrUnknownPayment      = errors.New("unknown payment")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrStorageTransient    = errors.New("transient storage failure")

	// ErrDuplicateCredit means a ledger entry for the same reference was
	// committed by a concurrent transaction. The current transaction must
	// roll back; a retry will observe the entry and skip the increment.
	ErrDuplicateCredit = errors.New("ledger entry already exists for reference")
)

// IsRetryable reports whether redelivering the event may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageTransient) || errors.Is(err, ErrDuplicateCredit)
}
