package models

import "github.com/punchamoorthee/paysync/internal/domain"

// WebhookAck is returned to the gateway once an event is accounted for.
type WebhookAck struct {
	Received bool `json:"received"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WalletView is a wallet together with its most recent ledger entries.
type WalletView struct {
	Wallet  *domain.Wallet       `json:"wallet"`
	Entries []domain.LedgerEntry `json:"entries"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status string `json:"status"`
}
