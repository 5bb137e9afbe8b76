package domain

import "time"

// Gateway event types the engine acts on.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentSucceeded  = "payment_intent.succeeded"
	EventPaymentFailed     = "payment_intent.payment_failed"
)

// EventMeta is the envelope data shared by every event variant.
type EventMeta struct {
	ID      string
	Type    string
	Created time.Time
}

// Event is a validated gateway event. The concrete type is one of
// CheckoutCompleted, PaymentSucceeded, PaymentFailed or Unrecognized.
type Event interface {
	Meta() EventMeta
	sealed()
}

// DepositInstruction is the wallet-deposit payload carried in checkout
// metadata.
type DepositInstruction struct {
	UserID           string
	AmountMinorUnits int64
	Currency         Currency
}

type CheckoutCompleted struct {
	EventMeta
	PaymentID string
	Metadata  map[string]string
	// Deposit is nil unless the checkout was a wallet deposit.
	Deposit *DepositInstruction
}

type PaymentSucceeded struct {
	EventMeta
	PaymentID string
}

type PaymentFailed struct {
	EventMeta
	PaymentID string
	Reason    string
}

// Unrecognized is any event type the engine does not act on.
type Unrecognized struct {
	EventMeta
}

func (e CheckoutCompleted) Meta() EventMeta { return e.EventMeta }
func (e PaymentSucceeded) Meta() EventMeta  { return e.EventMeta }
func (e PaymentFailed) Meta() EventMeta     { return e.EventMeta }
func (e Unrecognized) Meta() EventMeta      { return e.EventMeta }

func (CheckoutCompleted) sealed() {}
func (PaymentSucceeded) sealed()  {}
func (PaymentFailed) sealed()     {}
func (Unrecognized) sealed()      {}
