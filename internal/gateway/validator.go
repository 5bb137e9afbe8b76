// Package gateway turns signed Stripe webhook deliveries into typed
// domain events.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/punchamoorthee/paysync/internal/domain"
)

// Checkout metadata keys written at session creation.
const (
	MetaTransactionType = "transaction_type"
	MetaUserID          = "user_id"
	MetaAmount          = "amount"
	MetaCurrency        = "currency"

	TransactionWalletDeposit = "wallet_deposit"
	DefaultCurrency          = domain.Currency("usd")

	// minor units per major unit for every supported wallet currency
	minorExponent = 2
)

type Validator struct {
	secret    string
	tolerance time.Duration
}

// NewValidator returns a validator for one endpoint secret. A zero
// tolerance selects the gateway default.
func NewValidator(secret string, tolerance time.Duration) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("webhook signing secret is required")
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Validator{secret: secret, tolerance: tolerance}, nil
}

// Parse verifies the Stripe-Signature header against body and decodes the
// event. Errors wrap domain.ErrInvalidSignature or domain.ErrMalformedPayload.
func (v *Validator) Parse(body []byte, sigHeader string) (domain.Event, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return nil, fmt.Errorf("%w: missing signature header", domain.ErrInvalidSignature)
	}
	if err := webhook.ValidatePayloadWithTolerance(body, sigHeader, v.secret, v.tolerance); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	var ev stripe.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: event id and type are required", domain.ErrMalformedPayload)
	}

	meta := domain.EventMeta{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Created: time.Unix(ev.Created, 0).UTC(),
	}

	switch meta.Type {
	case domain.EventCheckoutCompleted, domain.EventPaymentSucceeded, domain.EventPaymentFailed:
		if ev.Data == nil || len(ev.Data.Raw) == 0 {
			return nil, fmt.Errorf("%w: %s has no data.object", domain.ErrMalformedPayload, meta.Type)
		}
	}

	switch meta.Type {
	case domain.EventCheckoutCompleted:
		return decodeCheckout(meta, ev.Data.Raw)
	case domain.EventPaymentSucceeded:
		pi, err := decodePaymentIntent(ev.Data.Raw)
		if err != nil {
			return nil, err
		}
		return domain.PaymentSucceeded{EventMeta: meta, PaymentID: pi.ID}, nil
	case domain.EventPaymentFailed:
		pi, err := decodePaymentIntent(ev.Data.Raw)
		if err != nil {
			return nil, err
		}
		var reason string
		if pi.LastPaymentError != nil {
			reason = pi.LastPaymentError.Msg
		}
		return domain.PaymentFailed{EventMeta: meta, PaymentID: pi.ID, Reason: reason}, nil
	default:
		return domain.Unrecognized{EventMeta: meta}, nil
	}
}

func decodeCheckout(meta domain.EventMeta, raw json.RawMessage) (domain.Event, error) {
	var s stripe.CheckoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %v", domain.ErrMalformedPayload, err)
	}
	if s.PaymentIntent == nil || s.PaymentIntent.ID == "" {
		return nil, fmt.Errorf("%w: checkout session %q has no payment_intent", domain.ErrMalformedPayload, s.ID)
	}

	deposit, err := ParseDeposit(s.Metadata)
	if err != nil {
		return nil, err
	}

	return domain.CheckoutCompleted{
		EventMeta: meta,
		PaymentID: s.PaymentIntent.ID,
		Metadata:  s.Metadata,
		Deposit:   deposit,
	}, nil
}

func decodePaymentIntent(raw json.RawMessage) (*stripe.PaymentIntent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: payment intent: %v", domain.ErrMalformedPayload, err)
	}
	if pi.ID == "" {
		return nil, fmt.Errorf("%w: payment intent id is required", domain.ErrMalformedPayload)
	}
	return &pi, nil
}

// ParseDeposit extracts a wallet deposit from checkout metadata. It returns
// nil, nil when the checkout is not a wallet deposit. The amount is a
// major-unit decimal string ("20.00") and is converted to minor units
// without going through floating point.
func ParseDeposit(md map[string]string) (*domain.DepositInstruction, error) {
	if md[MetaTransactionType] != TransactionWalletDeposit {
		return nil, nil
	}

	userID := strings.TrimSpace(md[MetaUserID])
	if userID == "" {
		return nil, fmt.Errorf("%w: deposit without %s", domain.ErrMalformedPayload, MetaUserID)
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(md[MetaAmount]))
	if err != nil {
		return nil, fmt.Errorf("%w: deposit amount %q: %v", domain.ErrMalformedPayload, md[MetaAmount], err)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit amount must be positive", domain.ErrMalformedPayload)
	}
	minor := amount.Shift(minorExponent)
	if !minor.Equal(minor.Truncate(0)) {
		return nil, fmt.Errorf("%w: deposit amount %s has sub-minor precision", domain.ErrMalformedPayload, amount)
	}
	if !minor.LessThanOrEqual(decimal.NewFromInt(1 << 53)) {
		return nil, fmt.Errorf("%w: deposit amount %s out of range", domain.ErrMalformedPayload, amount)
	}

	currency := domain.NormalizeCurrency(md[MetaCurrency])
	if currency == "" {
		currency = DefaultCurrency
	}

	return &domain.DepositInstruction{
		UserID:           userID,
		AmountMinorUnits: minor.IntPart(),
		Currency:         currency,
	}, nil
}
