package gateway

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

// Sign produces a Stripe-Signature header for body, as the gateway would.
// Used by the load generator and by tests.
func Sign(body []byte, secret string, at time.Time) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    secret,
		Timestamp: at,
	})
	return signed.Header
}

// CheckoutCompletedBody builds a checkout.session.completed event body.
func CheckoutCompletedBody(eventID, sessionID, paymentID string, metadata map[string]string) []byte {
	return eventBody(eventID, "checkout.session.completed", map[string]any{
		"id":             sessionID,
		"object":         "checkout.session",
		"payment_intent": paymentID,
		"metadata":       metadata,
	})
}

// PaymentIntentBody builds a payment_intent.* event body.
func PaymentIntentBody(eventID, eventType, paymentID string) []byte {
	return eventBody(eventID, eventType, map[string]any{
		"id":     paymentID,
		"object": "payment_intent",
	})
}

// DepositMetadata is checkout metadata marking a wallet deposit.
func DepositMetadata(userID, amount, currency string) map[string]string {
	md := map[string]string{
		MetaTransactionType: TransactionWalletDeposit,
		MetaUserID:          userID,
		MetaAmount:          amount,
	}
	if currency != "" {
		md[MetaCurrency] = currency
	}
	return md
}

func eventBody(eventID, eventType string, object map[string]any) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":      eventID,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": object},
	})
	return body
}
