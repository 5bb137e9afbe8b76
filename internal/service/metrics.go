package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/paysync/internal/domain"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_webhook_events_total",
		Help: "Gateway events dispatched, labeled by event type and outcome",
	}, []string{"type", "outcome"})

	creditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_wallet_credits_total",
		Help: "Wallet deposit credits, labeled by currency and result",
	}, []string{"currency", "result"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paysync_dispatch_duration_seconds",
		Help:    "Latency of dispatching one gateway event",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"type"})
)

// typeLabel keeps the label set bounded when the gateway adds event types.
func typeLabel(eventType string) string {
	switch eventType {
	case domain.EventCheckoutCompleted, domain.EventPaymentSucceeded, domain.EventPaymentFailed:
		return eventType
	default:
		return "other"
	}
}

func outcomeLabel(o Outcome, err error) string {
	switch {
	case err == nil:
		return string(o)
	case errors.Is(err, domain.ErrUnknownPayment):
		return "unknown_payment"
	case errors.Is(err, domain.ErrWalletNotFound):
		return "wallet_not_found"
	case errors.Is(err, domain.ErrUnsupportedCurrency):
		return "unsupported_currency"
	case domain.IsRetryable(err):
		return "transient"
	default:
		return "error"
	}
}
