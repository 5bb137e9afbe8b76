package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/paysync/internal/domain"
	"github.com/punchamoorthee/paysync/internal/models"
	"github.com/punchamoorthee/paysync/internal/service"
	"github.com/punchamoorthee/paysync/internal/store"
)

const (
	maxWebhookBody  = 1 << 20
	signatureHeader = "Stripe-Signature"
	webhookEndpoint = "/webhooks/stripe"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paysync_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// EventParser authenticates and decodes a raw webhook delivery.
type EventParser interface {
	Parse(body []byte, sigHeader string) (domain.Event, error)
}

// EventDispatcher applies a decoded event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev domain.Event) (service.Outcome, error)
}

type Handler struct {
	parser          EventParser
	dispatcher      EventDispatcher
	reader          store.Reader
	logger          *zap.Logger
	dispatchTimeout time.Duration
}

func NewHandler(parser EventParser, dispatcher EventDispatcher, reader store.Reader, logger *zap.Logger, dispatchTimeout time.Duration) *Handler {
	return &Handler{
		parser:          parser,
		dispatcher:      dispatcher,
		reader:          reader,
		logger:          logger,
		dispatchTimeout: dispatchTimeout,
	}
}

// StripeWebhookHandler receives gateway deliveries. Any non-2xx response
// makes the gateway redeliver, so only failures worth retrying get a 5xx.
func (h *Handler) StripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", webhookEndpoint))
	defer timer.ObserveDuration()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, "Payload too large", "POST", webhookEndpoint)
			return
		}
		respondWithError(w, http.StatusBadRequest, "Unable to read body", "POST", webhookEndpoint)
		return
	}

	ev, err := h.parser.Parse(body, r.Header.Get(signatureHeader))
	if err != nil {
		h.logger.Warn("webhook rejected", zap.Error(err))
		respondWithError(w, statusFor(err), "Webhook Error: "+err.Error(), "POST", webhookEndpoint)
		return
	}

	ctx := r.Context()
	if h.dispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.dispatchTimeout)
		defer cancel()
	}

	if _, err := h.dispatcher.Dispatch(ctx, ev); err != nil {
		code := statusFor(err)
		msg := err.Error()
		if code == http.StatusInternalServerError {
			msg = "Internal Server Error"
		}
		respondWithError(w, code, msg, "POST", webhookEndpoint)
		return
	}

	respondWithJSON(w, http.StatusOK, models.WebhookAck{Received: true}, "POST", webhookEndpoint)
}

// statusFor maps a processing error to the response code the gateway sees.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrMalformedPayload),
		errors.Is(err, domain.ErrUnknownPayment),
		errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrUnsupportedCurrency):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func statusLabel(code int) string {
	return strconv.Itoa(code)
}
