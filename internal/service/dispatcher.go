package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/punchamoorthee/paysync/internal/domain"
	"github.com/punchamoorthee/paysync/internal/store"
)

// Outcome is the result of a successful dispatch.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeIgnored          Outcome = "ignored"
)

// ProcessedCache is an optional fast path in front of the durable claim.
// It is advisory: a miss or an error falls through to the database.
type ProcessedCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type Dispatcher struct {
	runner     store.Runner
	reconciler *Reconciler
	credit     *CreditApplier
	cache      ProcessedCache
	logger     *zap.Logger
	now        func() time.Time
}

// NewDispatcher wires the components together. cache may be nil.
func NewDispatcher(runner store.Runner, reconciler *Reconciler, credit *CreditApplier, cache ProcessedCache, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		runner:     runner,
		reconciler: reconciler,
		credit:     credit,
		cache:      cache,
		logger:     logger,
		now:        time.Now,
	}
}

// Dispatch applies ev exactly once in effect. The event claim and every
// mutation it causes share one transaction, so a failed attempt leaves no
// claim behind and redelivery starts again from the top.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event) (Outcome, error) {
	meta := ev.Meta()
	label := typeLabel(meta.Type)
	timer := prometheus.NewTimer(dispatchDuration.WithLabelValues(label))
	defer timer.ObserveDuration()

	log := d.logger.With(zap.String("event_id", meta.ID), zap.String("event_type", meta.Type))
	if !meta.Created.IsZero() {
		log = log.With(zap.Time("event_created", meta.Created))
	}

	outcome, err := d.dispatch(ctx, ev, log)
	eventsTotal.WithLabelValues(label, outcomeLabel(outcome, err)).Inc()
	if err != nil {
		fields := []zap.Field{zap.Error(err), zap.Bool("retryable", domain.IsRetryable(err))}
		if domain.IsRetryable(err) {
			log.Warn("event dispatch failed", fields...)
		} else {
			log.Error("event dispatch rejected", fields...)
		}
		return "", err
	}
	log.Info("event dispatched", zap.String("outcome", string(outcome)))
	return outcome, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, ev domain.Event, log *zap.Logger) (Outcome, error) {
	if _, ok := ev.(domain.Unrecognized); ok {
		return OutcomeIgnored, nil
	}

	meta := ev.Meta()
	if cc, ok := ev.(domain.CheckoutCompleted); ok && cc.Deposit != nil && !d.credit.Supports(cc.Deposit.Currency) {
		creditsTotal.WithLabelValues(string(cc.Deposit.Currency), "unsupported").Inc()
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, cc.Deposit.Currency)
	}

	if d.seen(ctx, meta.ID, log) {
		return OutcomeAlreadyProcessed, nil
	}

	var outcome Outcome
	var credit *CreditResult
	err := d.runner.InTx(ctx, func(tx store.Tx) error {
		outcome, credit = "", nil

		claimed, err := tx.ClaimEvent(ctx, meta.ID, meta.Type, d.now().UTC())
		if err != nil {
			return fmt.Errorf("claim event: %w", err)
		}
		if !claimed {
			outcome = OutcomeAlreadyProcessed
			return nil
		}

		credit, err = d.apply(ctx, tx, ev, log)
		if err != nil {
			return err
		}
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return "", err
	}

	if credit != nil {
		result := "applied"
		if credit.AlreadyApplied {
			result = "already_applied"
		}
		creditsTotal.WithLabelValues(string(credit.Entry.Currency), result).Inc()
	}
	d.mark(ctx, meta.ID, log)
	return outcome, nil
}

func (d *Dispatcher) apply(ctx context.Context, tx store.Tx, ev domain.Event, log *zap.Logger) (*CreditResult, error) {
	switch e := ev.(type) {
	case domain.CheckoutCompleted:
		if _, err := d.reconciler.Apply(ctx, tx, e.PaymentID, domain.StatusCompleted); err != nil {
			return nil, err
		}
		if e.Deposit == nil {
			return nil, nil
		}
		res, err := d.credit.Apply(ctx, tx, e.PaymentID, *e.Deposit, e.Metadata)
		if err != nil {
			return nil, err
		}
		return &res, nil

	case domain.PaymentSucceeded:
		_, err := d.reconciler.Apply(ctx, tx, e.PaymentID, domain.StatusSucceeded)
		return nil, err

	case domain.PaymentFailed:
		if e.Reason != "" {
			log.Info("gateway reported payment failure", zap.String("reason", e.Reason))
		}
		_, err := d.reconciler.Apply(ctx, tx, e.PaymentID, domain.StatusFailed)
		return nil, err

	default:
		return nil, fmt.Errorf("no handler for event type %s", ev.Meta().Type)
	}
}

func (d *Dispatcher) seen(ctx context.Context, eventID string, log *zap.Logger) bool {
	if d.cache == nil {
		return false
	}
	ok, err := d.cache.Seen(ctx, eventID)
	if err != nil {
		log.Warn("processed-event cache lookup failed", zap.Error(err))
		return false
	}
	return ok
}

func (d *Dispatcher) mark(ctx context.Context, eventID string, log *zap.Logger) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Mark(ctx, eventID); err != nil {
		log.Warn("processed-event cache update failed", zap.Error(err))
	}
}
