package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/paysync/internal/domain"
)

// maxStatusAttempts bounds how often a lost compare-and-set is retried
// within one event before giving up with a transient error.
const maxStatusAttempts = 3

// PaymentRepository is the storage surface the reconciler needs.
type PaymentRepository interface {
	GetPayment(ctx context.Context, id string) (*domain.PaymentRecord, error)
	CompareAndSetStatus(ctx context.Context, id string, from, to domain.PaymentStatus, at time.Time) (bool, error)
	TouchPayment(ctx context.Context, id string, status domain.PaymentStatus, at time.Time) (bool, error)
}

// Transition describes what Apply did to a payment record.
type Transition struct {
	PaymentID string
	From      domain.PaymentStatus
	To        domain.PaymentStatus
	// Changed is set when the status column was written.
	Changed bool
	// Touched is set when only updated_at moved because the requested
	// status was older than the stored one.
	Touched bool
}

type Reconciler struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewReconciler(logger *zap.Logger, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{logger: logger, now: now}
}

// Apply moves payment paymentID towards target. Status never regresses:
// a stale target leaves the status alone and only advances updated_at, and
// a repeat of the current status writes nothing.
func (r *Reconciler) Apply(ctx context.Context, repo PaymentRepository, paymentID string, target domain.PaymentStatus) (Transition, error) {
	if !target.Valid() {
		return Transition{}, fmt.Errorf("invalid target status %q", target)
	}
	log := r.logger.With(zap.String("payment_id", paymentID), zap.String("target", string(target)))

	for attempt := 1; attempt <= maxStatusAttempts; attempt++ {
		rec, err := repo.GetPayment(ctx, paymentID)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownPayment) {
				log.Warn("reconcile for untracked payment")
			}
			return Transition{}, err
		}

		t := Transition{PaymentID: paymentID, From: rec.Status, To: rec.Status.Resolve(target)}
		at := r.now().UTC()

		var ok bool
		switch {
		case t.To != t.From:
			ok, err = repo.CompareAndSetStatus(ctx, paymentID, t.From, t.To, at)
			t.Changed = ok
		case target != t.From:
			ok, err = repo.TouchPayment(ctx, paymentID, t.From, at)
			t.Touched = ok
		default:
			log.Debug("payment already in target status", zap.String("status", string(t.From)))
			return t, nil
		}
		if err != nil {
			return Transition{}, fmt.Errorf("reconcile payment %s: %w", paymentID, err)
		}
		if !ok {
			log.Debug("payment status moved underneath reconcile, retrying", zap.Int("attempt", attempt))
			continue
		}

		if t.Changed {
			log.Info("payment status updated",
				zap.String("from", string(t.From)),
				zap.String("to", string(t.To)))
		} else {
			log.Info("stale status ignored",
				zap.String("status", string(t.From)))
		}
		return t, nil
	}

	return Transition{}, fmt.Errorf("%w: payment %s changed concurrently %d times",
		domain.ErrStorageTransient, paymentID, maxStatusAttempts)
}
