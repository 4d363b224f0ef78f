// Package sweeper expires payment attempts the shopper walked away from.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/ashendes/storefront-checkout/internal/metrics"
	"github.com/ashendes/storefront-checkout/internal/payment"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const msgAbandoned = "Payment was not completed in time. Please try again."

// PendingLister lists orders whose attempt has not moved since before
type PendingLister interface {
	PendingAttempts(ctx context.Context, before time.Time) ([]string, error)
}

// Abandoner fails an attempt still waiting on the shopper
type Abandoner interface {
	Abandon(ctx context.Context, orderID, reason string) (payment.Event, error)
}

type Sweeper struct {
	pending      PendingLister
	payments     Abandoner
	abandonAfter time.Duration
	scheduler    *cron.Cron
	now          func() time.Time
}

func New(pending PendingLister, payments Abandoner, abandonAfter time.Duration) *Sweeper {
	return &Sweeper{
		pending:      pending,
		payments:     payments,
		abandonAfter: abandonAfter,
		scheduler:    cron.New(cron.WithSeconds()),
		now:          time.Now,
	}
}

// Start schedules the sweep with a six-field cron spec.
func (s *Sweeper) Start(spec string) error {
	if _, err := s.scheduler.AddFunc(spec, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return err
	}
	s.scheduler.Start()
	log.WithFields(log.Fields{
		"spec":          spec,
		"abandon_after": s.abandonAfter.String(),
	}).Info("Attempt sweeper started")
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.scheduler.Stop().Done()
}

// Sweep fails every stale attempt and returns how many it expired. Attempts
// that finished in the meantime are skipped; ones the provider already
// charged are finished as successes and not counted.
func (s *Sweeper) Sweep(ctx context.Context) int {
	ids, err := s.pending.PendingAttempts(ctx, s.now().Add(-s.abandonAfter))
	if err != nil {
		log.Error("Sweeper: failed to list pending attempts: ", err)
		return 0
	}

	expired := 0
	for _, id := range ids {
		ev, err := s.payments.Abandon(ctx, id, msgAbandoned)
		var perr *payment.ProviderError
		switch {
		case err == nil && ev.State == payment.StateSucceeded:
			log.WithField("order_id", id).Info("Paid payment attempt finished by sweeper")
		case err == nil, errors.As(err, &perr):
			expired++
			metrics.AbandonedAttempts.Inc()
			log.WithField("order_id", id).Info("Payment attempt abandoned")
		case errors.Is(err, payment.ErrAttemptFinished),
			errors.Is(err, payment.ErrIllegalTransition),
			errors.Is(err, payment.ErrAttemptNotFound):
		default:
			log.WithField("order_id", id).Error("Sweeper: failed to abandon attempt: ", err)
		}
	}
	return expired
}
