package quota

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ResetHook observes each scheduled run
type ResetHook func(count int, err error)

// Scheduler runs the monthly reset at midnight on the first day of each
// month in the ledger's location
type Scheduler struct {
	ledger *Ledger
	logger *logrus.Logger
	hook   ResetHook
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
}

// NewScheduler creates a scheduler for ledger. hook may be nil.
func NewScheduler(ledger *Ledger, logger *logrus.Logger, hook ResetHook) *Scheduler {
	return &Scheduler{
		ledger: ledger,
		logger: logger,
		hook:   hook,
		now:    time.Now,
		after:  time.After,
	}
}

// RunOnce resets every due account now
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	count, err := s.ledger.ResetAllDueAccounts(ctx, s.now())
	if s.hook != nil {
		s.hook(count, err)
	}
	return count, err
}

// Run blocks until ctx is done, running the reset at each month boundary.
// A failed run is logged and retried at the next boundary.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := NextResetDate(s.now(), s.ledger.Location())
		wait := next.Sub(s.now())

		s.logger.WithField("next_run", next.Format(time.RFC3339)).Info("Quota reset scheduled")

		select {
		case <-ctx.Done():
			return
		case <-s.after(wait):
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.WithError(err).Error("Scheduled quota reset failed")
			}
		}
	}
}
