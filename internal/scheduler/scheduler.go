// Package scheduler drives the periodic billing jobs: the previous-month
// cycle sweep and overdue marking.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	billingdomain "github.com/baroworks/taxbill/internal/billing/domain"
	"github.com/baroworks/taxbill/internal/clock"
	usagedomain "github.com/baroworks/taxbill/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler dependencies missing")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	BillingSvc billingdomain.Service
	Config     Config `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	billingSvc billingdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.BillingSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler"),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		billingSvc: p.BillingSvc,
	}, nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one tick of every job. Job failures are logged and do
// not stop the remaining jobs.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.runJob(ctx, "billing_cycle_sweep", s.SweepJob)
	s.runJob(ctx, "mark_overdue", s.MarkOverdueJob)
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	start := time.Now()

	err := func() (jobErr error) {
		defer func() {
			if r := recover(); r != nil {
				jobErr = fmt.Errorf("job panicked: %v", r)
			}
		}()
		return fn(ctx)
	}()

	if err != nil {
		log.Error("job failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	log.Debug("job completed", zap.Duration("elapsed", time.Since(start)))
}

// SweepJob seals the previous calendar month for every user that still has
// unbilled usage in it. GenerateOrGet is idempotent, so re-running a sweep
// after a partial failure only fills in the missing cycles.
func (s *Scheduler) SweepJob(ctx context.Context) error {
	now := s.clock.Now(ctx).UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	yearMonth := usagedomain.FormatYearMonth(monthStart.AddDate(0, -1, 0))

	users, err := s.billingSvc.UsersWithUnbilledUsage(ctx, yearMonth)
	if err != nil {
		return err
	}

	var jobErr error
	sealed := 0
	for _, userID := range users {
		if _, err := s.billingSvc.GenerateOrGet(ctx, userID, yearMonth); err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("user %s: %w", userID, err))
			continue
		}
		sealed++
	}

	if sealed > 0 {
		s.log.Info("billing cycle sweep completed",
			zap.String("year_month", yearMonth),
			zap.Int("sealed", sealed),
			zap.Int("candidates", len(users)),
		)
	}
	return jobErr
}

func (s *Scheduler) MarkOverdueJob(ctx context.Context) error {
	_, err := s.billingSvc.MarkOverdue(ctx, s.clock.Now(ctx).UTC())
	return err
}
