package service

import (
	"context"
	"errors"
	"time"

	"parkeaya/internal/config"
	"parkeaya/internal/lease"
	"parkeaya/internal/log"
	"parkeaya/internal/monitoring"
	"parkeaya/internal/repository"
)

const (
	JobExpireUnused  = "expire_unused"
	JobExpireOverdue = "expire_overdue"
	JobExpireTickets = "expire_tickets"
)

// JobService runs the periodic sweeps. Each sweep only lists candidates;
// every transition re-checks its source state under lock, so sweeps are
// idempotent and race benignly with user operations.
type JobService struct {
	store        repository.Reader
	reservations *ReservationService
	tickets      *TicketService
	locker       lease.Locker
	leaseTTL     time.Duration
	policy       config.Policy
	now          func() time.Time
}

func NewJobService(store repository.Reader, reservations *ReservationService, tickets *TicketService, locker lease.Locker, leaseTTL time.Duration, policy config.Policy) *JobService {
	if locker == nil {
		locker = lease.Noop{}
	}
	return &JobService{
		store:        store,
		reservations: reservations,
		tickets:      tickets,
		locker:       locker,
		leaseTTL:     leaseTTL,
		policy:       policy,
		now:          time.Now,
	}
}

// ExpireUnusedReservations cancels reservations nobody checked in to
// within the grace window after their entry time.
func (s *JobService) ExpireUnusedReservations(ctx context.Context) (int, error) {
	return s.sweep(ctx, JobExpireUnused, func(ctx context.Context) (int, error) {
		ids, err := s.store.ListUnusedReservationIDs(ctx, s.now().UTC().Add(-s.policy.UnusedGrace))
		if err != nil {
			return 0, err
		}
		return each(ctx, ids, s.reservations.ExpireUnused)
	})
}

// ExpireOverdueReservations completes reservations past their exit time.
func (s *JobService) ExpireOverdueReservations(ctx context.Context) (int, error) {
	return s.sweep(ctx, JobExpireOverdue, func(ctx context.Context) (int, error) {
		ids, err := s.store.ListOverdueReservationIDs(ctx, s.now().UTC())
		if err != nil {
			return 0, err
		}
		return each(ctx, ids, s.reservations.ExpireOverdue)
	})
}

// ExpireTickets expires valid tickets past their window.
func (s *JobService) ExpireTickets(ctx context.Context) (int, error) {
	return s.sweep(ctx, JobExpireTickets, func(ctx context.Context) (int, error) {
		ids, err := s.store.ListExpiredTicketIDs(ctx, s.now().UTC())
		if err != nil {
			return 0, err
		}
		return each(ctx, ids, s.tickets.ExpireTicket)
	})
}

// RunAll runs every sweep once.
func (s *JobService) RunAll(ctx context.Context) error {
	_, errUnused := s.ExpireUnusedReservations(ctx)
	_, errOverdue := s.ExpireOverdueReservations(ctx)
	_, errTickets := s.ExpireTickets(ctx)
	return errors.Join(errUnused, errOverdue, errTickets)
}

func (s *JobService) sweep(ctx context.Context, job string, run func(context.Context) (int, error)) (int, error) {
	release, err := s.locker.Acquire(ctx, job, s.leaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		log.Debug(ctx, "sweep skipped, another replica holds the lease", log.Job(job))
		return 0, nil
	}
	if err != nil {
		// Sweeps stay correct without the lease.
		log.Warn(ctx, "sweep lease unavailable", log.Job(job), log.Err(err))
		release = func(context.Context) error { return nil }
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn(ctx, "releasing sweep lease", log.Job(job), log.Err(err))
		}
	}()

	started := time.Now()
	n, err := run(ctx)
	monitoring.TrackSweep(job, n, err)
	if err != nil {
		log.Error(ctx, "sweep failed", log.Job(job), log.Count("transitioned", n), log.Err(err))
		return n, err
	}
	if n > 0 {
		log.Info(ctx, "sweep finished", log.Job(job), log.Count("transitioned", n), log.Duration("took", time.Since(started)))
	}
	return n, nil
}

// each applies fn to every id, continuing past failures.
func each[K any](ctx context.Context, ids []K, fn func(context.Context, K) (bool, error)) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		changed, err := fn(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			n++
		}
	}
	return n, errors.Join(errs...)
}
