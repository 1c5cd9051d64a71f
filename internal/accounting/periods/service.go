// Package periods implements the financial period calendar that gates postability.
package periods

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Service manages OPEN -> CLOSED -> LOCKED periods.
type Service struct {
	repo   accounting.RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs Service.
func NewService(repo accounting.RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// CurrentOpenPeriod returns the OPEN period covering at, preferring the given granularity.
func (s *Service) CurrentOpenPeriod(ctx context.Context, at time.Time, prefer accounting.Granularity) (accounting.Period, error) {
	var period accounting.Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		period, err = CurrentOpenPeriodTx(ctx, tx, at, prefer)
		return err
	})
	return period, err
}

// CurrentOpenPeriodTx selects among OPEN periods containing at: the preferred granularity
// first (MONTH when empty), then any granularity. Within a tier the period flagged
// current wins, then the narrowest window.
func CurrentOpenPeriodTx(ctx context.Context, tx accounting.TxRepository, at time.Time, prefer accounting.Granularity) (accounting.Period, error) {
	if prefer == "" {
		prefer = accounting.GranularityMonth
	}
	all, err := tx.ListPeriods(ctx)
	if err != nil {
		return accounting.Period{}, err
	}
	var preferred, fallback []accounting.Period
	for _, p := range all {
		if p.Status != accounting.PeriodStatusOpen || !p.Contains(at) {
			continue
		}
		if p.Granularity == prefer {
			preferred = append(preferred, p)
		} else {
			fallback = append(fallback, p)
		}
	}
	if p, ok := pick(preferred); ok {
		return p, nil
	}
	if p, ok := pick(fallback); ok {
		return p, nil
	}
	return accounting.Period{}, fmt.Errorf("%w on %s", accounting.ErrNoOpenPeriod, at.Format("2006-01-02"))
}

func pick(candidates []accounting.Period) (accounting.Period, bool) {
	if len(candidates) == 0 {
		return accounting.Period{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.IsCurrent != b.IsCurrent {
			return a.IsCurrent
		}
		return a.EndDate.Sub(a.StartDate) < b.EndDate.Sub(b.StartDate)
	})
	return candidates[0], true
}

// EnsurePostable refuses periods that are not OPEN or do not contain date.
func EnsurePostable(p accounting.Period, date time.Time) error {
	if p.Status != accounting.PeriodStatusOpen {
		return &accounting.PeriodError{PeriodID: p.ID, Code: p.Code, Status: p.Status, Reason: accounting.ErrPeriodNotOpen}
	}
	if !p.Contains(date) {
		return &accounting.PeriodError{PeriodID: p.ID, Code: p.Code, Status: p.Status, Reason: accounting.ErrDateOutOfRange}
	}
	return nil
}

// Create registers a new OPEN period. Periods of one granularity may not overlap.
func (s *Service) Create(ctx context.Context, in accounting.PeriodInput) (accounting.Period, error) {
	if in.Code == "" {
		return accounting.Period{}, accounting.Invalid("code", "required")
	}
	switch in.Granularity {
	case accounting.GranularityMonth, accounting.GranularityQuarter, accounting.GranularityYear:
	default:
		return accounting.Period{}, accounting.Invalid("granularity", "unknown granularity %q", in.Granularity)
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() || in.EndDate.Before(in.StartDate) {
		return accounting.Period{}, accounting.Invalid("end_date", "period %s must end on or after its start", in.Code)
	}
	in.StartDate = accounting.TruncateDay(in.StartDate)
	in.EndDate = accounting.TruncateDay(in.EndDate)
	var period accounting.Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		overlaps, err := tx.PeriodOverlaps(ctx, in.Granularity, in.StartDate, in.EndDate)
		if err != nil {
			return err
		}
		if overlaps {
			return fmt.Errorf("%w: %w: %s %s..%s", accounting.ErrValidation, accounting.ErrPeriodOverlap,
				in.Granularity, in.StartDate.Format("2006-01-02"), in.EndDate.Format("2006-01-02"))
		}
		period, err = tx.InsertPeriod(ctx, in)
		return err
	})
	return period, err
}

// Close moves an OPEN period to CLOSED. The period row lock waits for in-flight postings.
func (s *Service) Close(ctx context.Context, periodID, actorID int64) (accounting.Period, error) {
	return s.transition(ctx, periodID, actorID, accounting.PeriodStatusOpen, accounting.PeriodStatusClosed)
}

// Lock moves a CLOSED period to LOCKED.
func (s *Service) Lock(ctx context.Context, periodID, actorID int64) (accounting.Period, error) {
	return s.transition(ctx, periodID, actorID, accounting.PeriodStatusClosed, accounting.PeriodStatusLocked)
}

func (s *Service) transition(ctx context.Context, periodID, actorID int64, from, to accounting.PeriodStatus) (accounting.Period, error) {
	var period accounting.Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		p, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if p.Status != from {
			return &accounting.PeriodError{PeriodID: p.ID, Code: p.Code, Status: p.Status,
				Reason: fmt.Errorf("%w: cannot move to %s", accounting.ErrIllegalTransition, to)}
		}
		now := s.now()
		if err := tx.UpdatePeriodStatus(ctx, p.ID, to, actorID, now); err != nil {
			return err
		}
		period, err = tx.GetPeriod(ctx, p.ID)
		return err
	})
	if err != nil {
		return accounting.Period{}, err
	}
	s.logger.Info("period status changed", slog.Int64("period_id", period.ID), slog.String("code", period.Code), slog.String("status", string(to)))
	return period, nil
}

// Get returns a period by id.
func (s *Service) Get(ctx context.Context, id int64) (accounting.Period, error) {
	var period accounting.Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		period, err = tx.GetPeriod(ctx, id)
		return err
	})
	return period, err
}

// List returns every period ordered by start date.
func (s *Service) List(ctx context.Context) ([]accounting.Period, error) {
	var out []accounting.Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		out, err = tx.ListPeriods(ctx)
		return err
	})
	return out, err
}
