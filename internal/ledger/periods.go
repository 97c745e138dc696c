package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// FinancialPeriod is an accounting period. Once closed no transaction dated
// inside it can be applied.
type FinancialPeriod struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	StartDate time.Time  `json:"start_date"`
	EndDate   time.Time  `json:"end_date"`
	IsClosed  bool       `json:"is_closed"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	ClosedBy  *int64     `json:"closed_by,omitempty"`
	CreatedBy int64      `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Contains reports whether day falls inside the period, both ends inclusive.
func (p FinancialPeriod) Contains(day time.Time) bool {
	d := dateOf(day)
	return !d.Before(dateOf(p.StartDate)) && !d.After(dateOf(p.EndDate))
}

// IsCurrent reports whether today falls inside the period.
func (p FinancialPeriod) IsCurrent(today time.Time) bool { return p.Contains(today) }

// CreatePeriodInput describes a new accounting period.
type CreatePeriodInput struct {
	Name      string
	StartDate time.Time
	EndDate   time.Time
	ActorID   int64
}

// Validate ensures the period is named and its range is coherent.
func (in CreatePeriodInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return shared.Validation("ledger: period name required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return shared.Validation("ledger: period start and end date required")
	}
	if in.StartDate.After(in.EndDate) {
		return shared.Validation("ledger: period start date cannot be after end date")
	}
	return nil
}

var (
	// ErrPeriodOverlap indicates a period overlapping an existing range.
	ErrPeriodOverlap = shared.Conflict("ledger: period overlaps existing range")
	// ErrPeriodClosed indicates a write into a closed period or a second close.
	ErrPeriodClosed = shared.Conflict("ledger: financial period is closed")
	// ErrPeriodNotFound indicates a missing period.
	ErrPeriodNotFound = shared.NotFound("ledger: financial period not found")
)

// CreatePeriod stores an open period after rejecting overlaps.
func (s *Service) CreatePeriod(ctx context.Context, in CreatePeriodInput) (FinancialPeriod, error) {
	if err := in.Validate(); err != nil {
		return FinancialPeriod{}, err
	}
	period := FinancialPeriod{
		Name:      strings.TrimSpace(in.Name),
		StartDate: dateOf(in.StartDate),
		EndDate:   dateOf(in.EndDate),
		CreatedBy: in.ActorID,
		CreatedAt: s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		overlap, err := tx.PeriodOverlaps(ctx, period.StartDate, period.EndDate)
		if err != nil {
			return err
		}
		if overlap {
			return ErrPeriodOverlap
		}
		period.ID, err = tx.InsertPeriod(ctx, period)
		return err
	})
	if err != nil {
		return FinancialPeriod{}, err
	}
	s.record(ctx, in.ActorID, "period.create", "financial_period", period.ID, map[string]any{"name": period.Name})
	return period, nil
}

// ClosePeriod locks a period against further postings.
func (s *Service) ClosePeriod(ctx context.Context, periodID, actorID int64) (FinancialPeriod, error) {
	if actorID == 0 {
		return FinancialPeriod{}, shared.Validation("ledger: actor required")
	}
	var period FinancialPeriod
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if current.IsClosed {
			return ErrPeriodClosed
		}
		at := s.now()
		if err := tx.MarkPeriodClosed(ctx, periodID, actorID, at); err != nil {
			return err
		}
		current.IsClosed = true
		current.ClosedAt = &at
		current.ClosedBy = &actorID
		period = current
		return nil
	})
	if err != nil {
		return FinancialPeriod{}, err
	}
	s.events.IncDomainEvent("ledger", "period_closed")
	s.logger.InfoContext(ctx, "financial period closed")
	s.record(ctx, actorID, "period.close", "financial_period", period.ID, map[string]any{"name": period.Name})
	s.bump(ctx)
	return period, nil
}

// ListPeriods returns periods newest first.
func (s *Service) ListPeriods(ctx context.Context) ([]FinancialPeriod, error) {
	return s.repo.ListPeriods(ctx)
}

// GetPeriod loads one period.
func (s *Service) GetPeriod(ctx context.Context, id int64) (FinancialPeriod, error) {
	return s.repo.GetPeriod(ctx, id)
}

// CurrentPeriod returns the period containing today.
func (s *Service) CurrentPeriod(ctx context.Context) (FinancialPeriod, error) {
	periods, err := s.repo.ListPeriods(ctx)
	if err != nil {
		return FinancialPeriod{}, err
	}
	today := s.now()
	for _, p := range periods {
		if p.IsCurrent(today) {
			return p, nil
		}
	}
	return FinancialPeriod{}, ErrPeriodNotFound
}

// ensureOpen rejects a transaction dated inside a closed period.
func ensureOpen(ctx context.Context, tx TxRepository, day time.Time) error {
	period, found, err := tx.PeriodForDate(ctx, dateOf(day))
	if err != nil {
		return err
	}
	if found && period.IsClosed {
		return ErrPeriodClosed
	}
	return nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
