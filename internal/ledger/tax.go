package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// TaxRate is a percentage applied to sales or purchases within its effective
// window.
type TaxRate struct {
	ID                    int64           `json:"id"`
	Name                  string          `json:"name"`
	Code                  string          `json:"code"`
	Rate                  decimal.Decimal `json:"rate"`
	Description           string          `json:"description,omitempty"`
	IsActive              bool            `json:"is_active"`
	ApplicableToSales     bool            `json:"applicable_to_sales"`
	ApplicableToPurchases bool            `json:"applicable_to_purchases"`
	EffectiveFrom         time.Time       `json:"effective_from"`
	EffectiveTo           *time.Time      `json:"effective_to,omitempty"`
	CreatedBy             int64           `json:"created_by,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

// IsCurrent reports whether today is on or after EffectiveFrom and not past
// EffectiveTo.
func (t TaxRate) IsCurrent(today time.Time) bool {
	d := dateOf(today)
	if t.EffectiveTo != nil && d.After(dateOf(*t.EffectiveTo)) {
		return false
	}
	return !d.Before(dateOf(t.EffectiveFrom))
}

// Apply returns the tax due on amount, rounded to cents.
func (t TaxRate) Apply(amount decimal.Decimal) decimal.Decimal {
	return round2(amount.Mul(t.Rate).Div(hundred))
}

// CreateTaxRateInput describes a new tax rate.
type CreateTaxRateInput struct {
	Name                  string
	Code                  string
	Rate                  decimal.Decimal
	Description           string
	ApplicableToSales     bool
	ApplicableToPurchases bool
	EffectiveFrom         time.Time
	EffectiveTo           *time.Time
	ActorID               int64
}

// Validate ensures the rate is a percentage with a coherent window.
func (in CreateTaxRateInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" || strings.TrimSpace(in.Name) == "" {
		return shared.Validation("ledger: tax rate code and name required")
	}
	if in.Rate.IsNegative() || in.Rate.GreaterThan(hundred) {
		return shared.Validation("ledger: tax rate must be between 0 and 100")
	}
	if in.EffectiveFrom.IsZero() {
		return shared.Validation("ledger: tax rate effective_from required")
	}
	if in.EffectiveTo != nil && in.EffectiveTo.Before(in.EffectiveFrom) {
		return shared.Validation("ledger: tax rate effective_to before effective_from")
	}
	return nil
}

// ErrDuplicateTaxCode indicates a tax code already in use.
var ErrDuplicateTaxCode = shared.Conflict("ledger: tax rate code already exists")

// CreateTaxRate stores an active tax rate.
func (s *Service) CreateTaxRate(ctx context.Context, in CreateTaxRateInput) (TaxRate, error) {
	if err := in.Validate(); err != nil {
		return TaxRate{}, err
	}
	rate := TaxRate{
		Name:                  strings.TrimSpace(in.Name),
		Code:                  strings.ToUpper(strings.TrimSpace(in.Code)),
		Rate:                  in.Rate,
		Description:           in.Description,
		IsActive:              true,
		ApplicableToSales:     in.ApplicableToSales,
		ApplicableToPurchases: in.ApplicableToPurchases,
		EffectiveFrom:         dateOf(in.EffectiveFrom),
		CreatedBy:             in.ActorID,
		CreatedAt:             s.now(),
	}
	if in.EffectiveTo != nil {
		to := dateOf(*in.EffectiveTo)
		rate.EffectiveTo = &to
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertTaxRate(ctx, rate)
		rate.ID = id
		return err
	})
	if err != nil {
		return TaxRate{}, err
	}
	s.record(ctx, in.ActorID, "tax_rate.create", "tax_rate", rate.ID, map[string]any{"code": rate.Code, "rate": rate.Rate.String()})
	return rate, nil
}

// ListTaxRates returns tax rates ordered by code. With currentOnly set only
// active rates in effect today are returned.
func (s *Service) ListTaxRates(ctx context.Context, currentOnly bool) ([]TaxRate, error) {
	rates, err := s.repo.ListTaxRates(ctx)
	if err != nil || !currentOnly {
		return rates, err
	}
	today := s.now()
	out := make([]TaxRate, 0, len(rates))
	for _, r := range rates {
		if r.IsActive && r.IsCurrent(today) {
			out = append(out, r)
		}
	}
	return out, nil
}
