// Package dashboard aggregates headline figures across modules.
package dashboard

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-mfg/internal/inventory"
	"github.com/odyssey-erp/odyssey-mfg/internal/ledger"
	"github.com/odyssey-erp/odyssey-mfg/internal/manufacturing"
	"github.com/odyssey-erp/odyssey-mfg/internal/sales"
)

const requestTimeout = 5 * time.Second

// LedgerReports yields financial statements.
type LedgerReports interface {
	IncomeStatement(ctx context.Context) (ledger.IncomeStatement, error)
	BalanceSheet(ctx context.Context) (ledger.BalanceSheet, error)
}

// StockReports yields stock alerts and valuation.
type StockReports interface {
	Alerts(ctx context.Context) ([]inventory.Alert, error)
	Valuation(ctx context.Context) (inventory.Valuation, error)
}

// Receivables lists invoices awaiting payment.
type Receivables interface {
	ListOpenInvoices(ctx context.Context) ([]sales.Invoice, error)
}

// Production lists production orders.
type Production interface {
	ListOrders(ctx context.Context, status manufacturing.OrderStatus) ([]manufacturing.ProductionOrder, error)
	OverdueOrders(ctx context.Context) ([]manufacturing.ProductionOrder, error)
}

// Summary is the cross-module snapshot.
type Summary struct {
	GeneratedAt       time.Time                       `json:"generated_at"`
	IncomeStatement   ledger.IncomeStatement          `json:"income_statement"`
	BalanceSheet      ledger.BalanceSheet             `json:"balance_sheet"`
	StockAlerts       int                             `json:"stock_alerts"`
	Valuation         inventory.Valuation             `json:"inventory_valuation"`
	OpenInvoices      int                             `json:"open_invoices"`
	ReceivableBalance decimal.Decimal                 `json:"receivable_balance"`
	InProgressOrders  int                             `json:"in_progress_orders"`
	OverdueOrders     int                             `json:"overdue_orders"`
	Overdue           []manufacturing.ProductionOrder `json:"overdue"`
}

// Service builds dashboard summaries.
type Service struct {
	ledger     LedgerReports
	stock      StockReports
	sales      Receivables
	production Production
	now        func() time.Time
}

// NewService wires the module read paths.
func NewService(l LedgerReports, st StockReports, sa Receivables, p Production) *Service {
	return &Service{ledger: l, stock: st, sales: sa, production: p, now: time.Now}
}

// Summary gathers every figure concurrently and fails if any source fails.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	out := Summary{GeneratedAt: s.now()}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		is, err := s.ledger.IncomeStatement(ctx)
		if err != nil {
			return err
		}
		out.IncomeStatement = is
		return nil
	})
	g.Go(func() error {
		bs, err := s.ledger.BalanceSheet(ctx)
		if err != nil {
			return err
		}
		out.BalanceSheet = bs
		return nil
	})
	g.Go(func() error {
		alerts, err := s.stock.Alerts(ctx)
		if err != nil {
			return err
		}
		out.StockAlerts = len(alerts)
		return nil
	})
	g.Go(func() error {
		v, err := s.stock.Valuation(ctx)
		if err != nil {
			return err
		}
		out.Valuation = v
		return nil
	})
	g.Go(func() error {
		invoices, err := s.sales.ListOpenInvoices(ctx)
		if err != nil {
			return err
		}
		balance := decimal.Zero
		for _, inv := range invoices {
			balance = balance.Add(inv.BalanceDue())
		}
		out.OpenInvoices = len(invoices)
		out.ReceivableBalance = balance
		return nil
	})
	g.Go(func() error {
		orders, err := s.production.ListOrders(ctx, manufacturing.OrderInProgress)
		if err != nil {
			return err
		}
		out.InProgressOrders = len(orders)
		return nil
	})
	g.Go(func() error {
		orders, err := s.production.OverdueOrders(ctx)
		if err != nil {
			return err
		}
		out.OverdueOrders = len(orders)
		out.Overdue = orders
		return nil
	})

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return out, nil
}
