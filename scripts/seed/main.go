package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-mfg/internal/app"
	"github.com/odyssey-erp/odyssey-mfg/internal/inventory"
	"github.com/odyssey-erp/odyssey-mfg/internal/ledger"
	"github.com/odyssey-erp/odyssey-mfg/internal/manufacturing"
	"github.com/odyssey-erp/odyssey-mfg/internal/platform/db"
	"github.com/odyssey-erp/odyssey-mfg/internal/procurement"
	"github.com/odyssey-erp/odyssey-mfg/internal/sales"
	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
	"github.com/odyssey-erp/odyssey-mfg/internal/users"
)

// seed populates an empty database with a small shoe workshop: staff, a chart
// of accounts, materials, one BOM, a vendor and a customer.
func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig(".env")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)

	if err := db.MigrateUp(cfg.PGDSN); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	svc := app.NewServices(cfg, pool, nil, nil, logger)

	fmt.Println("→ Seeding users...")
	if err := seedUsers(ctx, svc.Users); err != nil {
		if errors.Is(err, shared.ErrStateConflict) {
			logger.Info("database already seeded", slog.Any("error", err))
			return
		}
		log.Fatalf("seed users: %v", err)
	}

	fmt.Println("→ Seeding chart of accounts...")
	if err := seedAccounts(ctx, svc.Ledger); err != nil {
		log.Fatalf("seed accounts: %v", err)
	}

	fmt.Println("→ Seeding materials...")
	raw, product, err := seedMaterials(ctx, svc.Inventory)
	if err != nil {
		log.Fatalf("seed materials: %v", err)
	}

	fmt.Println("→ Seeding bill of materials...")
	if err := seedBOM(ctx, svc.Manufacturing, product, raw); err != nil {
		log.Fatalf("seed bom: %v", err)
	}

	fmt.Println("→ Seeding procurement...")
	if err := seedProcurement(ctx, svc.Procurement, raw); err != nil {
		log.Fatalf("seed procurement: %v", err)
	}

	fmt.Println("→ Seeding sales...")
	if err := seedSales(ctx, svc.Sales, product); err != nil {
		log.Fatalf("seed sales: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedUsers(ctx context.Context, svc *users.Service) error {
	staff := []users.CreateUserInput{
		{Email: "admin@odyssey.local", Name: "Admin", Password: "admin12345", Role: users.RoleAdmin},
		{Email: "production@odyssey.local", Name: "Production Lead", Password: "production123", Role: users.RoleProductionManager, Department: "production"},
		{Email: "finance@odyssey.local", Name: "Finance Lead", Password: "finance12345", Role: users.RoleFinanceManager, Department: "finance"},
	}
	for _, u := range staff {
		if _, err := svc.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("%s: %w", u.Email, err)
		}
	}
	return nil
}

func seedAccounts(ctx context.Context, svc *ledger.Service) error {
	accounts := []ledger.CreateAccountInput{
		{Code: "1000", Name: "Cash", Type: ledger.AccountTypeAsset},
		{Code: "1100", Name: "Accounts Receivable", Type: ledger.AccountTypeAsset},
		{Code: "1200", Name: "Inventory", Type: ledger.AccountTypeAsset},
		{Code: "2000", Name: "Accounts Payable", Type: ledger.AccountTypeLiability},
		{Code: "3000", Name: "Owner Equity", Type: ledger.AccountTypeEquity},
		{Code: "4000", Name: "Sales Revenue", Type: ledger.AccountTypeRevenue},
		{Code: "5000", Name: "Cost of Goods Sold", Type: ledger.AccountTypeExpense},
	}
	for _, a := range accounts {
		if _, err := svc.CreateAccount(ctx, a); err != nil {
			return fmt.Errorf("%s: %w", a.Code, err)
		}
	}
	return nil
}

func seedMaterials(ctx context.Context, svc *inventory.Service) ([]inventory.Material, inventory.Material, error) {
	rawInputs := []inventory.CreateRawMaterialInput{
		{Code: "LTH-BLK", Name: "Black leather", Unit: inventory.UnitSheet, MinimumStock: decimal.NewFromInt(20), MaximumStock: decimal.NewFromInt(200), UnitPrice: decimal.NewFromInt(45)},
		{Code: "SOLE-RBR", Name: "Rubber sole", Unit: inventory.UnitPcs, MinimumStock: decimal.NewFromInt(50), MaximumStock: decimal.NewFromInt(500), UnitPrice: decimal.NewFromInt(12)},
		{Code: "GLUE-PU", Name: "PU glue", Unit: inventory.UnitKg, MinimumStock: decimal.NewFromInt(5), MaximumStock: decimal.NewFromInt(40), UnitPrice: decimal.RequireFromString("8.50")},
	}
	var raw []inventory.Material
	for _, in := range rawInputs {
		m, err := svc.CreateRawMaterial(ctx, in)
		if err != nil {
			return nil, inventory.Material{}, fmt.Errorf("%s: %w", in.Code, err)
		}
		raw = append(raw, m)
	}
	product, err := svc.CreateFinishedProduct(ctx, inventory.CreateFinishedProductInput{
		Code:         "OXF-42-BLK",
		Name:         "Oxford 42 black",
		Size:         42,
		Color:        "black",
		MinimumStock: decimal.NewFromInt(10),
		MaximumStock: decimal.NewFromInt(120),
		UnitPrice:    decimal.NewFromInt(350),
	})
	if err != nil {
		return nil, inventory.Material{}, err
	}
	return raw, product, nil
}

func seedBOM(ctx context.Context, svc *manufacturing.Service, product inventory.Material, raw []inventory.Material) error {
	bom, err := svc.SaveBOM(ctx, manufacturing.SaveBOMInput{
		ProductID:    product.Ref.ID(),
		Version:      "1.0",
		LaborCost:    decimal.NewFromInt(40),
		OverheadCost: decimal.NewFromInt(15),
	})
	if err != nil {
		return err
	}
	quantities := []decimal.Decimal{decimal.RequireFromString("0.5"), decimal.NewFromInt(2), decimal.RequireFromString("0.1")}
	for i, m := range raw {
		if _, err := svc.SaveBOMItem(ctx, manufacturing.SaveBOMItemInput{
			BOMID:      bom.ID,
			MaterialID: m.Ref.ID(),
			Quantity:   quantities[i],
		}); err != nil {
			return fmt.Errorf("%s: %w", m.Code, err)
		}
	}
	_, err = svc.RecalculateBOMTotal(ctx, bom.ID)
	return err
}

func seedProcurement(ctx context.Context, svc *procurement.Service, raw []inventory.Material) error {
	vendor, err := svc.CreateVendor(ctx, procurement.CreateVendorInput{
		Code:          "V-TANNERY",
		Name:          "Garut Tannery",
		QualityRating: decimal.NewFromInt(4),
	})
	if err != nil {
		return err
	}
	materialID := raw[0].Ref.ID()
	_, err = svc.CreatePurchaseOrder(ctx, procurement.CreatePOInput{
		VendorID:  vendor.ID,
		OrderDate: time.Now().UTC(),
		Notes:     "opening stock",
		Lines: []procurement.POLineInput{{
			MaterialName: raw[0].Name,
			MaterialID:   &materialID,
			Quantity:     decimal.NewFromInt(100),
			UnitPrice:    decimal.NewFromInt(45),
		}},
	})
	return err
}

func seedSales(ctx context.Context, svc *sales.Service, product inventory.Material) error {
	if _, err := svc.CreateCustomer(ctx, sales.CreateCustomerInput{
		Name:        "Bandung Footwear Store",
		Email:       "orders@bandungfootwear.local",
		CreditLimit: decimal.NewFromInt(25000),
	}); err != nil {
		return err
	}
	_, err := svc.SetPricing(ctx, sales.ProductPricing{
		ProductID:          product.Ref.ID(),
		BasePrice:          decimal.NewFromInt(350),
		MaxDiscountPercent: decimal.NewFromInt(20),
	})
	return err
}
