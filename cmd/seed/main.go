// Package main provides a CLI tool for preparing the database: it applies the
// schema and provisions the default number sequences for each tenant.
//
// Usage: seed [tenant...]. Without arguments WORKER_TENANTS is used.
package main

import (
	"context"
	"fmt"
	"os"

	"bizledger/internal/app"
	"bizledger/internal/config"
	"bizledger/internal/core/apperror"
	"bizledger/internal/core/types"
	"bizledger/internal/domain/registers/stock"
	"bizledger/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load config", "error", err)
	}

	ctx := context.Background()

	ledger, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to assemble ledger", "error", err)
	}
	defer ledger.Close()

	if err := ledger.Migrate(ctx); err != nil {
		log.Fatalw("failed to apply migrations", "error", err)
	}
	log.Info("schema is up to date")

	tenants := os.Args[1:]
	if len(tenants) == 0 {
		tenants = cfg.Worker.Tenants
	}
	if len(tenants) == 0 {
		log.Warn("no tenants given; nothing to provision")
		return
	}

	for _, tenantID := range tenants {
		created, err := ledger.Numbering.ProvisionDefaults(ctx, tenantID)
		if err != nil {
			log.Fatalw("failed to provision sequences", "tenant_id", tenantID, "error", err)
		}
		log.Infow("sequences provisioned", "tenant_id", tenantID, "created", len(created))

		if os.Getenv("SEED_DEMO_DATA") == "true" {
			seedDemoItems(ctx, ledger, tenantID, log)
		}
	}

	log.Info("seeding completed successfully")
}

func seedDemoItems(ctx context.Context, ledger *app.App, tenantID string, log *logger.Logger) {
	items := []stock.NewItem{
		{SKU: "SCR-M8", Name: "Schraube M8x40", Unit: "Stk", InitialStock: types.NewQuantity(500), MinStock: types.NewQuantity(100),
			PurchasePrice: types.NewMoney(0.08), SellingPrice: types.NewMoney(0.15)},
		{SKU: "NUT-M8", Name: "Mutter M8", Unit: "Stk", InitialStock: types.NewQuantity(800), MinStock: types.NewQuantity(100),
			PurchasePrice: types.NewMoney(0.03), SellingPrice: types.NewMoney(0.06)},
		{SKU: "DRL-18V", Name: "Akkuschrauber 18V", Unit: "Stk", InitialStock: types.NewQuantity(12), MinStock: types.NewQuantity(3),
			PurchasePrice: types.NewMoney(79), SellingPrice: types.NewMoney(129)},
		{SKU: "CBL-NYM", Name: "Mantelleitung NYM-J 3x1,5", Unit: "m", InitialStock: types.NewQuantity(250), MinStock: types.NewQuantity(50),
			PurchasePrice: types.NewMoney(0.62), SellingPrice: types.NewMoney(1.1)},
	}

	for _, in := range items {
		item, err := ledger.Stock.CreateItem(ctx, tenantID, in)
		if apperror.HasCode(err, apperror.CodeConflict) {
			log.Infow("demo item already exists", "tenant_id", tenantID, "sku", in.SKU)
			continue
		}
		if err != nil {
			log.Warnw("failed to seed demo item", "tenant_id", tenantID, "sku", in.SKU, "error", err)
			continue
		}
		log.Infow("demo item created", "tenant_id", tenantID, "sku", in.SKU, "item_id", item.ID)
	}
}
