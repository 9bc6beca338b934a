package migrations

import (
	"context"

	"github.com/gemups/payhub/db/models"
	"github.com/uptrace/bun"
)

/*
This init reflects the latest model fields when run on a fresh db.
When columns are added or removed in later migrations use IfNotExists/IfExists,
otherwise a fresh database fails to migrate.
*/
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		tables := []interface{}{
			(*models.User)(nil),
			(*models.Product)(nil),
			(*models.Invoice)(nil),
			(*models.Transaction)(nil),
			(*models.InventoryItem)(nil),
			(*models.LedgerEntry)(nil),
			(*models.ReferralEntry)(nil),
			(*models.BalanceEntry)(nil),
			(*models.ScannerCursor)(nil),
		}
		for _, table := range tables {
			if _, err := db.NewCreateTable().Model(table).IfNotExists().Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		tables := []interface{}{
			(*models.ScannerCursor)(nil),
			(*models.BalanceEntry)(nil),
			(*models.ReferralEntry)(nil),
			(*models.LedgerEntry)(nil),
			(*models.InventoryItem)(nil),
			(*models.Transaction)(nil),
			(*models.Invoice)(nil),
			(*models.Product)(nil),
			(*models.User)(nil),
		}
		for _, table := range tables {
			if _, err := db.NewDropTable().Model(table).IfExists().Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}
