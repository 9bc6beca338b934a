package integration_tests

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gemups/payhub/db"
	"github.com/gemups/payhub/db/migrations"
	"github.com/gemups/payhub/db/models"
	"github.com/gemups/payhub/lib/logging"
	"github.com/gemups/payhub/lib/registry"
	"github.com/gemups/payhub/lib/service"
	"github.com/gemups/payhub/oracle"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

const (
	cryptomusKey  = "cryptomus-test-key"
	shopBSCWallet = "0x6C1e40f0124A229C6FBF128e95990Ef2a9181CE0"
)

type stablePrices struct{}

func (stablePrices) Price(ctx context.Context, currency string) (decimal.Decimal, error) {
	return decimal.Zero, oracle.ErrUnavailable
}

// PayhubTestServiceInit connects to the database in DATABASE_URI and migrates it.
// It returns a nil service when DATABASE_URI is not set.
func PayhubTestServiceInit() (svc *service.PayhubService, dbConn *bun.DB, err error) {
	dbUri, ok := os.LookupEnv("DATABASE_URI")
	if !ok || dbUri == "" {
		return nil, nil, nil
	}
	c := &service.Config{
		DatabaseUri:             dbUri,
		DatabaseMaxConns:        10,
		DatabaseMaxIdleConns:    2,
		DatabaseConnMaxLifetime: 10,
		InvoiceTTL:              12 * time.Hour,
		MaxOpenInvoices:         100,
		CryptomusApiKey:         cryptomusKey,
		DefaultCommission:       decimal.RequireFromString("0.1"),
		ReferralLevels: service.RateList{
			decimal.RequireFromString("0.05"),
			decimal.RequireFromString("0.03"),
			decimal.RequireFromString("0.01"),
		},
		ReferralCeiling:    decimal.NewFromInt(500),
		ReferralHold:       72 * time.Hour,
		FulfillmentTimeout: time.Second,
	}

	dbConn, err = db.Open(c)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx := context.Background()
	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	err = migrator.Init(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init migrations: %w", err)
	}
	_, err = migrator.Migrate(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to migrate: %w", err)
	}

	reg, err := registry.New([]registry.Token{
		{
			Ticker:             "USDT",
			Network:            "BSC",
			TokenAddress:       "0x55d398326f99059ff775485246999027b3197955",
			Decimals:           18,
			OKXCoinID:          5004,
			ReceivingAddresses: []string{shopBSCWallet},
		},
	})
	if err != nil {
		return nil, nil, err
	}

	logger := logging.Logger(c.LogFilePath)
	svc = &service.PayhubService{
		Config:           c,
		Store:            db.NewStore(dbConn),
		Oracle:           oracle.New(stablePrices{}, []string{"USDT"}),
		Registry:         reg,
		Fulfiller:        service.LogFulfiller{Logger: logger},
		Logger:           logger,
		SettlementPubSub: service.NewPubsub(),
	}
	return svc, dbConn, nil
}

func clearTables(ctx context.Context, dbConn *bun.DB) error {
	_, err := dbConn.ExecContext(ctx, "TRUNCATE users, products, invoices, transactions, inventory_items, ledger_entries, referral_entries, balance_entries, scanner_cursors RESTART IDENTITY CASCADE")
	return err
}

func createUser(ctx context.Context, dbConn *bun.DB, login string, referrerID int64) (*models.User, error) {
	user := &models.User{Login: login, ReferrerID: referrerID}
	_, err := dbConn.NewInsert().Model(user).Exec(ctx)
	return user, err
}

func createProduct(ctx context.Context, dbConn *bun.DB, sellerID int64, kind, price string, stock int64) (*models.Product, error) {
	product := &models.Product{
		SellerID: sellerID,
		Title:    "test " + kind,
		Category: kind,
		Kind:     kind,
		InStock:  stock,
		PriceUSD: decimal.RequireFromString(price),
	}
	_, err := dbConn.NewInsert().Model(product).Exec(ctx)
	return product, err
}
