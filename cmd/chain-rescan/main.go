package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/db"
	"github.com/gemups/payhub/lib/logging"
	"github.com/gemups/payhub/lib/registry"
	"github.com/gemups/payhub/lib/service"
	"github.com/gemups/payhub/okx"
	"github.com/gemups/payhub/oracle"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// script to rescan the wallet history from RESCAN_SINCE (unix ms) and resubmit
// the unconsumed ledger entries
func main() {

	c := &service.Config{}
	// Load configuration from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	logger := logging.Logger(c.LogFilePath)
	since, err := loadSinceFromEnv()
	if err != nil {
		logger.Fatalf("Could not load rescan start from env %v", err)
	}
	err = envconfig.Process("", c)
	if err != nil {
		logger.Fatalf("Error loading environment variables: %v", err)
	}
	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{
			Dsn: c.SentryDSN,
		}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}
	defer dbConn.Close()

	tokenRegistry, err := registry.Load(c.TokenRegistryPath)
	if err != nil {
		logger.Fatalf("Error loading token registry: %v", err)
	}
	okxConfig, err := okx.LoadConfig()
	if err != nil {
		logger.Fatalf("Error loading OKX config: %v", err)
	}

	svc := &service.PayhubService{
		Config:           c,
		Store:            db.NewStore(dbConn),
		Oracle:           oracle.New(oracle.NewBinanceClient(c.OracleURL, c.OracleTimeout, logger), c.StableCurrencies),
		Registry:         tokenRegistry,
		Fulfiller:        service.LogFulfiller{Logger: logger},
		Logger:           logger,
		SettlementPubSub: service.NewPubsub(),
	}

	ctx := context.Background()
	if since > 0 {
		if err := svc.Store.SaveScannerCursor(ctx, common.ScannerCursorOKX, since); err != nil {
			logger.Fatalf("Error resetting scanner cursor: %v", err)
		}
		logger.Infof("Scanner cursor reset to %d", since)
	}

	scanner := svc.NewScanner(okx.NewClient(okxConfig, logger))
	stats, err := scanner.RunCycle(ctx)
	if err != nil {
		sentry.CaptureException(err)
		logger.Fatalf("Rescan failed: %v", err)
	}
	logger.Infof("Rescan fetched:%d inserted:%d duplicates:%d matched:%d unmatched:%d cursor:%d", stats.Fetched, stats.Inserted, stats.Duplicates, stats.Matched, stats.Unmatched, stats.Cursor)

	stats, err = scanner.Sweep(ctx)
	if err != nil {
		sentry.CaptureException(err)
		logger.Fatalf("Sweep failed: %v", err)
	}
	logger.Infof("Sweep matched:%d unmatched:%d", stats.Matched, stats.Unmatched)
}

func loadSinceFromEnv() (int64, error) {
	value := os.Getenv("RESCAN_SINCE")
	if value == "" {
		return 0, nil
	}
	return strconv.ParseInt(value, 10, 64)
}
