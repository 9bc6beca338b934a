package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gemups/payhub/db"
	"github.com/gemups/payhub/db/models"
	"github.com/gemups/payhub/lib/logging"
	"github.com/gemups/payhub/lib/registry"
	"github.com/gemups/payhub/lib/service"
	"github.com/gemups/payhub/oracle"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type injectConfig struct {
	Amount    string `envconfig:"INJECT_AMOUNT" required:"true"`
	Ticker    string `envconfig:"INJECT_TICKER" default:"USDT"`
	Network   string `envconfig:"INJECT_NETWORK" default:"BSC"`
	ToAddress string `envconfig:"INJECT_TO_ADDRESS"`
	TxHash    string `envconfig:"INJECT_TX_HASH"`
}

// script to insert a synthetic ledger entry and reconcile it against the open
// invoices, for end-to-end checks on staging
func main() {

	c := &service.Config{}
	// Load configuration from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	logger := logging.Logger(c.LogFilePath)
	if err != nil {
		logger.Fatalf("Error loading environment variables: %v", err)
	}
	inject := &injectConfig{}
	if err = envconfig.Process("", inject); err != nil {
		logger.Fatalf("Error loading inject parameters: %v", err)
	}
	amount, err := decimal.NewFromString(inject.Amount)
	if err != nil {
		logger.Fatalf("Invalid INJECT_AMOUNT %s: %v", inject.Amount, err)
	}
	if inject.TxHash == "" {
		inject.TxHash = "synthetic-" + uuid.NewString()
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

	svc := &service.PayhubService{
		Config:           c,
		Store:            db.NewStore(dbConn),
		Oracle:           oracle.New(oracle.NewBinanceClient(c.OracleURL, c.OracleTimeout, logger), c.StableCurrencies),
		Registry:         tokenRegistry,
		Fulfiller:        service.LogFulfiller{Logger: logger},
		Logger:           logger,
		SettlementPubSub: service.NewPubsub(),
	}

	outcome, err := svc.IngestChainTransfer(context.Background(), models.ChainTransfer{
		TxHash:    inject.TxHash,
		Amount:    amount,
		Ticker:    inject.Ticker,
		Network:   inject.Network,
		ToAddress: inject.ToAddress,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		sentry.CaptureException(err)
		logger.Fatalf("Injection failed tx_hash:%s error:%v", inject.TxHash, err)
	}
	if !outcome.Accepted {
		logger.Warnf("Injected entry not matched tx_hash:%s reason:%v", inject.TxHash, outcome.Reason)
		return
	}
	logger.Infof("Injected entry matched tx_hash:%s already_settled:%v settlements:%d", inject.TxHash, outcome.AlreadySettled, len(outcome.Settlements))
}
