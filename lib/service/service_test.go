package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/db/models"
	"github.com/gemups/payhub/lib/logging"
	"github.com/gemups/payhub/lib/registry"
	"github.com/gemups/payhub/lib/security"
	"github.com/gemups/payhub/lib/service"
	"github.com/gemups/payhub/lib/service/memstore"
	"github.com/gemups/payhub/oracle"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/sjson"
)

const (
	cryptomusKey  = "cryptomus-test-key"
	cryptoKey     = "crypto-test-key"
	stripeSecret  = "whsec_test_secret"
	shopBSCWallet = "0x6C1e40f0124A229C6FBF128e95990Ef2a9181CE0"
)

var testNow = time.Date(2024, 10, 17, 12, 0, 0, 0, time.UTC)

type stubPrices map[string]decimal.Decimal

func (p stubPrices) Price(ctx context.Context, currency string) (decimal.Decimal, error) {
	price, ok := p[currency]
	if !ok {
		return decimal.Zero, oracle.ErrUnavailable
	}
	return price, nil
}

type recordingFulfiller struct {
	mu       sync.Mutex
	requests []models.FulfillmentRequest
}

func (f *recordingFulfiller) Provision(ctx context.Context, req models.FulfillmentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

type testEnv struct {
	svc       *service.PayhubService
	store     *memstore.Store
	fulfiller *recordingFulfiller
	now       time.Time
}

func testConfig() *service.Config {
	return &service.Config{
		InvoiceTTL:          12 * time.Hour,
		MaxOpenInvoices:     30,
		CryptomusApiKey:     cryptomusKey,
		StripeWebhookSecret: stripeSecret,
		CryptoSecretKey:     cryptoKey,
		ProductCommissions: service.CommissionMap{
			common.ProductKindProxy:   decimal.RequireFromString("0.1"),
			common.ProductKindAccount: decimal.RequireFromString("0.1"),
		},
		DefaultCommission: decimal.RequireFromString("0.1"),
		ReferralLevels: service.RateList{
			decimal.RequireFromString("0.05"),
			decimal.RequireFromString("0.03"),
			decimal.RequireFromString("0.01"),
		},
		ReferralCeiling:    decimal.NewFromInt(500),
		ReferralHold:       72 * time.Hour,
		ScannerInterval:    time.Second,
		FulfillmentTimeout: time.Second,
	}
}

func testRegistry(t *testing.T) *registry.Registry {
	reg, err := registry.New([]registry.Token{
		{
			Ticker:             "USDT",
			Network:            "BSC",
			TokenAddress:       "0x55d398326f99059ff775485246999027b3197955",
			Decimals:           18,
			OKXCoinID:          5004,
			ReceivingAddresses: []string{shopBSCWallet},
		},
		{
			Ticker:             "USDT",
			Network:            "TON",
			Decimals:           6,
			OKXCoinID:          28003,
			ReceivingAddresses: []string{"UQDl6AZrOp2olNXitSwkghubhRGmYQeK_BtfRfXoOHinuLEv"},
		},
		{
			Ticker:             "TON",
			Network:            "TON",
			Decimals:           9,
			ReceivingAddresses: []string{"UQDl6AZrOp2olNXitSwkghubhRGmYQeK_BtfRfXoOHinuLEv"},
		},
	})
	require.NoError(t, err)
	return reg
}

func newTestEnv(t *testing.T) *testEnv {
	env := &testEnv{
		store:     memstore.New(),
		fulfiller: &recordingFulfiller{},
		now:       testNow,
	}
	env.svc = &service.PayhubService{
		Config:           testConfig(),
		Store:            env.store,
		Oracle:           oracle.New(stubPrices{}, []string{"USDT"}),
		Registry:         testRegistry(t),
		Fulfiller:        env.fulfiller,
		Logger:           logging.Logger(""),
		SettlementPubSub: service.NewPubsub(),
	}
	env.svc.Clock = func() time.Time { return env.now }
	return env
}

func (env *testEnv) user(referrerID int64) models.User {
	return env.store.AddUser(models.User{Login: fmt.Sprintf("user-%d", time.Now().UnixNano()), ReferrerID: referrerID})
}

func (env *testEnv) product(sellerID int64, kind string, price string, stock int64) models.Product {
	return env.store.AddProduct(models.Product{
		SellerID: sellerID,
		Title:    "test " + kind,
		Category: kind,
		Kind:     kind,
		InStock:  stock,
		PriceUSD: decimal.RequireFromString(price),
	})
}

func (env *testEnv) topUp(t *testing.T, payerID int64, usd string) *models.Invoice {
	invoice, err := env.svc.CreateInvoice(context.Background(), service.CreateInvoiceParams{
		PayerID:   payerID,
		Kind:      common.InvoiceKindBalance,
		AmountUSD: decimal.RequireFromString(usd),
		Currency:  "USDT",
		Network:   "BSC",
	})
	require.NoError(t, err)
	return invoice
}

func (env *testEnv) purchase(t *testing.T, payerID int64, productID int64, quantity int64) *models.Invoice {
	invoice, err := env.svc.CreateInvoice(context.Background(), service.CreateInvoiceParams{
		PayerID:  payerID,
		Kind:     common.InvoiceKindPurchase,
		Items:    []service.InvoiceItem{{ProductID: productID, Quantity: quantity}},
		Currency: "USDT",
		Network:  "BSC",
	})
	require.NoError(t, err)
	return invoice
}

func (env *testEnv) balance(t *testing.T, userID int64, account string) decimal.Decimal {
	balance, err := env.store.UserBalance(context.Background(), userID, account)
	require.NoError(t, err)
	return balance
}

func (env *testEnv) referralTotal(t *testing.T, userID int64) decimal.Decimal {
	total, err := env.store.ReferralTotal(context.Background(), userID, common.ReferralEntryAccrual, time.Time{})
	require.NoError(t, err)
	return total
}

func signed(t *testing.T, body string, key string) []byte {
	sign, err := security.Sign([]byte(body), key)
	require.NoError(t, err)
	payload, err := sjson.SetBytes([]byte(body), security.SignField, sign)
	require.NoError(t, err)
	return payload
}

func cryptomusNotification(t *testing.T, ref, status string) service.Notification {
	body := fmt.Sprintf(`{"type":"payment","order_id":%q,"status":%q,"is_final":true}`, ref, status)
	return service.Notification{Payload: signed(t, body, cryptomusKey)}
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

func chainTransfer(hash, amount string) models.ChainTransfer {
	return models.ChainTransfer{
		TxHash:    hash,
		Amount:    decimal.RequireFromString(amount),
		Ticker:    "USDT",
		Network:   "BSC",
		Decimal:   18,
		ToAddress: shopBSCWallet,
		Timestamp: testNow.UnixMilli(),
	}
}
