package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/lib/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorAssignsIncreasingAmounts(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)

	a := env.topUp(t, buyer.ID, "10")
	b := env.topUp(t, buyer.ID, "10")

	assertDecimal(t, "10.001", a.QuotedAmount.Decimal)
	assertDecimal(t, "10.002", b.QuotedAmount.Decimal)
	assert.True(t, a.Active)
	assert.Equal(t, testNow.Add(12*time.Hour), a.ExpiresAt)
	assert.Equal(t, "USDT", a.Currency)
	assert.Equal(t, "BSC", a.Network)
}

func TestAllocatorBucketsAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)

	env.topUp(t, buyer.ID, "10")
	other := env.topUp(t, buyer.ID, "20")
	assertDecimal(t, "20.001", other.QuotedAmount.Decimal)

	ton, err := env.svc.CreateInvoice(context.Background(), service.CreateInvoiceParams{
		PayerID:   buyer.ID,
		Kind:      common.InvoiceKindBalance,
		AmountUSD: decimal.NewFromInt(10),
		Currency:  "usdt",
		Network:   "ton",
	})
	require.NoError(t, err)
	assertDecimal(t, "10.001", ton.QuotedAmount.Decimal)
	assert.Equal(t, "TON", ton.Network)
}

func TestAllocatorConcurrentInvoicesAreDistinct(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)

	const count = 20
	amounts := make(chan decimal.Decimal, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			invoice, err := env.svc.CreateInvoice(context.Background(), service.CreateInvoiceParams{
				PayerID:   buyer.ID,
				Kind:      common.InvoiceKindBalance,
				AmountUSD: decimal.NewFromInt(10),
				Currency:  "USDT",
				Network:   "BSC",
			})
			if assert.NoError(t, err) {
				amounts <- invoice.QuotedAmount.Decimal
			}
		}()
	}
	wg.Wait()
	close(amounts)

	seen := map[string]bool{}
	for amount := range amounts {
		assert.False(t, seen[amount.String()], "amount %s allocated twice", amount)
		seen[amount.String()] = true
	}
	assert.Len(t, seen, count)
	assert.True(t, seen["10.001"])
	assert.True(t, seen["10.02"])
}

func TestExpiredInvoiceAmountIsReused(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)

	env.topUp(t, buyer.ID, "10")
	env.now = env.now.Add(13 * time.Hour)
	again := env.topUp(t, buyer.ID, "10")
	assertDecimal(t, "10.001", again.QuotedAmount.Decimal)
}

func TestPaidInvoiceLeavesBucket(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)

	paid := env.topUp(t, buyer.ID, "10")
	_, err := env.svc.Reconcile(context.Background(), common.ChannelCryptomus, cryptomusNotification(t, paid.ExternalID, "paid"))
	require.NoError(t, err)

	next := env.topUp(t, buyer.ID, "10")
	assertDecimal(t, "10.001", next.QuotedAmount.Decimal)
}

func TestTooManyOpenInvoices(t *testing.T) {
	env := newTestEnv(t)
	env.svc.Config.MaxOpenInvoices = 2
	buyer := env.user(0)

	env.topUp(t, buyer.ID, "10")
	env.topUp(t, buyer.ID, "15")
	_, err := env.svc.CreateInvoice(context.Background(), service.CreateInvoiceParams{
		PayerID:   buyer.ID,
		Kind:      common.InvoiceKindBalance,
		AmountUSD: decimal.NewFromInt(20),
	})
	assert.ErrorIs(t, err, service.ErrTooManyOpenInvoices)

	env.now = env.now.Add(13 * time.Hour)
	env.topUp(t, buyer.ID, "20")
}

func TestCreateInvoiceRejectsUnknownCurrency(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)

	_, err := env.svc.CreateInvoice(context.Background(), service.CreateInvoiceParams{
		PayerID:   buyer.ID,
		Kind:      common.InvoiceKindBalance,
		AmountUSD: decimal.NewFromInt(10),
		Currency:  "DOGE",
		Network:   "DOGE",
	})
	assert.ErrorIs(t, err, service.ErrUnsupportedCurrency)
}

func TestCreateInvoiceFailsWithoutPrice(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)

	_, err := env.svc.CreateInvoice(context.Background(), service.CreateInvoiceParams{
		PayerID:   buyer.ID,
		Kind:      common.InvoiceKindBalance,
		AmountUSD: decimal.NewFromInt(10),
		Currency:  "TON",
		Network:   "TON",
	})
	assert.ErrorIs(t, err, service.ErrOracleUnavailable)
}

func TestCreateInvoiceUnknownPayer(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.CreateInvoice(context.Background(), service.CreateInvoiceParams{
		PayerID:   4242,
		Kind:      common.InvoiceKindBalance,
		AmountUSD: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestPurchaseInvoiceCreatesOneTransactionPerItem(t *testing.T) {
	env := newTestEnv(t)
	seller := env.user(0)
	buyer := env.user(0)
	proxy := env.product(seller.ID, common.ProductKindProxy, "2.50", 0)
	other := env.product(seller.ID, common.ProductKindOther, "7", 10)

	invoice, err := env.svc.CreateInvoice(context.Background(), service.CreateInvoiceParams{
		PayerID: buyer.ID,
		Kind:    common.InvoiceKindPurchase,
		Items: []service.InvoiceItem{
			{ProductID: proxy.ID, Quantity: 4},
			{ProductID: other.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)
	assertDecimal(t, "17", invoice.AmountUSD)
	assert.False(t, invoice.Active)
	assert.False(t, invoice.QuotedAmount.Valid)
	require.Len(t, invoice.Transactions, 2)
	assertDecimal(t, "10", invoice.Transactions[0].Amount)
	assert.Equal(t, int64(4), invoice.Transactions[0].Quantity)
	assert.Equal(t, seller.ID, invoice.Transactions[1].PayeeID)
}

func TestSelectInvoiceCurrency(t *testing.T) {
	env := newTestEnv(t)
	seller := env.user(0)
	buyer := env.user(0)
	product := env.product(seller.ID, common.ProductKindOther, "100", 10)

	invoice, err := env.svc.CreateInvoice(context.Background(), service.CreateInvoiceParams{
		PayerID: buyer.ID,
		Kind:    common.InvoiceKindPurchase,
		Items:   []service.InvoiceItem{{ProductID: product.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	env.now = env.now.Add(time.Hour)
	quoted, err := env.svc.SelectInvoiceCurrency(context.Background(), invoice.ExternalID, "USDT", "BSC")
	require.NoError(t, err)
	assertDecimal(t, "100.001", quoted.QuotedAmount.Decimal)
	assert.True(t, quoted.Active)
	assert.Equal(t, env.now.Add(12*time.Hour), quoted.ExpiresAt)

	again, err := env.svc.SelectInvoiceCurrency(context.Background(), invoice.ExternalID, "usdt", "bsc")
	require.NoError(t, err)
	assertDecimal(t, "100.001", again.QuotedAmount.Decimal)

	stored, err := env.svc.GetInvoice(context.Background(), invoice.ExternalID)
	require.NoError(t, err)
	assertDecimal(t, "100.001", stored.QuotedAmount.Decimal)
	assert.Len(t, stored.Transactions, 1)
}

func TestSelectInvoiceCurrencyAfterPayment(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)
	invoice := env.topUp(t, buyer.ID, "10")
	_, err := env.svc.Reconcile(context.Background(), common.ChannelCryptomus, cryptomusNotification(t, invoice.ExternalID, "paid"))
	require.NoError(t, err)

	_, err = env.svc.SelectInvoiceCurrency(context.Background(), invoice.ExternalID, "USDT", "TON")
	assert.ErrorIs(t, err, service.ErrInvoiceNotSelectable)
}
