package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/lib/service"
	"github.com/gemups/payhub/okx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	transfers []okx.Transfer
	err       error
	windows   [][2]int64
	onCall    func()
}

func (h *fakeHistory) History(ctx context.Context, since, until int64) ([]okx.Transfer, error) {
	h.windows = append(h.windows, [2]int64{since, until})
	if h.onCall != nil {
		h.onCall()
	}
	if h.err != nil {
		return nil, h.err
	}
	return h.transfers, nil
}

func bscDeposit(hash, amount string, txTime int64) okx.Transfer {
	return okx.Transfer{
		TxHash:    hash,
		Address:   strings.ToLower(shopBSCWallet),
		From:      "0x000000000000000000000000000000000000dead",
		To:        strings.ToLower(shopBSCWallet),
		CoinID:    5004,
		Symbol:    "USDT",
		Direction: okx.DirectionDeposit,
		Amount:    decimal.RequireFromString(amount),
		Decimals:  18,
		TxTime:    txTime,
	}
}

func TestScannerMatchesDepositAndAdvancesCursor(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)
	invoice := env.topUp(t, buyer.ID, "10")
	other := env.topUp(t, buyer.ID, "10")

	txTime := testNow.UnixMilli()
	history := &fakeHistory{transfers: []okx.Transfer{bscDeposit("0xabc", "10.001", txTime)}}
	scanner := env.svc.NewScanner(history)

	stats, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 1, stats.Matched)
	assert.Equal(t, txTime+1, stats.Cursor)
	assert.Equal(t, [2]int64{0, txTime}, history.windows[0])

	cursor, err := env.store.GetScannerCursor(context.Background(), common.ScannerCursorOKX)
	require.NoError(t, err)
	assert.Equal(t, txTime+1, cursor)

	assertDecimal(t, "10", env.balance(t, buyer.ID, common.AccountTypeCurrent))
	assert.Equal(t, common.ChannelChain, env.store.Transaction(invoice.Transactions[0].ID).Channel)
	assert.False(t, env.store.Transaction(other.Transactions[0].ID).IsSettled())

	// the provider returns the same transfer again
	stats, err = scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Inserted)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, txTime+1, history.windows[1][0])
	assertDecimal(t, "10", env.balance(t, buyer.ID, common.AccountTypeCurrent))
	assert.Len(t, env.store.BalanceEntries(), 1)
}

func TestScannerSkipsWithdrawalsUnknownCoinsAndForeignWallets(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)
	env.topUp(t, buyer.ID, "10")

	withdrawal := bscDeposit("0x1", "10.001", 1000)
	withdrawal.Direction = 2
	unknown := bscDeposit("0x2", "10.001", 2000)
	unknown.CoinID = 1
	foreign := bscDeposit("0x3", "10.001", 3000)
	foreign.To = "0x1111111111111111111111111111111111111111"

	scanner := env.svc.NewScanner(&fakeHistory{transfers: []okx.Transfer{foreign, unknown, withdrawal}})
	stats, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 0, stats.Matched+stats.Unmatched)
	assert.Equal(t, int64(3001), stats.Cursor)
	assert.True(t, env.balance(t, buyer.ID, common.AccountTypeCurrent).IsZero())
}

func TestScannerSweepMatchesLateInvoice(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)

	scanner := env.svc.NewScanner(&fakeHistory{transfers: []okx.Transfer{bscDeposit("0xlate", "10.001", testNow.UnixMilli())}})
	stats, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unmatched)

	env.topUp(t, buyer.ID, "10")
	stats, err = scanner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Matched)
	assertDecimal(t, "10", env.balance(t, buyer.ID, common.AccountTypeCurrent))

	stats, err = scanner.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Matched+stats.Unmatched)
}

func TestScannerProviderFailureKeepsCursor(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SaveScannerCursor(context.Background(), common.ScannerCursorOKX, 500))

	scanner := env.svc.NewScanner(&fakeHistory{err: errors.New("connection reset")})
	_, err := scanner.RunCycle(context.Background())
	assert.ErrorIs(t, err, service.ErrProviderUnavailable)

	cursor, err := env.store.GetScannerCursor(context.Background(), common.ScannerCursorOKX)
	require.NoError(t, err)
	assert.Equal(t, int64(500), cursor)
}

func TestScannerStartReturnsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	history := &fakeHistory{onCall: cancel}

	err := env.svc.NewScanner(history).Start(ctx)
	assert.NoError(t, err)
	assert.Len(t, history.windows, 1)
}

func chainPush(hash, amount string) string {
	return fmt.Sprintf(`{"tx_hash":%q,"amount":%q,"ticker":"USDT","network":"BSC","decimal":18,"to_address":%q,"from_address":"0x000000000000000000000000000000000000dead","timestamp":%d}`,
		hash, amount, strings.ToLower(shopBSCWallet), testNow.UnixMilli())
}

func TestChainPushRequiresSignature(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)
	env.topUp(t, buyer.ID, "10")

	outcome, err := env.svc.Reconcile(context.Background(), common.ChannelChain, service.Notification{Payload: []byte(chainPush("0xpush", "10.001"))})
	require.NoError(t, err)
	assert.ErrorIs(t, outcome.Reason, service.ErrInvalidSignature)

	outcome, err = env.svc.Reconcile(context.Background(), common.ChannelChain, service.Notification{Payload: signed(t, chainPush("0xpush", "10.001"), cryptoKey)})
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	require.Len(t, outcome.Settlements, 1)
	assertDecimal(t, "10", env.balance(t, buyer.ID, common.AccountTypeCurrent))
}

func TestChainPushFromWatcherWithoutDestination(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)
	invoice := env.topUp(t, buyer.ID, "10")
	assertDecimal(t, "10.001", invoice.QuotedAmount.Decimal)

	// body exactly as the wallet watcher posts it
	body := []byte(`{"tx_hash": "0xwatcher", "amount": 10.001, "ticker": "USDT", "network": "BSC", "decimal": 18, "sign": "cc0388c004b5e15d250977e54544bb15"}`)
	outcome, err := env.svc.Reconcile(context.Background(), common.ChannelChain, service.Notification{Payload: body})
	require.NoError(t, err)
	assert.True(t, outcome.Accepted, "reason: %v", outcome.Reason)
	assert.Equal(t, common.TransactionStatusPaid, outcome.Status)
	assertDecimal(t, "10", env.balance(t, buyer.ID, common.AccountTypeCurrent))

	outcome, err = env.svc.Reconcile(context.Background(), common.ChannelChain, service.Notification{Payload: body})
	require.NoError(t, err)
	assert.True(t, outcome.AlreadySettled)
	assertDecimal(t, "10", env.balance(t, buyer.ID, common.AccountTypeCurrent))
}

func TestChainPushWithoutDestinationIsSweptLater(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)

	push := `{"tx_hash":"0xearly","amount":"10.001","ticker":"USDT","network":"BSC","decimal":18}`
	outcome, err := env.svc.Reconcile(context.Background(), common.ChannelChain, service.Notification{Payload: signed(t, push, cryptoKey)})
	require.NoError(t, err)
	assert.False(t, outcome.Accepted)

	env.topUp(t, buyer.ID, "10")
	stats, err := env.svc.NewScanner(nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Matched)
	assertDecimal(t, "10", env.balance(t, buyer.ID, common.AccountTypeCurrent))
}

func TestLedgerEntryIsConsumedOnce(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.user(0)
	first := env.topUp(t, buyer.ID, "10")
	second := env.topUp(t, buyer.ID, "10")

	transfer := chainTransfer("0xonce", "10.001")
	outcome, err := env.svc.IngestChainTransfer(context.Background(), transfer)
	require.NoError(t, err)
	require.Len(t, outcome.Settlements, 1)

	replay, err := env.svc.IngestChainTransfer(context.Background(), transfer)
	require.NoError(t, err)
	assert.True(t, replay.Accepted)
	assert.True(t, replay.AlreadySettled)

	entry, err := env.store.GetLedgerEntryByHash(context.Background(), "0xonce")
	require.NoError(t, err)
	assert.True(t, entry.Consumed)
	assert.Equal(t, first.ID, entry.InvoiceID)
	assert.False(t, env.store.Transaction(second.Transactions[0].ID).IsSettled())
	assertDecimal(t, "10", env.balance(t, buyer.ID, common.AccountTypeCurrent))
}

func TestIngestChainTransferRejectsForeignWallet(t *testing.T) {
	env := newTestEnv(t)
	transfer := chainTransfer("0xforeign", "10.001")
	transfer.ToAddress = "0x1111111111111111111111111111111111111111"

	outcome, err := env.svc.IngestChainTransfer(context.Background(), transfer)
	require.NoError(t, err)
	assert.False(t, outcome.Accepted)
	assert.ErrorIs(t, outcome.Reason, service.ErrNotFound)
}
