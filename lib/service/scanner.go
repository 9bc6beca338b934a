package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/db/models"
	"github.com/gemups/payhub/lib/registry"
	"github.com/gemups/payhub/okx"
)

// WalletHistory lists the transfers of the receiving wallets with
// since <= txTime <= until.
type WalletHistory interface {
	History(ctx context.Context, since, until int64) ([]okx.Transfer, error)
}

// sweep unconsumed entries every sweepEvery cycles
const sweepEvery = 30

type Scanner struct {
	svc      *PayhubService
	history  WalletHistory
	interval time.Duration
	cursor   string
}

type CycleStats struct {
	Fetched    int
	Inserted   int
	Duplicates int
	Matched    int
	Unmatched  int
	Cursor     int64
}

func (svc *PayhubService) NewScanner(history WalletHistory) *Scanner {
	interval := svc.Config.ScannerInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scanner{svc: svc, history: history, interval: interval, cursor: common.ScannerCursorOKX}
}

// Start runs a sweep and a cycle right away and then one cycle per interval
// until ctx is done. Failed cycles are logged and retried on the next tick.
func (s *Scanner) Start(ctx context.Context) error {
	s.svc.Logger.Infof("Starting chain scanner interval:%s", s.interval)
	if _, err := s.Sweep(ctx); err != nil {
		s.fail(err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for cycle := 1; ; cycle++ {
		if _, err := s.RunCycle(ctx); err != nil {
			s.fail(err)
		}
		if cycle%sweepEvery == 0 {
			if _, err := s.Sweep(ctx); err != nil {
				s.fail(err)
			}
		}
		select {
		case <-ctx.Done():
			s.svc.Logger.Info("Chain scanner stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scanner) fail(err error) {
	if err == context.Canceled {
		return
	}
	scannerCyclesTotal.WithLabelValues("error").Inc()
	s.svc.Logger.Errorf("Chain scanner cycle failed: %v", err)
	s.svc.captureErr(err)
}

// RunCycle ingests the transfers newer than the persisted cursor and advances it.
func (s *Scanner) RunCycle(ctx context.Context) (CycleStats, error) {
	stats := CycleStats{}
	cursor, err := s.svc.Store.GetScannerCursor(ctx, s.cursor)
	if err != nil {
		return stats, err
	}
	stats.Cursor = cursor
	transfers, err := s.history.History(ctx, cursor, s.svc.now().UnixMilli())
	if err != nil {
		return stats, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	stats.Fetched = len(transfers)

	newest := cursor - 1
	// the provider lists newest first, ingest oldest first
	for i := len(transfers) - 1; i >= 0; i-- {
		transfer := transfers[i]
		if transfer.TxTime > newest {
			newest = transfer.TxTime
		}
		if transfer.Direction != okx.DirectionDeposit {
			continue
		}
		token, ok := s.svc.Registry.ByOKXCoinID(transfer.CoinID)
		if !ok {
			continue
		}
		entry := ledgerEntryFromOKX(token, transfer)
		inserted, err := s.svc.Store.InsertLedgerEntry(ctx, entry)
		if err != nil {
			return stats, err
		}
		if !inserted {
			ledgerEntriesTotal.WithLabelValues("duplicate").Inc()
			stats.Duplicates++
			continue
		}
		ledgerEntriesTotal.WithLabelValues("inserted").Inc()
		stats.Inserted++
		if !s.svc.Registry.IsReceivingAddress(token, entry.ToAddress) {
			continue
		}
		s.submit(ctx, entry, &stats)
	}

	if newest >= cursor {
		if err := s.svc.Store.SaveScannerCursor(ctx, s.cursor, newest+1); err != nil {
			return stats, err
		}
		stats.Cursor = newest + 1
	}
	scannerCyclesTotal.WithLabelValues("ok").Inc()
	if stats.Inserted > 0 {
		s.svc.Logger.Infof("Chain scanner cycle fetched:%d inserted:%d matched:%d unmatched:%d cursor:%d", stats.Fetched, stats.Inserted, stats.Matched, stats.Unmatched, stats.Cursor)
	}
	return stats, nil
}

// Sweep resubmits the unconsumed entries observed within the invoice lifetime.
func (s *Scanner) Sweep(ctx context.Context) (CycleStats, error) {
	stats := CycleStats{}
	entries, err := s.svc.Store.ListUnconsumedLedgerEntries(ctx, s.svc.now().Add(-s.svc.Config.InvoiceTTL))
	if err != nil {
		return stats, err
	}
	for i := range entries {
		entry := &entries[i]
		if !s.svc.acceptsDestination(entry) {
			continue
		}
		s.submit(ctx, entry, &stats)
	}
	return stats, nil
}

func (s *Scanner) submit(ctx context.Context, entry *models.LedgerEntry, stats *CycleStats) {
	outcome, err := s.svc.Reconcile(ctx, common.ChannelChain, Notification{Entry: entry})
	if err != nil {
		// the entry stays unconsumed and the sweep picks it up again
		s.svc.Logger.Errorf("Chain reconciliation failed tx_hash:%s error:%v", entry.TxHash, err)
		s.svc.captureErr(err)
		return
	}
	if outcome.Accepted {
		stats.Matched++
	} else {
		stats.Unmatched++
	}
}

func ledgerEntryFromOKX(token registry.Token, transfer okx.Transfer) *models.LedgerEntry {
	to := transfer.To
	if to == "" {
		to = transfer.Address
	}
	if normalized, err := registry.NormalizeAddress(token.Network, to); err == nil {
		to = normalized
	}
	decimals := transfer.Decimals
	if decimals == 0 {
		decimals = token.Decimals
	}
	transfer.Decimals = decimals
	return &models.LedgerEntry{
		TxHash:       transfer.TxHash,
		Currency:     token.Ticker,
		Network:      token.Network,
		TokenAddress: token.TokenAddress,
		RawAmount:    transfer.RawAmount(),
		Decimals:     decimals,
		FromAddress:  transfer.From,
		ToAddress:    to,
		ObservedAt:   transfer.ObservedAt(),
	}
}
