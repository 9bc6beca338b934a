package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/db/models"
	"github.com/gemups/payhub/lib/registry"
)

// ledgerEntryFromTransfer decodes a reported transfer through the token registry.
func (svc *PayhubService) ledgerEntryFromTransfer(transfer models.ChainTransfer) (*models.LedgerEntry, error) {
	token, ok := svc.Registry.Lookup(transfer.Ticker, transfer.Network)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnsupportedCurrency, transfer.Ticker, transfer.Network)
	}
	decimals := transfer.Decimal
	if decimals == 0 {
		decimals = token.Decimals
	}
	to, err := registry.NormalizeAddress(token.Network, transfer.ToAddress)
	if err != nil {
		to = transfer.ToAddress
	}
	observedAt := time.UnixMilli(transfer.Timestamp)
	if transfer.Timestamp == 0 {
		observedAt = svc.now()
	}
	return &models.LedgerEntry{
		TxHash:       transfer.TxHash,
		Currency:     token.Ticker,
		Network:      token.Network,
		TokenAddress: token.TokenAddress,
		RawAmount:    transfer.Amount.Abs().Shift(decimals).Truncate(0),
		Decimals:     decimals,
		FromAddress:  transfer.FromAddress,
		ToAddress:    to,
		ObservedAt:   observedAt,
	}, nil
}

// recordLedgerEntry stores the entry and reports whether it still has to be
// matched. A duplicate hash resolves to the stored entry.
func (svc *PayhubService) recordLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, bool, error) {
	inserted, err := svc.Store.InsertLedgerEntry(ctx, entry)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		ledgerEntriesTotal.WithLabelValues("inserted").Inc()
		return entry, true, nil
	}
	ledgerEntriesTotal.WithLabelValues("duplicate").Inc()
	stored, err := svc.Store.GetLedgerEntryByHash(ctx, entry.TxHash)
	if err != nil {
		return nil, false, err
	}
	return stored, !stored.Consumed, nil
}

// IngestChainTransfer records a transfer reported by a trusted watcher and
// matches it against the open invoices.
func (svc *PayhubService) IngestChainTransfer(ctx context.Context, transfer models.ChainTransfer) (*Outcome, error) {
	return svc.Reconcile(ctx, common.ChannelChain, Notification{Transfer: &transfer})
}

func (svc *PayhubService) ingestTransfer(ctx context.Context, transfer models.ChainTransfer) (*Outcome, error) {
	entry, err := svc.ledgerEntryFromTransfer(transfer)
	if err != nil {
		return &Outcome{Reference: transfer.TxHash, Reason: err}, nil
	}
	if !svc.acceptsDestination(entry) {
		return &Outcome{Reference: transfer.TxHash, Reason: fmt.Errorf("%w: %s is not a receiving address", ErrNotFound, entry.ToAddress)}, nil
	}
	stored, pending, err := svc.recordLedgerEntry(ctx, entry)
	if err != nil {
		return nil, err
	}
	if !pending {
		return &Outcome{Accepted: true, AlreadySettled: true, Reference: transfer.TxHash}, nil
	}
	return svc.matchLedgerEntry(ctx, stored)
}

// acceptsDestination reports whether the entry may be matched. Signed pushes
// from the watcher carry no destination and are matched on amount alone.
func (svc *PayhubService) acceptsDestination(entry *models.LedgerEntry) bool {
	if entry.ToAddress == "" {
		return true
	}
	token, ok := svc.Registry.Lookup(entry.Currency, entry.Network)
	return ok && svc.Registry.IsReceivingAddress(token, entry.ToAddress)
}

// matchLedgerEntry consumes the entry against the open invoice quoted at
// exactly its amount and settles the invoice transactions.
func (svc *PayhubService) matchLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (*Outcome, error) {
	outcome := &Outcome{Reference: entry.TxHash, Status: common.TransactionStatusPaid}
	err := svc.Store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		invoice, err := tx.FindOpenInvoiceByQuote(ctx, entry.Currency, entry.Network, entry.Amount(), svc.now())
		if errors.Is(err, ErrNotFound) {
			outcome.Reason = ErrNotFound
			return nil
		}
		if err != nil {
			return err
		}
		consumed, err := tx.ConsumeLedgerEntry(ctx, entry.ID, invoice.ID)
		if err != nil {
			return err
		}
		outcome.Accepted = true
		if !consumed {
			outcome.AlreadySettled = true
			return nil
		}
		entry.Consumed, entry.InvoiceID = true, invoice.ID
		outcome.Reference = invoice.ExternalID

		transactions, err := tx.ListInvoiceTransactions(ctx, invoice.ID)
		if err != nil {
			return err
		}
		for i := range transactions {
			t := &transactions[i]
			if t.IsSettled() {
				outcome.AlreadySettled = true
				continue
			}
			t.Status = common.TransactionStatusPaid
			t.Channel = common.ChannelChain
			if err := tx.UpdateTransaction(ctx, t, "status", "channel"); err != nil {
				return err
			}
			result, err := svc.Settle(ctx, tx, t)
			if errors.Is(err, ErrAlreadySettled) {
				outcome.AlreadySettled = true
				continue
			}
			if err != nil {
				return err
			}
			outcome.Settlements = append(outcome.Settlements, *result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !outcome.Accepted {
		svc.Logger.Warnf("Chain transfer matches no open invoice tx_hash:%s currency:%s network:%s amount:%s", entry.TxHash, entry.Currency, entry.Network, entry.Amount())
	}
	return outcome, nil
}
