package service

import (
	"context"
	"time"

	"github.com/gemups/payhub/db/models"
	"github.com/shopspring/decimal"
)

// Store is the persistence boundary of the payment engine. Every method runs
// against the transaction the store was handed to by RunInTx, or against the
// plain connection outside of one.
type Store interface {
	// RunInTx runs fn in a database transaction. Calling it on a store that is
	// already bound to a transaction reuses that transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	// Lock takes a transaction scoped exclusive lock on an arbitrary key.
	Lock(ctx context.Context, key string) error

	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)

	InsertInvoice(ctx context.Context, invoice *models.Invoice) error
	UpdateInvoiceQuote(ctx context.Context, invoice *models.Invoice) error
	GetInvoiceByExternalID(ctx context.Context, externalID string) (*models.Invoice, error)
	// MaxOpenQuotedAmount returns the highest quoted amount among the invoices of
	// the bucket that can still receive a payment.
	MaxOpenQuotedAmount(ctx context.Context, currency, network string, amountUSD decimal.Decimal, now time.Time) (decimal.NullDecimal, error)
	// FindOpenInvoiceByQuote locks and returns the open, unpaid invoice quoted at
	// exactly amount.
	FindOpenInvoiceByQuote(ctx context.Context, currency, network string, amount decimal.Decimal, now time.Time) (*models.Invoice, error)
	CountOpenInvoices(ctx context.Context, payerID int64, now time.Time) (int, error)

	InsertTransaction(ctx context.Context, transaction *models.Transaction) error
	// FindTransactionsByReference returns the transactions whose external id, or
	// whose invoice's external id, equals ref.
	// The rows stay locked until the surrounding transaction ends.
	FindTransactionsByReference(ctx context.Context, ref string) ([]models.Transaction, error)
	ListInvoiceTransactions(ctx context.Context, invoiceID int64) ([]models.Transaction, error)
	UpdateTransaction(ctx context.Context, transaction *models.Transaction, columns ...string) error
	// MarkTransactionSettled sets the settlement marker if it is not set yet and
	// reports whether this call set it.
	MarkTransactionSettled(ctx context.Context, transactionID int64, now time.Time) (bool, error)

	// InsertLedgerEntry reports false when an entry with the same hash exists.
	InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	GetLedgerEntryByHash(ctx context.Context, txHash string) (*models.LedgerEntry, error)
	// ConsumeLedgerEntry flips the consumed flag and reports false when another
	// reconciliation got there first.
	ConsumeLedgerEntry(ctx context.Context, entryID, invoiceID int64) (bool, error)
	ListUnconsumedLedgerEntries(ctx context.Context, since time.Time) ([]models.LedgerEntry, error)

	IncrementProductSold(ctx context.Context, productID, quantity int64) error
	DecrementProductStock(ctx context.Context, productID, quantity int64) error
	// ClaimInventoryItem binds one unclaimed item of the product to the
	// transaction and reports false when none is left.
	ClaimInventoryItem(ctx context.Context, productID, transactionID int64, now time.Time) (bool, error)

	InsertBalanceEntry(ctx context.Context, entry *models.BalanceEntry) error
	UserBalance(ctx context.Context, userID int64, account string) (decimal.Decimal, error)

	InsertReferralEntry(ctx context.Context, entry *models.ReferralEntry) error
	// ReferralTotal sums the beneficiary's entries of one type created before the
	// given time. A zero time means no upper bound.
	ReferralTotal(ctx context.Context, beneficiaryID int64, entryType string, before time.Time) (decimal.Decimal, error)

	GetScannerCursor(ctx context.Context, name string) (int64, error)
	SaveScannerCursor(ctx context.Context, name string, cursor int64) error
}
