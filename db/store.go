package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/db/models"
	"github.com/gemups/payhub/lib/service"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Store implements service.Store on top of postgres.
type Store struct {
	db bun.IDB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

var paidStatuses = []string{common.TransactionStatusPaid, common.TransactionStatusPaidOver}

const notPaidInvoice = "NOT EXISTS (SELECT 1 FROM transactions AS t WHERE t.invoice_id = ?TableAlias.id AND t.status IN (?))"

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return service.ErrNotFound
	}
	return err
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx service.Store) error) error {
	switch db := s.db.(type) {
	case *bun.DB:
		return db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			return fn(ctx, &Store{db: tx})
		})
	default:
		return fn(ctx, s)
	}
}

func (s *Store) Lock(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", key)
	return err
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user := new(models.User)
	err := s.db.NewSelect().Model(user).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	product := new(models.Product)
	err := s.db.NewSelect().Model(product).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return product, nil
}

func (s *Store) InsertInvoice(ctx context.Context, invoice *models.Invoice) error {
	_, err := s.db.NewInsert().Model(invoice).Exec(ctx)
	return err
}

func (s *Store) UpdateInvoiceQuote(ctx context.Context, invoice *models.Invoice) error {
	_, err := s.db.NewUpdate().
		Model(invoice).
		Column("currency", "network", "quoted_amount", "active", "expires_at", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

func (s *Store) GetInvoiceByExternalID(ctx context.Context, externalID string) (*models.Invoice, error) {
	invoice := new(models.Invoice)
	err := s.db.NewSelect().
		Model(invoice).
		Relation("Transactions", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("id")
		}).
		Where("?TableAlias.external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return invoice, nil
}

func (s *Store) openInvoices(currency, network string, now time.Time) *bun.SelectQuery {
	return s.db.NewSelect().
		Model((*models.Invoice)(nil)).
		Where("?TableAlias.currency = ?", currency).
		Where("?TableAlias.network = ?", network).
		Where("?TableAlias.active").
		Where("?TableAlias.expires_at > ?", now).
		Where(notPaidInvoice, bun.In(paidStatuses))
}

func (s *Store) MaxOpenQuotedAmount(ctx context.Context, currency, network string, amountUSD decimal.Decimal, now time.Time) (decimal.NullDecimal, error) {
	var max decimal.NullDecimal
	err := s.openInvoices(currency, network, now).
		ColumnExpr("max(?TableAlias.quoted_amount)").
		Where("?TableAlias.amount_usd = ?", amountUSD).
		Scan(ctx, &max)
	return max, err
}

func (s *Store) FindOpenInvoiceByQuote(ctx context.Context, currency, network string, amount decimal.Decimal, now time.Time) (*models.Invoice, error) {
	invoice := new(models.Invoice)
	err := s.openInvoices(currency, network, now).
		Model(invoice).
		Where("?TableAlias.quoted_amount = ?", amount).
		OrderExpr("?TableAlias.created_at ASC").
		Limit(1).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return invoice, nil
}

func (s *Store) CountOpenInvoices(ctx context.Context, payerID int64, now time.Time) (int, error) {
	return s.db.NewSelect().
		Model((*models.Invoice)(nil)).
		Where("?TableAlias.payer_id = ?", payerID).
		Where("?TableAlias.expires_at > ?", now).
		Where(notPaidInvoice, bun.In(paidStatuses)).
		Count(ctx)
}

func (s *Store) InsertTransaction(ctx context.Context, transaction *models.Transaction) error {
	_, err := s.db.NewInsert().Model(transaction).Exec(ctx)
	return err
}

// FindTransactionsByReference locks the returned rows until the surrounding
// transaction ends.
func (s *Store) FindTransactionsByReference(ctx context.Context, ref string) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	err := s.db.NewSelect().
		Model(&transactions).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.external_id = ?", ref).
				WhereOr("?TableAlias.invoice_id IN (SELECT id FROM invoices WHERE external_id = ?)", ref)
		}).
		Order("id").
		For("UPDATE").
		Scan(ctx)
	return transactions, err
}

func (s *Store) ListInvoiceTransactions(ctx context.Context, invoiceID int64) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	err := s.db.NewSelect().
		Model(&transactions).
		Where("invoice_id = ?", invoiceID).
		Order("id").
		For("UPDATE").
		Scan(ctx)
	return transactions, err
}

func (s *Store) UpdateTransaction(ctx context.Context, transaction *models.Transaction, columns ...string) error {
	q := s.db.NewUpdate().Model(transaction).WherePK()
	if len(columns) > 0 {
		q = q.Column(append(columns, "updated_at")...)
	}
	_, err := q.Exec(ctx)
	return err
}

func (s *Store) MarkTransactionSettled(ctx context.Context, transactionID int64, now time.Time) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*models.Transaction)(nil)).
		Set("settled_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", transactionID).
		Where("settled_at IS NULL").
		Exec(ctx)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	res, err := s.db.NewInsert().
		Model(entry).
		On("CONFLICT (tx_hash) DO NOTHING").
		Exec(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return affectedOne(res, err)
}

func (s *Store) GetLedgerEntryByHash(ctx context.Context, txHash string) (*models.LedgerEntry, error) {
	entry := new(models.LedgerEntry)
	err := s.db.NewSelect().Model(entry).Where("tx_hash = ?", txHash).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return entry, nil
}

func (s *Store) ConsumeLedgerEntry(ctx context.Context, entryID, invoiceID int64) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*models.LedgerEntry)(nil)).
		Set("consumed = TRUE").
		Set("invoice_id = ?", invoiceID).
		Where("id = ?", entryID).
		Where("consumed = FALSE").
		Exec(ctx)
	return affectedOne(res, err)
}

func (s *Store) ListUnconsumedLedgerEntries(ctx context.Context, since time.Time) ([]models.LedgerEntry, error) {
	entries := []models.LedgerEntry{}
	err := s.db.NewSelect().
		Model(&entries).
		Where("consumed = FALSE").
		Where("observed_at >= ?", since).
		Order("observed_at").
		Scan(ctx)
	return entries, err
}

func (s *Store) IncrementProductSold(ctx context.Context, productID, quantity int64) error {
	_, err := s.db.NewUpdate().
		Model((*models.Product)(nil)).
		Set("sold = sold + ?", quantity).
		Where("id = ?", productID).
		Exec(ctx)
	return err
}

func (s *Store) DecrementProductStock(ctx context.Context, productID, quantity int64) error {
	_, err := s.db.NewUpdate().
		Model((*models.Product)(nil)).
		Set("in_stock = GREATEST(in_stock - ?, 0)", quantity).
		Where("id = ?", productID).
		Exec(ctx)
	return err
}

func (s *Store) ClaimInventoryItem(ctx context.Context, productID, transactionID int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE inventory_items SET transaction_id = ?, claimed_at = ?
		WHERE id = (
			SELECT id FROM inventory_items
			WHERE product_id = ? AND transaction_id IS NULL
			ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED
		)`, transactionID, now, productID)
	return affectedOne(res, err)
}

func (s *Store) InsertBalanceEntry(ctx context.Context, entry *models.BalanceEntry) error {
	_, err := s.db.NewInsert().Model(entry).Exec(ctx)
	return err
}

func (s *Store) UserBalance(ctx context.Context, userID int64, account string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.NewSelect().
		Model((*models.BalanceEntry)(nil)).
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Where("account = ?", account).
		Scan(ctx, &balance)
	return balance, err
}

func (s *Store) InsertReferralEntry(ctx context.Context, entry *models.ReferralEntry) error {
	_, err := s.db.NewInsert().Model(entry).Exec(ctx)
	return err
}

func (s *Store) ReferralTotal(ctx context.Context, beneficiaryID int64, entryType string, before time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	q := s.db.NewSelect().
		Model((*models.ReferralEntry)(nil)).
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Where("beneficiary_id = ?", beneficiaryID).
		Where("type = ?", entryType)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}
	err := q.Scan(ctx, &total)
	return total, err
}

func (s *Store) GetScannerCursor(ctx context.Context, name string) (int64, error) {
	cursor := new(models.ScannerCursor)
	err := s.db.NewSelect().Model(cursor).Where("name = ?", name).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cursor.Cursor, nil
}

func (s *Store) SaveScannerCursor(ctx context.Context, name string, cursor int64) error {
	_, err := s.db.NewInsert().
		Model(&models.ScannerCursor{Name: name, Cursor: cursor, UpdatedAt: time.Now()}).
		On("CONFLICT (name) DO UPDATE").
		Set("cursor = EXCLUDED.cursor").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

var _ service.Store = (*Store)(nil)
