// Package memstore keeps the payment engine state in memory. It backs the
// service and controller tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/db/models"
	"github.com/gemups/payhub/lib/service"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type state struct {
	seq          int64
	users        map[int64]models.User
	products     map[int64]models.Product
	invoices     map[int64]models.Invoice
	transactions map[int64]models.Transaction
	ledger       map[int64]models.LedgerEntry
	inventory    map[int64]models.InventoryItem
	balances     []models.BalanceEntry
	referrals    []models.ReferralEntry
	cursors      map[string]int64
}

func newState() *state {
	return &state{
		users:        map[int64]models.User{},
		products:     map[int64]models.Product{},
		invoices:     map[int64]models.Invoice{},
		transactions: map[int64]models.Transaction{},
		ledger:       map[int64]models.LedgerEntry{},
		inventory:    map[int64]models.InventoryItem{},
		cursors:      map[string]int64{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		seq:          s.seq,
		users:        copyMap(s.users),
		products:     copyMap(s.products),
		invoices:     copyMap(s.invoices),
		transactions: copyMap(s.transactions),
		ledger:       copyMap(s.ledger),
		inventory:    copyMap(s.inventory),
		balances:     append([]models.BalanceEntry(nil), s.balances...),
		referrals:    append([]models.ReferralEntry(nil), s.referrals...),
		cursors:      copyMap(s.cursors),
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

type memDB struct {
	// txMu serializes transactions, mu guards state
	txMu  sync.Mutex
	mu    sync.Mutex
	state *state
}

// Store is an in-memory service.Store. Transactions run one at a time and roll
// back to a snapshot when fn fails. Writes made outside of a transaction while
// one is running are lost if that transaction rolls back.
type Store struct {
	db   *memDB
	inTx bool
}

func New() *Store {
	return &Store{db: &memDB{state: newState()}}
}

func (s *Store) with(fn func(st *state) error) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return fn(s.db.state)
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx service.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	s.db.txMu.Lock()
	defer s.db.txMu.Unlock()

	s.db.mu.Lock()
	snapshot := s.db.state.clone()
	s.db.mu.Unlock()

	if err := fn(ctx, &Store{db: s.db, inTx: true}); err != nil {
		s.db.mu.Lock()
		s.db.state = snapshot
		s.db.mu.Unlock()
		return err
	}
	return ctx.Err()
}

// Lock is a no-op: transactions are already serialized.
func (s *Store) Lock(ctx context.Context, key string) error {
	return nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// AddUser seeds a user and returns it with its id set.
func (s *Store) AddUser(user models.User) models.User {
	_ = s.with(func(st *state) error {
		if user.ID == 0 {
			user.ID = st.nextID()
		}
		user.CreatedAt = createdAt(user.CreatedAt)
		st.users[user.ID] = user
		return nil
	})
	return user
}

// AddProduct seeds a product and returns it with its id set.
func (s *Store) AddProduct(product models.Product) models.Product {
	_ = s.with(func(st *state) error {
		if product.ID == 0 {
			product.ID = st.nextID()
		}
		product.CreatedAt = createdAt(product.CreatedAt)
		st.products[product.ID] = product
		return nil
	})
	return product
}

// AddInventory seeds count unclaimed items of the product.
func (s *Store) AddInventory(productID int64, count int) {
	_ = s.with(func(st *state) error {
		for i := 0; i < count; i++ {
			id := st.nextID()
			st.inventory[id] = models.InventoryItem{
				ID:        id,
				ProductID: productID,
				Payload:   fmt.Sprintf("item-%d", id),
				CreatedAt: time.Now(),
			}
		}
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.with(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return service.ErrNotFound
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.with(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return service.ErrNotFound
		}
		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) InsertInvoice(ctx context.Context, invoice *models.Invoice) error {
	return s.with(func(st *state) error {
		for _, existing := range st.invoices {
			if existing.ExternalID == invoice.ExternalID {
				return fmt.Errorf("duplicate invoice %s", invoice.ExternalID)
			}
		}
		invoice.ID = st.nextID()
		invoice.CreatedAt = createdAt(invoice.CreatedAt)
		stored := *invoice
		stored.Transactions = nil
		st.invoices[invoice.ID] = stored
		return nil
	})
}

func (s *Store) UpdateInvoiceQuote(ctx context.Context, invoice *models.Invoice) error {
	return s.with(func(st *state) error {
		stored, ok := st.invoices[invoice.ID]
		if !ok {
			return service.ErrNotFound
		}
		stored.Currency = invoice.Currency
		stored.Network = invoice.Network
		stored.QuotedAmount = invoice.QuotedAmount
		stored.Active = invoice.Active
		stored.ExpiresAt = invoice.ExpiresAt
		stored.UpdatedAt = bun.NullTime{Time: time.Now()}
		st.invoices[invoice.ID] = stored
		return nil
	})
}

func (st *state) invoiceTransactions(invoiceID int64) []models.Transaction {
	out := []models.Transaction{}
	for _, t := range st.transactions {
		if t.InvoiceID == invoiceID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (st *state) invoicePaid(invoiceID int64) bool {
	for _, t := range st.invoiceTransactions(invoiceID) {
		if common.IsPaidStatus(t.Status) {
			return true
		}
	}
	return false
}

func (st *state) openInvoices(currency, network string, now time.Time) []models.Invoice {
	out := []models.Invoice{}
	for _, invoice := range st.invoices {
		if invoice.Currency != currency || invoice.Network != network {
			continue
		}
		if !invoice.IsOpen(now) || st.invoicePaid(invoice.ID) {
			continue
		}
		out = append(out, invoice)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) GetInvoiceByExternalID(ctx context.Context, externalID string) (*models.Invoice, error) {
	var found *models.Invoice
	err := s.with(func(st *state) error {
		for _, invoice := range st.invoices {
			if invoice.ExternalID != externalID {
				continue
			}
			invoice := invoice
			for _, t := range st.invoiceTransactions(invoice.ID) {
				t := t
				invoice.Transactions = append(invoice.Transactions, &t)
			}
			found = &invoice
			return nil
		}
		return service.ErrNotFound
	})
	return found, err
}

func (s *Store) MaxOpenQuotedAmount(ctx context.Context, currency, network string, amountUSD decimal.Decimal, now time.Time) (decimal.NullDecimal, error) {
	var max decimal.NullDecimal
	err := s.with(func(st *state) error {
		for _, invoice := range st.openInvoices(currency, network, now) {
			if !invoice.AmountUSD.Equal(amountUSD) || !invoice.QuotedAmount.Valid {
				continue
			}
			if !max.Valid || invoice.QuotedAmount.Decimal.GreaterThan(max.Decimal) {
				max = invoice.QuotedAmount
			}
		}
		return nil
	})
	return max, err
}

func (s *Store) FindOpenInvoiceByQuote(ctx context.Context, currency, network string, amount decimal.Decimal, now time.Time) (*models.Invoice, error) {
	var found *models.Invoice
	err := s.with(func(st *state) error {
		for _, invoice := range st.openInvoices(currency, network, now) {
			if invoice.QuotedAmount.Valid && invoice.QuotedAmount.Decimal.Equal(amount) {
				invoice := invoice
				found = &invoice
				return nil
			}
		}
		return service.ErrNotFound
	})
	return found, err
}

func (s *Store) CountOpenInvoices(ctx context.Context, payerID int64, now time.Time) (int, error) {
	count := 0
	err := s.with(func(st *state) error {
		for _, invoice := range st.invoices {
			if invoice.PayerID == payerID && invoice.ExpiresAt.After(now) && !st.invoicePaid(invoice.ID) {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (s *Store) InsertTransaction(ctx context.Context, transaction *models.Transaction) error {
	return s.with(func(st *state) error {
		for _, existing := range st.transactions {
			if existing.ExternalID == transaction.ExternalID {
				return fmt.Errorf("duplicate transaction %s", transaction.ExternalID)
			}
		}
		transaction.ID = st.nextID()
		transaction.CreatedAt = createdAt(transaction.CreatedAt)
		if transaction.Status == "" {
			transaction.Status = common.TransactionStatusCreated
		}
		if transaction.Quantity == 0 {
			transaction.Quantity = 1
		}
		stored := *transaction
		stored.Invoice, stored.Product = nil, nil
		st.transactions[transaction.ID] = stored
		return nil
	})
}

func (s *Store) FindTransactionsByReference(ctx context.Context, ref string) ([]models.Transaction, error) {
	out := []models.Transaction{}
	err := s.with(func(st *state) error {
		invoiceIDs := map[int64]bool{}
		for _, invoice := range st.invoices {
			if invoice.ExternalID == ref {
				invoiceIDs[invoice.ID] = true
			}
		}
		for _, t := range st.transactions {
			if t.ExternalID == ref || invoiceIDs[t.InvoiceID] {
				out = append(out, t)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

func (s *Store) ListInvoiceTransactions(ctx context.Context, invoiceID int64) ([]models.Transaction, error) {
	var out []models.Transaction
	err := s.with(func(st *state) error {
		out = st.invoiceTransactions(invoiceID)
		return nil
	})
	return out, err
}

// UpdateTransaction copies the mutable columns. Settlement marker changes go
// through MarkTransactionSettled only.
func (s *Store) UpdateTransaction(ctx context.Context, transaction *models.Transaction, columns ...string) error {
	return s.with(func(st *state) error {
		stored, ok := st.transactions[transaction.ID]
		if !ok {
			return service.ErrNotFound
		}
		if len(columns) == 0 {
			columns = []string{"status", "channel", "amount", "shortfall", "payee_id"}
		}
		for _, column := range columns {
			switch column {
			case "status":
				stored.Status = transaction.Status
			case "channel":
				stored.Channel = transaction.Channel
			case "amount":
				stored.Amount = transaction.Amount
			case "shortfall":
				stored.Shortfall = transaction.Shortfall
			case "payee_id":
				stored.PayeeID = transaction.PayeeID
			default:
				return fmt.Errorf("memstore: unsupported transaction column %q", column)
			}
		}
		stored.UpdatedAt = bun.NullTime{Time: time.Now()}
		st.transactions[transaction.ID] = stored
		return nil
	})
}

func (s *Store) MarkTransactionSettled(ctx context.Context, transactionID int64, now time.Time) (bool, error) {
	settled := false
	err := s.with(func(st *state) error {
		stored, ok := st.transactions[transactionID]
		if !ok {
			return service.ErrNotFound
		}
		if stored.IsSettled() {
			return nil
		}
		stored.SettledAt = bun.NullTime{Time: now}
		st.transactions[transactionID] = stored
		settled = true
		return nil
	})
	return settled, err
}

func (s *Store) InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	inserted := false
	err := s.with(func(st *state) error {
		for _, existing := range st.ledger {
			if existing.TxHash == entry.TxHash {
				return nil
			}
		}
		entry.ID = st.nextID()
		entry.CreatedAt = createdAt(entry.CreatedAt)
		st.ledger[entry.ID] = *entry
		inserted = true
		return nil
	})
	return inserted, err
}

func (s *Store) GetLedgerEntryByHash(ctx context.Context, txHash string) (*models.LedgerEntry, error) {
	var found *models.LedgerEntry
	err := s.with(func(st *state) error {
		for _, entry := range st.ledger {
			if entry.TxHash == txHash {
				entry := entry
				found = &entry
				return nil
			}
		}
		return service.ErrNotFound
	})
	return found, err
}

func (s *Store) ConsumeLedgerEntry(ctx context.Context, entryID, invoiceID int64) (bool, error) {
	consumed := false
	err := s.with(func(st *state) error {
		entry, ok := st.ledger[entryID]
		if !ok {
			return service.ErrNotFound
		}
		if entry.Consumed {
			return nil
		}
		entry.Consumed = true
		entry.InvoiceID = invoiceID
		st.ledger[entryID] = entry
		consumed = true
		return nil
	})
	return consumed, err
}

func (s *Store) ListUnconsumedLedgerEntries(ctx context.Context, since time.Time) ([]models.LedgerEntry, error) {
	out := []models.LedgerEntry{}
	err := s.with(func(st *state) error {
		for _, entry := range st.ledger {
			if !entry.Consumed && !entry.ObservedAt.Before(since) {
				out = append(out, entry)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
		return nil
	})
	return out, err
}

func (s *Store) IncrementProductSold(ctx context.Context, productID, quantity int64) error {
	return s.with(func(st *state) error {
		product, ok := st.products[productID]
		if !ok {
			return service.ErrNotFound
		}
		product.Sold += quantity
		st.products[productID] = product
		return nil
	})
}

func (s *Store) DecrementProductStock(ctx context.Context, productID, quantity int64) error {
	return s.with(func(st *state) error {
		product, ok := st.products[productID]
		if !ok {
			return service.ErrNotFound
		}
		product.InStock -= quantity
		if product.InStock < 0 {
			product.InStock = 0
		}
		st.products[productID] = product
		return nil
	})
}

func (s *Store) ClaimInventoryItem(ctx context.Context, productID, transactionID int64, now time.Time) (bool, error) {
	claimed := false
	err := s.with(func(st *state) error {
		ids := []int64{}
		for id, item := range st.inventory {
			if item.ProductID == productID && item.TransactionID == 0 {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		item := st.inventory[ids[0]]
		item.TransactionID = transactionID
		item.ClaimedAt = bun.NullTime{Time: now}
		st.inventory[item.ID] = item
		claimed = true
		return nil
	})
	return claimed, err
}

func (s *Store) InsertBalanceEntry(ctx context.Context, entry *models.BalanceEntry) error {
	return s.with(func(st *state) error {
		if entry.TransactionID != 0 {
			for _, existing := range st.balances {
				if existing.TransactionID == entry.TransactionID && existing.UserID == entry.UserID &&
					existing.Account == entry.Account && existing.EntryType == entry.EntryType {
					return fmt.Errorf("duplicate balance entry for transaction %d", entry.TransactionID)
				}
			}
		}
		entry.ID = st.nextID()
		entry.CreatedAt = createdAt(entry.CreatedAt)
		st.balances = append(st.balances, *entry)
		return nil
	})
}

func (s *Store) UserBalance(ctx context.Context, userID int64, account string) (decimal.Decimal, error) {
	balance := decimal.Zero
	err := s.with(func(st *state) error {
		for _, entry := range st.balances {
			if entry.UserID == userID && entry.Account == account {
				balance = balance.Add(entry.Amount)
			}
		}
		return nil
	})
	return balance, err
}

func (s *Store) InsertReferralEntry(ctx context.Context, entry *models.ReferralEntry) error {
	return s.with(func(st *state) error {
		if entry.Type == common.ReferralEntryAccrual {
			for _, existing := range st.referrals {
				if existing.Type == entry.Type && existing.TransactionID == entry.TransactionID &&
					existing.BeneficiaryID == entry.BeneficiaryID && existing.Level == entry.Level {
					return fmt.Errorf("duplicate referral accrual for transaction %d", entry.TransactionID)
				}
			}
		}
		entry.ID = st.nextID()
		entry.CreatedAt = createdAt(entry.CreatedAt)
		st.referrals = append(st.referrals, *entry)
		return nil
	})
}

func (s *Store) ReferralTotal(ctx context.Context, beneficiaryID int64, entryType string, before time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	err := s.with(func(st *state) error {
		for _, entry := range st.referrals {
			if entry.BeneficiaryID != beneficiaryID || entry.Type != entryType {
				continue
			}
			if !before.IsZero() && !entry.CreatedAt.Before(before) {
				continue
			}
			total = total.Add(entry.Amount)
		}
		return nil
	})
	return total, err
}

func (s *Store) GetScannerCursor(ctx context.Context, name string) (int64, error) {
	var cursor int64
	err := s.with(func(st *state) error {
		cursor = st.cursors[name]
		return nil
	})
	return cursor, err
}

func (s *Store) SaveScannerCursor(ctx context.Context, name string, cursor int64) error {
	return s.with(func(st *state) error {
		st.cursors[name] = cursor
		return nil
	})
}

// Transaction returns a copy of the stored transaction.
func (s *Store) Transaction(id int64) models.Transaction {
	var out models.Transaction
	_ = s.with(func(st *state) error {
		out = st.transactions[id]
		return nil
	})
	return out
}

func (s *Store) BalanceEntries() []models.BalanceEntry {
	var out []models.BalanceEntry
	_ = s.with(func(st *state) error {
		out = append(out, st.balances...)
		return nil
	})
	return out
}

func (s *Store) ReferralEntries() []models.ReferralEntry {
	var out []models.ReferralEntry
	_ = s.with(func(st *state) error {
		out = append(out, st.referrals...)
		return nil
	})
	return out
}

func (s *Store) LedgerEntry(id int64) models.LedgerEntry {
	var out models.LedgerEntry
	_ = s.with(func(st *state) error {
		out = st.ledger[id]
		return nil
	})
	return out
}

// ClaimedItems counts the inventory items bound to the transaction.
func (s *Store) ClaimedItems(transactionID int64) int {
	count := 0
	_ = s.with(func(st *state) error {
		for _, item := range st.inventory {
			if item.TransactionID == transactionID {
				count++
			}
		}
		return nil
	})
	return count
}

var _ service.Store = (*Store)(nil)
