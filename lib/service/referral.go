package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/db/models"
	"github.com/shopspring/decimal"
)

func referralLockKey(userID int64) string {
	return fmt.Sprintf("referral:%d", userID)
}

// Distribute credits the referrers of the buyer, level by level, until the
// configured levels run out or the chain ends. Every beneficiary's lifetime
// accruals are capped at the referral ceiling.
func (svc *PayhubService) Distribute(ctx context.Context, tx Store, buyerID int64, net decimal.Decimal, transactionID int64) ([]models.ReferralEntry, error) {
	entries := []models.ReferralEntry{}
	current, err := tx.GetUser(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	visited := map[int64]bool{buyerID: true}
	ceiling := svc.Config.ReferralCeiling

	for level := 1; level <= len(svc.Config.ReferralLevels); level++ {
		if current.ReferrerID == 0 {
			break
		}
		if visited[current.ReferrerID] {
			svc.Logger.Warnf("Referral chain cycle buyer_id:%d user_id:%d", buyerID, current.ReferrerID)
			break
		}
		beneficiary, err := tx.GetUser(ctx, current.ReferrerID)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		visited[beneficiary.ID] = true
		current = beneficiary

		credit := roundMoney(net.Mul(svc.Config.ReferralLevels[level-1]))
		if err := tx.Lock(ctx, referralLockKey(beneficiary.ID)); err != nil {
			return nil, err
		}
		total, err := tx.ReferralTotal(ctx, beneficiary.ID, common.ReferralEntryAccrual, zeroTime)
		if err != nil {
			return nil, err
		}
		if total.GreaterThanOrEqual(ceiling) {
			continue
		}
		if total.Add(credit).GreaterThan(ceiling) {
			credit = ceiling.Sub(total)
		}
		if !credit.IsPositive() {
			continue
		}
		entry := models.ReferralEntry{
			PayerID:       buyerID,
			BeneficiaryID: beneficiary.ID,
			Amount:        credit,
			Level:         level,
			TransactionID: transactionID,
			Type:          common.ReferralEntryAccrual,
			CreatedAt:     svc.now(),
		}
		if err := tx.InsertReferralEntry(ctx, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type ReferralSummary struct {
	UserID    int64           `json:"user_id"`
	Accrued   decimal.Decimal `json:"accrued"`
	Held      decimal.Decimal `json:"held"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
	Available decimal.Decimal `json:"available"`
}

func (svc *PayhubService) referralSummary(ctx context.Context, tx Store, userID int64) (*ReferralSummary, error) {
	accrued, err := tx.ReferralTotal(ctx, userID, common.ReferralEntryAccrual, zeroTime)
	if err != nil {
		return nil, err
	}
	released, err := tx.ReferralTotal(ctx, userID, common.ReferralEntryAccrual, svc.now().Add(-svc.Config.ReferralHold))
	if err != nil {
		return nil, err
	}
	withdrawn, err := tx.ReferralTotal(ctx, userID, common.ReferralEntryWithdraw, zeroTime)
	if err != nil {
		return nil, err
	}
	available := released.Sub(withdrawn)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return &ReferralSummary{
		UserID:    userID,
		Accrued:   accrued,
		Held:      accrued.Sub(released),
		Withdrawn: withdrawn,
		Available: available,
	}, nil
}

// ReferralSummary reports the referral earnings of a user. Accruals younger
// than the hold period can not be withdrawn yet.
func (svc *PayhubService) ReferralSummary(ctx context.Context, userID int64) (*ReferralSummary, error) {
	if _, err := svc.Store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return svc.referralSummary(ctx, svc.Store, userID)
}

// WithdrawReferral moves the available referral earnings to the user's current balance.
func (svc *PayhubService) WithdrawReferral(ctx context.Context, userID int64) (decimal.Decimal, error) {
	if _, err := svc.Store.GetUser(ctx, userID); err != nil {
		return decimal.Zero, err
	}
	var amount decimal.Decimal
	err := svc.Store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.Lock(ctx, referralLockKey(userID)); err != nil {
			return err
		}
		summary, err := svc.referralSummary(ctx, tx, userID)
		if err != nil {
			return err
		}
		amount = roundMoney(summary.Available)
		if !amount.IsPositive() {
			return ErrNothingToWithdraw
		}
		now := svc.now()
		err = tx.InsertReferralEntry(ctx, &models.ReferralEntry{
			PayerID:       userID,
			BeneficiaryID: userID,
			Amount:        amount,
			Type:          common.ReferralEntryWithdraw,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}
		return tx.InsertBalanceEntry(ctx, &models.BalanceEntry{
			UserID:    userID,
			Account:   common.AccountTypeCurrent,
			EntryType: common.BalanceEntryReferralWithdraw,
			Amount:    amount,
			CreatedAt: now,
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	svc.Logger.Infof("Referral earnings withdrawn user_id:%d amount:%s", userID, amount)
	return amount, nil
}
