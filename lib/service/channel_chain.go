package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gemups/payhub/db/models"
	"github.com/gemups/payhub/lib/security"
)

type chainHandler struct {
	svc *PayhubService
}

// Reconcile matches a chain transfer. Stored entries and transfers from the
// broker are trusted, pushed transfers must carry a valid signature.
func (h *chainHandler) Reconcile(ctx context.Context, n Notification) (*Outcome, error) {
	switch {
	case n.Entry != nil:
		return h.svc.matchLedgerEntry(ctx, n.Entry)
	case n.Transfer != nil:
		return h.svc.ingestTransfer(ctx, *n.Transfer)
	}
	ok, err := security.Verify(n.Payload, h.svc.Config.CryptoSecretKey)
	if err != nil || !ok {
		return rejected(ErrInvalidSignature), nil
	}
	transfer := models.ChainTransfer{}
	if err := json.Unmarshal(n.Payload, &transfer); err != nil {
		return &Outcome{Reason: fmt.Errorf("decode chain transfer: %w", err)}, nil
	}
	if transfer.TxHash == "" {
		return &Outcome{Reason: fmt.Errorf("chain transfer without tx_hash")}, nil
	}
	return h.svc.ingestTransfer(ctx, transfer)
}
