package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/db/models"
)

const webhookTimeout = 10 * time.Second

// StartWebhookSubscription posts every settled transaction to the configured
// webhook url until ctx is done.
func (svc *PayhubService) StartWebhookSubscription(ctx context.Context, url string) {
	svc.Logger.Infof("Starting webhook subscription with webhook url %s", url)
	settled := make(chan models.SettledTransaction, 64)
	subID, err := svc.SettlementPubSub.Subscribe(common.TopicTransactionSettled, settled)
	if err != nil {
		svc.Logger.Error(err)
		return
	}
	defer svc.SettlementPubSub.Unsubscribe(subID, common.TopicTransactionSettled)
	client := &http.Client{Timeout: webhookTimeout}
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-settled:
			svc.postToWebhook(ctx, client, url, event)
		}
	}
}

func (svc *PayhubService) postToWebhook(ctx context.Context, client *http.Client, url string, event models.SettledTransaction) {
	payload := new(bytes.Buffer)
	err := json.NewEncoder(payload).Encode(event)
	if err != nil {
		svc.Logger.Error(err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		svc.Logger.Error(err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		svc.Logger.Error(err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, err := io.ReadAll(resp.Body)
		if err != nil {
			svc.Logger.Error(err)
		}
		svc.Logger.Errorf("Webhook status code was %d, body: %s transaction_id:%s", resp.StatusCode, msg, event.TransactionID)
	}
}
