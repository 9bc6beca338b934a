package service

import (
	"context"

	"github.com/gemups/payhub/db/models"
	"github.com/ziflex/lecho/v3"
)

// Fulfiller provisions externally delivered goods once they are paid.
type Fulfiller interface {
	Provision(ctx context.Context, req models.FulfillmentRequest) error
}

type FulfillerFunc func(ctx context.Context, req models.FulfillmentRequest) error

func (f FulfillerFunc) Provision(ctx context.Context, req models.FulfillmentRequest) error {
	return f(ctx, req)
}

// LogFulfiller only records the request. It is used when no message broker is configured.
type LogFulfiller struct {
	Logger *lecho.Logger
}

func (f LogFulfiller) Provision(ctx context.Context, req models.FulfillmentRequest) error {
	f.Logger.Infof("Fulfillment requested transaction_id:%s product_id:%d quantity:%d", req.TransactionID, req.ProductID, req.Quantity)
	return nil
}

// provision runs after the settlement committed. A failed request is logged and
// reported, the settlement stays in place.
func (svc *PayhubService) provision(ctx context.Context, req models.FulfillmentRequest) {
	if svc.Fulfiller == nil {
		return
	}
	timeout := svc.Config.FulfillmentTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := svc.Fulfiller.Provision(ctx, req); err != nil {
		svc.Logger.Errorf("Fulfillment request failed transaction_id:%s error:%v", req.TransactionID, err)
		svc.captureErr(err)
	}
}
