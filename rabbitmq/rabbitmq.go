package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gemups/payhub/db/models"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"
)

// bufPool reuses the buffers settlement events are encoded into.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

const (
	contentTypeJSON = "application/json"

	chainTransferRoutingKey = "transfer.incoming.#"
)

type (
	ChainTransferHandler       = func(ctx context.Context, transfer models.ChainTransfer) error
	SubscribeToSettlementsFunc = func() (in chan models.SettledTransaction, unsubscribe func(), err error)
	EncodeSettlementFunc       = func(ctx context.Context, w io.Writer, event models.SettledTransaction) error
)

type Client interface {
	// SubscribeToChainTransfers feeds the transfers published by the chain
	// watchers to handler until ctx is done
	SubscribeToChainTransfers(context.Context, ChainTransferHandler) error
	StartPublishSettlements(context.Context, SubscribeToSettlementsFunc, EncodeSettlementFunc) error
	PublishFulfillment(context.Context, models.FulfillmentRequest) error
	// Close will close all connections to rabbitmq
	Close() error
}

type DefaultClient struct {
	amqpClient AMQPClient

	logger *lecho.Logger

	chainTransferQueueName string
	chainTransferExchange  string
	settlementExchange     string
	fulfillmentExchange    string

	declaredMu sync.Mutex
	declared   map[string]bool
}

type ClientOption = func(client *DefaultClient)

func WithChainTransferExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.chainTransferExchange = exchange
	}
}

func WithChainTransferQueueName(name string) ClientOption {
	return func(client *DefaultClient) {
		client.chainTransferQueueName = name
	}
}

func WithSettlementExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.settlementExchange = exchange
	}
}

func WithFulfillmentExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.fulfillmentExchange = exchange
	}
}

func WithLogger(logger *lecho.Logger) ClientOption {
	return func(client *DefaultClient) {
		client.logger = logger
	}
}

// Dial connects to rabbitmq and returns a client that reconnects on failure.
func Dial(uri string, options ...ClientOption) (Client, error) {
	client := newDefaultClient(options...)
	amqpClient, err := DialAMQP(uri, client.logger)
	if err != nil {
		return nil, err
	}
	client.amqpClient = amqpClient
	return client, nil
}

func NewClient(amqpClient AMQPClient, options ...ClientOption) (Client, error) {
	client := newDefaultClient(options...)
	client.amqpClient = amqpClient
	return client, nil
}

func newDefaultClient(options ...ClientOption) *DefaultClient {
	client := &DefaultClient{
		logger: lecho.New(
			os.Stdout,
			lecho.WithLevel(log.DEBUG),
			lecho.WithTimestamp(),
		),

		chainTransferQueueName: "chain_transfer_consumer",
		chainTransferExchange:  "chain_transfer",
		settlementExchange:     "payhub_transaction",
		fulfillmentExchange:    "payhub_fulfillment",

		declared: map[string]bool{},
	}
	for _, opt := range options {
		opt(client)
	}
	return client
}

func (client *DefaultClient) Close() error { return client.amqpClient.Close() }

func (client *DefaultClient) declareExchange(name string) error {
	client.declaredMu.Lock()
	defer client.declaredMu.Unlock()
	if client.declared[name] {
		return nil
	}
	err := client.amqpClient.ExchangeDeclare(
		name,
		// topic exchanges route on the routing key
		"topic",
		// durable and not auto deleted: survives broker restarts
		true,
		false,
		// non internal exchanges accept direct publishing
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}
	client.declared[name] = true
	return nil
}

func (client *DefaultClient) SubscribeToChainTransfers(ctx context.Context, handler ChainTransferHandler) error {
	deliveries, err := client.amqpClient.Listen(ctx, client.chainTransferExchange, chainTransferRoutingKey, client.chainTransferQueueName)
	if err != nil {
		return err
	}

	client.logger.Info("Starting chain transfer consumer loop")
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("disconnected from RabbitMQ")
			}
			var transfer models.ChainTransfer

			err := json.Unmarshal(delivery.Body, &transfer)
			if err != nil {
				captureErr(client.logger, err)

				// badly formatted events are dropped, not requeued
				if err := delivery.Nack(false, false); err != nil {
					captureErr(client.logger, err)
				}
				continue
			}

			err = handler(ctx, transfer)
			if err != nil {
				captureErr(client.logger, err)

				// requeueing a failing transfer would loop, the scanner
				// picks the transfer up from the wallet history instead
				if err := delivery.Nack(false, false); err != nil {
					captureErr(client.logger, err)
				}
				continue
			}

			if err := delivery.Ack(false); err != nil {
				captureErr(client.logger, err)
			}
		}
	}
}

func (client *DefaultClient) StartPublishSettlements(ctx context.Context, subscribeFunc SubscribeToSettlementsFunc, encodeFunc EncodeSettlementFunc) error {
	if err := client.declareExchange(client.settlementExchange); err != nil {
		return err
	}

	in, unsubscribe, err := subscribeFunc()
	if err != nil {
		return err
	}
	defer unsubscribe()

	client.logger.Info("Starting rabbitmq settlement publisher")
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case event := <-in:
			if err := client.publishSettlement(ctx, event, encodeFunc); err != nil {
				captureErr(client.logger, err)
			}
		}
	}
}

func (client *DefaultClient) publishSettlement(ctx context.Context, event models.SettledTransaction, encodeFunc EncodeSettlementFunc) error {
	payload := bufPool.Get().(*bytes.Buffer)
	payload.Reset()
	defer bufPool.Put(payload)

	if err := encodeFunc(ctx, payload, event); err != nil {
		return err
	}

	key := fmt.Sprintf("transaction.%s.%s", event.Kind, event.Status)
	err := client.amqpClient.PublishWithContext(ctx,
		client.settlementExchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType: contentTypeJSON,
			Body:        payload.Bytes(),
		},
	)
	if err != nil {
		return err
	}

	client.logger.Debugf("Published settlement to rabbitmq transaction_id:%s", event.TransactionID)
	return nil
}

// PublishFulfillment asks the provisioning workers to deliver a product.
func (client *DefaultClient) PublishFulfillment(ctx context.Context, req models.FulfillmentRequest) error {
	if err := client.declareExchange(client.fulfillmentExchange); err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("fulfillment.%s", req.ProductKind)
	err = client.amqpClient.PublishWithContext(ctx,
		client.fulfillmentExchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent,
			MessageId:    req.TransactionID,
			Body:         body,
		},
	)
	if err != nil {
		return err
	}

	client.logger.Debugf("Published fulfillment request transaction_id:%s product_id:%d", req.TransactionID, req.ProductID)
	return nil
}

func captureErr(logger *lecho.Logger, err error) {
	logger.Error(err)
	sentry.CaptureException(err)
}
