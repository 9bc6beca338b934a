package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gemups/payhub/db"
	"github.com/gemups/payhub/db/migrations"
	"github.com/gemups/payhub/db/models"
	"github.com/gemups/payhub/lib/logging"
	"github.com/gemups/payhub/lib/registry"
	"github.com/gemups/payhub/lib/service"
	"github.com/gemups/payhub/lib/tokens"
	"github.com/gemups/payhub/lib/transport"
	"github.com/gemups/payhub/okx"
	"github.com/gemups/payhub/oracle"
	"github.com/gemups/payhub/rabbitmq"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/migrate"
	ddEcho "gopkg.in/DataDog/dd-trace-go.v1/contrib/labstack/echo.v4"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

func main() {

	c := &service.Config{}

	// Load configuration from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	// Setup logging to STDOUT or a configured log file
	logger := logging.Logger(c.LogFilePath)

	// Open a DB connection based on the configured DATABASE_URI
	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}
	defer dbConn.Close()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Duration(c.DatabaseTimeout)*time.Second)
	defer cancelStartup()
	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	err = migrator.Init(startupCtx)
	if err != nil {
		logger.Fatalf("Error initializing db migrator: %v", err)
	}
	_, err = migrator.Migrate(startupCtx)
	if err != nil {
		logger.Fatalf("Error migrating database: %v", err)
	}

	// sentry init needs to happen before the echo middlewares are added
	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{
			Dsn:              c.SentryDSN,
			IgnoreErrors:     []string{"401"},
			EnableTracing:    c.SentryTracesSampleRate > 0,
			TracesSampleRate: c.SentryTracesSampleRate,
		}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	tokenRegistry, err := registry.Load(c.TokenRegistryPath)
	if err != nil {
		logger.Fatalf("Error loading token registry: %v", err)
	}

	var priceSource oracle.PriceSource = oracle.NewBinanceClient(c.OracleURL, c.OracleTimeout, logger)
	if c.RedisURL != "" {
		redisOptions, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			logger.Fatalf("Error parsing REDIS_URL: %v", err)
		}
		redisClient := redis.NewClient(redisOptions)
		defer redisClient.Close()
		priceSource = oracle.NewCachedSource(priceSource, redisClient, c.OracleCacheTTL, logger)
	}

	svc := &service.PayhubService{
		Config:           c,
		Store:            db.NewStore(dbConn),
		Oracle:           oracle.New(priceSource, c.StableCurrencies),
		Registry:         tokenRegistry,
		Fulfiller:        service.LogFulfiller{Logger: logger},
		Logger:           logger,
		SettlementPubSub: service.NewPubsub(),
	}

	// If no RABBITMQ_URI was provided we will not attempt to create a client
	// and fulfillment requests are only logged.
	var rabbitmqClient rabbitmq.Client
	if c.RabbitMQUri != "" {
		rabbitmqClient, err = rabbitmq.Dial(c.RabbitMQUri,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithFulfillmentExchange(c.RabbitMQFulfillmentExchange),
			rabbitmq.WithSettlementExchange(c.RabbitMQSettlementExchange),
			rabbitmq.WithChainTransferExchange(c.RabbitMQChainTransferExchange),
			rabbitmq.WithChainTransferQueueName(c.RabbitMQChainTransferQueueName),
		)
		if err != nil {
			logger.Fatal(err)
		}
		// close the connection gently at the end of the runtime
		defer rabbitmqClient.Close()

		svc.Fulfiller = service.FulfillerFunc(rabbitmqClient.PublishFulfillment)
	}

	e := transport.InitEcho(c, logger)
	//if Datadog is configured, add datadog middleware
	if c.DatadogAgentUrl != "" {
		tracer.Start(tracer.WithAgentAddr(c.DatadogAgentUrl))
		defer tracer.Stop()
		e.Use(ddEcho.Middleware(ddEcho.WithServiceName("payhub")))
	}

	// the prometheus middleware has to be added before the routes
	var echoPrometheus *echo.Echo
	if c.EnablePrometheus {
		echoPrometheus = transport.StartPrometheusEcho(logger, svc, e)
	}

	cacheClient, err := transport.CreateCacheClient(10 * time.Minute)
	if err != nil {
		logger.Fatalf("Error creating cache client: %v", err)
	}
	logMw := transport.CreateLoggingMiddleware(logger)
	transport.RegisterV1Endpoints(svc, e, tokens.AdminTokenMiddleware(c.AdminToken), logMw, cacheClient.Middleware())

	var backgroundWg sync.WaitGroup
	backGroundCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if c.EnableScanner {
		okxConfig, err := okx.LoadConfig()
		if err != nil {
			logger.Fatalf("Error loading OKX config: %v", err)
		}
		scanner := svc.NewScanner(okx.NewClient(okxConfig, logger))
		backgroundWg.Add(1)
		go func() {
			defer backgroundWg.Done()
			if err := scanner.Start(backGroundCtx); err != nil {
				sentry.CaptureException(err)
				svc.Logger.Error(err)
			}
			svc.Logger.Info("Chain scanner done")
		}()
	}

	//Start webhook subscription
	if c.WebhookUrl != "" {
		backgroundWg.Add(1)
		go func() {
			defer backgroundWg.Done()
			svc.StartWebhookSubscription(backGroundCtx, c.WebhookUrl)
			svc.Logger.Info("Webhook routine done")
		}()
	}

	if rabbitmqClient != nil {
		backgroundWg.Add(2)
		go func() {
			defer backgroundWg.Done()
			err := rabbitmqClient.StartPublishSettlements(backGroundCtx, svc.SubscribeToSettlements, svc.EncodeSettlement)
			if err != nil && err != context.Canceled {
				svc.Logger.Error(err)
				sentry.CaptureException(err)
			}
			svc.Logger.Info("Rabbit settlement publisher done")
		}()
		go func() {
			defer backgroundWg.Done()
			err := rabbitmqClient.SubscribeToChainTransfers(backGroundCtx, func(ctx context.Context, transfer models.ChainTransfer) error {
				outcome, err := svc.IngestChainTransfer(ctx, transfer)
				if err != nil {
					return err
				}
				if !outcome.Accepted {
					return fmt.Errorf("chain transfer %s rejected: %w", transfer.TxHash, outcome.Reason)
				}
				return nil
			})
			if err != nil && err != context.Canceled {
				svc.Logger.Error(err)
				sentry.CaptureException(err)
			}
			svc.Logger.Info("Rabbit chain transfer consumer done")
		}()
	}

	// Start server
	go func() {
		if err := e.Start(fmt.Sprintf(":%v", c.Port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	<-backGroundCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Error(err)
	}
	if echoPrometheus != nil {
		if err := echoPrometheus.Shutdown(ctx); err != nil {
			e.Logger.Error(err)
		}
	}
	//Wait for graceful shutdown of background routines
	backgroundWg.Wait()
	svc.Logger.Info("Payhub exiting gracefully. Goodbye.")
}
