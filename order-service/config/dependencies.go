package config

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/codeexpert/order-saga/order-service/application"
	"github.com/codeexpert/order-saga/order-service/domain"
	"github.com/codeexpert/order-saga/order-service/handlers"
	"github.com/codeexpert/order-saga/order-service/infrastructure"
	sharedinfra "github.com/codeexpert/order-saga/shared/infrastructure"
	"github.com/codeexpert/order-saga/shared/messaging"
	"github.com/codeexpert/order-saga/shared/telemetry"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Dependencies struct {
	Logger zerolog.Logger

	// Database
	DB *sqlx.DB

	// Repositories
	SagaRepository domain.SagaRepository

	// Use Cases
	StartOrder      *application.StartOrder
	GetOrder        *application.GetOrder
	HandleSagaEvent *application.HandleSagaEvent
	RecoverSagas    *application.RecoverInFlightSagas
	SweepStalled    *application.SweepStalledSagas

	// HTTP Handlers
	OrderHandlers *handlers.OrderHandlers

	// Event Handlers
	SagaEventHandlers *handlers.SagaEventHandlers

	// Infrastructure
	CommandPublisher *sharedinfra.SNSCommandPublisher
	EventSubscriber  *sharedinfra.SQSEventSubscriber

	// Telemetry
	Telemetry         *telemetry.Telemetry
	telemetryShutdown func()

	redisClient *redis.Client
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	deps := &Dependencies{}

	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", config.ServiceName).
		Str("env", config.Env).
		Logger()
	deps.Logger = logger

	// Initialize telemetry
	tel, telShutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    config.ServiceName,
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   config.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	deps.Telemetry = tel
	deps.telemetryShutdown = telShutdown

	// Initialize database
	db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	deps.DB = db

	// Initialize AWS infrastructure
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	snsClient := sns.NewFromConfig(awsCfg)

	commandPublisher := sharedinfra.NewSNSCommandPublisher(snsClient, map[messaging.Topic]string{
		messaging.TopicPaymentCommands:   config.AWS.PaymentCommandsTopicArn,
		messaging.TopicInventoryCommands: config.AWS.InventoryCommandsTopicArn,
		messaging.TopicShippingCommands:  config.AWS.ShippingCommandsTopicArn,
	})
	deps.CommandPublisher = commandPublisher

	deadLetter := sharedinfra.NewSNSDeadLetterSink(snsClient, config.AWS.DeadLetterTopicArn, logger)

	// Initialize repositories
	var sagaRepository domain.SagaRepository = infrastructure.NewPostgresSagaRepository(db)
	if config.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{Addr: config.Redis.Addr})
		deps.redisClient = redisClient
		sagaRepository = infrastructure.NewRedisSagaCache(sagaRepository, redisClient, config.Redis.TTL, logger)
	}
	deps.SagaRepository = sagaRepository

	dispatcher := application.NewCommandDispatcher(commandPublisher, config.Dispatch.Attempts, config.Dispatch.BaseDelay, logger)

	// Initialize use cases
	deps.StartOrder = application.NewStartOrder(sagaRepository, dispatcher, logger)
	deps.GetOrder = application.NewGetOrder(sagaRepository)
	deps.HandleSagaEvent = application.NewHandleSagaEvent(sagaRepository, dispatcher, logger)
	deps.RecoverSagas = application.NewRecoverInFlightSagas(sagaRepository, dispatcher, logger)
	deps.SweepStalled = application.NewSweepStalledSagas(
		sagaRepository,
		dispatcher,
		application.TimeoutPolicy(config.Watchdog.Policy),
		config.Watchdog.SLA,
		logger,
	)

	// Initialize handlers
	deps.OrderHandlers = handlers.NewOrderHandlers(deps.StartOrder, deps.GetOrder)
	deps.SagaEventHandlers = handlers.NewSagaEventHandlers(deps.HandleSagaEvent, logger)

	// Inbound events are serialized per order before they reach the use case.
	correlator := application.NewCorrelator(deps.SagaEventHandlers, logger)

	eventSubscriber, err := sharedinfra.NewSQSEventSubscriberFromConfig(
		ctx,
		config.AWS.EventsQueueURL,
		correlator,
		deadLetter,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQS subscriber: %w", err)
	}
	deps.EventSubscriber = eventSubscriber

	return deps, nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.EventSubscriber != nil {
		if err := d.EventSubscriber.Stop(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop event subscriber: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}

	if d.telemetryShutdown != nil {
		d.telemetryShutdown()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
