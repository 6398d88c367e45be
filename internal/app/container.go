package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"flashsaleservice/internal/catalog"
	"flashsaleservice/internal/clock"
	"flashsaleservice/internal/config"
	"flashsaleservice/internal/orderno"
	"flashsaleservice/internal/ordertask"
	"flashsaleservice/internal/platform/kafka"
	"flashsaleservice/internal/platform/metrics"
	"flashsaleservice/internal/platform/observability"
	"flashsaleservice/internal/resultcache"
	"flashsaleservice/internal/stock"
	"flashsaleservice/internal/storage/postgres"
	"flashsaleservice/migrations"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Container holds expensive-to-create singleton resources and dependencies
type Container struct {
	config            *config.Config
	logger            *zap.Logger
	tracer            observability.Tracer
	metrics           *metrics.Recorder
	metricsServer     *http.Server
	pool              *pgxpool.Pool
	redis             *redis.Client
	messageConsumer   kafka.Consumer
	taskProducer      kafka.Producer
	resultProducer    kafka.Producer
	service           *ordertask.Service
	requeuer          *ordertask.Requeuer
	consumerService   ordertask.ConsumerService
	otelLogShutdown   func(context.Context) error
	otelTraceShutdown func(context.Context) error
}

// NewContainer creates and initializes all infrastructure components
func NewContainer(ctx context.Context) (*Container, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	c := &Container{
		config:  cfg,
		metrics: metrics.NewRecorder(),
	}

	if err := c.setupLogger(); err != nil {
		return nil, err
	}

	tp := c.setupObservability(ctx)

	if err := c.setupStorage(ctx); err != nil {
		c.Shutdown(context.Background())
		return nil, err
	}
	if err := c.setupKafkaWithTracer(tp); err != nil {
		c.Shutdown(context.Background())
		return nil, err
	}
	if err := c.setupOrderPipeline(ctx); err != nil {
		c.Shutdown(context.Background())
		return nil, err
	}
	c.setupMetricsServer()

	return c, nil
}

// setupLogger installs a plain production logger used until the OTel bridge is ready
func (c *Container) setupLogger() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

// setupObservability configures OpenTelemetry logging and tracing. Export
// failures are logged and the service keeps running without them.
func (c *Container) setupObservability(ctx context.Context) trace.TracerProvider {
	otelLogShutdown, err := observability.SetupLoggingSDK(ctx, c.config)
	if err != nil {
		c.logger.Error("Failed to setup OpenTelemetry logging", zap.Error(err))
	}
	c.otelLogShutdown = otelLogShutdown

	tp, otelTraceShutdown, err := observability.SetupTracingSDK(ctx, c.config)
	if err != nil {
		c.logger.Error("Failed to setup OpenTelemetry tracing", zap.Error(err))
	}
	c.otelTraceShutdown = otelTraceShutdown

	c.logger = observability.NewLogger()
	c.logger.Info("Logger re-initialized with OpenTelemetry bridge",
		zap.Bool("otel_export", c.config.TracingEnabled()),
	)

	c.tracer = otel.Tracer(config.ServiceName)
	if tp == nil {
		return otel.GetTracerProvider()
	}
	return tp
}

func (c *Container) setupStorage(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, c.config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	c.pool = pool
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach postgres: %w", err)
	}
	if err := migrations.Apply(ctx, pool); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// The memory backend runs as a single instance and needs no Redis.
	if c.config.StockBackend == config.StockBackendRedis {
		client, err := resultcache.NewClient(ctx, c.config.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.redis = client
	}

	c.logger.Info("Storage ready", zap.String("stock_backend", c.config.StockBackend))
	return nil
}

// setupKafkaWithTracer initializes the task reader and the two writers with OpenTelemetry
func (c *Container) setupKafkaWithTracer(tp trace.TracerProvider) error {
	baseReader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: []string{c.config.KafkaBroker},
		Topic:   config.PlaceOrderTaskTopic,
		GroupID: config.GroupID,
	})
	reader, err := otelkafka.NewReader(baseReader)
	if err != nil {
		return err
	}
	c.messageConsumer = reader

	if c.taskProducer, err = c.newWriter(tp, config.PlaceOrderTaskTopic); err != nil {
		return err
	}
	if c.resultProducer, err = c.newWriter(tp, config.PlaceOrderHandledTopic); err != nil {
		return err
	}
	return nil
}

// newWriter builds a traced writer that partitions by message key, so all
// messages for one task share a partition.
func (c *Container) newWriter(tp trace.TracerProvider, topic string) (kafka.Producer, error) {
	baseWriter := &kafkago.Writer{
		Addr:         kafkago.TCP(c.config.KafkaBroker),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: config.BatchTimeout,
		BatchSize:    config.BatchSize,
		RequiredAcks: kafkago.RequireAll,
	}

	writer, err := otelkafka.NewWriter(baseWriter,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(topic),
				attribute.String("messaging.kafka.client_id", config.ServiceName),
			},
		),
	)
	if err != nil {
		return nil, err
	}
	return writer, nil
}

func (c *Container) setupOrderPipeline(ctx context.Context) error {
	clk := clock.NewSystem()

	catalogService := catalog.NewService(postgres.NewCatalogRepository(c.pool), clk)
	tasks := postgres.NewTaskRepository(c.pool)
	orders := postgres.NewOrderRepository(c.pool)

	var (
		ledger  stock.Ledger
		results ordertask.ResultCache
	)
	switch c.config.StockBackend {
	case config.StockBackendMemory:
		ledger = stock.NewArena()
		results = resultcache.NewMemory(clk)
	default:
		ledger = stock.NewRedisLedger(c.redis)
		results = resultcache.NewRedis(c.redis, ordertask.ResultCacheKeyPrefix)
	}
	seeded, err := catalogService.SeedStock(ctx, ledger)
	if err != nil {
		return fmt.Errorf("failed to seed stock: %w", err)
	}
	c.logger.Info("Stock seeded", zap.Int("items", seeded))

	pending, err := orders.PendingReconciliations(ctx)
	if err != nil {
		c.logger.Warn("Failed to read stock reconciliations", zap.Error(err))
	} else if len(pending) > 0 {
		c.logger.Warn("Unresolved stock reconciliations present", zap.Int("count", len(pending)))
	}

	orderIDs, err := orderno.NewGenerator(c.config.WorkerID, clk)
	if err != nil {
		return err
	}

	processor := ordertask.NewProcessor(ordertask.ProcessorDeps{
		Catalog:    catalogService,
		Stock:      ledger,
		OrderIDs:   orderIDs,
		Orders:     orders,
		Reconciler: orders,
		Tasks:      tasks,
		Results:    results,
		Clock:      clk,
		Metrics:    c.metrics,
		Logger:     c.logger,
		Tracer:     c.tracer,
	})

	publisher := ordertask.NewKafkaTaskPublisher(c.taskProducer)
	c.service = ordertask.NewService(
		catalogService,
		ordertask.NewIDGenerator(c.config.TaskIDSecret),
		tasks,
		publisher,
		results,
		clk,
		c.logger,
		ordertask.WithServiceMetrics(c.metrics),
	)
	c.requeuer = ordertask.NewRequeuer(tasks, publisher, clk, c.logger, ordertask.WithRequeueMetrics(c.metrics))

	handler := ordertask.NewMessageHandler(processor, c.resultProducer, c.logger)
	c.consumerService = ordertask.NewConsumerService(c.messageConsumer, handler, c.logger)
	return nil
}

func (c *Container) setupMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.metrics.Handler())
	c.metricsServer = &http.Server{
		Addr:              c.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ServeMetrics blocks serving /metrics until the server is shut down.
func (c *Container) ServeMetrics() error {
	c.logger.Info("Serving metrics", zap.String("addr", c.config.MetricsAddr))
	if err := c.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down all infrastructure components
func (c *Container) Shutdown(ctx context.Context) {
	c.logger.Info("Shutting down infrastructure...")

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			c.logger.Error("Failed to stop metrics server", zap.Error(err))
		}
	}

	for name, closer := range map[string]kafka.Producer{"task": c.taskProducer, "result": c.resultProducer} {
		if closer == nil {
			continue
		}
		if err := closer.Close(); err != nil {
			c.logger.Error("Failed to close message producer", zap.String("producer", name), zap.Error(err))
		}
	}
	if c.messageConsumer != nil {
		if err := c.messageConsumer.Close(); err != nil {
			c.logger.Error("Failed to close message consumer", zap.Error(err))
		}
	}

	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.Error("Failed to close redis client", zap.Error(err))
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}

	if c.otelTraceShutdown != nil {
		if err := c.otelTraceShutdown(ctx); err != nil {
			c.logger.Error("Failed to shutdown OTel tracing", zap.Error(err))
		}
	}
	if c.otelLogShutdown != nil {
		if err := c.otelLogShutdown(ctx); err != nil {
			c.logger.Error("Failed to shutdown OTel logging", zap.Error(err))
		}
	}

	c.logger.Info("Infrastructure shutdown complete")
	_ = c.logger.Sync()
}

// Getters for accessing infrastructure components
func (c *Container) Logger() observability.Logger               { return c.logger }
func (c *Container) Metrics() *metrics.Recorder                 { return c.metrics }
func (c *Container) Service() *ordertask.Service                { return c.service }
func (c *Container) Requeuer() *ordertask.Requeuer              { return c.requeuer }
func (c *Container) ConsumerService() ordertask.ConsumerService { return c.consumerService }
