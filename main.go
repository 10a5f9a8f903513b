package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fieldhaven/atlas/config"
	blacklistrepo "github.com/fieldhaven/atlas/internal/repositories/blacklist"
	decisionrepo "github.com/fieldhaven/atlas/internal/repositories/decision"
	entityrepo "github.com/fieldhaven/atlas/internal/repositories/entity"
	identifierrepo "github.com/fieldhaven/atlas/internal/repositories/identifier"
	identityedgerepo "github.com/fieldhaven/atlas/internal/repositories/identityedge"
	matchconfigrepo "github.com/fieldhaven/atlas/internal/repositories/matchconfig"
	observationrepo "github.com/fieldhaven/atlas/internal/repositories/observation"
	quarantinerepo "github.com/fieldhaven/atlas/internal/repositories/quarantine"
	reviewqueuerepo "github.com/fieldhaven/atlas/internal/repositories/reviewqueue"
	"github.com/fieldhaven/atlas/pkg/database"
	"github.com/fieldhaven/atlas/pkg/events"
	"github.com/fieldhaven/atlas/pkg/kafka"
	"github.com/fieldhaven/atlas/pkg/matching"
	"github.com/fieldhaven/atlas/pkg/merging"
	"github.com/fieldhaven/atlas/pkg/middleware"
	"github.com/fieldhaven/atlas/pkg/pipeline"
	"github.com/fieldhaven/atlas/pkg/redisq"
	reviewsvc "github.com/fieldhaven/atlas/pkg/review"
	blacklistroutes "github.com/fieldhaven/atlas/pkg/routes/blacklist"
	entityroutes "github.com/fieldhaven/atlas/pkg/routes/entity"
	"github.com/fieldhaven/atlas/pkg/routes/health"
	matchconfigroutes "github.com/fieldhaven/atlas/pkg/routes/matchconfig"
	observationroutes "github.com/fieldhaven/atlas/pkg/routes/observation"
	quarantineroutes "github.com/fieldhaven/atlas/pkg/routes/quarantine"
	reviewroutes "github.com/fieldhaven/atlas/pkg/routes/review"
	"github.com/fieldhaven/atlas/pkg/startup"
	"github.com/fieldhaven/atlas/pkg/tracing"
	"github.com/fieldhaven/atlas/pkg/tracing/exporters"
)

const version = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment")
	}

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(&exporters.ConsoleExporter{}))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())
	tracing.SetTracer(cfg.AppName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func run(cfg config.Config, logger ectologger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := runMigrations(cfg, logger, db); err != nil {
		return err
	}

	redisClient, err := redisq.NewClient(redisq.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	dbi := database.NewDatabaseInstance(db, logger)

	entities := entityrepo.NewRepository(dbi, logger)
	observations := observationrepo.NewRepository(dbi, logger)
	identifiers := identifierrepo.NewRepository(dbi, logger)
	edges := identityedgerepo.NewRepository(dbi, logger)
	decisions := decisionrepo.NewRepository(dbi, logger)
	reviews := reviewqueuerepo.NewRepository(dbi, logger)
	matchconfigs := matchconfigrepo.NewRepository(dbi, logger)
	blacklist := blacklistrepo.NewRepository(dbi, logger)
	quarantine := quarantinerepo.NewRepository(dbi, logger)

	locker := redisq.NewLocker(redisClient, cfg.AppName, cfg.LockTTL, cfg.LockTimeout)
	streams := redisq.NewStreams(redisClient)
	dlq := redisq.NewDeadLetterQueue(redisClient, cfg.QueueDLQStream, logger)

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, logger)
	defer producer.Close()

	emitter := events.NewEmitter(producer, logger)

	normalizer := pipeline.NewNormalizer(blacklist, logger)
	reindexer := pipeline.NewReindexer(observations, identifiers, normalizer, logger)
	engine := merging.NewEngine(logger, dbi, entities, identifiers, edges, reviews, locker, emitter)
	candidates := matching.NewCandidateGenerator(identifiers, engine, logger)
	resolver := pipeline.NewResolver(logger, observations, entities, identifiers, matchconfigs,
		normalizer, candidates, engine, reviews, decisions, edges, locker, emitter)
	reviewManager := reviewsvc.NewManager(logger, reviews, engine, edges, decisions)
	intake := pipeline.NewIntake(observations, reviews, streams, cfg.QueueStream, logger)

	processorCfg := pipeline.DefaultProcessorConfig()
	processorCfg.Stream = cfg.QueueStream
	processorCfg.ConsumerGroup = cfg.QueueConsumerGroup
	if cfg.QueueConsumerName != "" {
		processorCfg.ConsumerName = cfg.QueueConsumerName
	}
	processorCfg.WorkerCount = cfg.QueueWorkerCount
	processorCfg.BatchSize = int64(cfg.QueueBatchSize)
	processorCfg.MaxRetries = cfg.QueueMaxRetries
	processorCfg.ClaimInterval = cfg.QueueClaimInterval
	processorCfg.ClaimMinIdle = cfg.QueueClaimMinIdle
	processor := pipeline.NewProcessor(streams, dlq, resolver, quarantine, observations, processorCfg, logger)

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       cfg.KafkaBrokers,
		Topic:         cfg.KafkaInputTopic,
		ConsumerGroup: cfg.KafkaConsumerGroup,
	}, logger, intake.HandleMessage)

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	registrations := []error{
		ectoinject.RegisterInstance[ectologger.Logger](container, logger),
		ectoinject.RegisterInstance[*entityrepo.Repository](container, entities),
		ectoinject.RegisterInstance[*observationrepo.Repository](container, observations),
		ectoinject.RegisterInstance[*identifierrepo.Repository](container, identifiers),
		ectoinject.RegisterInstance[*identityedgerepo.Repository](container, edges),
		ectoinject.RegisterInstance[*decisionrepo.Repository](container, decisions),
		ectoinject.RegisterInstance[*matchconfigrepo.Repository](container, matchconfigs),
		ectoinject.RegisterInstance[*blacklistrepo.Repository](container, blacklist),
		ectoinject.RegisterInstance[*quarantinerepo.Repository](container, quarantine),
		ectoinject.RegisterInstance[*merging.Engine](container, engine),
		ectoinject.RegisterInstance[*pipeline.Reindexer](container, reindexer),
		ectoinject.RegisterInstance[*reviewsvc.Manager](container, reviewManager),
		ectoinject.RegisterInstance[*pipeline.Intake](container, intake),
		ectoinject.RegisterInstance[*pipeline.Processor](container, processor),
	}
	for _, err := range registrations {
		if err != nil {
			return fmt.Errorf("failed to register dependency: %w", err)
		}
	}

	checker := health.NewChecker(db, redisClient, processor, version)
	e := newEcho(cfg, logger, checker)

	manager := startup.NewManager(logger,
		&component{
			name:  "processor",
			start: processor.Start,
			stop:  processor.Stop,
		},
		&component{
			name:  "kafka-consumer",
			needs: []string{"processor"},
			start: func(ctx context.Context) error {
				if !cfg.KafkaConsumerEnabled {
					logger.Info("Kafka consumer disabled")
					return nil
				}
				return consumer.Start(ctx)
			},
			stop: func(context.Context) error {
				if !cfg.KafkaConsumerEnabled {
					return nil
				}
				return consumer.Stop()
			},
		},
		&component{
			name:  "http-server",
			needs: []string{"processor"},
			start: func(context.Context) error {
				go func() {
					addr := fmt.Sprintf(":%d", cfg.Port)
					if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
						logger.WithError(err).Error("HTTP server stopped")
					}
				}()
				return nil
			},
			stop: func(ctx context.Context) error {
				return e.Shutdown(ctx)
			},
		},
	)

	if err := manager.Start(ctx); err != nil {
		return err
	}
	checker.SetReady(true)
	logger.WithFields(map[string]any{"port": cfg.Port, "version": version}).Info("Atlas started")

	<-ctx.Done()
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	manager.Stop(shutdownCtx)
	return nil
}

// component adapts plain start/stop funcs to a startup dependency
type component struct {
	name  string
	needs []string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (c *component) GetName() string                 { return c.name }
func (c *component) DependsOn() []string             { return c.needs }
func (c *component) Start(ctx context.Context) error { return c.start(ctx) }
func (c *component) Stop(ctx context.Context) error  { return c.stop(ctx) }

func newLogger(cfg config.Config) ectologger.Logger {
	return ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		var line []byte
		var err error
		if cfg.PrettyLogs {
			line, err = json.MarshalIndent(msg, "", "  ")
		} else {
			line, err = json.Marshal(msg)
		}
		if err != nil {
			return
		}
		fmt.Println(string(line))
	})
}

func openDatabase(cfg config.Config, logger ectologger.Logger) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword,
		cfg.DatabaseName, cfg.DatabaseSSLMode)

	var db *sqlx.DB
	var err error
	for attempt := 0; attempt <= cfg.DatabaseReconnectRetryCount; attempt++ {
		db, err = sqlx.Connect(cfg.DatabaseDriver, dsn)
		if err == nil {
			break
		}
		logger.WithError(err).Warnf("failed to connect to database, attempt %d", attempt+1)
		time.Sleep(time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	return db, nil
}

func runMigrations(cfg config.Config, logger ectologger.Logger, db *sqlx.DB) error {
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	ms := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return ms.Migrate(cfg.DatabaseName, driver)
}

func newEcho(cfg config.Config, logger ectologger.Logger, checker *health.Checker) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	observationroutes.Register(api.Group("/observations"))
	entityroutes.Register(api.Group("/entities"))
	reviewroutes.Register(api.Group("/reviews"))
	blacklistroutes.Register(api.Group("/blacklist"))
	matchconfigroutes.Register(api.Group("/match-configs"))
	quarantineroutes.Register(api.Group("/quarantine"))

	return e
}
