package main

import (
	"context"
	"encoding/base64"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/mansoorceksport/wellness/internal/config"
	"github.com/mansoorceksport/wellness/internal/infrastructure/events"
	"github.com/mansoorceksport/wellness/internal/infrastructure/postmark"
	"github.com/mansoorceksport/wellness/internal/infrastructure/prescriber"
	"github.com/mansoorceksport/wellness/internal/repository"
	"github.com/mansoorceksport/wellness/internal/server"
	"github.com/mansoorceksport/wellness/internal/service"
	"github.com/mansoorceksport/wellness/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting wellness entitlement service (%s)...", cfg.Server.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Grafana Cloud requires Basic auth with instanceId:apiToken base64 encoded
	authEncoded := base64.StdEncoding.EncodeToString([]byte(cfg.OTEL.InstanceID + ":" + cfg.OTEL.Token))
	otelProvider, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: cfg.OTEL.ServiceVersion,
		Environment:    cfg.OTEL.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
		OTLPHeaders:    map[string]string{"Authorization": "Basic " + authEncoded},
		Enabled:        cfg.OTEL.Enabled,
		SampleRatio:    cfg.OTEL.SampleRatio,
	})
	if err != nil {
		log.Printf("Warning: Failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProvider.Shutdown(shutdownCtx)
	}()

	// Connect to MongoDB with OpenTelemetry instrumentation
	mongoOpts := options.Client().ApplyURI(cfg.MongoDB.URI)
	if cfg.OTEL.Enabled {
		mongoOpts.SetMonitor(otelmongo.NewMonitor())
	}

	ctxMongo, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(ctxMongo, mongoOpts)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()
	if err := mongoClient.Ping(ctxMongo, nil); err != nil {
		log.Fatalf("Failed to ping MongoDB: %v", err)
	}
	log.Println("✓ MongoDB connected")

	mongoDB := mongoClient.Database(cfg.MongoDB.Database)
	if err := repository.NewMongoPackageRepository(mongoDB).SeedDefaultPackages(ctxMongo); err != nil {
		log.Fatalf("Failed to seed packages: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("✓ Redis connected")

	// Payments
	verifier, stripeClient, err := service.NewPaymentVerifier(cfg.Stripe, cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to initialize payments: %v", err)
	}

	// Email
	var email service.EmailSender = service.LogEmailSender{}
	if cfg.Postmark.ServerToken != "" {
		client, err := postmark.NewClient(postmark.Config{
			ServerToken:  cfg.Postmark.ServerToken,
			AccountToken: cfg.Postmark.AccountToken,
			SenderEmail:  cfg.Postmark.SenderEmail,
		})
		if err != nil {
			log.Fatalf("Failed to initialize Postmark: %v", err)
		}
		email = client
		log.Println("✓ Postmark configured")
	}

	// Prescriptions
	var generator service.PrescriptionGenerator = service.LogPrescriptionGenerator{}
	if cfg.Prescription.BaseURL != "" {
		generator = service.NewPrescriberAdapter(prescriber.NewClient(prescriber.Config{
			BaseURL: cfg.Prescription.BaseURL,
			APIKey:  cfg.Prescription.APIKey,
			Timeout: cfg.Prescription.Timeout,
		}))
		log.Println("✓ Prescription service configured")
	}

	// Events
	var publisher service.EventPublisher = service.LogEventPublisher{}
	if cfg.RabbitMQ.URL != "" {
		conn, err := events.Connect(cfg.RabbitMQ.URL, 5, 2*time.Second)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer conn.Close()

		amqpPublisher, err := events.NewAMQPPublisher(conn)
		if err != nil {
			log.Fatalf("Failed to open RabbitMQ channel: %v", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
		log.Println("✓ RabbitMQ connected")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := server.NewApp(server.AppDependencies{
		Config:        cfg,
		MongoDB:       mongoDB,
		RedisClient:   redisClient,
		Verifier:      verifier,
		WebhookParser: stripeClient,
		Email:         email,
		Events:        publisher,
		Generator:     generator,
		Registry:      registry,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("🚀 Server starting on port %s", cfg.Server.Port)
		return app.Listen(":" + cfg.Server.Port)
	})

	g.Go(func() error {
		return app.Sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down gracefully...")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil {
		log.Printf("Server stopped: %v", err)
	}

	// background prescription calls outlive their requests
	app.Prescriptions.Shutdown()
	log.Println("Shutdown complete")
}
