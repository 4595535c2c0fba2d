package server

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mansoorceksport/wellness/internal/config"
	"github.com/mansoorceksport/wellness/internal/domain"
	"github.com/mansoorceksport/wellness/internal/handler"
	"github.com/mansoorceksport/wellness/internal/middleware"
	"github.com/mansoorceksport/wellness/internal/repository"
	"github.com/mansoorceksport/wellness/internal/service"
	"github.com/mansoorceksport/wellness/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

const idempotencyTTL = 24 * time.Hour

// AppDependencies holds the dependencies required to start the application.
// Nil collaborators fall back to their log-only implementations.
type AppDependencies struct {
	Config      *config.Config
	MongoDB     *mongo.Database
	RedisClient *redis.Client

	Verifier      service.PaymentVerifier
	WebhookParser handler.WebhookParser
	Email         service.EmailSender
	Events        service.EventPublisher
	Generator     service.PrescriptionGenerator

	// Registry receives the engine metrics and backs /metrics. Defaults to a fresh registry.
	Registry *prometheus.Registry
}

// App is the HTTP application plus the background workers it owns
type App struct {
	*fiber.App
	Sweeper       *service.Sweeper
	Prescriptions *service.PrescriptionTrigger
	Entitlements  *service.EntitlementService
}

// NewApp creates and configures the Fiber application with the given dependencies
func NewApp(deps AppDependencies) *App {
	cfg := deps.Config

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics := telemetry.NewMetrics(registry)

	// Initialize repositories
	cacheRepo := repository.NewRedisCacheRepository(deps.RedisClient)
	userRepo := repository.NewMongoUserRepository(deps.MongoDB)
	userPackageRepo := repository.NewMongoUserPackageRepository(deps.MongoDB)
	packageRepo := repository.NewCachedPackageRepository(repository.NewMongoPackageRepository(deps.MongoDB), cacheRepo)
	historyRepo := repository.NewMongoRenewalHistoryRepository(deps.MongoDB)
	giftCardRepo := repository.NewMongoGiftCardRepository(deps.MongoDB)
	questionnaireRepo := repository.NewMongoQuestionnaireRepository(deps.MongoDB)
	prescriptionRepo := repository.NewMongoPrescriptionRepository(deps.MongoDB)

	verifier := deps.Verifier
	if verifier == nil {
		verifier = &service.MockPaymentVerifier{}
	}

	// Initialize services
	notifier := service.NewNotifier(deps.Email, deps.Events)
	trigger := service.NewPrescriptionTrigger(deps.Generator, questionnaireRepo, cfg.Prescription.Timeout)
	entitlementService := service.NewEntitlementService(userRepo, userPackageRepo, historyRepo, notifier, metrics)
	renewalService := service.NewRenewalService(entitlementService, packageRepo, questionnaireRepo, prescriptionRepo, trigger)
	purchaseService := service.NewPurchaseService(entitlementService, packageRepo, giftCardRepo, verifier, trigger, cfg.Entitlement.PaymentTimeout)
	catalogService := service.NewCatalogService(packageRepo)

	// Initialize handlers
	packageHandler := handler.NewPackageHandler(catalogService, entitlementService, renewalService, purchaseService)
	stripeHandler := handler.NewStripeHandler(purchaseService, deps.WebhookParser)
	adminHandler := handler.NewAdminHandler(catalogService, entitlementService)

	app := fiber.New(fiber.Config{
		AppName:      "Wellness Entitlements API",
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(telemetry.FiberMiddleware(metrics))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Correlation-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "wellness-entitlements",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	authenticated := []fiber.Handler{
		middleware.VerifyAccessToken(cfg.JWT.Secret),
		middleware.NewRateLimiter(5, 20).Handler(),
		middleware.IdempotencyMiddleware(deps.RedisClient, idempotencyTTL),
	}

	v1 := app.Group("/v1")

	// Stripe calls this with its own signature, not a user token
	if deps.WebhookParser != nil {
		v1.Post("/stripe/webhook", stripeHandler.Webhook)
	} else {
		log.Println("[Server] Stripe webhook disabled")
	}

	stripe := v1.Group("/stripe", authenticated...)
	stripe.Post("/confirm-payment", stripeHandler.ConfirmPayment)

	packages := v1.Group("/packages")
	packages.Get("/", packageHandler.ListPackages)

	// registered before /:id so "user" is not read as a package id
	user := packages.Group("/user", authenticated...)
	user.Get("/active", packageHandler.GetActive)
	user.Get("/renewal-eligibility", packageHandler.GetRenewalEligibility)
	user.Post("/renew", packageHandler.Renew)
	user.Get("/history", packageHandler.GetHistory)
	user.Get("/:id/chain", packageHandler.GetChain)

	packages.Post("/purchase", withAuth(authenticated, packageHandler.Purchase)...)
	packages.Post("/gift/redeem", withAuth(authenticated, packageHandler.RedeemGift)...)
	packages.Get("/:id", packageHandler.GetPackage)

	admin := v1.Group("/admin", withAuth(authenticated, middleware.AuthorizeRole(domain.RoleAdmin))...)
	admin.Post("/packages", adminHandler.CreatePackage)
	admin.Put("/packages/:id", adminHandler.UpdatePackage)
	admin.Post("/packages/:id/deactivate", adminHandler.DeactivatePackage)
	admin.Post("/entitlements/sweep", adminHandler.RunSweep)

	return &App{
		App:           app,
		Sweeper:       service.NewSweeper(entitlementService, cfg.Entitlement.SweepInterval),
		Prescriptions: trigger,
		Entitlements:  entitlementService,
	}
}

// withAuth returns a fresh chain so route registrations never share a backing array
func withAuth(chain []fiber.Handler, h fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(chain)+1)
	return append(append(out, chain...), h)
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	log.Printf("Error: %v", err)
	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"message": err.Error(),
	})
}
