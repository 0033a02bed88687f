package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loop-economy/config"
	"loop-economy/handlers"
	"loop-economy/metrics"
	"loop-economy/middleware"
	"loop-economy/notify"
	"loop-economy/services"
	"loop-economy/store"
	"loop-economy/utils"
	"loop-economy/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}
	cfg.Server.ConfigureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg.Database)
	if err != nil {
		log.Fatalf("❌ store: %v", err)
	}

	engine := services.NewEngine(st, services.Options{Economy: cfg.Economy})
	if err := engine.Seed(ctx); err != nil {
		log.Fatalf("❌ seeding catalog and achievements: %v", err)
	}

	var dispatcher notify.Dispatcher = notify.LogDispatcher{}
	if cfg.Services.RedisURL != "" {
		rd, err := notify.NewRedisDispatcher(ctx, cfg.Services.RedisURL, "notifications")
		if err != nil {
			log.Fatalf("❌ redis: %v", err)
		}
		defer rd.Close()
		dispatcher = rd
	} else {
		log.Warn("⚠️  REDIS_URL not set, notifications are only logged")
	}

	var archiver *services.LedgerArchiver
	if cfg.R2.Enabled() {
		if err := utils.InitR2(ctx, cfg.R2); err != nil {
			log.Fatalf("❌ failed to initialize R2 client: %v", err)
		}
		archiver = &services.LedgerArchiver{Store: st, Upload: utils.UploadObject}
	} else {
		log.Warn("⚠️  R2 not configured, daily ledger archive disabled")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": "HTTP_ERROR", "message": err.Error()})
		},
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOriginsList(),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Idempotency-Key, X-Service-Token, X-Device-ID, Last-Event-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID, Retry-After",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Probes and scrapes bypass gateway auth.
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	app.Use(middleware.GatewayAuthMiddleware(cfg.Server.GatewayToken))

	limiter := middleware.NewUserRateLimiter(float64(cfg.Server.UserRateLimit), cfg.Server.UserRateBurst)
	go limiter.RunSweeper(ctx, 5*time.Minute)

	deps := handlers.Deps{Engine: engine, RateLimiter: limiter}
	if cfg.Services.AuthServiceURL != "" {
		deps.AuthClient = services.NewAuthServiceClient(cfg.Services.AuthServiceURL, cfg.Services.ServiceToken)
		deps.Stream = services.NewLedgerStream(st)
	}
	handlers.SetupRoutes(app, deps)

	drainer := workers.NewOutboxDrainer(st, dispatcher,
		cfg.Economy.NotificationsPerSecond, cfg.Workers.OutboxBatchSize, cfg.Economy.OutboxMaxAttempts)
	go workers.PollOutbox(ctx, drainer, cfg.Workers.OutboxInterval)

	if cfg.Services.StatsServiceURL != "" {
		workers.NewStatsSyncWorker(st, cfg.Services.StatsServiceURL, cfg.Services.ServiceToken,
			cfg.Workers.StatsSyncInterval, utils.HTTPClient).Start(ctx)
	}

	sched, err := engine.StartScheduler(ctx, services.SchedulerConfig{
		ExpirySweepEvery: cfg.Workers.ExpirySweepEvery,
		ReconcileEvery:   cfg.Workers.ReconcileEvery,
		ArchiveAtUTC:     cfg.Workers.LedgerArchiveAtUTC,
		Archiver:         archiver,
	})
	if err != nil {
		log.Fatalf("❌ scheduler: %v", err)
	}

	go func() {
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.WithError(err).Error("Server error")
		}
	}()

	log.Infof("✅ Economy service running on http://localhost:%s", cfg.Server.Port)
	log.Infof("✅ Store driver: %s", cfg.Database.Driver)
	log.Infof("✅ CORS configured for origins: %s", cfg.Server.AllowedOriginsList())

	<-ctx.Done()
	log.Info("Shutting down server...")

	if err := sched.Shutdown(); err != nil {
		log.WithError(err).Warn("scheduler shutdown")
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
}

func openStore(cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.Driver == "memory" {
		log.Warn("⚠️  STORE_DRIVER=memory, balances are lost on restart")
		return store.NewMemoryStore(), nil
	}

	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		TranslateError:         true,
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := store.AutoMigrate(db); err != nil {
		return nil, err
	}
	return store.NewGormStore(db), nil
}
