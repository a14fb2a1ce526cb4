package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"leadfunnel/config"
	"leadfunnel/funnel"
	"leadfunnel/geocode"
	"leadfunnel/leads"
	"leadfunnel/mailer"
	"leadfunnel/metrics"
	"leadfunnel/middleware"
	"leadfunnel/routes"
	"leadfunnel/sessions"
	"leadfunnel/tracking"
	"leadfunnel/utils"
	"leadfunnel/worker"
)

func main() {
	logger := logrus.StandardLogger()
	logger.SetOutput(os.Stdout)

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.AppConfig
	if cfg.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			logger.WithError(err).Warn("Sentry initialization failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	collector := metrics.NewCollector()

	// Redis holds per-browser funnel state; without it state lives in process.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.WithError(err).Warn("Redis unreachable, using in-memory funnel state")
			_ = redisClient.Close()
			redisClient = nil
		}
	}

	var local sessions.LocalStore = sessions.NewMemoryStore()
	var limiterStorage fiber.Storage
	var geoCache geocode.Cache
	var locker sessions.Locker = sessions.NewMemoryLocker()
	if redisClient != nil {
		local = sessions.NewRedisStore(redisClient, cfg.LocalStateTTL)
		locker = sessions.NewRedisLocker(redisClient, "lf:lock:")
		limiterStorage = middleware.NewRedisStorage(redisClient, "lf:limiter:")
		geoCache = sessions.NewRedisStore(redisClient, 24*time.Hour)
	}

	var (
		sessionService sessions.Service
		leadStore      leads.Store
	)
	if cfg.DatabaseEnabled() {
		if err := config.ConnectDB(); err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		sessionService = sessions.NewGormService(config.DB)
		leadStore = leads.NewGormStore(config.DB)
	} else {
		logger.Warn("No database configured, leads and sessions will not be persisted")
	}

	protocol := leads.NewProtocol(leadStore, logger, collector)

	var sender mailer.Sender
	if cfg.SMTP.Enabled() {
		sender = mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
			Company:  cfg.CompanyName,
		})
	}
	emails := mailer.NewDispatcher(sender, config.DB, logger, collector, 2*cfg.SideEffectTimeout)

	trackingCfg := tracking.Config{
		PixelID:       cfg.Tracking.PixelID,
		AccessToken:   cfg.Tracking.AccessToken,
		TestEventCode: cfg.Tracking.TestEventCode,
		EventIDPrefix: cfg.Tracking.EventIDPrefix,
		APIVersion:    cfg.Tracking.APIVersion,
		Endpoint:      cfg.Tracking.Endpoint,
		Timeout:       cfg.SideEffectTimeout,
	}
	dispatcher := tracking.NewDispatcher(trackingCfg, tracking.NewConversionsClient(trackingCfg), logger, collector)

	proofs := utils.NewProofSigner(cfg.ProofSecret, cfg.ProofTTL)
	oracle := geocode.NewOracle(geocode.Config{
		Token:   cfg.GeocodeToken,
		Country: cfg.GeocodeCountry,
		Timeout: cfg.SideEffectTimeout,
	}, geoCache, logger)

	deps := funnel.Deps{
		Leads:        protocol,
		Mailer:       emails,
		Proofs:       proofs,
		Logger:       logger,
		Metrics:      collector,
		Locker:       locker,
		LockTTL:      cfg.StepLockTTL,
		Timeout:      cfg.SideEffectTimeout,
		VerifyRemote: sessionService != nil,
		PublicURL:    cfg.PublicURL,
		SalesEmail:   cfg.SalesEmail,
	}
	if sessionService != nil {
		deps.Sessions = sessionService
	}
	engine := funnel.NewEngine(local, deps)

	app := fiber.New(fiber.Config{
		AppName: "leadfunnel",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				utils.LogError("http", err, map[string]interface{}{"path": c.Path(), "method": c.Method()})
			}
			return utils.ErrorResponse(c, code, err.Error(), nil)
		},
	})
	app.Use(recover.New())
	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Length", "Retry-After"},
		MaxAge:           3600,
	}))

	routes.SetupRoutes(app, routes.Dependencies{
		Engine:         engine,
		Tracking:       dispatcher,
		Leads:          protocol,
		Proofs:         proofs,
		Geocode:        oracle,
		Metrics:        collector,
		Logger:         logger,
		PublicURL:      cfg.PublicURL,
		SecureCookies:  cfg.Environment == "production",
		SubmitLimit:    cfg.SubmitRateLimit,
		SubmitWindow:   10 * time.Second,
		LimiterStorage: limiterStorage,
		RequestLogging: true,
		HealthCheck: func() error {
			if config.DB == nil {
				return nil
			}
			sqlDB, err := config.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.Ping()
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sessionService != nil {
		abandonment := worker.NewAbandonmentWorker(sessionService, cfg.AbandonAfter, cfg.AbandonSweepEvery, logger, collector)
		go abandonment.Start(ctx)
	}

	go func() {
		logger.Infof("🚀 Server starting on port %s", cfg.ServerPort)
		if err := app.Listen(":" + cfg.ServerPort); err != nil {
			logger.WithError(err).Error("Server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.WithError(err).Warn("HTTP shutdown incomplete")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := dispatcher.Flush(flushCtx); err != nil {
		logger.WithError(err).Warn("Analytics relay did not drain")
	}
	if err := emails.Wait(flushCtx); err != nil {
		logger.WithError(err).Warn("Email dispatch did not drain")
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}
