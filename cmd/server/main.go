package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"habitat/server/config"
	"habitat/server/internal/api"
	"habitat/server/internal/auth"
	"habitat/server/internal/cache"
	"habitat/server/internal/contact"
	"habitat/server/internal/database"
	"habitat/server/internal/geocoding"
	"habitat/server/internal/notify"
	"habitat/server/internal/processor"
	"habitat/server/internal/property"
	"habitat/server/internal/queue"
	"habitat/server/internal/scheduler"
	"habitat/server/internal/search"
	"habitat/server/internal/settings"
	"habitat/server/internal/team"
	"habitat/server/internal/upload"
	"habitat/server/internal/users"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.Server.LogLevel).Warn("Unknown log level, using info")
	}

	logger.WithField("driver", cfg.Database.Driver).Info("Opening database")
	db, err := database.NewDatabase(cfg.Database.Driver, cfg.Database.DSN, logger, cfg.Database.Debug)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	ctx := context.Background()
	jobs := scheduler.NewScheduler(logger)

	// Settings cache: Redis when configured, otherwise in-process.
	var settingsCache cache.Cache
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, "habitat:")
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisCache.Close()
		settingsCache = redisCache
		logger.WithField("addr", cfg.Redis.Addr).Info("Using Redis settings cache")
	} else {
		memoryCache := cache.NewMemory()
		jobs.Add(scheduler.Job{
			Name:  "cache-cleanup",
			Every: time.Minute,
			Run: func(context.Context) error {
				if n := memoryCache.CleanExpired(); n > 0 {
					logger.WithField("removed", n).Debug("Cleaned expired cache entries")
				}
				return nil
			},
		})
		settingsCache = memoryCache
	}

	tokens := auth.NewTokenService(cfg.Auth.SecretKey, cfg.Auth.AccessTokenTTL)
	userService := users.NewService(db.GetDB(), auth.NewHasher(cfg.Auth.BcryptCost), tokens, logger)
	if _, err := userService.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		logger.WithError(err).Fatal("Failed to seed admin user")
	}

	settingsStore := settings.NewStore(db.GetDB(), settingsCache, cfg.Redis.TTL, logger)
	if n, err := settingsStore.SeedDefaults(ctx); err != nil {
		logger.WithError(err).Error("Failed to seed default settings")
	} else if n > 0 {
		logger.WithField("count", n).Info("Seeded default settings")
	}

	var mailer notify.Mailer = notify.DisabledMailer{}
	if cfg.MailEnabled() {
		mailer = notify.NewSMTPMailer(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.Username, cfg.Mail.Password, cfg.Mail.From, logger)
	} else {
		logger.Warn("MAIL_SERVER or MAIL_FROM not set, contact forwarding is disabled")
	}

	contactService := contact.NewService(db.GetDB(), mailer, settingsStore, logger)
	if cfg.TelegramEnabled() {
		contactService.SetAlerter(notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger))
	}

	var indexProcessor *processor.IndexProcessor
	propertyService := property.NewService(db.GetDB(), logger)
	if cfg.Geocoding.Enabled {
		propertyService.SetGeocoder(geocoding.NewGeocoder(
			cfg.Geocoding.Endpoint,
			cfg.Geocoding.CountryCode,
			cfg.Geocoding.CacheDir,
			cfg.Geocoding.MinInterval,
			logger,
		))
	}
	if cfg.Search.MeilisearchHost != "" {
		indexer := search.NewIndexer(cfg.Search.MeilisearchHost, cfg.Search.MeilisearchKey, cfg.Search.Index, logger)
		if err := indexer.InitIndex(); err != nil {
			logger.WithError(err).Error("Failed to configure search index")
		}
		indexQueue := queue.NewIndexQueue(cfg.Search.QueueSize, logger)
		indexProcessor = processor.NewIndexProcessor(db.GetDB(), indexQueue, indexer, processor.Options{
			BatchSize:  cfg.Search.BatchSize,
			MaxRetries: cfg.Search.MaxRetries,
			RetryDelay: cfg.Search.RetryDelay,
		}, logger)
		indexProcessor.Start()
		propertyService.SetIndexer(indexProcessor)

		jobs.Add(scheduler.Job{
			Name:       "search-reindex",
			Every:      cfg.Search.ReindexInterval,
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				_, err := indexProcessor.Reindex(ctx)
				return err
			},
		})
	}

	handler := api.NewHandler(api.Services{
		DB:         db.GetDB(),
		Users:      userService,
		Properties: propertyService,
		Settings:   settingsStore,
		Contacts:   contactService,
		Team:       team.NewService(db.GetDB(), logger),
		Uploads:    upload.NewGateway(cfg.Upload.Dir, cfg.Server.PublicBaseURL, cfg.Upload.MaxSize, logger),
	}, logger)

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
	jobs.Add(scheduler.Job{
		Name:  "rate-limiter-cleanup",
		Every: 10 * time.Minute,
		Run: func(context.Context) error {
			if n := limiter.Cleanup(10 * time.Minute); n > 0 {
				logger.WithField("removed", n).Debug("Cleaned up idle rate limiters")
			}
			return nil
		},
	})
	jobs.Start()

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(handler, api.RouterOptions{
		Resolver:    auth.NewResolver(db.GetDB(), tokens, logger),
		Limiter:     limiter,
		Metrics:     api.NewMetrics(),
		CORSOrigins: cfg.Server.CORSOrigins,
		UploadDir:   cfg.Upload.Dir,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           http.TimeoutHandler(router, cfg.Server.RequestTimeout, `{"error":"request timed out","kind":"internal"}`),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")
	jobs.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if indexProcessor != nil {
		if err := indexProcessor.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Search index queue was not drained")
		}
	}
	logger.Info("Server exited")
}
