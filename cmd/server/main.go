// Package main runs the ORIYET HTTP API with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oriyet/backend/config"
	"github.com/oriyet/backend/internal/analytics"
	"github.com/oriyet/backend/internal/auth"
	"github.com/oriyet/backend/internal/certificates"
	"github.com/oriyet/backend/internal/emaillogs"
	"github.com/oriyet/backend/internal/emails"
	"github.com/oriyet/backend/internal/events"
	"github.com/oriyet/backend/internal/gateway"
	"github.com/oriyet/backend/internal/lookup"
	"github.com/oriyet/backend/internal/payments"
	"github.com/oriyet/backend/internal/registrations"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/pkg/database"
	"github.com/oriyet/backend/pkg/queue"
	"github.com/oriyet/backend/pkg/redis"
	"github.com/oriyet/backend/pkg/storage"
	"github.com/oriyet/backend/pkg/validator"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := validator.Register(); err != nil {
		logger.Fatal("register validators", zap.Error(err))
	}

	ctx := context.Background()
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database.DSN(), logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	resolver := lookup.NewResolver(lookup.NewRepository(pool), logger)
	if err := resolver.Validate(ctx); err != nil {
		logger.Fatal("lookup tables", zap.Error(err))
	}
	st := store.NewPostgres(pool, resolver)

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()
	jobQueue := queue.NewQueue(rdb.Client, logger)

	var documents certificates.Documents
	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		Endpoint:             cfg.AWS.Endpoint,
		CertificatesBucket:   cfg.AWS.CertificatesBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Warn("s3 disabled, certificate downloads unavailable", zap.Error(err))
	} else {
		documents = s3Client
	}

	templates, err := emails.LoadTemplates()
	if err != nil {
		logger.Fatal("email templates", zap.Error(err))
	}
	emailLogs := emaillogs.NewRepository(pool)
	notifier := emails.NewNotifier(st, emailLogs, jobQueue, templates, cfg.App.FrontendURL, logger)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours, cfg.JWT.Issuer)
	gw := gateway.NewClient(gateway.Config{
		APIURL:    cfg.Payment.APIURL,
		VerifyURL: cfg.Payment.VerifyURL,
		APIKey:    cfg.Payment.APIKey,
		Timeout:   cfg.Payment.Timeout,
	}, nil, logger)

	paymentSvc := payments.NewService(st, gw, notifier, payments.Config{
		WebhookAPIKey: cfg.Payment.WebhookAPIKey,
		TTL:           cfg.Payment.PendingTTL,
		RedirectURL:   cfg.App.RedirectURL(),
		CancelURL:     cfg.App.CancelURL(),
		WebhookURL:    cfg.App.WebhookURL(),
	}, logger)

	h := handlers{
		auth:          auth.NewHandler(auth.NewService(st.Users(), jwtService, logger), logger),
		events:        events.NewHandler(events.NewService(st, logger), logger),
		registrations: registrations.NewHandler(registrations.NewService(st, notifier, logger), logger),
		payments:      payments.NewHandler(paymentSvc, logger),
		certificates:  certificates.NewHandler(certificates.NewService(st, notifier, jobQueue, documents, cfg.App.FrontendURL, logger), logger),
		emailLogs:     emaillogs.NewHandler(emailLogs, notifier, logger),
		analytics:     analytics.NewHandler(analytics.NewRepository(pool), st.Events(), logger),
	}
	router := newRouter(cfg, h, jwtService, rdb, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
