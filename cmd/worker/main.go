// Package main runs the background worker: email delivery, certificate
// rendering, the pending payment expiry sweep and the event status refresh.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/oriyet/backend/config"
	"github.com/oriyet/backend/internal/emaillogs"
	"github.com/oriyet/backend/internal/emails"
	"github.com/oriyet/backend/internal/events"
	"github.com/oriyet/backend/internal/gateway"
	"github.com/oriyet/backend/internal/lookup"
	"github.com/oriyet/backend/internal/payments"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/internal/worker"
	"github.com/oriyet/backend/pkg/database"
	"github.com/oriyet/backend/pkg/queue"
	"github.com/oriyet/backend/pkg/redis"
	"github.com/oriyet/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		Endpoint:             cfg.AWS.Endpoint,
		CertificatesBucket:   cfg.AWS.CertificatesBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	var sender emails.Sender
	if cfg.Email.SMTPHost != "" {
		sender = emails.NewSMTPSender(emails.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUser,
			Password: cfg.Email.SMTPPass,
			From:     cfg.Email.FromAddress,
			FromName: cfg.Email.FromName,
		})
	} else {
		sender = emails.NewLogSender(logger)
	}

	templates, err := emails.LoadTemplates()
	if err != nil {
		logger.Fatal("email templates", zap.Error(err))
	}
	emailLogs := emaillogs.NewRepository(pool)
	notifier := emails.NewNotifier(st, emailLogs, jobQueue, templates, cfg.App.FrontendURL, logger)
	gw := gateway.NewClient(gateway.Config{
		APIURL:    cfg.Payment.APIURL,
		VerifyURL: cfg.Payment.VerifyURL,
		APIKey:    cfg.Payment.APIKey,
		Timeout:   cfg.Payment.Timeout,
	}, nil, logger)
	paymentSvc := payments.NewService(st, gw, notifier, payments.Config{TTL: cfg.Payment.PendingTTL}, logger)
	eventSvc := events.NewService(st, logger)

	runner := worker.NewRunner(jobQueue, logger, queue.QueueEmails, queue.QueueCertificates)
	runner.SetPollTimeout(cfg.Worker.PollTimeout)
	runner.Handle(queue.JobTypeEmail, worker.NewEmailProcessor(emailLogs, sender, logger))
	runner.Handle(queue.JobTypeCertificateRender, worker.NewCertificateRenderer(st, s3Client, cfg.App.FrontendURL, logger))

	scheduler := worker.NewScheduler(logger,
		worker.Task{Name: "expire_pending_payments", Interval: cfg.Worker.ExpireInterval, Run: paymentSvc.ExpirePending},
		worker.Task{Name: "refresh_event_statuses", Interval: cfg.Worker.RefreshInterval, Run: eventSvc.RefreshStatuses},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	if err := g.Wait(); err != nil {
		logger.Error("worker exited", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
