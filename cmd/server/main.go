package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prize_wheel/internal/auth"
	"prize_wheel/internal/cache"
	"prize_wheel/internal/config"
	"prize_wheel/internal/events"
	"prize_wheel/internal/logging"
	"prize_wheel/internal/middleware"
	"prize_wheel/internal/notify"
	"prize_wheel/internal/queue"
	"prize_wheel/internal/ratelimit"
	"prize_wheel/internal/router"
	"prize_wheel/internal/scheduler"
	"prize_wheel/internal/store"
	"prize_wheel/internal/wheel"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	_, flush, err := logging.New(cfg.LogEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	if err := run(cfg); err != nil {
		zap.S().Errorw("server exited", "error", err)
		flush()
		os.Exit(1)
	}
}

func run(cfg config.AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. SQLite，自动建表
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close(db)

	// 2. Redis（可选）
	var rdb *rd.Client
	if cfg.RedisAddr != "" {
		rdb = rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	bus := events.NewBus()
	events.Audit(bus, zap.L().Named("audit"))
	cc := cache.New(rdb)
	cc.Subscribe(bus)
	cc.Start()
	defer cc.Close()

	// 3. 限流
	policy := ratelimit.Policy{MaxAttempts: cfg.RateLimitMaxAttempts, Window: cfg.RateLimitWindow}
	var limiter ratelimit.Limiter
	if cfg.RateLimitBackend == config.LimiterRedis {
		limiter = ratelimit.NewRedisLimiter(rdb, policy)
	} else {
		dbLimiter := ratelimit.NewDBLimiter(db, policy)
		limiter = dbLimiter
		// Redis 后端靠 key TTL 过期，只有 db 后端需要清理任务
		sched := scheduler.New(dbLimiter, rdb)
		if err := sched.Start(cfg.RateLimitSweepSpec); err != nil {
			return err
		}
		defer sched.Stop()
	}

	// 4. 邮件
	var mailer notify.Sender = notify.LogMailer{}
	if cfg.SendGridAPIKey != "" {
		mailer = notify.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFrom, cfg.MailFromName)
	}
	asyncSender := mailer
	var deliveries router.DeliveryLookup
	if cfg.NotifyTransport == config.TransportKafka {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, rdb, mailer)
		defer consumer.Close()
		relay := queue.NewRelay(rdb, producer, cfg.NotifyStream, cfg.NotifyGroup, cfg.NotifyConsumer)

		go relay.Run(ctx)
		go consumer.Run(ctx)
		asyncSender = queue.NewOutbox(rdb, cfg.NotifyStream)
		deliveries = router.RedisDeliveries(rdb)
	}
	dispatcher := notify.NewDispatcher(asyncSender, 0, 0)
	dispatcher.Start()
	defer dispatcher.Close()

	notifier := notify.NewNotifier(notify.Settings{
		AppName:    cfg.AppName,
		AppURL:     cfg.AppURL,
		AdminEmail: cfg.AdminEmail,
	}, mailer, dispatcher)
	notifier.Subscribe(bus)

	// 5. HTTP
	if cfg.LogEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, router.Deps{
		Wheel:          wheel.NewService(db, bus, wheel.WithTimeout(cfg.SpinTimeout)),
		Guard:          middleware.NewAttemptGuard(limiter),
		Cache:          cc,
		Auth:           auth.NewManager(cfg.JWTSecret, cfg.AdminPasswordHash, cfg.AdminSession).WithResetPassword(cfg.ResetPasswordHash),
		Notifier:       notifier,
		Redis:          rdb,
		Deliveries:     deliveries,
		PrizeCacheTTL:  cfg.PrizeCacheTTL,
		WinnerCacheTTL: cfg.WinnerCacheTTL,
		EmailPacing:    cfg.EmailPacing,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		zap.S().Infow("http server listening", "addr", cfg.HTTPAddr, "limiter", cfg.RateLimitBackend, "notify", cfg.NotifyTransport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	zap.S().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
