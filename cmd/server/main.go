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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"shopstock/internal/cache"
	"shopstock/internal/config"
	"shopstock/internal/httpapi"
	"shopstock/internal/jobs"
	"shopstock/internal/lock"
	"shopstock/internal/logging"
	"shopstock/internal/mail"
	"shopstock/internal/metrics"
	"shopstock/internal/notify"
	"shopstock/internal/service"
	"shopstock/internal/store"
	"shopstock/internal/store/memory"
	pgstore "shopstock/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 4)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.DBAutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.Fatalf("migrate: %v", err)
			}
			logger.Info("schema migrated")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory (seeded)")
	}

	hub := notify.NewHub(cfg.AllowedOrigin, logger)
	closers = append(closers, hub.Close)

	var (
		bus         notify.Bus        = hub
		locker      lock.Locker       = lock.NewLocal()
		reportCache cache.ReportCache = cache.NewMemoryReportCache()
	)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis unavailable (%v), using in-process locks, cache and events", err)
			_ = client.Close()
		} else {
			bus = notify.NewRedisPublisher(client)
			locker = lock.NewRedis(client, time.Duration(cfg.LockTTLSeconds)*time.Second, logger)
			reportCache = cache.NewRedisReportCache(client)
			go notify.RelayRedis(relayCtx, client, hub, logger)
			closers = append(closers, client.Close)
			logger.Info("redis: locks, report cache and event relay enabled")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	svc := service.New(repo, service.Options{
		Locker:      locker,
		Bus:         bus,
		ReportCache: reportCache,
		ReportTTL:   time.Duration(cfg.ReportCacheTTLSeconds) * time.Second,
		Metrics:     m,
		Logger:      logger,
	})

	auth, err := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.AdminPassword, cfg.StaffPassword)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}
	api, err := httpapi.New(httpapi.Options{
		Service:        svc,
		Auth:           auth,
		Hub:            hub,
		Metrics:        m,
		Gatherer:       registry,
		AllowedOrigin:  cfg.AllowedOrigin,
		LoginRateLimit: cfg.LoginRateLimit,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatalf("http api: %v", err)
	}

	scheduler, err := newScheduler(cfg, svc, logger)
	if err != nil {
		logger.Fatalf("scheduler: %v", err)
	}
	scheduler.Start()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("shopstock listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	scheduler.Stop()
	stopRelay()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.LogError(logger, "main", "main", "shutdown", nil, err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logging.LogError(logger, "main", "main", "close", nil, err)
		}
	}

	logger.Info("server stopped")
}

func newScheduler(cfg config.Config, svc *service.Service, logger logrus.FieldLogger) (*jobs.Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", cfg.Timezone, err)
	}

	var mailer mail.Mailer = mail.Noop{}
	if cfg.MailEnabled() {
		mailer = mail.NewSMTP(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			To:       cfg.LowStockNotifyTo,
		})
	}
	return jobs.NewScheduler(loc, cfg.LowStockScanAt, svc, mailer, logger)
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.AdminPassword) < 8 {
		return fmt.Errorf("ADMIN_PASSWORD must be set and at least 8 characters")
	}
	if cfg.StaffPassword != "" && len(cfg.StaffPassword) < 8 {
		return fmt.Errorf("STAFF_PASSWORD must be at least 8 characters")
	}
	if cfg.StaffPassword != "" && cfg.StaffPassword == cfg.AdminPassword {
		return fmt.Errorf("STAFF_PASSWORD must differ from ADMIN_PASSWORD")
	}
	return nil
}
