// Server runs the phone onboarding HTTP API, plus the gRPC health service when GRPC_HEALTH_ADDR is set.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"phone-onboarding/backend/internal/audit"
	auditrepo "phone-onboarding/backend/internal/audit/repository"
	"phone-onboarding/backend/internal/config"
	"phone-onboarding/backend/internal/db"
	"phone-onboarding/backend/internal/health"
	"phone-onboarding/backend/internal/identity/handler"
	identityrepo "phone-onboarding/backend/internal/identity/repository"
	"phone-onboarding/backend/internal/identity/service"
	"phone-onboarding/backend/internal/metrics"
	"phone-onboarding/backend/internal/notify"
	"phone-onboarding/backend/internal/otp"
	"phone-onboarding/backend/internal/platform/httpserver"
	"phone-onboarding/backend/internal/platform/logger"
	platformredis "phone-onboarding/backend/internal/platform/redis"
	"phone-onboarding/backend/internal/ratelimit"
	"phone-onboarding/backend/internal/security"
	"phone-onboarding/backend/internal/telemetry"
	telemetryotel "phone-onboarding/backend/internal/telemetry/otel"
	"phone-onboarding/backend/internal/telemetry/producer"
)

const serviceName = "phone-onboarding"

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logger.New(os.Stdout, cfg.LogLevel, serviceName)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		ServiceName:    serviceName,
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	providers.SetGlobal()

	checker := health.NewChecker(2 * time.Second)

	// Identity and audit stores: Postgres when DATABASE_URL is set, memory otherwise.
	var (
		identities identityrepo.Repository
		audits     auditrepo.Repository
		conn       *sql.DB
	)
	if cfg.DatabaseURL != "" {
		conn, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		pg, err := identityrepo.NewPostgresRepository(conn, cfg.IdentityTable)
		if err != nil {
			return err
		}
		if err := pg.CheckTable(ctx); err != nil {
			return err
		}
		identities = pg
		audits = auditrepo.NewPostgresRepository(conn)
	} else {
		log.Warn("DATABASE_URL not set; identities are kept in memory")
		identities = identityrepo.NewMemoryRepository()
		audits = auditrepo.NewMemoryRepository()
	}
	checker.Add("identity_store", identities)

	limiter, closeRedis, err := newLimiter(ctx, cfg, checker, log)
	if err != nil {
		return err
	}
	defer closeRedis()

	hasher, err := security.NewPasswordHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		return err
	}
	var tokens *security.TokenProvider
	if cfg.LoginEnabled() {
		priv, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
		if err != nil {
			return err
		}
		tokens = security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessTTL)
	} else {
		log.Warn("JWT keys not set; POST /login answers 501")
	}

	sender, devCodes := newSender(cfg, log)

	emitters := telemetry.Multi{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.EventsTopic)
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		defer kafkaProducer.Close()
	}
	events := telemetry.NewAsync(emitters)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := service.New(service.Deps{
		Repo:        identities,
		Hasher:      hasher,
		Codes:       otp.Generator{},
		Tokens:      tokens,
		Sender:      sender,
		Limiter:     limiter,
		Events:      events,
		Audit:       audit.NewLogger(audits, nil),
		AuditReader: audits,
		DevCodes:    devCodes,
		Metrics:     m,
		Logger:      log,
	}, service.Options{
		ChallengeTTL: cfg.OTPTTL,
		MaxAttempts:  cfg.OTPMaxAttempts,
	})

	h := handler.New(svc, log, handler.Options{
		DevOTP:       cfg.DevOTPEnabled(),
		SecureCookie: cfg.IsProduction(),
	})
	srv := httpserver.New(cfg.HTTPAddr, handler.NewRouter(handler.RouterConfig{
		Handler: h,
		Logger:  log,
		Metrics: m,
		Health:  checker,
	}))

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcHealth *health.GRPCServer
	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return err
		}
		grpcHealth = health.NewGRPCServer(checker, 5*time.Second)
		go func() {
			log.Info("grpc health listening", "addr", cfg.GRPCHealthAddr)
			if err := grpcHealth.Serve(ctx, lis); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("listener failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if err := svc.Wait(shutdownCtx); err != nil {
		log.Warn("otp deliveries still in flight", "error", err)
	}
	if err := events.Drain(shutdownCtx); err != nil {
		log.Warn("events still in flight", "error", err)
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Warn("otel shutdown", "error", err)
	}
	log.Info("server stopped")
	return nil
}

// newLimiter returns the OTP issue throttle: Redis-backed when REDIS_URL is
// set, process-local otherwise. OTP_ISSUE_LIMIT=0 disables throttling.
func newLimiter(ctx context.Context, cfg *config.Config, checker *health.Checker, log *slog.Logger) (ratelimit.Limiter, func(), error) {
	noop := func() {}
	if cfg.OTPIssueLimit == 0 {
		return ratelimit.Unlimited{}, noop, nil
	}
	rl := ratelimit.Config{Limit: cfg.OTPIssueLimit, Window: cfg.OTPIssueWindow}
	client, err := platformredis.New(ctx, cfg.RedisURL, platformredis.Options{})
	if err != nil {
		return nil, noop, err
	}
	if client == nil {
		log.Info("REDIS_URL not set; otp issue throttle is per process")
		return ratelimit.NewMemoryLimiter(rl), noop, nil
	}
	checker.Add("redis", health.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	return ratelimit.NewRedisLimiter(client, "phone-onboarding:", rl), func() { _ = client.Close() }, nil
}

// newSender picks OTP delivery: dev store when dev OTP mode is on, SMS Local
// when an API key is set, otherwise a logging sender.
func newSender(cfg *config.Config, log *slog.Logger) (notify.Sender, service.DevCodes) {
	switch {
	case cfg.DevOTPEnabled():
		log.Warn("dev OTP mode: codes are not sent and are readable at GET /dev/otp/{id}")
		store := notify.NewDevStore(cfg.OTPTTL)
		return store, store
	case cfg.SMSLocalAPIKey != "":
		return notify.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender), nil
	default:
		return notify.LogSender{Logger: log}, nil
	}
}
