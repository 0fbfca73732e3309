package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/backoffice/libs/auth"
	"github.com/md-rashed-zaman/backoffice/libs/config"
	"github.com/md-rashed-zaman/backoffice/libs/db"
	"github.com/md-rashed-zaman/backoffice/libs/grpcx"
	"github.com/md-rashed-zaman/backoffice/libs/httpx"
	"github.com/md-rashed-zaman/backoffice/libs/kafkax"
	otelx "github.com/md-rashed-zaman/backoffice/libs/otel"
	"github.com/md-rashed-zaman/backoffice/libs/runtime"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/storage/cache"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/storage/memory"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/storage/postgres"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(healthcheck())
	}

	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	brokers := config.String("KAFKA_BROKERS", "")
	readyChecks := []runtime.ReadyCheck{}

	var (
		store      storage.Store
		eventInbox consumer.Inbox = inbox.NewMemory()
	)
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL, db.PoolConfig{MaxConns: int32(config.Int("DB_MAX_CONNS", 10))})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		outboxRepo := outbox.NewRepository(pool)
		store = postgres.NewRepository(pool, outboxRepo, config.Duration("DB_LOCK_TIMEOUT", 2*time.Second))
		eventInbox = inbox.NewRepository(pool)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
			BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
		})
		go outboxPublisher.Run(ctx)
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory storage")
		store = memory.New()
	}

	catalog, err := cache.NewCatalog(store, config.Int("CATALOG_CACHE_SIZE", 1024), config.Duration("CATALOG_CACHE_TTL", 30*time.Second))
	if err != nil {
		panic(err)
	}
	mgr := booking.NewManager(store, calendar.New(), logger, booking.Config{
		LockTimeout:   config.Duration("BOOKING_LOCK_TIMEOUT", 2*time.Second),
		CommitTimeout: config.Duration("BOOKING_COMMIT_TIMEOUT", 10*time.Second),
		Catalog:       catalog,
	})
	if err := mgr.Load(ctx); err != nil {
		// Overlapping persisted bookings are skipped, not fatal.
		logger.Warn("calendar load reported problems", "err", err)
	}

	if brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		if topic := config.String("KAFKA_CONSUME_TOPIC", consumer.TopicScheduleUpdated); topic != "" {
			scheduleConsumer := consumer.New(logger, eventInbox, mgr, consumer.Config{
				Brokers: brokers,
				GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
				Topic:   topic,
			})
			go scheduleConsumer.Run(ctx)
		}
	}

	limiter := httpx.NewRateLimiter(config.Int("RATE_LIMIT", 120), config.Duration("RATE_LIMIT_WINDOW", time.Minute)).Middleware()
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		limiter = httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT", 120), config.Duration("RATE_LIMIT_WINDOW", time.Minute), "booking").
			Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	}

	var admin httpx.Middleware
	jwtSecret := config.String("AUTH_JWT_SECRET", "")
	jwksURL := config.String("AUTH_JWKS_URL", "")
	if jwtSecret != "" || jwksURL != "" {
		var jwks *auth.JWKSClient
		if jwksURL != "" {
			jwks = auth.NewJWKSClient(jwksURL, 10*time.Minute)
		}
		requireAuth := httpx.RequireAuth(jwtSecret, jwks)
		requireRole := httpx.RequireRole("owner", "admin")
		admin = func(next http.Handler) http.Handler {
			return requireAuth(requireRole(next))
		}
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handlers.NewBookingHandler(mgr, logger).Register(mux, admin)

	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: httpx.ParseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			MaxAge:         10 * time.Minute,
		}),
		limiter,
		httpx.WithBodyLimit(int64(config.Int("HTTP_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("HTTP_HANDLER_TIMEOUT", 15*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, hs := grpcx.NewServer()
	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	go watchReadiness(ctx, logger, hs, readyChecks)

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	grpcSrv.GracefulStop()
	logger.Info("http server stopped")
}

// watchReadiness mirrors the dependency checks into the gRPC health status.
func watchReadiness(ctx context.Context, logger *slog.Logger, hs *health.Server, checks []runtime.ReadyCheck) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := healthpb.HealthCheckResponse_SERVING
		if failures := runtime.CheckAll(ctx, 2*time.Second, checks...); len(failures) > 0 {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if status != last {
				logger.Warn("dependencies not ready", "failures", failures)
			}
		}
		if status != last {
			hs.SetServingStatus("", status)
			last = status
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func healthcheck() int {
	addr := "127.0.0.1:" + config.String("GRPC_PORT", "9083")
	if err := grpcx.Probe(context.Background(), addr, 3*time.Second); err != nil {
		fmt.Fprintln(os.Stderr, "unhealthy:", err)
		return 1
	}
	return 0
}
