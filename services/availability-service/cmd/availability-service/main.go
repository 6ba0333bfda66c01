package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/clinicslots/libs/auth"
	"github.com/md-rashed-zaman/clinicslots/libs/config"
	"github.com/md-rashed-zaman/clinicslots/libs/db"
	"github.com/md-rashed-zaman/clinicslots/libs/httpx"
	"github.com/md-rashed-zaman/clinicslots/libs/kafkax"
	otelx "github.com/md-rashed-zaman/clinicslots/libs/otel"
	"github.com/md-rashed-zaman/clinicslots/libs/runtime"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/cache"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/clock"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/consumer"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/generator"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/handlers"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/inbox"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/manager"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicslots/services/availability-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "availability-service")
	port, err := config.Port("PORT", "8087")
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

	loc, err := config.Location("TIMEZONE", "UTC")
	if err != nil {
		panic(err)
	}
	clk := clock.Clock{Location: loc}
	opts := manager.Options{
		Clock:    clk,
		MinBreak: config.Minutes("SLOT_MIN_BREAK_MINUTES", 10*time.Minute),
		Generator: generator.Config{
			DefaultStart:    config.String("SLOT_DEFAULT_START", "09:00"),
			DefaultDuration: config.Int("SLOT_DEFAULT_DURATION_MINUTES", 30),
			Break:           int(config.Minutes("SLOT_BREAK_MINUTES", 10*time.Minute) / time.Minute),
		},
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
		Trace:    config.Bool("DB_TRACE", false),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	brokers := config.String("KAFKA_BROKERS", "")
	outboxRepo := outbox.NewRepository()
	slotRepo := storage.NewSlotRepository(pool, outboxRepo, clk)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	if len(kafkax.Brokers(brokers)) > 0 {
		bookingConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topics: config.List("KAFKA_CONSUME_TOPICS",
				consumer.TopicAppointmentBooked+","+consumer.TopicAppointmentCancelled),
		}, consumer.BookingHandler(slotRepo, logger))
		go bookingConsumer.Run(ctx)
	} else {
		logger.Warn("booking consumer disabled (no kafka brokers configured)")
	}

	cacheTTL := config.Seconds("LOCATION_CACHE_TTL_SECONDS", 5*time.Minute)
	var rdb *redis.Client
	var locCache cache.Locations = cache.NewLRULocations(1024, cacheTTL)
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer rdb.Close()
		locCache = cache.NewRedisLocations(rdb, cacheTTL)
	}
	store := cache.Wrap(slotRepo, locCache, logger)

	var jwks *auth.JWKSClient
	if url := config.String("JWKS_URL", ""); url != "" {
		jwks = auth.NewJWKSClient(url, 10*time.Minute)
	}
	verifier := auth.NewVerifier(config.String("JWT_SECRET", ""), jwks)

	if err := startGrpcServer(ctx, logger, pool); err != nil {
		logger.Error("grpc server start failed", "err", err)
	}

	availabilityHandler := handlers.NewAvailabilityHandler(store, opts, logger)
	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkax.Brokers(brokers))},
	)
	protect := func(h http.HandlerFunc) http.Handler { return auth.RequireAuth(verifier, h) }
	mux.Handle("/api/v1/availability/slots", protect(availabilityHandler.Slots))
	mux.Handle("/api/v1/availability/slots/generate", protect(availabilityHandler.Generate))
	mux.Handle("/api/v1/availability/copy", protect(availabilityHandler.Copy))
	mux.Handle("/api/v1/availability/occupied-dates", protect(availabilityHandler.OccupiedDates))

	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		rateLimit(rdb, logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "availability")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// rateLimit shares the budget across replicas through Redis when available.
func rateLimit(rdb *redis.Client, logger *slog.Logger) httpx.Middleware {
	perMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if perMinute <= 0 {
		return nil
	}
	var limiter httpx.Limiter = httpx.NewMemoryLimiter(perMinute)
	if rdb != nil {
		limiter = httpx.NewRedisLimiter(rdb, perMinute, time.Minute, "availability:ratelimit:")
	}
	return httpx.RateLimit(limiter, time.Minute, logger)
}
