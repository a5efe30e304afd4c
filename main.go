package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskboard-api/api"
	"taskboard-api/service"
	"taskboard-api/storage"
)

func main() {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TraceSampleRatio > 0 {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRatio))))
		otel.SetTracerProvider(tp)
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warnf("tracer shutdown: %v", err)
			}
		}()
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer closeStore()

	var (
		rc      *redis.Client
		deduper api.Deduper
		cache   service.Store
	)
	if cfg.RedisConnStr != "" {
		opts, err := redisOptions(cfg.RedisConnStr)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
		cache = storage.NewCache(store, rc, cfg.TasksCacheTTL)
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set; task cache and idempotency keys disabled")
	}

	opts := []service.Option{service.WithLogger(logger)}
	if cache != nil {
		opts = append(opts, service.WithCache(cache))
	}
	if cfg.EventsQueue != "" {
		pub, err := storage.NewQueuePublisher(cfg.StorageConnStr, cfg.EventsQueue)
		if err != nil {
			logger.Fatalf("events queue: %v", err)
		}
		dispatcher := api.NewEventDispatcher(pub, cfg.Dispatcher, logger)
		defer dispatcher.Close()
		opts = append(opts, service.WithEvents(dispatcher))
	}
	svc := service.NewTaskService(store, opts...)

	auth, err := newAuth(cfg)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
	}))
	api.Register(e, svc, auth, deduper, logger)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()
	logger.Infof("taskboard api listening on :%s, backend: %s", cfg.Port, cfg.Backend)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

func openStore(ctx context.Context, cfg config) (service.Store, func(), error) {
	switch cfg.Backend {
	case backendMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		st, err := storage.NewMongoStore(connectCtx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close(context.Background()) }, nil
	case backendMemory:
		return storage.NewMemoryStore(), func() {}, nil
	default:
		st, err := storage.NewTableStore(cfg.StorageConnStr, cfg.TasksTable)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	}
}

func newAuth(cfg config) (*api.Auth, error) {
	ac := api.AuthConfig{Mode: cfg.AuthMode, Audience: cfg.AuthAudience, Issuer: cfg.AuthIssuer}
	if cfg.AuthMode == api.AuthModeJWKS {
		jwks, err := keyfunc.Get(cfg.AuthJWKSURL, keyfunc.Options{RefreshInterval: time.Hour, RefreshUnknownKID: true})
		if err != nil {
			return nil, err
		}
		ac.JWKS = jwks
	} else {
		ac.Secret = []byte(cfg.AuthSecret)
	}
	return api.NewAuth(ac)
}

var _ service.EventSink = (*api.EventDispatcher)(nil)
