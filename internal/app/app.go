package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/foodcart/internal/backend"
	"github.com/xenking/foodcart/internal/domain/cart"
	"github.com/xenking/foodcart/internal/domain/checkout"
	"github.com/xenking/foodcart/internal/events"
	"github.com/xenking/foodcart/internal/handler"
	"github.com/xenking/foodcart/internal/promo"
	"github.com/xenking/foodcart/internal/session"
	"github.com/xenking/foodcart/internal/storage/memory"
	"github.com/xenking/foodcart/internal/storage/postgres"
	redisstore "github.com/xenking/foodcart/internal/storage/redis"
	"github.com/xenking/foodcart/pkg/health"
	"github.com/xenking/foodcart/pkg/httpmiddleware"
)

// Telemetry provides the tracer and meter providers. It is satisfied by
// *app.Telemetry of go-faster/sdk.
type Telemetry = httpmiddleware.Telemetry

// cartStorage is a cart store backend that can be probed.
type cartStorage interface {
	session.Storage
	health.Pinger
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store.Driver),
	)

	taxRate, err := cfg.Cart.taxRate()
	if err != nil {
		return err
	}

	// PostgreSQL pool + migrations, when a component needs it.
	var pool *pgxpool.Pool
	if cfg.Store.Driver == StorePostgres || cfg.Store.Snapshots {
		pool, err = postgres.NewPool(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
	}

	// Cart store.
	var storage cartStorage
	switch cfg.Store.Driver {
	case StoreRedis:
		client, err := redisstore.NewClient(ctx, cfg.Store.RedisURL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = client.Close() }()
		storage = redisstore.New(client, redisstore.Options{
			Prefix: cfg.Store.RedisPrefix,
			TTL:    cfg.Store.TTL,
		})
	case StorePostgres:
		storage = postgres.NewStorage(pool)
	default:
		lg.Warn("Using in-memory cart store, carts are lost on restart")
		storage = memory.New()
	}

	// Session registry and its event listeners.
	registry := session.NewRegistry(storage, session.Options{
		IdleTTL:     cfg.Cart.SessionIdleTTL,
		CartOptions: []cart.Option{cart.WithTaxRate(taxRate)},
		Logger:      lg.Named("cart"),
	})

	recorder, err := events.NewRecorder(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create event recorder")
	}
	registry.Subscribe(func(_ string, ev cart.Event) { recorder.Record(ctx, ev) })

	broker := handler.NewBroker(32)
	registry.Subscribe(broker.Publish)

	// Background workers outlive the request context so that events emitted
	// while draining are still delivered.
	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBackground()
	bg, bgCtx := errgroup.WithContext(bgCtx)
	bg.Go(func() error { return registry.Run(bgCtx) })

	if cfg.Kafka.Brokers != "" {
		publisher := events.NewKafkaPublisher(
			events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			lg.Named("kafka"),
			cfg.Kafka.QueueSize,
		)
		registry.Subscribe(publisher.Publish)
		bg.Go(func() error { return publisher.Run(bgCtx) })
		lg.Info("Publishing cart events", zap.String("topic", cfg.Kafka.Topic))
	}

	if cfg.Store.Snapshots {
		snapshots := postgres.NewSnapshotWriter(pool)
		queue := events.NewQueue("snapshots", snapshots.Write, lg, cfg.Kafka.QueueSize, 5*time.Second)
		registry.Subscribe(queue.Publish)
		bg.Go(func() error { return queue.Run(bgCtx) })
	}

	// Promo code prefilter.
	var filter checkout.PromoFilter
	if len(cfg.Promo.Files) > 0 {
		f, err := promo.Load(ctx, promo.Config{
			Files:             cfg.Promo.Files,
			MinSources:        cfg.Promo.MinSources,
			Capacity:          cfg.Promo.Capacity,
			FalsePositiveRate: cfg.Promo.FalsePositiveRate,
			MinLength:         cfg.Promo.MinLength,
			MaxLength:         cfg.Promo.MaxLength,
		})
		if err != nil {
			return errors.Wrap(err, "load promo codes")
		}
		lg.Info("Promo prefilter loaded", zap.Int("codes", f.Len()))
		filter = f
	}

	// Backend client and checkout.
	client, err := backend.New(cfg.Backend.BaseURL, backend.Options{
		Timeout:        cfg.Backend.Timeout,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create backend client")
	}
	checkoutSvc := checkout.NewService(client, client, filter)

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("store", 5*time.Second, health.PingCheck(cfg.Store.Driver, storage))
	if pool != nil && cfg.Store.Driver != StorePostgres {
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	if ttl := cfg.Cart.SessionIdleTTL; ttl > 0 {
		healthSvc.AddLivenessCheck("session-sweeper", time.Second, health.StalenessCheck(2*ttl, registry.LastSweep))
	}
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP handlers.
	h := handler.NewHandler(handler.HandlerConfig{}, registry, checkoutSvc, client, broker)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{
					"Content-Type", "Authorization", session.Header, httpmiddleware.RequestIDHeader,
				},
				ExposeHeaders:    []string{session.Header, httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("foodcart", m, "/api/cart/events"),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()

		stopBackground()
		if err := bg.Wait(); err != nil {
			lg.Error("Background worker error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
