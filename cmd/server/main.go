package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/workflows/internal/config"
	"github.com/liamcoop/workflows/internal/logger"
	"github.com/liamcoop/workflows/mail"
	"github.com/liamcoop/workflows/multitenantengine"
	"github.com/liamcoop/workflows/rules"
)

type Server struct {
	cfg           *config.Config
	db            *sql.DB
	redis         redis.UniversalClient
	engineManager *multitenantengine.MultiTenantEngineManager
	registry      *prometheus.Registry
	router        *chi.Mux
}

// Deps are the collaborators a Server runs on. A nil DB keeps tenants,
// rules and tasks in memory; a nil Redis uses per-process rule caches.
type Deps struct {
	DB       *sql.DB
	Redis    redis.UniversalClient
	Tasks    rules.TaskStore
	Mailer   rules.Mailer
	Registry *prometheus.Registry
}

// NewServer connects to the configured database, Redis and mail gateway
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	deps := Deps{DB: db, Tasks: rules.NewPostgresTaskStore(db)}

	if cfg.Redis.Enable {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		deps.Redis = client
	}

	deps.Mailer, err = newMailer(cfg.Mail)
	if err != nil {
		db.Close()
		return nil, err
	}

	return NewServerWithDeps(ctx, cfg, deps)
}

// NewServerWithDeps builds the engine manager on deps, loads every stored
// tenant and sets up routes
func NewServerWithDeps(ctx context.Context, cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Tasks == nil {
		deps.Tasks = rules.NewInMemoryTaskStore()
	}
	if deps.Mailer == nil {
		deps.Mailer = mail.NewLogMailer(logger.Logger)
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
		deps.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	opts := []multitenantengine.ManagerOption{
		multitenantengine.WithLogger(logger.Logger),
		multitenantengine.WithCacheConfig(rules.CacheConfig{TTL: cfg.Redis.CacheTTL}),
		multitenantengine.WithFallbackRecipient(cfg.Mail.FallbackRecipient),
	}
	if cfg.Metrics.Enable {
		opts = append(opts, multitenantengine.WithMetrics(rules.NewMetrics(deps.Registry)))
		if err := logger.RegisterMetrics(deps.Registry); err != nil {
			return nil, fmt.Errorf("failed to register log metrics: %w", err)
		}
	}
	if deps.Redis != nil {
		opts = append(opts, multitenantengine.WithRedisCache(deps.Redis))
	}

	engineManager := multitenantengine.NewMultiTenantEngineManager(deps.DB, deps.Tasks, deps.Mailer, opts...)
	if err := engineManager.LoadAllTenants(ctx); err != nil {
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}

	s := &Server{
		cfg:           cfg,
		db:            deps.DB,
		redis:         deps.Redis,
		engineManager: engineManager,
		registry:      deps.Registry,
	}
	s.setupRoutes()
	return s, nil
}

func newMailer(cfg config.Mail) (rules.Mailer, error) {
	switch cfg.Provider {
	case config.MailProviderHTTP:
		m, err := mail.NewHTTPMailer(mail.HTTPConfig{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			From:       cfg.From,
			Timeout:    cfg.Timeout,
			RetryCount: cfg.RetryCount,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.MailProviderLog, "":
		return mail.NewLogMailer(logger.Logger), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger(s.cfg.HTTP.SlowRequest))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.HTTP.RequestTimeout))

	r.Get("/api/v1/health", s.handleHealth)
	if s.cfg.Metrics.Enable {
		r.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Get("/", s.handleListTenants)
		r.Post("/", s.handleCreateTenant)

		r.Route("/{tenantId}", func(r chi.Router) {
			r.Delete("/", s.handleUnloadTenant)

			r.Post("/schema", s.handleUpdateSchema)
			r.Get("/schema", s.handleGetSchema)

			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{ruleId}", s.handleGetRule)
			r.Put("/rules/{ruleId}", s.handleUpdateRule)
			r.Delete("/rules/{ruleId}", s.handleDeleteRule)

			r.Post("/events", s.handleProcessEvent)
			r.Get("/tasks", s.handleListTasks)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func main() {
	configPath := flag.String("config", "", "Path to a config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := logger.Init(ctx, logger.Config{
		Level:       cfg.Log.Level,
		SampleRate:  cfg.Log.SampleRate,
		OTELEnabled: cfg.Log.OTELEnabled,
		ServiceName: cfg.Log.ServiceName,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
	}

	server, err := NewServer(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:      server,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", "port", cfg.HTTP.Port, "tenants", len(server.engineManager.ListTenants()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown: %v\n", err)
	}
	logger.Info("server stopped")
}
