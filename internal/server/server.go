package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/taskhub-app/apiserver/config"
	"github.com/taskhub-app/apiserver/internal/db"
	"github.com/taskhub-app/apiserver/internal/handlers"
	"github.com/taskhub-app/apiserver/internal/logging"
	"github.com/taskhub-app/apiserver/internal/mailer"
	"github.com/taskhub-app/apiserver/internal/mq"
	"github.com/taskhub-app/apiserver/internal/ratelimit"
	"github.com/taskhub-app/apiserver/internal/services"
	"github.com/taskhub-app/apiserver/internal/storage"
	"github.com/taskhub-app/apiserver/internal/store"
	"github.com/taskhub-app/apiserver/internal/store/memstore"
	"github.com/taskhub-app/apiserver/internal/store/mongostore"
	"github.com/taskhub-app/apiserver/internal/token"
	"github.com/taskhub-app/apiserver/internal/validate"
)

const redisPingTimeout = 3 * time.Second

type closer struct {
	name  string
	close func(ctx context.Context) error
}

// Server wraps the HTTP server, router and the clients it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     zerolog.Logger
	closers    []closer
}

// New connects every backing service named by cfg and mounts the routes.
// Clients opened before a failure are closed again.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (srv *Server, err error) {
	s := &Server{logger: logger}
	defer func() {
		if err != nil {
			_ = s.closeAll(context.Background())
		}
	}()

	accounts, otps, err := s.openRepositories(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	var limiter services.RateLimiter
	if cfg.Redis.Enabled() {
		limiter = s.openLimiter(ctx, cfg)
	}

	sender, err := s.openSender(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var avatars services.ObjectStorage
	if cfg.Storage.Backend != "" {
		objects, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		s.track("storage", func(context.Context) error { return objects.Close() })
		if err := objects.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket %s: %w", objects.Bucket(), err)
		}
		avatars = objects
	}

	validator, err := validate.New(cfg.Policy)
	if err != nil {
		return nil, err
	}
	tokens := token.NewIssuer(cfg.Auth)
	issuer := services.NewOTPIssuer(cfg, otps, sender, limiter, logger)
	authService := services.NewAuthService(cfg, accounts, otps, issuer, tokens, limiter, validator, logger)
	accountService := services.NewAccountService(accounts, avatars, logger)

	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(logging.Middleware(logger)...)
	router.Use(
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	if cfg.ClientOrigin != "" {
		router.Use(allowOrigin(cfg.ClientOrigin))
	}
	router.Get("/healthz", handlers.Healthz)
	router.Route("/account", func(r chi.Router) {
		handlers.AccountRouter(r, authService, accountService, tokens)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) openRepositories(ctx context.Context, cfg config.DatabaseConfig) (services.AccountRepository, services.OTPRepository, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		client, database, err := db.OpenMongo(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		s.track("mongo", client.Disconnect)
		if err := mongostore.EnsureIndexes(ctx, database); err != nil {
			return nil, nil, err
		}
		return mongostore.NewAccountRepository(database), mongostore.NewOTPRepository(database), nil
	case config.DriverPostgres:
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.track("postgres", func(context.Context) error { return conn.Close() })
		return store.NewAccountRepository(conn), store.NewOTPRepository(conn), nil
	case config.DriverMemory:
		s.logger.Warn().Msg("using in-memory store, data is lost on restart")
		return memstore.NewAccountRepository(), memstore.NewOTPRepository(), nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// openLimiter returns a redis-backed limiter. An unreachable redis is
// logged; the limiter then lets requests through.
func (s *Server) openLimiter(ctx context.Context, cfg config.Config) *ratelimit.Limiter {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	s.track("redis", func(context.Context) error { return client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		s.logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, throttling degraded")
	}
	return ratelimit.New(client, ratelimit.ConfigFrom(cfg))
}

func (s *Server) openSender(ctx context.Context, cfg config.Config) (mailer.Sender, error) {
	switch cfg.Mail.Transport {
	case config.MailTransportQueue:
		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return nil, err
		}
		s.track("mq", func(context.Context) error { return queue.Close() })
		return mailer.NewQueueSender(queue, cfg.Mail.Channel), nil
	default:
		return mailer.NewSMTPSender(cfg.Mail.SMTP), nil
	}
}

func (s *Server) track(name string, fn func(ctx context.Context) error) {
	s.closers = append(s.closers, closer{name: name, close: fn})
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and then closes every owned client.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.closeAll(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if err := c.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// allowOrigin permits credentialed requests from the web client origin.
func allowOrigin(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Origin") == origin {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
				if r.Method == http.MethodOptions {
					h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
