package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/lumenchat/lumen-auth/internal/adapter/cache"
	"github.com/lumenchat/lumen-auth/internal/config"
	httptransport "github.com/lumenchat/lumen-auth/internal/http"
	"github.com/lumenchat/lumen-auth/internal/http/handler"
	"github.com/lumenchat/lumen-auth/internal/jwt"
	apimiddleware "github.com/lumenchat/lumen-auth/internal/middleware"
	"github.com/lumenchat/lumen-auth/internal/oauth"
	"github.com/lumenchat/lumen-auth/internal/provider"
	"github.com/lumenchat/lumen-auth/internal/repository"
	"github.com/lumenchat/lumen-auth/internal/server"
	"github.com/lumenchat/lumen-auth/internal/service"
	"github.com/lumenchat/lumen-auth/internal/session"
	"github.com/lumenchat/lumen-auth/internal/telemetry"
	"github.com/lumenchat/lumen-auth/internal/webhook"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newPGXPool,
			newUserRepository,
			newGroupRepository,
			newSessionRows,
			newSessionService,
			newHTTPClient,
			newProviderRegistry,
			newStateStore,
			newOAuthManager,
			newWebhookClient,
			newAccountService,
			newTokenGenerator,
			newRateLimiter,
			newOAuthHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startSessionCleanup, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newGroupRepository(pool *pgxpool.Pool) repository.GroupRepository {
	return repository.NewPostgresGroupRepo(pool)
}

func newSessionRows(pool *pgxpool.Pool) session.Rows {
	return repository.NewPostgresSessionRows(pool)
}

func newSessionService(cfg config.Config, rows session.Rows, logger *zap.Logger) (*session.Service, error) {
	return session.New(rows, cfg.SessionEncryptionKey, logger)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func newProviderRegistry(cfg config.Config, client *http.Client, logger *zap.Logger) (map[string]provider.Provider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return provider.BuildRegistry(ctx, cfg, client, logger)
}

// newStateStore picks Redis when configured so state survives restarts and
// is shared across replicas; otherwise the in-process store serves.
func newStateStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (oauth.StateStore, error) {
	if cfg.RedisAddr == "" {
		return oauth.NewMemoryStateStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	logger.Info("using redis login-state store", zap.String("addr", cfg.RedisAddr))
	return cacheadapter.NewRedisStateStore(client), nil
}

func newOAuthManager(cfg config.Config, providers map[string]provider.Provider, states oauth.StateStore, sessions *session.Service, logger *zap.Logger) *oauth.Manager {
	return oauth.NewManager(cfg, providers, states, sessions, logger)
}

func newWebhookClient(cfg config.Config, client *http.Client) *webhook.Client {
	return webhook.NewClient(cfg.WebhookURL, client)
}

func newAccountService(cfg config.Config, users repository.UserRepository, groups repository.GroupRepository, manager *oauth.Manager, webhooks *webhook.Client, client *http.Client, logger *zap.Logger) *service.AccountService {
	return service.NewAccountService(cfg, users, groups, manager, webhooks, client, logger)
}

func newTokenGenerator(cfg config.Config) *jwt.Generator {
	return jwt.NewGenerator(cfg.SecretKey, cfg.JWTExpiresIn)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newOAuthHandler(cfg config.Config, manager *oauth.Manager, accounts *service.AccountService, tokens *jwt.Generator, logger *zap.Logger) *handler.OAuthHandler {
	return handler.NewOAuthHandler(cfg, manager, accounts, tokens, logger)
}

// startSessionCleanup deletes expired session rows on a fixed interval.
func startSessionCleanup(lc fx.Lifecycle, cfg config.Config, sessions *session.Service, logger *zap.Logger) {
	if cfg.SessionCleanupInterval <= 0 {
		return
	}

	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				defer close(done)
				ticker := time.NewTicker(cfg.SessionCleanupInterval)
				defer ticker.Stop()
				for {
					select {
					case <-runCtx.Done():
						return
					case <-ticker.C:
						deleted, err := sessions.CleanupExpired(runCtx)
						if err != nil {
							logger.Error("session cleanup failed", zap.Error(err))
							continue
						}
						if deleted > 0 {
							logger.Info("cleaned up expired sessions", zap.Int64("deleted", deleted))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
