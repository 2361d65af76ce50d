package provider

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lumenchat/lumen-auth/internal/config"
)

// BuildRegistry initializes every configured provider. Construction runs
// concurrently because discovery is network I/O, but the returned map is
// complete (and thereafter read-only) before any login is served. Providers
// with missing configuration are skipped; a required-discovery failure aborts
// startup.
func BuildRegistry(ctx context.Context, cfg config.Config, client *http.Client, logger *zap.Logger) (map[string]Provider, error) {
	if logger == nil {
		logger = zap.L()
	}

	constructors := []func(context.Context) (Provider, error){
		func(ctx context.Context) (Provider, error) { return NewGoogle(ctx, cfg.Google, client, logger) },
		func(ctx context.Context) (Provider, error) { return NewMicrosoft(ctx, cfg.Microsoft, client, logger) },
		func(ctx context.Context) (Provider, error) { return NewGitHub(ctx, cfg.GitHub, client, logger) },
		func(ctx context.Context) (Provider, error) { return NewOIDC(ctx, cfg.OIDC, client, logger) },
		func(ctx context.Context) (Provider, error) { return NewFeishu(ctx, cfg.Feishu, client, logger) },
	}

	var mu sync.Mutex
	registry := make(map[string]Provider)

	g, ctx := errgroup.WithContext(ctx)
	for _, construct := range constructors {
		construct := construct
		g.Go(func() error {
			p, err := construct(ctx)
			if err != nil {
				return err
			}
			if p == nil {
				return nil
			}
			mu.Lock()
			registry[p.Name()] = p
			mu.Unlock()
			logger.Info("oauth provider configured", zap.String("provider", p.Name()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(registry) == 0 {
		logger.Warn("no oauth providers configured")
	}
	return registry, nil
}
