package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"sonar/internal/cache"
	"sonar/internal/config"
	"sonar/internal/localstore"
	applog "sonar/internal/log"
	"sonar/internal/remote"
	"sonar/internal/remote/rest"
	"sonar/internal/remote/sqlbackend"
	"sonar/internal/repos"
	"sonar/internal/services"
)

// App is the wired client core for one process.
type App struct {
	Config   config.Config
	Backend  remote.Backend
	KV       *localstore.Store
	Cache    *cache.Cache
	AuthRepo *repos.AuthRepo
	Auth     *services.AuthService
	Catalog  *services.CatalogService

	closers []io.Closer
}

// OpenApp builds every layer from cfg. The caller owns Close.
func OpenApp(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	logs, err := applog.Setup(cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	a.closers = append(a.closers, logs)

	var restClient *rest.Client
	switch cfg.Backend {
	case config.BackendREST:
		restClient = rest.New(cfg.RemoteURL, cfg.AnonKey, cfg.HTTPTimeout)
		a.Backend = restClient
	default:
		b, err := sqlbackend.Open(sqlbackend.Options{
			Driver:       cfg.DBDriver,
			DSN:          cfg.DBDSN,
			MediaDir:     cfg.MediaDir,
			MediaBaseURL: cfg.MediaBaseURL,
			SessionTTL:   cfg.SessionTTL,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.Backend = b
		a.closers = append(a.closers, b)
	}

	a.KV, err = localstore.Open(cfg.LocalStore)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open local store: %w", err)
	}
	a.closers = append(a.closers, a.KV)

	var store cache.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, client)
		rs := cache.NewRedisStore(client, "sonar:", cfg.GCTime)
		services.RegisterDecoders(rs)
		store = rs
	}
	a.Cache = cache.New(cache.Options{
		Store:           store,
		GCTime:          cfg.GCTime,
		Retry:           cfg.Retry,
		RefetchInterval: cfg.RefetchInterval,
	})

	a.AuthRepo = repos.NewAuthRepo(a.Backend, a.KV)
	if restClient != nil {
		restClient.SetTokenSource(a.AuthRepo.AccessToken)
	}
	a.Auth = services.NewAuthService(a.AuthRepo, a.Cache)

	prods := repos.NewProductRepo(a.Backend, a.Backend)
	prods.PageSize = cfg.PageSize
	a.Catalog = services.NewCatalogService(prods, repos.NewCategoryRepo(a.Backend), a.Cache, a.AuthRepo, services.CatalogOptions{
		StaleTime:     cfg.StaleTime,
		DefaultTenant: cfg.DefaultTenant,
	})
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
