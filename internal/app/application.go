package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/paralink-network/paralink-node/internal/app/system"
	"github.com/paralink-network/paralink-node/internal/chain"
	"github.com/paralink-network/paralink-node/internal/collector"
	"github.com/paralink-network/paralink-node/internal/config"
	"github.com/paralink-network/paralink-node/internal/ipfs"
	"github.com/paralink-network/paralink-node/internal/platform/migrations"
	"github.com/paralink-network/paralink-node/internal/pql"
	"github.com/paralink-network/paralink-node/internal/pql/custom"
	"github.com/paralink-network/paralink-node/internal/pql/handlers"
	"github.com/paralink-network/paralink-node/internal/rpc"
	"github.com/paralink-network/paralink-node/internal/store"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// Overrides replaces collaborators built from configuration. Nil fields use
// the configured defaults.
type Overrides struct {
	Source       store.Source
	Cache        ipfs.Cache
	Listeners    collector.ListenerFactory
	ChainOptions []chain.Option
}

// Application ties the node's services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	closers []func() error

	Parser    *pql.Parser
	Documents *ipfs.Client
	Source    store.Source
	Collector *collector.Supervisor
	RPC       *rpc.Server
}

// New builds a fully initialised application from cfg.
func New(ctx context.Context, cfg *config.Config, overrides Overrides, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	a := &Application{manager: system.NewManager(), log: log}

	registry, err := custom.FromConfig(cfg.CustomSteps)
	if err != nil {
		return nil, fmt.Errorf("custom steps: %w", err)
	}
	pqlLog := log.Component("pql")
	opts := handlers.Options(cfg.Ethereum, cfg.Server.ReadTimeout, pqlLog)
	opts = append(opts, pql.WithRegistry(registry), pql.WithLogger(pqlLog))
	a.Parser, err = pql.NewParser(opts...)
	if err != nil {
		return nil, fmt.Errorf("pql parser: %w", err)
	}

	cache, err := a.documentCache(ctx, cfg.Cache, overrides.Cache)
	if err != nil {
		a.close()
		return nil, err
	}
	a.Documents = ipfs.NewClient(ipfs.Config{
		APIURL:   cfg.IPFS.APIURL,
		Timeout:  cfg.IPFS.Timeout,
		Cache:    cache,
		CacheTTL: cfg.Cache.TTL,
		Logger:   log.Component("ipfs"),
	})

	a.Source, err = a.chainSource(ctx, cfg, overrides.Source)
	if err != nil {
		a.close()
		return nil, err
	}

	var admin rpc.Collector
	if cfg.Collector.Enabled {
		executor := collector.NewExecutor(a.Documents, a.Parser,
			collector.RetryPolicyFromConfig(cfg.Collector.Retry), log.Component("executor"))
		chainLog := log.Component("chain")
		chainOpts := overrides.ChainOptions
		a.Collector, err = collector.NewSupervisor(collector.SupervisorConfig{
			Source: a.Source,
			Build: func(c chain.Config) (chain.Chain, error) {
				opts := append([]chain.Option{
					chain.WithLogger(chainLog),
					chain.WithPollInterval(cfg.Collector.PollInterval),
				}, chainOpts...)
				return chain.New(c, opts...)
			},
			Listeners: overrides.Listeners,
			Handler:   executor,
			Collector: cfg.Collector,
			Logger:    log.Component("collector"),
		})
		if err != nil {
			a.close()
			return nil, err
		}
		if err := a.manager.Register(a.Collector); err != nil {
			a.close()
			return nil, err
		}
		admin = a.Collector
	} else {
		log.Warn("collector disabled; chain requests will not be answered")
	}

	a.RPC, err = rpc.NewServer(cfg.Server, rpc.Options{
		Executor:  a.Parser,
		Documents: func(apiURL string) ipfs.Fetcher { return a.Documents.WithAPIURL(apiURL) },
		Collector: admin,
		Logger:    log.Component("rpc"),
	})
	if err != nil {
		a.close()
		return nil, err
	}
	if err := a.manager.Register(a.RPC); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *Application) documentCache(ctx context.Context, cfg config.CacheConfig, override ipfs.Cache) (ipfs.Cache, error) {
	if override != nil {
		return override, nil
	}
	if cfg.RedisURL == "" {
		return ipfs.NewMemoryCache(), nil
	}
	rc, err := ipfs.NewRedisCache(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	if err := rc.Ping(ctx); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	a.closers = append(a.closers, rc.Close)
	a.log.Info("document cache backed by redis")
	return rc, nil
}

func (a *Application) chainSource(ctx context.Context, cfg *config.Config, override store.Source) (store.Source, error) {
	if override != nil {
		return override, nil
	}
	if cfg.Database.URL == "" {
		a.log.WithField("chains", len(cfg.Chains)).Info("using chains from configuration file")
		return store.NewStatic(cfg.Chains), nil
	}

	pg, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, pg.Close)
	if cfg.Database.MigrateOnStart {
		if err := migrations.Up(pg.DB().DB); err != nil {
			return nil, err
		}
		a.log.Info("store schema migrated")
	}
	return pg, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and releases store and cache connections.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	return errors.Join(err, a.close())
}

func (a *Application) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
