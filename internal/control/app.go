package control

import (
	"context"
	"fmt"
	logger "log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/chainscan/internal/core/config"
	"github.com/vietddude/chainscan/internal/indexing/cache"
	"github.com/vietddude/chainscan/internal/indexing/emitter"
	"github.com/vietddude/chainscan/internal/indexing/health"
	redisclient "github.com/vietddude/chainscan/internal/infra/redis"
	"github.com/vietddude/chainscan/internal/infra/storage"
	"github.com/vietddude/chainscan/internal/infra/storage/memory"
	"github.com/vietddude/chainscan/internal/infra/storage/sqlstore"
)

// App wires the engine with its storage, caches and servers.
type App struct {
	cfg          *config.AppConfig
	engine       *Engine
	server       *Server
	healthServer *health.Server
	db           *sqlstore.DB
	redisClient  *redisclient.Client
	emitter      emitter.Emitter
	log          logger.Logger
}

// NewApp creates the application with all dependencies initialized.
// Without a database url rows are kept in memory; without a redis url the
// balance cache is process local; without a nats url events are only logged.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	a := &App{cfg: cfg, log: *logger.Default()}

	// 1. Storage
	var repo storage.TransactionRepository
	if cfg.Database.URL != "" {
		db, err := sqlstore.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		a.db = db
		repo = sqlstore.NewTxRepo(db)
		a.log.Info("Using SQL storage", "driver", cfg.Database.Driver)
	} else {
		repo = memory.NewMemoryStorage()
		a.log.Info("Using Memory storage")
	}

	// 2. Balance cache
	var balances cache.BalanceCache
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			a.log.Warn("Failed to connect to Redis, using memory balance cache", "error", err)
		} else {
			a.redisClient = client
			balances = redisclient.NewBalanceCache(client, cfg.Cache.BalanceTTL)
		}
	}
	if balances == nil {
		balances = cache.NewMemoryBalanceCache(cfg.Cache.BalanceTTL, cfg.Cache.Capacity)
	}

	// 3. Events
	emitters := emitter.Multi{emitter.NewLogEmitter()}
	if cfg.NATS.URL != "" {
		ne, err := emitter.NewNATSEmitter(cfg.NATS)
		if err != nil {
			a.log.Warn("Failed to connect to NATS, events are only logged", "error", err)
		} else {
			emitters = append(emitters, ne)
		}
	}
	a.emitter = emitters

	// 4. Engine
	registry, err := NewChainRegistry(cfg.Providers(), cfg.Cache.HeadTTL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid chain configuration: %w", err)
	}
	a.engine = NewEngine(registry, balances, repo, a.emitter)

	// 5. Servers
	monitor := health.NewMonitor(registry.Chains(), a.engine, a.engine)
	a.server = NewServer(a.engine, monitor, cfg.Server.Port)
	a.healthServer = health.NewServer(monitor, cfg.Server.GRPCPort)

	return a, nil
}

// Engine returns the wired engine.
func (a *App) Engine() *Engine {
	return a.engine
}

// Run serves until ctx is canceled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.server.Start)
	g.Go(a.healthServer.Start)
	g.Go(func() error {
		a.healthServer.Run(gctx)
		return nil
	})
	if a.db != nil {
		a.db.StartMetricsCollector(gctx)
	}

	a.log.Info("Chainscan started",
		"http_port", a.cfg.Server.Port,
		"grpc_port", a.cfg.Server.GRPCPort,
		"chains", len(a.engine.Chains()),
	)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return a.Stop(shutdownCtx)
	})

	return g.Wait()
}

// Stop stops the servers and releases connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping Chainscan...")

	err := a.server.Stop(ctx)
	if herr := a.healthServer.Stop(ctx); herr != nil && err == nil {
		err = herr
	}
	a.Close()
	return err
}

// Close releases connections without stopping servers.
func (a *App) Close() {
	if a.emitter != nil {
		if err := a.emitter.Close(); err != nil {
			a.log.Warn("Failed to close emitter", "error", err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
}
