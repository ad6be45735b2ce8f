package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/atmx/safelend-vault/internal/agent"
	"github.com/atmx/safelend-vault/internal/api"
	"github.com/atmx/safelend-vault/internal/asset"
	"github.com/atmx/safelend-vault/internal/auth"
	"github.com/atmx/safelend-vault/internal/config"
	"github.com/atmx/safelend-vault/internal/ledger"
	"github.com/atmx/safelend-vault/internal/metrics"
	"github.com/atmx/safelend-vault/internal/notify"
	"github.com/atmx/safelend-vault/internal/store"
	"github.com/atmx/safelend-vault/internal/vault"
)

func main() {
	configPath := flag.String("config", os.Getenv("SAFELEND_CONFIG"), "path to TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("safelend-vault failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("safelend-vault stopped")
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- Asset, roles, clock ---
	token := asset.NewLedger(cfg.Vault.Asset)

	roles := auth.NewRoles()
	for _, id := range cfg.Roles.Administrators {
		roles.Grant(id, auth.Administrator)
	}
	for _, id := range cfg.Roles.LiquidationOperators {
		roles.Grant(id, auth.LiquidationOperator)
	}
	if cfg.Agent.Enabled {
		roles.Grant(cfg.Agent.Account, auth.LiquidationOperator)
	}
	if cfg.Keeper.Enabled {
		roles.Grant(cfg.Keeper.Operator, auth.LiquidationOperator)
	}

	clock := ledger.NewWallClock(cfg.Vault.PeriodLength.Duration)

	// --- Event delivery ---
	wsHub := api.NewWSHub()
	recorder := notify.NewRecorder(st, cfg.Recorder.Buffer, logger)
	sink := notify.Fanout{recorder, wsHub, notify.MetricsSink(), notify.LogSink(logger)}

	// --- Vault ---
	vaultCfg, err := cfg.VaultConfig()
	if err != nil {
		return err
	}
	limiter, err := cfg.BorrowLimiter()
	if err != nil {
		return err
	}
	v, err := vault.New(cfg.Vault.ID, cfg.Vault.Account, token, roles, clock, vaultCfg,
		vault.WithBorrowLimiter(limiter),
		vault.WithSink(sink),
		vault.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	exec := vault.NewExecutor(v)

	// --- Liquidation agent ---
	var ag *agent.Agent
	if cfg.Agent.Enabled {
		ag, err = newAgent(cfg, token, roles, recorder, logger)
		if err != nil {
			return err
		}
	}

	// --- API service ---
	svc := api.NewService(exec, ag, token, st, wsHub, logger)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout.Duration))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"safelend-vault"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	svc.Routes(r)

	// --- Server ---
	port := strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return wsHub.Run(gctx) })
	g.Go(func() error { return recorder.Run(gctx) })
	g.Go(func() error {
		slog.Info("safelend-vault listening", "port", port, "vault", cfg.Vault.ID, "asset", cfg.Vault.Asset)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()

		slog.Info("shutting down safelend-vault...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
		return nil
	})
	if cfg.Keeper.Enabled {
		g.Go(func() error {
			return runKeeper(gctx, exec, ag, cfg.Keeper.Operator, cfg.Keeper.Interval.Duration)
		})
	}

	return g.Wait()
}

// openStore selects PostgreSQL (optionally behind Redis) when a database URL
// is configured, and the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if cfg.Database.URL == "" {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), closeAll, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.Database.PoolMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.Database.PoolMaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)

	pg := store.NewPostgresStore(pool)
	if cfg.Database.RunMigration {
		if err := pg.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	slog.Info("connected to PostgreSQL")

	var st store.Store = pg

	// Wrap with Redis read-through cache if configured.
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.Redis.TTL.Duration)
		slog.Info("Redis cache enabled")
	}

	return st, closeAll, nil
}

func newAgent(cfg *config.Config, token asset.Token, roles *auth.Roles, history agent.HistorySink, logger *slog.Logger) (*agent.Agent, error) {
	minProfit, err := cfg.AgentMinProfit()
	if err != nil {
		return nil, err
	}

	ag := agent.New(cfg.Agent.Account, token, roles,
		agent.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.Keeper.Rate), cfg.Keeper.Burst)),
		agent.WithHistorySink(history),
		agent.WithLogger(logger),
		agent.WithMinProfit(minProfit),
	)

	admin := cfg.Roles.Administrators[0]
	if err := ag.AuthorizeVault(admin, cfg.Vault.ID); err != nil {
		return nil, fmt.Errorf("authorize vault for agent: %w", err)
	}
	if cfg.Agent.Public {
		if err := ag.SetPublicLiquidation(admin, true); err != nil {
			return nil, err
		}
	}
	return ag, nil
}

// runKeeper scans the vault on every tick and liquidates what the agent
// finds profitable. The operator must hold funds and have approved the
// agent's account.
func runKeeper(ctx context.Context, exec *vault.Executor, ag *agent.Agent, operator string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("keeper started", "operator", operator, "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var n int
			err := exec.Do(func(v *vault.Vault) error {
				var err error
				n, err = ag.Scan(operator, v)
				return err
			})
			if err != nil {
				slog.Warn("keeper scan had failures", "liquidated", n, "err", err)
				continue
			}
			if n > 0 {
				slog.Info("keeper scan", "liquidated", n)
			}
		}
	}
}
