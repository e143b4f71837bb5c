package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"ticket-ledger/config"
	"ticket-ledger/internal/allocation"
	"ticket-ledger/internal/cache"
	"ticket-ledger/internal/handlers"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/notify"
	"ticket-ledger/internal/policy"
	"ticket-ledger/internal/repository"
	"ticket-ledger/internal/router"
	"ticket-ledger/internal/store"
	"ticket-ledger/internal/tickets"
	"ticket-ledger/monitoring"
	"ticket-ledger/security"
	"ticket-ledger/utils"
)

const (
	shutdownTimeout = 15 * time.Second
	monitorInterval = 30 * time.Second
)

type flags struct {
	configPath  string
	verifyChain bool
	migrate     bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("ticket-ledger", pflag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	fs.BoolVar(&f.verifyChain, "verify-chain", false, "verify the ledger chain and exit")
	fs.BoolVar(&f.migrate, "migrate", false, "create store indexes and exit")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler).With("service", "ticket-ledger"))
}

// backend holds the opened store and the clients behind it.
type backend struct {
	store store.Store
	redis *redis.Client
	mongo *mongo.Client
}

func (b *backend) Close(ctx context.Context) {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			slog.Warn("Failed to close Redis client", "error", err)
		}
	}
	if b.mongo != nil {
		if err := b.mongo.Disconnect(ctx); err != nil {
			slog.Warn("Failed to disconnect MongoDB", "error", err)
		}
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	schema := store.DefaultSchema()
	b := &backend{}

	// Redis also backs the user cache and rate limiter, so connect whenever
	// the store is not purely in memory.
	if cfg.StoreBackend != config.BackendMemory {
		client, err := utils.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			if cfg.StoreBackend == config.BackendRedis {
				return nil, err
			}
			slog.Warn("Redis unavailable, running without cache and rate limits", "error", err)
		}
		b.redis = client
	}

	switch cfg.StoreBackend {
	case config.BackendRedis:
		b.store = store.NewRedisStore(b.redis, schema)
	case config.BackendMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			b.Close(ctx)
			return nil, fmt.Errorf("connect to mongo: %w", err)
		}
		b.mongo = client
		b.store = store.NewMongoStore(client.Database(cfg.MongoDatabase), schema)
		if err := b.store.Ping(ctx); err != nil {
			b.Close(ctx)
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		slog.Info("Connected to MongoDB", "database", cfg.MongoDatabase)
	default:
		slog.Warn("Using in-memory store, data is lost on restart")
		b.store = store.NewMemoryStore(schema)
	}
	return b, nil
}

func Start() error {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return err
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close(context.Background())

	if f.migrate {
		return migrate(ctx, b.store)
	}

	repos := repository.New(b.store)
	chain, err := ledger.NewChain(repos.Blocks, ledger.Config{
		Secret:     []byte(cfg.LedgerSecret),
		PayloadTTL: cfg.QRTTL,
	})
	if err != nil {
		return err
	}
	if err := chain.Load(ctx); err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	if f.verifyChain {
		return verifyChain(chain)
	}

	return serve(ctx, cfg, b, repos, chain)
}

func migrate(ctx context.Context, s store.Store) error {
	ms, ok := s.(*store.MongoStore)
	if !ok {
		slog.Info("Store backend needs no migration")
		return nil
	}
	if err := ms.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	slog.Info("Store indexes created")
	return nil
}

func verifyChain(chain *ledger.Chain) error {
	index, valid := chain.VerifyChain()
	monitoring.RecordChainValid(valid)
	if !valid {
		fmt.Printf("ledger chain broken at block %d (height %d)\n", index, chain.Height())
		return fmt.Errorf("ledger chain broken at block %d", index)
	}
	fmt.Printf("ledger chain valid (height %d)\n", chain.Height())
	return nil
}

func serve(ctx context.Context, cfg *config.Config, b *backend, repos *repository.Repositories, chain *ledger.Chain) error {
	recorder := ledger.NewRecorder(chain, utils.DefaultBreakerSettings())

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		notifier = notify.NewPubNubNotifier(cfg.PubNubPublishKey, cfg.PubNubSubscribeKey, cfg.PubNubSecretKey)
	} else {
		slog.Info("PubNub keys not set, notifications disabled")
	}

	var userCache cache.UserCache = cache.NopCache{}
	if b.redis != nil {
		userCache = cache.NewRedisCache(b.redis, cfg.UserCacheTTL)
	}

	limits := policy.New(repos.Profiles, repos.Tickets, policy.Config{
		DefaultEventLimit:     cfg.DefaultEventLimit,
		MaxTicketsPerUser:     cfg.MaxTicketsPerUser,
		FailOpenOnPolicyError: cfg.FailOpenOnPolicyError,
	})
	engine := allocation.NewEngine(repos, recorder, notifier, allocation.Config{
		MaxPerUser: cfg.LotteryMaxPerUser,
		LeaseTTL:   cfg.DrawLeaseTTL,
	})
	machine := tickets.NewMachine(repos, recorder, limits, userCache, notifier, tickets.Config{
		FutureSkewTolerance: cfg.FutureSkewTolerance,
	})
	auth := security.NewAuthenticator(cfg.JWTSecret, cfg.OperatorHeader, cfg.OperatorKey)

	limiter := security.NewRateLimiter(b.redis, cfg.RateLimitVerifyPerMinute, time.Minute)
	engineHTTP := router.Setup(router.Deps{
		Auth:    auth,
		Limiter: limiter,
		Lottery: handlers.NewLotteryHandler(engine),
		Tickets: handlers.NewTicketHandler(machine, auth),
		Admin:   handlers.NewAdminHandler(chain, recorder),
		Store:   b.store,
	})

	servers := []*http.Server{{Addr: ":" + cfg.Port, Handler: engineHTTP}}
	if cfg.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitoring.NewMonitor(chain, monitorInterval).Run(gctx)
		return nil
	})
	for _, srv := range servers {
		g.Go(func() error {
			slog.Info("Server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("Failed to shut down server", "error", err, "addr", srv.Addr)
			}
		}
		if block := recorder.Flush(shutdownCtx); block != nil {
			slog.Info("Flushed pending ledger transactions", "block", block.Index)
		}
		return nil
	})

	return g.Wait()
}
