package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"keeper/internal/audit"
	"keeper/internal/identity"
	"keeper/internal/mediator"
	"keeper/internal/mediator/handler"
	mediatormetrics "keeper/internal/mediator/metrics"
	"keeper/internal/platform/config"
	"keeper/internal/platform/httpserver"
	"keeper/internal/platform/logger"
	"keeper/internal/platform/metrics"
	redisclient "keeper/internal/platform/redis"
	"keeper/internal/policy"
	policyconfig "keeper/internal/policy/config"
	policymetrics "keeper/internal/policy/metrics"
	"keeper/internal/ratelimit"
	memorystore "keeper/internal/records/store/memory"
	postgresstore "keeper/internal/records/store/postgres"
	httptransport "keeper/internal/transport/http"
	"keeper/migrations"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "keeper:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("keeper", pflag.ContinueOnError)
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flags.StringVar(&cfg.PolicyFile, "policy", cfg.PolicyFile, "policy configuration file")
	flags.BoolVar(&cfg.PolicyWatch, "watch-policy", cfg.PolicyWatch, "reload the policy file when it changes")
	flags.StringVar(&cfg.Audit.Sink, "audit-sink", cfg.Audit.Sink, "audit sink: memory, postgres or kafka")
	issueToken := flags.String("issue-token", "", "print a signed token for subject:role1,role2 and exit")
	tokenTTL := flags.Duration("token-ttl", 8*time.Hour, "lifetime of tokens printed by --issue-token")
	newAdminToken := flags.Bool("new-admin-token", false, "print a fresh admin token and its KEEPER_ADMIN_TOKEN_HASH, then exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	cfg.Audit.Sink = strings.ToLower(cfg.Audit.Sink)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(log)

	if *newAdminToken {
		return printAdminToken(os.Stdout)
	}

	jwtService := identity.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer)
	if *issueToken != "" {
		token, err := issueDevToken(jwtService, *issueToken, *tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	model, err := policyconfig.Load(cfg.PolicyFile)
	if err != nil {
		log.Error("refusing to start with invalid policy", "policy_file", cfg.PolicyFile, "error", err)
		return err
	}
	engine := policy.New(model, policy.WithMetrics(policymetrics.New()), policy.WithLogger(log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.Database.URL != "" {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
	}
	rdb, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	pipeline, err := buildAuditPipeline(ctx, cfg, db, rdb, log)
	if err != nil {
		return err
	}
	defer pipeline.Close()
	emitter := audit.New(pipeline.compliance, pipeline.security,
		audit.WithLogger(log),
		audit.WithTracker(pipeline.tracker),
	)

	var (
		store    mediator.RecordStore = memorystore.New()
		txRunner mediator.TxRunner    = mediator.NoTx{}
	)
	if db != nil {
		store = postgresstore.New(db)
		txRunner = mediator.NewPostgresTx(db)
	}
	svc := mediator.New(store, engine, emitter,
		mediator.WithTxRunner(txRunner),
		mediator.WithMetrics(mediatormetrics.New()),
		mediator.WithLogger(log),
		mediator.WithTimeout(cfg.RequestTimeout),
	)

	deps := httptransport.Deps{
		Records:   handler.New(svc, log),
		Validator: identity.NewJWTServiceAdapter(jwtService),
		AdminHash: cfg.AdminTokenHash,
		Metrics:   metrics.New(),
		Checks:    map[string]httptransport.HealthCheck{},
		Logger:    log,
	}
	if db != nil {
		deps.Checks["postgres"] = db.PingContext
	}
	if rdb != nil {
		deps.Revocations = identity.NewRedisRevocations(rdb.Client)
		deps.Checks["redis"] = rdb.Health
	}
	if cfg.RateLimit.Requests > 0 {
		var limitStore ratelimit.Store = ratelimit.NewMemoryStore()
		if rdb != nil {
			limitStore = ratelimit.NewRedisStore(rdb.Client)
		}
		deps.RateLimit = ratelimit.New(limitStore, cfg.RateLimit.Requests, cfg.RateLimit.Window, log).Middleware
	}
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting keeper",
			"addr", cfg.Addr,
			"audit_sink", cfg.Audit.Sink,
			"entity_types", model.EntityTypeNames(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.PolicyWatch {
		watcher := policyconfig.NewWatcher(cfg.PolicyFile, engine.Swap, policyconfig.WithLogger(log))
		g.Go(func() error { return ignoreCanceled(watcher.Run(gctx)) })
	}
	for _, runner := range pipeline.runners {
		g.Go(func() error { return ignoreCanceled(runner(gctx)) })
	}
	return g.Wait()
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
