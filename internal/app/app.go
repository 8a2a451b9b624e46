// Package app bundles every process-wide collaborator — the log
// router, IP pool, resolver, rate limiter, repositories, and the
// orchestrator built from them — behind one constructor shared by
// cmd/server and cmd/worker. Grounded on the teacher's main.go, which
// builds exactly this set of singletons (a *sql.DB, a RateLimiterManager,
// a logger) at process start and passes them down by hand; this
// collects the equivalent into one struct with an explicit Close
// rather than leaving teardown implicit.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devyanshu/emailprobe/internal/catchall"
	"github.com/devyanshu/emailprobe/internal/config"
	"github.com/devyanshu/emailprobe/internal/httpapi"
	"github.com/devyanshu/emailprobe/internal/ippool"
	"github.com/devyanshu/emailprobe/internal/logging"
	"github.com/devyanshu/emailprobe/internal/orchestrator"
	"github.com/devyanshu/emailprobe/internal/prober"
	"github.com/devyanshu/emailprobe/internal/ratelimit"
	"github.com/devyanshu/emailprobe/internal/repository"
	pgrepo "github.com/devyanshu/emailprobe/internal/repository/postgres"
	"github.com/devyanshu/emailprobe/internal/resolver"
)

// App is the process-wide application context: every long-lived
// collaborator plus the config it was built from.
type App struct {
	Config *config.Config

	DB    *sql.DB
	Redis *redis.Client

	Logs  *logging.Router
	Pool  *ippool.Pool
	Repos repository.Repositories
	Orch  *orchestrator.Orchestrator
	HTTP  *httpapi.Server
}

// New wires every collaborator from cfg: opens Postgres and Redis,
// builds the Postgres-backed repositories, and constructs the
// orchestrator. Call Close when done.
func New(cfg *config.Config) (*App, error) {
	db, err := pgrepo.Open(cfg.DatabaseURL, cfg.MigrationsPath)
	if err != nil {
		return nil, fmt.Errorf("app: connecting to postgres: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("app: connecting to redis: %w", err)
	}

	repos := repository.Repositories{
		Companies: pgrepo.NewCompanies(db),
		Patterns:  pgrepo.NewPatterns(db),
		People:    pgrepo.NewPeople(db),
		CatchAll:  pgrepo.NewCatchAllDomains(db),
	}

	logRouter := logging.NewRouter("logs")
	pool := ippool.New(ippool.Config{Addresses: cfg.PoolAddresses, EarlyExit: cfg.EarlyExit})
	res := resolver.New(5 * time.Second)
	limiter := ratelimit.NewManager()
	detector := catchall.New(repos.CatchAll)

	var proxyCfg *prober.ProxyConfig
	if cfg.ProxyAddress != "" {
		proxyCfg = &prober.ProxyConfig{
			Address:  cfg.ProxyAddress,
			Username: cfg.ProxyUsername,
			Password: cfg.ProxyPassword,
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Resolver:     res,
		Pool:         pool,
		Detector:     detector,
		Limiter:      limiter,
		Repositories: repos,
		Logs:         logRouter,
		HeloHostname: cfg.HeloHostname,
		SenderEmail:  cfg.SenderEmail,
		IdleTimeout:  cfg.IdleTimeout,
		Proxy:        proxyCfg,
	})

	return &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Logs:   logRouter,
		Pool:   pool,
		Repos:  repos,
		Orch:   orch,
		HTTP:   httpapi.New(orch, repos, rdb),
	}, nil
}

// Close releases every resource opened by New, in reverse acquisition
// order, returning the first error encountered.
func (a *App) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(a.Logs.Close())
	record(a.Redis.Close())
	record(a.DB.Close())
	return firstErr
}
