// Package app wires the tuthub server runtime: config, logging, storage, HTTP routes and
// the chat handler, plus the command-line interface around them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"tuthub/cmd/identity"
	"tuthub/cmd/internal/auth/session"
	"tuthub/cmd/internal/realtime"

	"github.com/dgraph-io/badger/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// App is the tuthub server runtime. It owns the DB pool, the badger handle and
// every component built on them.
type App struct {
	cfg Config
	log Logger

	registry *prometheus.Registry

	dbPool   *pgxpool.Pool
	badgerDB *badger.DB

	resolver identity.Resolver
	tokens   session.TokenManager
	store    realtime.MessageStore
	chat     *realtime.Handler
}

// New constructs a fully wired App. Callers must Close it.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		a.dbPool, err = NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		log.Info("db.enabled", "schema", cfg.DBSchema)
	}

	if a.resolver, err = a.newResolver(); err != nil {
		return nil, err
	}
	if a.store, err = a.newStore(ctx); err != nil {
		return nil, err
	}

	a.tokens, err = session.NewPasetoV4PublicManager(cfg.SessionConfig())
	if err != nil {
		return nil, fmt.Errorf("session: set TUTHUB_PASETO_PUBLIC_KEY_HEX or TUTHUB_PASETO_SECRET_KEY_HEX (see `tuthub keygen`): %w", err)
	}

	a.chat, err = realtime.NewHandler(realtime.Deps{
		Log:      log,
		Auth:     realtime.TokenAuthenticator{Verifier: a.tokens, Resolver: a.resolver},
		Resolver: a.resolver,
		Store:    a.store,
		Metrics:  realtime.NewMetrics(a.registry),
	}, cfg.HandlerConfig())
	if err != nil {
		return nil, err
	}

	return a, nil
}

func (a *App) newResolver() (identity.Resolver, error) {
	if a.dbPool != nil {
		return identity.NewPostgresResolver(a.dbPool, identity.WithSchema(a.cfg.DBSchema))
	}

	users := identity.NewMemoryResolverFromUsernames(a.cfg.DevUsernames())
	for _, u := range users.Users() {
		a.log.Info("identity.dev_user", "user_id", u.ID, "username", u.Username)
	}
	return users, nil
}

// newStore builds the message store selected by TUTHUB_STORE.
func (a *App) newStore(ctx context.Context) (realtime.MessageStore, error) {
	switch kind := a.cfg.StoreKind(); kind {
	case StorePostgres:
		st, err := realtime.NewPostgresStore(a.dbPool, realtime.WithSchema(a.cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		if a.cfg.DBMigrate {
			if err := st.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		a.log.Info("store.enabled", "kind", kind)
		return st, nil

	case StoreBadger:
		db, err := realtime.OpenBadger(a.cfg.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("badger open %s: %w", a.cfg.BadgerPath, err)
		}
		a.badgerDB = db
		a.log.Info("store.enabled", "kind", kind, "path", a.cfg.BadgerPath)
		return realtime.NewBadgerStore(db, a.log)

	default:
		a.log.Info("store.enabled", "kind", StoreMemory)
		return realtime.NewInMemoryStore(), nil
	}
}

// Handler returns the routed, request-logged HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.chat, a.registry)
	return WithRequestLogging(mux, a.log)
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	// Chat connections outlive Shutdown (they are hijacked); baseCtx ends them.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", a.cfg.StoreKind(), "db_enabled", a.dbPool != nil)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

// Close releases the store, badger handle and DB pool. Safe on a partially built App.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.badgerDB != nil {
		errs = append(errs, a.badgerDB.Close())
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
	return errors.Join(errs...)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
