// Package app wires the server runtime: config, logging, storage, the auth
// services, the /me HTTP surface and the alert stream.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/sullivanpt/in-true-life-1/cmd/identity"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/alerts"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/audit"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/access"
	authapi "github.com/sullivanpt/in-true-life-1/cmd/internal/auth/api"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/gate"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/logintoken"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/session"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/clock"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/metrics"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/migrations"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/realtime"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/store"
	"github.com/sullivanpt/in-true-life-1/cmd/security/token"
)

// App owns the server and every resource that must be released on shutdown.
type App struct {
	cfg     Config
	log     Logger
	metrics *metrics.Metrics

	store store.Store
	pool  *pgxpool.Pool
	nats  *nats.Conn

	shutdownTracing func(context.Context) error

	auth *authapi.Handler
}

// New constructs a fully wired App. Without ITL_DATABASE_URL it runs on the
// in-memory store.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg)
	}
	a := &App{cfg: cfg, log: log, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.release(context.Background())
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	sink, err := a.auditSink()
	if err != nil {
		return nil, err
	}

	shutdown, err := InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint, log)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.shutdownTracing = shutdown

	sessCfg, err := session.LoadConfigFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	g, err := gate.New(sessCfg, a.store, gate.Options{
		Hasher:  token.HasherFromEnv(),
		Audit:   sink,
		Metrics: a.metrics,
		Log:     log,
	})
	if err != nil {
		return nil, err
	}

	accessCfg, err := access.LoadConfigFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	scheme, err := identity.SchemeByName(ctx, accessCfg.CredentialScheme)
	if err != nil {
		return nil, err
	}
	tokCfg, err := logintoken.LoadConfigFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	tokens, err := logintoken.New(tokCfg)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(log, a.metrics)
	inbox := alerts.NewService(a.store, hub, clock.System{}, log, store.DefaultAlertLimit)

	acc, err := access.New(sessCfg, accessCfg, a.store, access.Options{
		Scheme:   scheme,
		Tokens:   tokens,
		Audit:    sink,
		Metrics:  a.metrics,
		Log:      log,
		Alerts:   inbox,
		Throttle: access.NewFailureWindow(accessCfg.PasswordFailMax, accessCfg.PasswordFailWindow),
	})
	if err != nil {
		return nil, err
	}

	wsCfg, err := realtime.LoadConfigFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	apiCfg, err := authapi.LoadConfigFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	a.auth, err = authapi.NewHandler(apiCfg, authapi.Deps{
		Gate:   g,
		Access: acc,
		Alerts: inbox,
		Stream: realtime.NewWSGateway(log, hub, wsCfg),
		Log:    log,
	})
	if err != nil {
		return nil, err
	}

	log.Info("app.ready",
		"store", storeKind(a.pool),
		"credential_scheme", scheme.Name(),
		"signed_tokens", tokens.Signed(),
		"hmac_keys", token.HasherFromEnv().HMAC(),
	)
	ok = true
	return a, nil
}

func storeKind(pool *pgxpool.Pool) string {
	if pool == nil {
		return "memory"
	}
	return "postgres"
}

// openStore picks Postgres when a database URL is configured.
func (a *App) openStore(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		a.store = store.NewMemoryStore()
		return nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	a.pool = pool
	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)

	if a.cfg.DBMigrate {
		if err := migrations.Up(ctx, pool, a.cfg.DBSchema); err != nil {
			return err
		}
		a.log.Info("db.migrated", "schema", a.cfg.DBSchema)
	}

	st, err := store.NewPostgresStore(pool, store.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return err
	}
	a.store = st
	return nil
}

// auditSink fans events out to the log, the metrics counter and, when
// configured, Postgres and NATS.
func (a *App) auditSink() (audit.Sink, error) {
	sinks := audit.Multi{
		audit.LogSink{Log: a.log},
		audit.MetricsSink{Counter: a.metrics},
	}
	if a.pool != nil && a.cfg.AuditPostgres {
		sinks = append(sinks, audit.NewPostgresSink(a.pool, a.cfg.DBSchema, a.log))
	}
	if a.cfg.NATSURL != "" {
		nc, sink, err := audit.ConnectNATS(a.cfg.NATSURL, a.cfg.NATSSubjectPrefix, a.log)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.nats = nc
		sinks = append(sinks, sink)
		a.log.Info("audit.nats.enabled", "subject_prefix", a.cfg.NATSSubjectPrefix)
	}
	return sinks, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.routes() }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"alerts_stream", wsBaseURL(base)+"/me/alerts/stream",
		"db_enabled", a.pool != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.release(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.release(shutdownCtx)
		return err
	}
	a.release(shutdownCtx)

	a.log.Info("server.stopped")
	return nil
}

// release closes everything New opened. It is safe on a partly built App.
func (a *App) release(ctx context.Context) {
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.log.Error("tracing.shutdown.fail", "err", err)
		}
		a.shutdownTracing = nil
	}
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			a.log.Error("nats.drain.fail", "err", err)
		}
		a.nats = nil
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
		a.store = nil
	}
	// The pool is owned here; PostgresStore.Close leaves it open.
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
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
