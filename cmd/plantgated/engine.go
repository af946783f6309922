package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"plantgate.org/internal/audit"
	"plantgate.org/internal/auth"
	"plantgate.org/internal/config"
	"plantgate.org/internal/httpapi"
	"plantgate.org/internal/ledger"
	"plantgate.org/internal/obs"
	"plantgate.org/internal/policy"
	"plantgate.org/internal/seed"
	"plantgate.org/internal/session"
	"plantgate.org/internal/store/pg"
)

// engine is the assembled access-control core plus the handles the daemon
// needs to probe and close its backing stores.
type engine struct {
	catalog     *auth.Catalog
	roles       *auth.RoleProfiles
	users       auth.UserStore
	sessions    *session.Manager
	evaluator   *policy.Evaluator
	provisioner *auth.Provisioner
	sink        *audit.Async

	checks  map[string]httpapi.Pinger
	closers []func() error
}

func buildEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	e := &engine{catalog: auth.DefaultCatalog(), checks: make(map[string]httpapi.Pinger)}
	ok := false
	defer func() {
		if !ok {
			e.close()
		}
	}()

	var err error
	if cfg.RolesFile != "" {
		e.roles, err = auth.LoadRoleProfilesFile(cfg.RolesFile, e.catalog)
	} else {
		e.roles, err = auth.DefaultRoleProfiles(e.catalog)
	}
	if err != nil {
		return nil, fmt.Errorf("role profiles: %w", err)
	}

	var pgStore *pg.Store
	if cfg.PGDSN != "" && (cfg.Backend != config.BackendMemory || cfg.AuditWriter != "log") {
		pgStore, err = pg.Open(cfg.PGDSN, pg.WithCatalog(e.catalog))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		e.closers = append(e.closers, pgStore.Close)
		e.checks["postgres"] = pgStore
	}

	var (
		sessStore session.Store
		sod       ledger.Ledger
	)
	switch cfg.Backend {
	case config.BackendMemory:
		e.users = auth.NewInMemoryUsers()
		sessStore = session.NewInMemoryStore()
		sod = ledger.NewInMemory(time.Now)
	case config.BackendPostgres:
		e.users = pgStore
		sessStore = pgStore.Sessions()
		sod = pgStore.Ledger()
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		e.closers = append(e.closers, rdb.Close)
		redisLedger := ledger.NewRedis(rdb)
		e.checks["redis"] = redisLedger
		sessStore = session.NewRedisStore(rdb, "plantgate:")
		sod = redisLedger
		if pgStore != nil {
			e.users = pgStore
		} else {
			e.users = auth.NewInMemoryUsers()
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	var writer audit.Writer = audit.LogWriter{}
	switch cfg.AuditWriter {
	case "postgres":
		writer = pgStore.AuditWriter()
	case "both":
		writer = audit.MultiWriter{audit.LogWriter{}, pgStore.AuditWriter()}
	}
	e.sink = audit.NewAsync(writer,
		audit.WithBuffer(cfg.AuditBuffer),
		audit.WithBatchSize(cfg.AuditBatchSize),
		audit.WithFlushInterval(cfg.AuditFlushInterval),
	)

	signer, err := session.NewSigner([]byte(cfg.SessionSecret), cfg.SessionIssuer)
	if err != nil {
		return nil, err
	}
	e.sessions, err = session.NewManager(sessStore, e.users, e.catalog, signer)
	if err != nil {
		return nil, err
	}
	e.provisioner, err = auth.NewProvisioner(e.users, e.catalog, e.roles, auth.WithSessionRevoker(e.sessions))
	if err != nil {
		return nil, err
	}
	e.evaluator = policy.New(e.catalog,
		policy.WithLedger(ledger.WithMetrics(sod)),
		policy.WithAuditSink(e.sink),
	)

	if cfg.SeedDemo {
		n, err := seed.Load(ctx, e.provisioner)
		if err != nil {
			return nil, err
		}
		obs.Info("demo directory loaded", map[string]any{"created": n})
	}
	ok = true
	return e, nil
}

// shutdown drains the audit sink and closes the backing stores.
func (e *engine) shutdown(ctx context.Context) {
	if e.sink != nil {
		if err := e.sink.Close(ctx); err != nil {
			obs.Warn("audit drain incomplete", map[string]any{"error": err.Error()})
		}
	}
	e.close()
}

func (e *engine) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
	e.closers = nil
}
