package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"veritas/internal/audit"
	auditHandler "veritas/internal/audit/handler"
	auditMemory "veritas/internal/audit/store/memory"
	auditPostgres "veritas/internal/audit/store/postgres"
	certHandler "veritas/internal/certificate/handler"
	certService "veritas/internal/certificate/service"
	certStore "veritas/internal/certificate/store"
	"veritas/internal/notification"
	"veritas/internal/notification/kafka"
	"veritas/internal/platform/config"
	"veritas/internal/platform/metrics"
	"veritas/internal/platform/postgres"
	"veritas/internal/platform/redis"
	"veritas/internal/platform/workerpool"
	reviewHandler "veritas/internal/review/handler"
	reviewService "veritas/internal/review/service"
	reviewStore "veritas/internal/review/store"
	verificationHandler "veritas/internal/verification/handler"
	"veritas/internal/verification/providers"
	"veritas/internal/verification/providers/cache"
	"veritas/internal/verification/providers/httpprovider"
	verificationService "veritas/internal/verification/service"
	verificationStore "veritas/internal/verification/store"
	"veritas/pkg/platform/circuit"
	"veritas/pkg/platform/httputil"
	authmw "veritas/pkg/platform/middleware/auth"
	requestmw "veritas/pkg/platform/middleware/request"
	"veritas/pkg/platform/middleware/requesttime"
	"veritas/pkg/platform/tx"
)

// certificateStore is every certificate capability the services need.
type certificateStore interface {
	certService.Store
	verificationService.CertificateStore
	reviewService.CertificateStore
}

type stores struct {
	certificates  certificateStore
	verifications verificationService.VerificationStore
	reviews       reviewService.Store
	audit         audit.Store
	tx            tx.Runner
}

// app holds the wired services plus whatever needs closing on exit.
type app struct {
	log     *slog.Logger
	storage string
	pool    *workerpool.Pool
	auth    *authmw.HMACValidator
	health  []func(context.Context) error
	closers []func()

	certificates  *certService.Service
	verifications *verificationService.Service
	reviews       *reviewService.Service
	chain         *audit.Chain
}

func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics) (*app, error) {
	a := &app{log: log, auth: authmw.NewHMACValidator(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer)}

	st, err := a.openStores(ctx, cfg.Database)
	if err != nil {
		a.close()
		return nil, err
	}
	checks, err := a.buildProviders(ctx, cfg, m)
	if err != nil {
		a.close()
		return nil, err
	}
	notifier, err := a.buildNotifier(ctx, cfg.Kafka)
	if err != nil {
		a.close()
		return nil, err
	}

	a.chain = audit.NewChain(st.audit, audit.WithLogger(log), audit.WithMetrics(m))
	a.certificates = certService.New(st.certificates, certService.WithLogger(log))
	a.reviews = reviewService.New(st.reviews, st.certificates, a.chain,
		reviewService.WithLogger(log),
		reviewService.WithMetrics(m),
		reviewService.WithTxRunner(st.tx),
		reviewService.WithSLAWindow(cfg.Review.SLAWindow),
	)
	a.pool = workerpool.New(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, log)
	a.verifications = verificationService.New(st.verifications, st.certificates, a.reviews, a.chain, checks, a.pool,
		verificationService.WithLogger(log),
		verificationService.WithMetrics(m),
		verificationService.WithNotifier(notifier),
		verificationService.WithTxRunner(st.tx),
		verificationService.WithCheckTimeout(cfg.Pipeline.CheckTimeout),
	)
	return a, nil
}

func (a *app) openStores(ctx context.Context, cfg config.Database) (*stores, error) {
	if cfg.URL == "" {
		a.storage = "memory"
		return &stores{
			certificates:  certStore.NewInMemory(),
			verifications: verificationStore.NewInMemory(),
			reviews:       reviewStore.NewInMemory(),
			audit:         auditMemory.NewInMemoryStore(),
			tx:            tx.NoopRunner{},
		}, nil
	}

	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	a.health = append(a.health, db.PingContext)
	if cfg.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
	}
	a.storage = "postgres"
	return postgresStores(db), nil
}

func postgresStores(db *sql.DB) *stores {
	return &stores{
		certificates:  certStore.NewPostgres(db),
		verifications: verificationStore.NewPostgres(db),
		reviews:       reviewStore.NewPostgres(db),
		audit:         auditPostgres.New(db),
		tx:            tx.NewSQLRunner(db),
	}
}

func (a *app) buildProviders(ctx context.Context, cfg config.Config, m *metrics.Metrics) (providers.Set, error) {
	p := cfg.Providers
	client := func(name string) []httpprovider.Option {
		return []httpprovider.Option{
			httpprovider.WithAPIKey(p.APIKey),
			httpprovider.WithLogger(a.log),
			httpprovider.WithTimeout(cfg.Pipeline.CheckTimeout),
			httpprovider.WithBreaker(circuit.New(name,
				circuit.WithFailureThreshold(p.BreakerThreshold),
				circuit.WithCooldown(p.BreakerCooldown),
			)),
			httpprovider.WithRetry(p.RetryMax, p.RetryWaitMin, p.RetryWaitMax),
		}
	}

	var cacheStore cache.Store = cache.NewMemoryStore()
	rdb, err := redis.Open(ctx, cfg.Redis)
	if err != nil {
		return providers.Set{}, err
	}
	if rdb != nil {
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.health = append(a.health, rdb.Health)
		cacheStore = cache.NewRedisStore(rdb, "veritas:portal:")
	}

	return providers.Set{
		Digital: httpprovider.NewDigital(p.DigitalURL, client("digital")...),
		Portal: cache.NewPortal(httpprovider.NewPortal(p.PortalURL, client("portal")...), cacheStore, p.PortalCacheTTL,
			cache.WithMetrics(m), cache.WithLogger(a.log)),
		Forensic: httpprovider.NewForensic(p.ForensicURL, client("forensic")...),
		Identity: httpprovider.NewIdentity(p.IdentityURL, client("identity")...),
	}, nil
}

func (a *app) buildNotifier(ctx context.Context, cfg config.Kafka) (notification.Notifier, error) {
	logNotifier := notification.NewLogNotifier(a.log)
	if len(cfg.Brokers) == 0 {
		return logNotifier, nil
	}
	pub, err := kafka.New(cfg, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pub.Close)
	a.health = append(a.health, pub.Ping)
	if err := pub.EnsureTopic(ctx, cfg.Partitions, cfg.Replication); err != nil {
		return nil, fmt.Errorf("ensure kafka topic: %w", err)
	}
	return notification.Multi{logNotifier, pub}, nil
}

func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(requestmw.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requesttime.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", a.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(a.auth, a.log))
		certHandler.New(a.certificates, a.log).Register(r)
		verificationHandler.New(a.verifications, a.log).Register(r)
		reviewHandler.New(a.reviews, a.log).Register(r)
		auditHandler.New(a.chain, a.log).Register(r)
	})
	return r
}

func (a *app) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, check := range a.health {
		if err := check(r.Context()); err != nil {
			a.log.WarnContext(r.Context(), "readiness check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
