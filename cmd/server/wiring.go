package main

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"once/internal/auth/handler"
	authmetrics "once/internal/auth/metrics"
	"once/internal/auth/service"
	"once/internal/certificate"
	"once/internal/certificate/crl"
	"once/internal/client"
	"once/internal/consent"
	"once/internal/platform/config"
	"once/internal/platform/database"
	"once/internal/platform/health"
	"once/internal/platform/kafka/producer"
	redisplatform "once/internal/platform/redis"
	"once/internal/platform/tracer"
	"once/internal/ratelimit"
	ratelimitmw "once/internal/ratelimit/middleware"
	"once/internal/store"
	"once/internal/store/cleanup"
	memorystore "once/internal/store/memory"
	postgresstore "once/internal/store/postgres"
	redisstore "once/internal/store/redis"
	"once/internal/token"
	httptransport "once/internal/transport/http"
	"once/pkg/platform/audit"
	auditkafka "once/pkg/platform/audit/kafka"
	auditmemory "once/pkg/platform/audit/memory"
	"once/pkg/platform/audit/publisher"
	"once/pkg/platform/middleware/request"
	"once/pkg/secrets"
)

const (
	auditBuffer       = 1024
	poolStatsInterval = 15 * time.Second
)

// app holds the wired routers, the goroutines to run alongside them and the
// resources to release on exit.
type app struct {
	health          *health.Handler
	authorizeRouter http.Handler
	tokenRouter     http.Handler
	background      []func(context.Context) error
	closers         []func() error
	log             *slog.Logger
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	checks := health.New(cfg.Environment, health.WithLogger(log))
	a.health = checks

	validator, err := buildValidator(cfg, log, checks, a)
	if err != nil {
		return nil, err
	}

	clients, err := client.LoadFile(cfg.ClientsFile)
	if err != nil {
		return nil, fmt.Errorf("load clients: %w", err)
	}
	log.Info("client registry loaded", "clients", clients.Len())

	tickets, err := buildTicketSigner(cfg, log)
	if err != nil {
		return nil, err
	}

	signer, err := buildSigner(cfg, log)
	if err != nil {
		return nil, err
	}
	issuer, err := token.NewIssuer(signer, cfg.Issuer, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("create token issuer: %w", err)
	}

	codes, err := openStore(ctx, cfg, log, reg, checks, a)
	if err != nil {
		return nil, err
	}
	sweeper, err := cleanup.New(codes,
		cleanup.WithInterval(cfg.CleanupInterval),
		cleanup.WithLogger(log),
		cleanup.WithMetrics(reg),
	)
	if err != nil {
		return nil, err
	}
	a.background = append(a.background, sweeper.Start)

	auditPublisher, err := buildAudit(cfg, log, checks, a)
	if err != nil {
		return nil, err
	}

	svc, err := service.New(validator, clients, tickets, codes, issuer,
		&service.Config{CodeTTL: cfg.CodeTTL},
		service.WithLogger(log),
		service.WithAuditPublisher(auditPublisher),
		service.WithMetrics(authmetrics.New(reg)),
		service.WithTracer(tracer.NewOTel()),
	)
	if err != nil {
		return nil, err
	}

	deps := httptransport.Deps{
		Logger:    log,
		Auth:      handler.New(svc, issuer, log),
		Health:    checks,
		Metrics:   request.NewMetrics(reg),
		Gatherer:  reg,
		RateLimit: ratelimitmw.New(ratelimit.New(cfg.TokenRateLimit, cfg.TokenRateBurst), log),
	}
	a.authorizeRouter = httptransport.NewAuthorizeRouter(deps)
	a.tokenRouter = httptransport.NewTokenRouter(deps)

	log.Info("pipeline ready",
		"store", cfg.StoreBackend,
		"signing_alg", issuer.Alg(),
		"code_ttl", cfg.CodeTTL,
		"token_ttl", cfg.TokenTTL,
	)
	return a, nil
}

func buildValidator(cfg config.Config, log *slog.Logger, checks *health.Handler, a *app) (*certificate.Validator, error) {
	roots, rootCerts, err := certificate.LoadTrustRoots(cfg.TrustRoots...)
	if err != nil {
		return nil, fmt.Errorf("load trust roots: %w", err)
	}
	intermediates, err := certificate.LoadCACertificates(cfg.Intermediates...)
	if err != nil {
		return nil, fmt.Errorf("load intermediates: %w", err)
	}

	if len(cfg.CRLSources) == 0 && cfg.RequireRevocationData {
		log.Warn("no revocation sources configured; every certificate will be rejected")
	}

	list := crl.NewList()
	issuers := append(append([]*x509.Certificate{}, rootCerts...), intermediates...)
	refresher := crl.NewRefresher(list, cfg.CRLSources, issuers,
		crl.WithInterval(cfg.CRLRefreshInterval),
		crl.WithLogger(log),
		crl.WithRefreshHook(func(ctx context.Context, loaded int, err error) {
			log.InfoContext(ctx, "revocation lists refreshed", "loaded", loaded, "sources", len(cfg.CRLSources), "failed", err != nil)
		}),
	)
	if len(cfg.CRLSources) > 0 {
		a.background = append(a.background, refresher.Start)
		checks.RegisterCheck("revocation", func(context.Context) error {
			if list.Len() == 0 {
				return errors.New("no revocation list loaded")
			}
			return nil
		})
	}

	return certificate.NewValidator(roots,
		certificate.WithIntermediates(intermediates...),
		certificate.WithRevocation(list, cfg.RequireRevocationData),
	)
}

func buildTicketSigner(cfg config.Config, log *slog.Logger) (*consent.TicketSigner, error) {
	secret := cfg.ConsentSecret
	if secret == "" {
		if cfg.IsProduction() {
			return nil, errors.New("ONCE_CONSENT_SECRET is required in production")
		}
		generated, err := secrets.NewSigningKey()
		if err != nil {
			return nil, err
		}
		secret = generated
		log.Warn("using an ephemeral consent secret; pending prompts will not survive a restart")
	}
	return consent.NewTicketSigner([]byte(secret), cfg.ConsentTicketTTL)
}

func buildSigner(cfg config.Config, log *slog.Logger) (token.Signer, error) {
	if cfg.SigningAlg == "HS256" {
		s, err := token.NewHS256Signer(cfg.SigningKeyID, []byte(cfg.SigningSecret))
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	var pemKey []byte
	if cfg.SigningKeyFile != "" {
		data, err := os.ReadFile(cfg.SigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		pemKey = data
	} else {
		if cfg.IsProduction() {
			return nil, errors.New("ONCE_SIGNING_KEY_FILE is required in production")
		}
		generated, err := token.GenerateES256Key()
		if err != nil {
			return nil, err
		}
		pemKey = generated
		log.Warn("using an ephemeral ES256 signing key; relying parties must refetch the JWKS after a restart")
	}

	s, err := token.NewES256Signer(cfg.SigningKeyID, pemKey)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openStore(
	ctx context.Context,
	cfg config.Config,
	log *slog.Logger,
	reg prometheus.Registerer,
	checks *health.Handler,
	a *app,
) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		rdb, err := redisplatform.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.onClose(rdb.Close)
		checks.RegisterCheck("redis", rdb.Health)

		poolMetrics := redisplatform.NewPoolMetrics(reg)
		a.background = append(a.background, func(ctx context.Context) error {
			rdb.ReportPoolStats(ctx, poolMetrics, poolStatsInterval)
			return nil
		})
		log.Info("using redis store")
		return redisstore.New(rdb), nil

	case config.StorePostgres:
		pool, err := database.New(ctx, database.DefaultConfig(cfg.DatabaseURL), database.WithMetrics(reg))
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.onClose(pool.Close)
		checks.RegisterCheck("database", pool.Health)
		log.Info("using postgres store")
		return postgresstore.New(pool.DB()), nil

	default:
		log.Info("using in-memory store")
		return memorystore.New(), nil
	}
}

func buildAudit(cfg config.Config, log *slog.Logger, checks *health.Handler, a *app) (*publisher.Publisher, error) {
	var sink audit.Store
	if cfg.KafkaBrokers != "" {
		p, err := producer.New(producer.DefaultConfig(cfg.KafkaBrokers), log)
		if err != nil {
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		a.onClose(p.Close)
		checks.RegisterCheck("kafka", p.Health)
		sink = auditkafka.NewStore(p, cfg.AuditTopic)
		log.Info("audit events go to kafka", "topic", cfg.AuditTopic)
	} else {
		sink = auditmemory.NewStore()
		log.Info("audit events kept in memory")
	}

	pub := publisher.New(sink,
		publisher.WithAsyncBuffer(auditBuffer),
		publisher.WithLogger(log),
	)
	// Registered after the producer so it drains before the producer closes.
	a.onClose(func() error {
		pub.Close()
		return nil
	})
	return pub, nil
}
