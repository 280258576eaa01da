package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"vsdnetwork/config"
	"vsdnetwork/core/ledger"
	"vsdnetwork/core/rewards"
	"vsdnetwork/docstore"
	"vsdnetwork/gateway/auth"
	gwconfig "vsdnetwork/gateway/config"
	"vsdnetwork/gateway/middleware"
	"vsdnetwork/observability/logging"
	"vsdnetwork/observability/metrics"
	"vsdnetwork/services/adminproxy"
	"vsdnetwork/services/tenantgateway"
	"vsdnetwork/services/walletapi"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to daemon configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup("vsdd", "").Error("load config", "err", err)
		os.Exit(1)
	}

	logger := logging.Setup("vsdd", cfg.Environment)

	gwPath := cfg.GatewayConfig
	if gwPath != "" && !filepath.IsAbs(gwPath) {
		gwPath = filepath.Join(filepath.Dir(cfgPath), gwPath)
	}
	gwCfg, err := gwconfig.Load(gwPath)
	if err != nil {
		logger.Error("load gateway config", "err", err)
		os.Exit(1)
	}
	if secret := strings.TrimSpace(os.Getenv("VSD_JWT_SECRET")); secret != "" {
		gwCfg.Auth.JWTSecret = secret
	}
	if admins := strings.TrimSpace(os.Getenv("VSD_ALLOWED_ADMINS")); admins != "" {
		gwCfg.Auth.AllowedAdmins = strings.Split(admins, ",")
	}
	if treasury := strings.TrimSpace(os.Getenv("VSD_TREASURY_UID")); treasury != "" {
		gwCfg.Auth.TreasuryUID = treasury
	}
	if err := gwCfg.ValidateSecrets(); err != nil {
		logger.Error("gateway configuration", "err", err)
		os.Exit(1)
	}

	store, err := docstore.Open(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("open document store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	collector := metrics.NewLedger()
	svc := ledger.NewService(store, logger.With("component", "ledger"), collector)
	engine := rewards.NewEngine(svc, logger.With("component", "rewards"))
	tenants := auth.NewTenantRegistry(store)

	verifier, err := auth.NewTokenVerifier(gwCfg.Auth.JWTSecret,
		auth.WithIssuer(gwCfg.Auth.Issuer),
		auth.WithLeeway(gwCfg.Auth.ClockSkew))
	if err != nil {
		logger.Error("configure token verifier", "err", err)
		os.Exit(1)
	}
	policy := auth.Any(
		auth.NewAllowListPolicy(gwCfg.Auth.AllowedAdmins),
		auth.ClaimPolicy{},
		auth.NewCollectionPolicy(store, auth.CollectionAdmins),
	)

	idem, err := tenantgateway.NewIdempotencyStore(filepath.Join(cfg.DataDir, gwCfg.Tenant.IdempotencyDB))
	if err != nil {
		logger.Error("open idempotency store", "err", err)
		os.Exit(1)
	}
	defer idem.Close()

	wallet := walletapi.NewServer(verifier, svc, engine, store, logger.With("component", "walletapi"), walletapi.Options{
		DefaultPageSize:  cfg.Limits.DefaultPageSize,
		MaxPageSize:      cfg.Limits.MaxPageSize,
		PauseTransfers:   cfg.Limits.Pauses.Transfers,
		PauseConversions: cfg.Limits.Pauses.Conversions,
		PauseRewards:     cfg.Limits.Pauses.Rewards,
	})
	admin := adminproxy.NewServer(verifier, policy, store, svc, tenants, gwCfg.Auth.TreasuryUID, logger.With("component", "adminproxy"))
	pay := tenantgateway.NewServer(tenants, svc, store, idem, logger.With("component", "tenantgateway"), cfg.Limits.Pauses.TenantPayments)

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   gwCfg.Observability.ServiceName,
		MetricsPrefix: gwCfg.Observability.MetricsPrefix,
		LogRequests:   gwCfg.Observability.LogRequests,
		Enabled:       gwCfg.Observability.Metrics,
	}, logger)

	rateLimits := make(map[string]middleware.RateLimit)
	for _, entry := range gwCfg.RateLimits {
		rateLimits[entry.ID] = middleware.RateLimit{
			RatePerSecond: entry.RatePerSecond,
			Burst:         entry.Burst,
			DefaultTokens: entry.DefaultTokens,
			Tokens:        entry.Tokens,
		}
	}
	if len(rateLimits) == 0 {
		rateLimits["wallet"] = middleware.RateLimit{RatePerSecond: 10, Burst: 40}
		rateLimits["admin"] = middleware.RateLimit{RatePerSecond: 2, Burst: 10}
		rateLimits["pay"] = middleware.RateLimit{RatePerSecond: 5, Burst: 20}
	}
	limiter := middleware.NewRateLimiter(rateLimits, logger)

	router := chi.NewRouter()
	router.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   gwCfg.CORS.AllowedOrigins,
		AllowedMethods:   gwCfg.CORS.AllowedMethods,
		AllowedHeaders:   gwCfg.CORS.AllowedHeaders,
		AllowCredentials: gwCfg.CORS.AllowCredentials,
	}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Method(http.MethodGet, "/metrics", obs.MetricsHandler())

	mount := func(pattern, limitKey string, h http.Handler) {
		router.Handle(pattern, obs.Middleware(limitKey)(limiter.Middleware(limitKey)(h)))
	}
	mount("/api/admin/*", "admin", admin)
	mount("/api/pay-with-tenant-token", "pay", pay)
	mount("/api/wallet/*", "wallet", wallet)
	mount("/api/transactions", "wallet", wallet)
	mount("/api/supply", "wallet", wallet)

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      router,
		ReadTimeout:  gwCfg.ReadTimeout,
		WriteTimeout: gwCfg.WriteTimeout,
		IdleTimeout:  gwCfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddress, "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen and serve", "err", err)
			stop()
		}
	}()

	// Expired idempotency entries are purged in the background.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := idem.PurgeExpired(ctx, gwCfg.Tenant.IdempotencyTTL); err != nil {
					logger.Warn("purge idempotency keys", "err", err)
				}
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}
