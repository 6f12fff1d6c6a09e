// Package main provides the battle server binary: the battle HTTP API, the
// Prometheus metrics endpoint and a gRPC health service.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/battlekeep/internal/battleserver"
	"github.com/cory-johannsen/battlekeep/internal/config"
	"github.com/cory-johannsen/battlekeep/internal/game/battle"
	"github.com/cory-johannsen/battlekeep/internal/game/catalog"
	"github.com/cory-johannsen/battlekeep/internal/game/dice"
	"github.com/cory-johannsen/battlekeep/internal/notify"
	"github.com/cory-johannsen/battlekeep/internal/observability"
	"github.com/cory-johannsen/battlekeep/internal/scripting"
	"github.com/cory-johannsen/battlekeep/internal/server"
	"github.com/cory-johannsen/battlekeep/internal/storage"
	"github.com/cory-johannsen/battlekeep/internal/storage/memory"
	"github.com/cory-johannsen/battlekeep/internal/storage/postgres"
)

const healthCheckInterval = 15 * time.Second

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "battleserver")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting battle server",
		zap.String("http_addr", cfg.Server.Addr()),
		zap.String("health_addr", cfg.Health.Addr()),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("notify", cfg.Notify.Driver),
	)

	// Rule content
	contentStart := time.Now()
	cat, err := catalog.Load(cfg.Content.RacesDir, cfg.Content.UnitGroupsDir)
	if err != nil {
		logger.Fatal("loading content catalog", zap.Error(err))
	}
	scripts := scripting.NewManager(cfg.Content.ScriptInstructionLimit, logger)
	if cfg.Content.ScriptsDir != "" {
		if err := scripts.LoadLibrary(cfg.Content.ScriptsDir); err != nil {
			logger.Fatal("loading trigger script library", zap.Error(err))
		}
	}
	logger.Info("content loaded",
		zap.Int("races", len(cat.RaceIDs())),
		zap.Duration("elapsed", time.Since(contentStart)),
	)

	// Storage
	var (
		store storage.Store
		pool  *postgres.Pool
	)
	switch cfg.Storage.Driver {
	case "memory":
		store = memory.New()
		logger.Warn("using in-memory storage; battles are lost on restart")
	default:
		dbStart := time.Now()
		pool, err = postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Health(ctx, 5*time.Second); err != nil {
			logger.Fatal("battle schema unavailable; run cmd/migrate first", zap.Error(err))
		}
		store = postgres.NewStore(pool)
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
	}

	// Notifications
	metrics := observability.NewMetrics()
	var publisher notify.Publisher
	switch cfg.Notify.Driver {
	case "nats":
		natsPub, err := notify.ConnectNATS(notify.NATSConfig{
			URL:           cfg.Notify.URL,
			ClientName:    cfg.Notify.ClientName,
			SubjectPrefix: cfg.Notify.SubjectPrefix,
			MaxReconnects: cfg.Notify.MaxReconnects,
			ReconnectWait: cfg.Notify.ReconnectWait,
			Timeout:       cfg.Notify.PublishTimeout,
		}, logger)
		if err != nil {
			logger.Fatal("connecting to nats", zap.Error(err))
		}
		defer natsPub.Close()
		publisher = natsPub
	default:
		publisher = notify.NewLogPublisher(logger)
	}
	gateway := notify.NewGateway(publisher, logger,
		notify.WithMaxPayloadBytes(cfg.Notify.MaxPayloadBytes),
		notify.WithTimeout(cfg.Notify.PublishTimeout),
		notify.WithObserver(metrics),
	)

	engine := battle.NewEngine(logger,
		battle.WithCatalog(cat),
		battle.WithScripts(scripts),
	)
	svc := battleserver.NewService(store, engine, gateway, metrics, logger)

	gin.SetMode(cfg.Server.Mode)
	roller := dice.NewLoggedRoller(dice.NewCryptoSource(), logger)
	router := battleserver.NewRouter(battleserver.NewHandler(svc, roller, logger), metrics.Middleware(), metrics.Handler())
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC health service
	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if pool != nil {
		go watchDatabase(watchCtx, pool, healthSrv, metrics, logger)
	}

	lc := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)
	lc.Add("health", server.GRPCService(grpcSrv, cfg.Health.Addr()))
	lc.Add("http", server.HTTPService(httpSrv))

	logger.Info("battle server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lc.Run(ctx); err != nil {
		logger.Error("battle server stopped with error", zap.Error(err))
	}
}

// watchDatabase reports NOT_SERVING while the battle tables are unreadable
// and samples the stored battle counts into metrics.
func watchDatabase(ctx context.Context, pool *postgres.Pool, hs *health.Server, metrics *observability.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		counts, err := pool.SceneCounts(ctx, 5*time.Second)
		switch {
		case err != nil && serving:
			logger.Warn("database health check failed", zap.Error(err))
			hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			serving = false
		case err == nil && !serving:
			logger.Info("database reachable again")
			hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
			serving = true
		}
		if err != nil {
			continue
		}
		byStatus := make(map[string]int, len(counts))
		for status, n := range counts {
			byStatus[string(status)] = n
		}
		metrics.SetSceneCounts(byStatus)
	}
}
