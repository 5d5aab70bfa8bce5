package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/runguard-ai/runguard/internal/auth"
	"github.com/runguard-ai/runguard/internal/engine"
	"github.com/runguard-ai/runguard/internal/server"
	"github.com/runguard-ai/runguard/internal/store"
	"github.com/runguard-ai/runguard/internal/telemetry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("RUNGUARD_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("RUNGUARD_HTTP_PORT", "8080")
	secretKey := os.Getenv("RUNGUARD_SECRET_KEY")
	staticAPIKey := os.Getenv("RUNGUARD_API_KEY")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	costModelPath := os.Getenv("RUNGUARD_COST_MODEL_PATH")
	cacheTTL := envOrDefaultInt("RUNGUARD_AUTH_CACHE_TTL_S", 30)
	runTTLMin := envOrDefaultInt("RUNGUARD_RUN_TTL_MIN", 30)

	if secretKey == "" {
		logger.Fatal("RUNGUARD_SECRET_KEY is required")
	}

	// Guard defaults, tunable per fleet via guard_config overrides.
	baseCfg := engine.DefaultConfig()
	baseCfg.SecretKey = []byte(secretKey)
	baseCfg.MaxCostPerRun = envOrDefaultFloat("RUNGUARD_MAX_COST_PER_RUN", baseCfg.MaxCostPerRun)
	baseCfg.WarnFraction = envOrDefaultFloat("RUNGUARD_WARN_FRACTION", baseCfg.WarnFraction)
	baseCfg.DefaultToolCost = envOrDefaultFloat("RUNGUARD_DEFAULT_TOOL_COST", baseCfg.DefaultToolCost)
	if tools := os.Getenv("RUNGUARD_SIDE_EFFECT_TOOLS"); tools != "" {
		baseCfg.SideEffectTools = make(map[string]bool)
		for _, t := range strings.Split(tools, ",") {
			if t = strings.TrimSpace(t); t != "" {
				baseCfg.SideEffectTools[t] = true
			}
		}
	}
	if costModelPath != "" {
		if err := engine.LoadCostModel(costModelPath, &baseCfg); err != nil {
			logger.Fatal("failed to load cost model", zap.String("path", costModelPath), zap.Error(err))
		}
		logger.Info("cost model loaded", zap.String("path", costModelPath))
	}

	logger.Info("starting runguard server",
		zap.String("http_port", httpPort),
		zap.Float64("max_cost_per_run", baseCfg.MaxCostPerRun),
		zap.Int("side_effect_tools", len(baseCfg.SideEffectTools)),
	)

	// Telemetry — ClickHouse with LogSink fallback, optional webhook fan-out
	logSink := telemetry.NewLogSink(logger)
	sink := telemetry.NewCompositeSink(logSink)
	if clickhouseDSN != "" {
		chSink, err := telemetry.NewClickHouseSink(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, events go to log only",
				zap.Error(err),
			)
		} else {
			defer chSink.Close()
			sink.Add(chSink)
			logger.Info("clickhouse sink connected")
		}
	} else {
		logger.Info("no CLICKHOUSE_DSN set, events go to log only")
	}
	if url := os.Getenv("RUNGUARD_WEBHOOK_URL"); url != "" {
		sink.Add(telemetry.NewWebhookSink(url, os.Getenv("RUNGUARD_WEBHOOK_AUTH"), 5*time.Second))
		logger.Info("webhook sink enabled")
	}
	if url := os.Getenv("SLACK_WEBHOOK_URL"); url != "" {
		sink.Add(telemetry.NewSlackSink(url, os.Getenv("SLACK_CHANNEL"), 5*time.Second))
		logger.Info("slack sink enabled")
	}

	// Postgres pool (multi-fleet auth + fleet CRUD)
	var pgStore *store.Store
	var authenticator auth.Authenticator
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgStore = store.NewStore(db)
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: time.Duration(cacheTTL) * time.Second,
			Logger:   logger,
		})
		logger.Info("postgres connected")
	} else {
		if staticAPIKey == "" {
			logger.Fatal("RUNGUARD_API_KEY is required without POSTGRES_DSN")
		}
		authenticator = auth.NewStaticAuthenticator(staticAPIKey, "default")
		logger.Info("no POSTGRES_DSN set, using static single-fleet auth")
	}

	// ClickHouse reader (events HTTP endpoint)
	var chReader *telemetry.Reader
	if clickhouseDSN != "" {
		var err error
		chReader, err = telemetry.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	deps := &server.Dependencies{
		Store:  pgStore,
		Auth:   authenticator,
		Sink:   sink,
		Reader: chReader,
		Base:   baseCfg,
		Logger: logger,
		RunTTL: time.Duration(runTTLMin) * time.Minute,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      server.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("runguard server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
