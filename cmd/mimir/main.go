package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"github.com/user/mimir/internal/ai"
	"github.com/user/mimir/internal/analytics"
	"github.com/user/mimir/internal/api"
	"github.com/user/mimir/internal/cache"
	"github.com/user/mimir/internal/config"
	"github.com/user/mimir/internal/format"
	"github.com/user/mimir/internal/intent"
	"github.com/user/mimir/internal/pipeline"
	"github.com/user/mimir/internal/runner"
	"github.com/user/mimir/internal/sqlgen"
	"github.com/user/mimir/internal/storage"
	storagesql "github.com/user/mimir/internal/storage/sql"
	"github.com/user/mimir/internal/strategy"
	"github.com/user/mimir/internal/validate"
	"github.com/user/mimir/internal/version"
	"github.com/user/mimir/pkg/logging"
	"github.com/user/mimir/pkg/retry"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "path to YAML/JSON config file")
	port := flag.Int("port", 0, "port for the API server (overrides config)")
	dbType := flag.String("db-type", "", "metadata database type: sqlite, postgres")
	dbConn := flag.String("db-conn", "", "metadata database connection string")
	readonlyDSN := flag.String("readonly-dsn", "", "read-only replica DSN for query execution")
	versionFlag := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("mimir %s\n", version.Version)
		return
	}

	// Environment fallbacks to simplify production configuration.
	// Only applied when the corresponding flag keeps its default value.
	if v := os.Getenv("MIMIR_CONFIG"); v != "" && *configPath == "" {
		*configPath = v
	}
	if v := os.Getenv("MIMIR_PORT"); v != "" && *port == 0 {
		if p, err := strconv.Atoi(v); err == nil {
			*port = p
		}
	}
	if v := os.Getenv("MIMIR_DB_TYPE"); v != "" && *dbType == "" {
		*dbType = v
	}
	if v := os.Getenv("MIMIR_DB_CONN"); v != "" && *dbConn == "" {
		*dbConn = v
	}
	if v := os.Getenv("MIMIR_READONLY_DSN"); v != "" && *readonlyDSN == "" {
		*readonlyDSN = v
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbType != "" {
		cfg.Database.Type = *dbType
	}
	if *dbConn != "" {
		cfg.Database.Conn = *dbConn
	}
	if *readonlyDSN != "" {
		cfg.Database.ReadOnlyDSN = *readonlyDSN
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	logger := logging.NewDefault()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metadata store (search_cache, popular_queries).
	driver := cfg.Database.Type
	sqlDriver := "sqlite"
	if driver == "postgres" {
		sqlDriver = "pgx"
	}
	db, err := sql.Open(sqlDriver, cfg.Database.Conn)
	if err != nil {
		log.Fatalf("opening metadata database: %v", err)
	}
	store, err := storagesql.New(db, driver)
	if err != nil {
		log.Fatalf("initializing metadata storage: %v", err)
	}
	defer store.Close()

	// Result cache: in-memory with an optional shared backend.
	cacheOpts := cache.Options{
		TTL:        cfg.Cache.TTL,
		MaxEntries: cfg.Cache.MaxEntries,
		Logger:     logger,
	}
	switch cfg.Cache.Backend {
	case "redis":
		cacheOpts.Store = cache.NewRedisStore(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.RedisPrefix)
	default:
		cacheOpts.Store = storage.NewCacheStore(store)
	}
	resultCache := cache.New(cacheOpts)

	// Analytics sink.
	recorder := analytics.New(analytics.Options{
		QueueSize:  cfg.Analytics.QueueSize,
		Store:      storage.NewAnalyticsStore(store),
		Logger:     logger,
		Registerer: prometheus.DefaultRegisterer,
	})
	defer recorder.Close()

	// Generators and the pipeline.
	chat := ai.NewClient(ai.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
		RPS:     cfg.LLM.RPS,
	}, logger)

	classifier := intent.NewClassifier(nil, logger)
	ruleGen := sqlgen.NewRuleGenerator(logger)
	llmGen := sqlgen.NewLLMGenerator(chat, cfg.Pipeline.MaxRows, logger)
	policy := retry.Default()
	policy.MaxAttempts = cfg.LLM.MaxRetries
	scheduler := strategy.NewScheduler(ruleGen, llmGen, policy, logger)
	validator := validate.NewValidator(cfg.Pipeline.Whitelist, cfg.Pipeline.MaxRows)

	var queryRunner pipeline.Runner
	var health []api.Pinger
	if cfg.Database.ReadOnlyDSN != "" {
		ro, err := runner.New(ctx, runner.Config{
			DSN:              cfg.Database.ReadOnlyDSN,
			PoolSize:         cfg.Database.PoolSize,
			StatementTimeout: cfg.Database.StatementTimeout,
		}, logger)
		if err != nil {
			log.Fatalf("opening read-only pool: %v", err)
		}
		defer ro.Close()
		queryRunner = ro
		health = append(health, ro)
	} else {
		logger.Warn("no read-only DSN configured; query execution disabled")
		queryRunner = runner.Disabled{}
	}
	health = append(health, store)

	p := pipeline.New(classifier, scheduler, validator, queryRunner, resultCache, recorder, pipeline.Config{
		DefaultStrategy: cfg.Pipeline.DefaultStrategy,
		DefaultTimeout:  cfg.Pipeline.RequestTimeout,
		MaxTimeout:      cfg.Pipeline.MaxTimeout,
		MaxRows:         cfg.Pipeline.MaxRows,
		CacheTTL:        cfg.Cache.TTL,
		Highlight:       format.New(cfg.Pipeline.HighlightOpen, cfg.Pipeline.HighlightClose),
	}, logger)

	server := api.NewServer(p, recorder, resultCache, logger, health...)

	// Scheduled maintenance: cache sweep and popularity flush.
	maintenance := cron.New()
	maintenance.AddFunc("@every 60s", func() {
		if n := resultCache.Cleanup(context.Background()); n > 0 {
			logger.Debug("cache cleanup", "removed", n)
		}
		if _, err := store.DeleteExpiredCacheEntries(context.Background(), time.Now()); err != nil {
			logger.Debug("persistent cache sweep failed", "error", err)
		}
	})
	flushEvery := cfg.Analytics.FlushInterval
	if flushEvery <= 0 {
		flushEvery = 30 * time.Second
	}
	maintenance.AddFunc(fmt.Sprintf("@every %ds", int(flushEvery.Seconds())), func() {
		recorder.Flush(context.Background())
	})
	maintenance.Start()
	defer maintenance.Stop()

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints manage their own deadlines
	}

	go func() {
		logger.Info("mimir listening", "port", cfg.Server.Port, "version", version.Version)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	recorder.Flush(shutdownCtx)
}
