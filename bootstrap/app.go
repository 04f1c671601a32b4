// Package bootstrap wires configuration, storage and the three engines
// into a runnable application and owns its lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vanguard/config"
	"vanguard/correlate"
	"vanguard/detect"
	"vanguard/service"
	"vanguard/simulate"
	"vanguard/storage"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// App holds every wired component of the Vanguard service.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage. The interface-typed fields point either at the MongoDB
	// storages or at one shared MemoryStore, per mongodb.enabled.
	Mongo       *storage.MongoDB
	SQLite      *storage.SQLite
	Events      correlate.EventStore
	Alerts      correlate.AlertStore
	Rules       detect.RuleStore
	RuleSource  detect.RuleSource
	Simulations simulate.SimulationStore
	Performance *storage.RulePerformanceStorage
	KeyCache    *correlate.RedisKeyCache

	// Engines and services.
	Detector    *detect.Engine
	RuleManager *detect.Manager
	Correlator  *correlate.Engine
	Simulator   *simulate.Engine
	Pipeline    *service.Pipeline
	Registry    *detect.Registry
	Flusher     *detect.Flusher

	Server *Server

	schedulerCancel context.CancelFunc
}

// NewApp loads configuration and initializes all components. Nothing is
// running yet when it returns; call Start.
func NewApp(ctx context.Context) (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	sugar := logger.Sugar()
	sugar.Info("Vanguard starting...")

	app := &App{Config: cfg, Logger: logger, Sugar: sugar}

	if err := app.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := app.initCache(ctx); err != nil {
		return nil, err
	}
	if err := app.initEngines(); err != nil {
		return nil, err
	}

	app.Server = NewServer(cfg.Server.Host, cfg.Server.Port, app, sugar)
	return app, nil
}

func (a *App) initStorage(ctx context.Context) error {
	cfg := a.Config

	if cfg.MongoDB.Enabled {
		mongo, err := storage.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database, cfg.MongoDB.MaxPoolSize, a.Sugar)
		if err != nil {
			return fmt.Errorf("failed to initialize MongoDB: %w", err)
		}
		a.Mongo = mongo
		a.Events = storage.NewEventStorage(mongo, a.Sugar)
		a.Alerts = storage.NewAlertStorage(mongo, a.Sugar)
		rules := storage.NewRuleStorage(mongo, a.Sugar)
		a.Rules = rules
		a.RuleSource = rules
		a.Simulations = storage.NewSimulationStorage(mongo, a.Sugar)
	} else {
		a.Sugar.Warn("MongoDB disabled, using in-memory storage; data will not survive restarts")
		mem := storage.NewMemoryStore()
		a.Events = mem
		a.Alerts = mem
		a.Rules = mem
		a.RuleSource = mem
		a.Simulations = mem
	}

	sqlite, err := storage.NewSQLite(cfg.SQLite.Path, a.Sugar)
	if err != nil {
		return fmt.Errorf("failed to initialize SQLite: %w", err)
	}
	a.SQLite = sqlite
	a.Performance = storage.NewRulePerformanceStorage(sqlite, a.Sugar)
	return nil
}

func (a *App) initCache(ctx context.Context) error {
	if !a.Config.Redis.Enabled {
		return nil
	}
	cache := correlate.NewRedisKeyCache(
		a.Config.Redis.Addr,
		a.Config.Redis.Password,
		a.Config.Redis.DB,
		a.Config.Redis.PoolSize,
		a.Sugar,
	)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.KeyCache = cache
	a.Sugar.Info("Connected to Redis successfully")
	return nil
}

func (a *App) initEngines() error {
	cfg := a.Config

	patterns, err := detect.NewPatternCache(cfg.Detection.PatternCacheSize, cfg.Detection.PatternTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize pattern cache: %w", err)
	}

	a.Registry = detect.NewRegistry()
	a.Detector = detect.NewEngine(a.RuleSource, patterns, a.Registry, a.Sugar)
	a.RuleManager = detect.NewManager(a.Rules, a.Sugar)
	a.Flusher = detect.NewFlusher(a.Registry, a.Performance, cfg.Detection.FlushInterval, a.Sugar)

	var cache correlate.KeyCache
	if a.KeyCache != nil {
		cache = a.KeyCache
	}
	a.Correlator = correlate.NewEngine(
		a.Alerts,
		a.Events,
		correlate.NewKeyLocks(cfg.Correlation.LockStripes),
		cache,
		cfg.Correlation.Window,
		cfg.Correlation.ConflictRetries,
		a.Sugar,
	)

	a.Simulator = simulate.NewEngine(a.Simulations, a.Detector, a.Correlator, a.Sugar)
	a.Pipeline = service.NewPipeline(a.Detector, a.Correlator, a.Simulator, a.Sugar)
	return nil
}

// Start launches the performance flusher, the simulation scheduler and
// the HTTP server.
func (a *App) Start(ctx context.Context) error {
	a.Flusher.Start()

	schedCtx, cancel := context.WithCancel(context.Background())
	a.schedulerCancel = cancel
	go a.Simulator.RunScheduler(schedCtx, a.Config.Simulation.SchedulerInterval)

	if err := a.Server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	a.Sugar.Infow("Vanguard started",
		"addr", fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port),
		"mongodb", a.Config.MongoDB.Enabled,
		"redis", a.Config.Redis.Enabled)
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown stops components in reverse dependency order: intake first,
// then workers, then storage.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Sugar.Errorf("HTTP server shutdown: %v", err)
		}
	}

	if a.schedulerCancel != nil {
		a.schedulerCancel()
	}
	if a.Simulator != nil {
		// Halts local runners; run status stays in the store, which is
		// correct for a process that can no longer finish them.
		a.Simulator.StopAll()
	}

	if a.Flusher != nil {
		a.Flusher.Stop()
	}

	if a.KeyCache != nil {
		if err := a.KeyCache.Close(); err != nil {
			a.Sugar.Errorf("Redis close: %v", err)
		}
	}
	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			a.Sugar.Errorf("SQLite close: %v", err)
		}
	}
	if a.Mongo != nil {
		if err := a.Mongo.Close(ctx); err != nil {
			a.Sugar.Errorf("MongoDB disconnect: %v", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	if cfg.Logging.Development {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		)
		return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
