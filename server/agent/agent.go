package agent

import (
	"context"
	"sync"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mohitkumar/stepflow/action"
	"github.com/mohitkumar/stepflow/analytics"
	"github.com/mohitkumar/stepflow/config"
	"github.com/mohitkumar/stepflow/engine"
	"github.com/mohitkumar/stepflow/invoker"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/metadata"
	"github.com/mohitkumar/stepflow/persistence"
	"github.com/mohitkumar/stepflow/persistence/memory"
	"github.com/mohitkumar/stepflow/persistence/postgres"
	rdpersistence "github.com/mohitkumar/stepflow/persistence/redis"
	"github.com/mohitkumar/stepflow/rest"
	"github.com/mohitkumar/stepflow/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

type Agent struct {
	Config          config.Config
	redisClient     rd.UniversalClient
	pgPool          *pgxpool.Pool
	runStorage      persistence.RunStorage
	metadataStorage metadata.MetadataStorage
	actionConfig    action.Config
	metadataService *metadata.MetadataServiceImpl
	registry        *prometheus.Registry
	auditLog        *analytics.LogFileDataCollector
	events          *analytics.EventDispatcher
	engine          *engine.Engine
	sweeper         *util.TickWorker
	httpServer      *rest.Server
	shutdown        bool
	shutdowns       chan struct{}
	shutdownLock    sync.Mutex
	wg              sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	a := &Agent{
		Config:    config,
		shutdowns: make(chan struct{}),
	}
	setup := []func() error{
		a.setupStorage,
		a.setupInvokers,
		a.setupMetadataService,
		a.setupAnalytics,
		a.setupEngine,
		a.setupSweeper,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			a.closeResources()
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) redis() rd.UniversalClient {
	if a.redisClient == nil {
		conf := a.Config.RedisConfig
		a.redisClient = rdpersistence.NewClient(rdpersistence.Config{
			Addrs:     conf.Addrs,
			Namespace: conf.Namespace,
			PoolSize:  conf.PoolSize,
			Password:  conf.Password,
		})
	}
	return a.redisClient
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		client := a.redis()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		ns := a.Config.RedisConfig.Namespace
		a.runStorage = rdpersistence.NewRedisRunStorage(client, ns)
		a.metadataStorage = rdpersistence.NewRedisMetadataStorage(client, ns)
	case config.STORAGE_TYPE_POSTGRES:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := postgres.NewPool(ctx, a.Config.PostgresConfig.DSN, a.Config.PostgresConfig.MaxConns)
		if err != nil {
			return err
		}
		a.pgPool = pool
		a.runStorage = postgres.NewPgRunStorage(pool)
		a.metadataStorage = postgres.NewPgMetadataStorage(pool)
	default:
		a.runStorage = memory.NewRunStore()
		a.metadataStorage = memory.NewMetadataStore()
	}
	logger.Info("storage ready", zap.String("type", string(a.Config.StorageType)))
	return nil
}

func (a *Agent) setupInvokers() error {
	a.actionConfig = action.Config{
		TransformTimeout:   a.Config.TransformTimeout,
		DefaultApprovalTTL: a.Config.ApprovalConfig.DefaultTTL,
	}
	if tc := a.Config.ToolConfig; tc.BaseURL != "" {
		a.actionConfig.Tools = invoker.NewHTTPToolInvoker(tc.BaseURL, tc.APIKey, tc.Timeout)
	} else {
		logger.Warn("no tool url configured, tool steps will fail")
	}
	if lc := a.Config.LLMConfig; lc.BaseURL != "" {
		a.actionConfig.LLM = invoker.NewChatCompletionInvoker(lc.BaseURL, lc.APIKey, lc.Model, lc.Timeout)
	} else {
		logger.Warn("no llm url configured, llm steps will fail")
	}
	return nil
}

func (a *Agent) setupMetadataService() error {
	a.metadataService = metadata.NewMetadataService(a.metadataStorage, a.actionConfig, a.Config.DefinitionCacheTTL)
	if a.Config.DefinitionsDir == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := a.metadataService.LoadDir(ctx, a.Config.DefinitionsDir)
	if err != nil {
		return err
	}
	logger.Info("workflow definitions loaded", zap.String("dir", a.Config.DefinitionsDir), zap.Int("count", n))
	return nil
}

func (a *Agent) setupAnalytics() error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sinks := []analytics.DataCollector{analytics.NewMetricsCollector(a.registry)}

	conf := a.Config.AnalyticsConfig
	if conf.AuditLogFile != "" {
		auditLog, err := analytics.NewLogFileDataCollector(conf.AuditLogFile)
		if err != nil {
			return err
		}
		a.auditLog = auditLog
		sinks = append(sinks, auditLog)
	}
	if conf.RedisStream != "" {
		sinks = append(sinks, analytics.NewRedisStreamCollector(a.redis(), conf.RedisStream, conf.RedisStreamMaxLen))
	}
	a.events = analytics.NewEventDispatcher(conf.QueueCapacity, sinks...)
	a.events.Start()
	return nil
}

func (a *Agent) setupEngine() error {
	a.engine = engine.NewEngine(a.metadataService, a.runStorage, a.actionConfig, a.events)
	return nil
}

func (a *Agent) setupSweeper() error {
	if a.Config.ApprovalConfig.SweepInterval <= 0 {
		return nil
	}
	a.sweeper = engine.NewExpirySweeper(a.engine, a.Config.ApprovalConfig.SweepInterval, &a.wg)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.metadataService, a.engine, a.registry)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	if a.sweeper != nil {
		a.sweeper.Start()
	}
	go func() {
		if err := a.httpServer.Start(); err != nil {
			logger.Error("http server failed", zap.Error(err))
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	close(a.shutdowns)

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			if a.sweeper != nil {
				a.sweeper.Stop()
			}
			return nil
		},
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	a.closeResources()
	return nil
}

// closeResources flushes events and releases storage connections. It runs
// after every producer of events has stopped.
func (a *Agent) closeResources() {
	if a.events != nil {
		if err := a.events.Stop(); err != nil {
			logger.Error("error stopping event dispatcher", zap.Error(err))
		}
	}
	if a.auditLog != nil {
		if err := a.auditLog.Close(); err != nil {
			logger.Error("error closing audit log", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			logger.Error("error closing redis client", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
}
