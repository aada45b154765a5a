package agent

import (
	"sync"

	"github.com/parley-labs/parley/analytics"
	"github.com/parley-labs/parley/channel"
	"github.com/parley-labs/parley/config"
	"github.com/parley-labs/parley/engine"
	"github.com/parley-labs/parley/executor"
	"github.com/parley-labs/parley/logger"
	"github.com/parley-labs/parley/metrics"
	"github.com/parley-labs/parley/persistence/redis"
	"github.com/parley-labs/parley/rest"
	"github.com/parley-labs/parley/util"
	"github.com/parley-labs/parley/validator"
	"github.com/parley-labs/parley/version"
)

// Agent wires every component explicitly and owns their lifecycle. There is
// no container to look things up in; whatever a component needs is passed to
// it here.
type Agent struct {
	Config config.Config

	store        *redis.SessionStore
	definitions  *redis.DefinitionStorage
	collector    *metrics.Collector
	versions     *version.Manager
	contextCheck *validator.ContextValidator
	registry     *executor.Registry
	flowEngine   *engine.FlowEngine
	httpServer   *rest.Server
	cacheSweeper *util.TickWorker

	shutdown     bool
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{
		Config: conf,
	}
	setup := []func() error{
		a.setupAnalytics,
		a.setupStorage,
		a.setupVersionManager,
		a.setupEngine,
		a.setupHttpServer,
		a.setupCacheSweeper,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupAnalytics() error {
	if a.Config.AnalyticsFile == "" {
		return nil
	}
	return analytics.InitDataCollector(analytics.DataCollectorConfig{
		FileName:      a.Config.AnalyticsFile,
		CollectorType: analytics.LOG_FILE_DATA_COLLECTOR,
	})
}

func (a *Agent) setupStorage() error {
	redisConf := redis.Config{
		Addrs:     a.Config.RedisConfig.Addrs,
		Namespace: a.Config.RedisConfig.Namespace,
	}
	a.store = redis.NewRedisSessionStore(redisConf, a.Config.SessionTTL, a.Config.MessageQueueTTL, a.Config.CacheTTL)
	a.definitions = redis.NewRedisDefinitionStorage(redisConf)
	return nil
}

func (a *Agent) setupVersionManager() error {
	a.collector = metrics.NewCollector("parley")
	a.versions = version.NewManager(a.Config.MinSampleSize, a.collector)
	return nil
}

func (a *Agent) setupEngine() error {
	a.contextCheck = validator.New()
	a.registry = executor.NewBuiltinRegistry(executor.DefaultDomainRegistry())
	a.flowEngine = engine.New(
		a.store,
		a.definitions,
		a.versions,
		a.contextCheck,
		a.registry,
		channel.NewAdapter(),
		a.collector,
		a.Config.LockStripes,
		a.Config.MaxTransitions,
	)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.flowEngine, a.definitions, a.store, a.versions, a.collector)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) setupCacheSweeper() error {
	a.cacheSweeper = util.NewTickWorker("cache-sweeper", a.Config.SweepInterval, a.store.SweepCache, &a.wg)
	return nil
}

// Actions exposes the action registry so embedders can add capabilities
// before Start.
func (a *Agent) Actions() *executor.Registry {
	return a.registry
}

// Schemas exposes the context validator for schema registration.
func (a *Agent) Schemas() *validator.ContextValidator {
	return a.contextCheck
}

func (a *Agent) Start() error {
	a.cacheSweeper.Start()
	go func() {
		if err := a.httpServer.Start(); err != nil {
			_ = a.Shutdown()
			panic(err)
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

	shutdown := []func() error{
		func() error {
			a.cacheSweeper.Stop()
			return nil
		},
		a.httpServer.Stop,
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return nil
}
