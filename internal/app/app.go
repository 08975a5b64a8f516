package app

import (
	"context"
	"fmt"
	"net/http"

	"gorm.io/gorm"

	"smartpot-app-go/internal/config"
	"smartpot-app-go/internal/db"
	bindingdomain "smartpot-app-go/internal/domain/binding"
	ingestdomain "smartpot-app-go/internal/domain/ingest"
	measurementdomain "smartpot-app-go/internal/domain/measurement"
	transplantdomain "smartpot-app-go/internal/domain/transplant"
	"smartpot-app-go/internal/repository/inmemory"
	bindingrepo "smartpot-app-go/internal/repository/postgres/binding"
	ingestrepo "smartpot-app-go/internal/repository/postgres/ingest"
	measurementrepo "smartpot-app-go/internal/repository/postgres/measurement"
	"smartpot-app-go/internal/telemetry"
	"smartpot-app-go/internal/transport/httpserver"
	"smartpot-app-go/internal/transport/httpserver/handler"
	"smartpot-app-go/internal/transport/httpserver/handler/bindings"
	"smartpot-app-go/internal/transport/httpserver/handler/common"
	"smartpot-app-go/internal/transport/httpserver/handler/measurements"
	telemetryhandler "smartpot-app-go/internal/transport/httpserver/handler/telemetry"
	"smartpot-app-go/internal/transport/httpserver/handler/transplant"
	"smartpot-app-go/pkg/logger"
)

type App struct {
	cfg        config.Config
	httpServer *http.Server
	db         *gorm.DB
	registry   *telemetry.Registry
	log        logger.Logger
}

// Services is the wired domain layer behind the HTTP surface.
type Services struct {
	Bindings     *bindingdomain.Enforcer
	Transplants  *transplantdomain.Orchestrator
	Measurements *measurementdomain.Service
	Ingest       *ingestdomain.Service
	Registry     *telemetry.Registry
}

// Stores are the persistence backends the services run on.
type Stores struct {
	Bindings     bindingdomain.Repository
	Measurements measurementdomain.Repository
	Ingest       ingestdomain.Repository

	memory *inmemory.BindingStore
}

// SQLStores builds every store over one gorm connection.
func SQLStores(dbConn *gorm.DB) Stores {
	return Stores{
		Bindings:     bindingrepo.NewPostgres(dbConn),
		Measurements: measurementrepo.NewPostgres(dbConn),
		Ingest:       ingestrepo.NewPostgres(dbConn),
	}
}

func New(ctx context.Context, log logger.Logger) (*App, error) {
	log = logger.OrNop(log)

	log.Info("app: loading config")
	cfg, err := config.Load(log)
	if err != nil {
		return nil, err
	}

	return NewWithConfig(ctx, cfg, log)
}

func NewWithConfig(ctx context.Context, cfg config.Config, log logger.Logger) (*App, error) {
	log = logger.OrNop(log)

	log.Info("app: initializing store", "driver", cfg.Store.Driver)
	dbConn, st, err := openStores(cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, db: dbConn, log: log}

	if cfg.Store.SeedFile != "" {
		if err := a.seed(ctx, cfg.Store.SeedFile, st); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	services := NewServices(cfg, st, log)
	a.registry = services.Registry

	log.Info("app: initializing router")
	router := httpserver.NewRouter(cfg, NewHandlers(cfg, services, log), log)

	log.Info("app: initializing http server")
	a.httpServer = httpserver.New(cfg, router)

	return a, nil
}

// NewServices wires the enforcer, orchestrator and telemetry relay over the
// given stores. Binding changes are pushed to live subscribers as rebind
// frames.
func NewServices(cfg config.Config, st Stores, log logger.Logger) Services {
	registry := telemetry.NewRegistry(cfg.Telemetry.SendTimeout, log)
	enforcer := bindingdomain.NewEnforcer(st.Bindings, bindingdomain.Notifiers{registry}, log, cfg.Binding.MaxVersionRetries)
	orchestrator := transplantdomain.NewOrchestrator(enforcer, log)
	measurementSvc := measurementdomain.NewServiceWithConfig(
		st.Measurements,
		enforcer,
		registry,
		inmemory.NewInMemoryLatestCache(),
		measurementdomain.Config{
			HistoryLimit:   cfg.Telemetry.HistoryLimit,
			LatestCacheTTL: cfg.Telemetry.LatestCacheTTL,
		},
		log,
	)

	services := Services{
		Bindings:     enforcer,
		Transplants:  orchestrator,
		Measurements: measurementSvc,
		Registry:     registry,
	}
	if st.Ingest != nil {
		services.Ingest = ingestdomain.NewService(st.Ingest, measurementSvc, log)
	}
	return services
}

func NewHandlers(cfg config.Config, services Services, log logger.Logger) *handler.Handlers {
	connCfg := telemetry.ConnConfig{
		SendBuffer:   cfg.Telemetry.SendBuffer,
		PingInterval: cfg.Telemetry.PingInterval,
		PongWait:     cfg.Telemetry.PongWait,
	}
	var ingestor measurements.Ingestor
	if services.Ingest != nil {
		ingestor = services.Ingest
	}

	return handler.New(
		common.New(services.Registry, log),
		transplant.New(services.Transplants, log),
		bindings.New(services.Bindings, log),
		measurements.New(services.Measurements, services.Bindings, ingestor, log),
		telemetryhandler.New(services.Registry, services.Measurements, services.Bindings, connCfg, cfg.CORS.AllowedOrigins, log),
	)
}

func openStores(cfg config.Config, log logger.Logger) (*gorm.DB, Stores, error) {
	var (
		dbConn *gorm.DB
		err    error
	)

	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		memory := inmemory.NewBindingStore()
		return nil, Stores{
			Bindings:     memory,
			Measurements: inmemory.NewMeasurementStore(),
			Ingest:       inmemory.NewIngestStore(),
			memory:       memory,
		}, nil
	case config.StoreDriverSQLite:
		dbConn, err = db.NewSQLite(cfg.Store.SQLitePath, log)
	case config.StoreDriverPostgres:
		dbConn, err = db.NewPostgres(cfg.DB, log)
	default:
		return nil, Stores{}, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, Stores{}, err
	}

	if err := db.Migrate(dbConn, log, Models()...); err != nil {
		closeDB(dbConn)
		return nil, Stores{}, fmt.Errorf("migrate: %w", err)
	}

	return dbConn, SQLStores(dbConn), nil
}

// Models lists the tables synced when no SQL migrations apply.
func Models() []any {
	return []any{
		&bindingdomain.Household{},
		&bindingdomain.HouseholdMember{},
		&bindingdomain.Flower{},
		&bindingdomain.SmartPot{},
		&measurementdomain.Measurement{},
		&ingestdomain.BatchRecord{},
		&ingestdomain.ReadingRecord{},
	}
}

func (a *App) seed(ctx context.Context, path string, st Stores) error {
	seed, err := LoadSeed(path)
	if err != nil {
		return err
	}
	if st.memory != nil {
		err = seed.ApplyMemory(st.memory)
	} else {
		err = seed.ApplyGorm(ctx, a.db)
	}
	if err != nil {
		return err
	}
	a.log.Info("app: seed applied", "path", path, "households", len(seed.Households))
	return nil
}

func (a *App) HTTPServer() *http.Server {
	return a.httpServer
}

// Close drops live telemetry streams and releases the database.
func (a *App) Close() error {
	if a.registry != nil {
		a.registry.CloseAll()
	}
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func closeDB(dbConn *gorm.DB) {
	if sqlDB, err := dbConn.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
