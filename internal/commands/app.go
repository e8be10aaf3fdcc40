package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nando3d2000/parking-project-backend/internal/api/handler"
	"github.com/nando3d2000/parking-project-backend/internal/cache"
	"github.com/nando3d2000/parking-project-backend/internal/config"
	"github.com/nando3d2000/parking-project-backend/internal/logger"
	"github.com/nando3d2000/parking-project-backend/internal/metrics"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
	"github.com/nando3d2000/parking-project-backend/internal/repository/memory"
	"github.com/nando3d2000/parking-project-backend/internal/repository/postgresql"
	"github.com/nando3d2000/parking-project-backend/internal/service"
)

// storage is the set of repositories behind one driver.
type storage struct {
	tx       repository.TxManager
	users    repository.UserRepository
	lots     repository.ParkingLotRepository
	spots    repository.ParkingSpotRepository
	sessions repository.ParkingSessionRepository
	ping     handler.Pinger
	db       *sql.DB
}

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    storage
	redis    *redis.Client

	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.LogLevel, cfg.AppEnv)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{
		cfg:      cfg,
		log:      log,
		registry: reg,
		metrics:  metrics.New(reg),
	}
	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	switch a.cfg.StorageDriver {
	case config.StorageDriverMemory:
		store := memory.NewStore()
		a.store = storage{
			tx:       store,
			users:    store.Users(),
			lots:     store.Lots(),
			spots:    store.Spots(),
			sessions: store.Sessions(),
			ping:     store,
		}
		a.log.Warn().Msg("using in-memory storage, data is lost on exit")
		return nil
	}

	db, err := postgresql.NewDB(a.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, func() { db.Close() })
	a.log.Info().Str("host", a.cfg.DBHost).Str("db", a.cfg.DBName).Msg("database connected")

	if a.cfg.DBAutoMigrate {
		if err := postgresql.EnsureSchema(ctx, db); err != nil {
			return err
		}
		a.log.Info().Msg("database schema ensured")
	}

	a.store = storage{
		tx:       postgresql.NewTxManager(db),
		users:    postgresql.NewPgUserRepository(db),
		lots:     postgresql.NewPgParkingLotRepository(db),
		spots:    postgresql.NewPgParkingSpotRepository(db),
		sessions: postgresql.NewPgParkingSessionRepository(db),
		ping:     handler.PingFunc(db.PingContext),
		db:       db,
	}
	return nil
}

// statsCache connects Redis when configured. A nil result means no cache.
func (a *app) statsCache(ctx context.Context) service.StatsCache {
	if a.cfg.RedisAddr == "" {
		return nil
	}
	rdb, err := cache.NewRedisClient(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
	if err != nil {
		a.log.Warn().Err(err).Str("addr", a.cfg.RedisAddr).Msg("redis unavailable, lot stats are not cached")
		return nil
	}
	a.redis = rdb
	a.closers = append(a.closers, func() { rdb.Close() })
	return cache.NewLotStatsCache(rdb, a.cfg.StatsCacheTTL, a.log)
}

// services wires the domain services around publisher, which may be nil.
type services struct {
	auth      *service.AuthService
	lots      *service.LotService
	spots     *service.SpotService
	sessions  *service.SessionService
	simulator *service.SensorSimulator
}

func (a *app) services(statsCache service.StatsCache, publisher service.EventPublisher) services {
	s := a.store
	lots := service.NewLotService(s.tx, s.lots, s.spots, statsCache, publisher, a.metrics, a.log)
	spots := service.NewSpotService(s.tx, s.spots, s.lots, s.sessions, lots, publisher, a.metrics, a.log)
	return services{
		auth:      service.NewAuthService(s.users, a.cfg.JWTSecret, a.cfg.JWTExpirationHours),
		lots:      lots,
		spots:     spots,
		sessions:  service.NewSessionService(s.tx, s.sessions, s.spots, spots, a.metrics, a.log),
		simulator: service.NewSensorSimulator(spots, s.spots, publisher, a.simulatorConfig(), a.metrics, a.log),
	}
}

func (a *app) simulatorConfig() service.SimulatorConfig {
	cfg := service.DefaultSimulatorConfig()
	cfg.Interval = a.cfg.Simulator.Interval
	cfg.ChangeProbability = a.cfg.Simulator.ChangeProbability
	cfg.RecoveryDelay = a.cfg.Simulator.RecoveryDelay
	return cfg
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
