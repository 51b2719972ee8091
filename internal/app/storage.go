package app

import (
	"context"
	"fmt"

	"github.com/classpulse/classpulse/config"
	"github.com/classpulse/classpulse/internal/domain/activity"
	"github.com/classpulse/classpulse/internal/domain/grading"
	"github.com/classpulse/classpulse/internal/domain/roster"
	"github.com/classpulse/classpulse/internal/infrastructure/persistence/memory"
	"github.com/classpulse/classpulse/internal/infrastructure/persistence/postgres"
	"github.com/classpulse/classpulse/internal/interface/http/handlers"
	"github.com/classpulse/classpulse/pkg/circuitbreaker"
	"github.com/classpulse/classpulse/pkg/logger"
)

// ActivityStore reads and appends activity records.
type ActivityStore interface {
	activity.Repository
	activity.Writer
}

// Storage is the set of repositories every process reads from.
type Storage struct {
	Roster      roster.Repository
	Activity    ActivityStore
	Assignments grading.AssignmentRepository
	Rubrics     grading.RubricRepository
	Submissions grading.SubmissionRepository

	// Backend is "postgres" or "memory".
	Backend string
}

// openStorage connects to Postgres when a URL is configured and otherwise
// falls back to the in-memory store, optionally seeded from a snapshot.
func (a *App) openStorage(ctx context.Context, cfg config.DatabaseConfig) (Storage, error) {
	if cfg.URL == "" {
		return a.openMemoryStorage(cfg.SnapshotPath)
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.URL
	if cfg.MaxOpenConns > 0 {
		pgCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pgCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	pgCfg.QueryTimeout = cfg.QueryTimeout
	pgCfg.Breaker = circuitbreaker.DatabaseBreaker(func(name string, from, to circuitbreaker.State) {
		a.Log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})

	a.Log.Info("connecting to postgres")
	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return Storage{}, fmt.Errorf("connect postgres: %w", err)
	}
	a.onClose("postgres", func() error {
		conn.Close()
		return nil
	})
	a.Health.AddCheck("postgres", handlers.PingCheck(conn))

	if cfg.AutoMigrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return Storage{}, fmt.Errorf("migrate: %w", err)
		}
		a.Log.Info("database schema is up to date")
	}

	return Storage{
		Roster:      postgres.NewRosterRepository(conn),
		Activity:    postgres.NewActivityRepository(conn),
		Assignments: postgres.NewAssignmentRepository(conn),
		Rubrics:     postgres.NewRubricRepository(conn),
		Submissions: postgres.NewSubmissionRepository(conn),
		Backend:     "postgres",
	}, nil
}

func (a *App) openMemoryStorage(path string) (Storage, error) {
	var (
		store *memory.Store
		err   error
	)
	if path != "" {
		store, err = memory.LoadFile(path)
		if err != nil {
			return Storage{}, fmt.Errorf("load snapshot: %w", err)
		}
	} else {
		store, err = memory.NewStore(nil)
		if err != nil {
			return Storage{}, err
		}
	}

	a.Log.Warn("DATABASE_URL not set, using in-memory store", logger.String("snapshot", path))
	return MemoryStorage(store), nil
}

// MemoryStorage exposes an in-memory store as Storage.
func MemoryStorage(store *memory.Store) Storage {
	return Storage{
		Roster:      store,
		Activity:    store,
		Assignments: store.Assignments(),
		Rubrics:     store.Rubrics(),
		Submissions: store.Submissions(),
		Backend:     "memory",
	}
}
