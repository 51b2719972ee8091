// Package app wires configuration, storage, the event bus and the
// application handlers into a runnable process. cmd/api and cmd/worker
// share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/classpulse/classpulse/config"
	"github.com/classpulse/classpulse/internal/application/command"
	"github.com/classpulse/classpulse/internal/application/eventhandler"
	"github.com/classpulse/classpulse/internal/application/query"
	"github.com/classpulse/classpulse/internal/domain/analytics"
	"github.com/classpulse/classpulse/internal/domain/session"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/internal/infrastructure/catalog"
	"github.com/classpulse/classpulse/internal/infrastructure/messaging"
	"github.com/classpulse/classpulse/internal/infrastructure/persistence/memory"
	redisstore "github.com/classpulse/classpulse/internal/infrastructure/persistence/redis"
	"github.com/classpulse/classpulse/internal/infrastructure/service"
	"github.com/classpulse/classpulse/internal/interface/http/handlers"
	"github.com/classpulse/classpulse/pkg/logger"
	"github.com/classpulse/classpulse/pkg/retry"
)

// EventBus is a bus the process owns and must close.
type EventBus interface {
	shared.EventBus
	Close() error
}

// Queries holds the read-side handlers.
type Queries struct {
	StudentMetrics     *query.GetStudentMetricsHandler
	ClassMetrics       *query.GetClassMetricsHandler
	ClassInterventions *query.GetClassInterventionsHandler
	WeeklyDigest       *query.GetWeeklyDigestHandler
	LearningGaps       *query.GetLearningGapsHandler
}

// Commands holds the write-side handlers.
type Commands struct {
	GradeSubmission *command.GradeSubmissionHandler
	RecordActivity  *command.RecordActivityHandler
}

// App is a wired process.
type App struct {
	Config   *config.Config
	Log      *logger.Logger
	Storage  Storage
	Bus      EventBus
	Sessions session.Store
	Health   *handlers.CompositeHealthChecker
	Queries  Queries
	Commands Commands

	// Distributed is true when events travel over Redis.
	Distributed bool

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// New connects every backend named in cfg and builds the handlers. On
// error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Features == nil {
		cfg.Features = config.NewFeatureFlags()
	}
	a := &App{
		Config: cfg,
		Log:    log,
		Health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	log.Info("application wired",
		logger.String("storage", a.Storage.Backend),
		logger.Bool("distributed", a.Distributed),
	)
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	var err error
	if a.Storage, err = a.openStorage(ctx, cfg.Database); err != nil {
		return err
	}
	if err := a.openMessaging(ctx, cfg.Redis); err != nil {
		return err
	}

	suggestions, err := a.loadCatalog(cfg.Analytics.CatalogPath)
	if err != nil {
		return err
	}

	a.Queries = a.buildQueries(suggestions)
	a.Commands = Commands{
		GradeSubmission: command.NewGradeSubmissionHandler(command.GradeSubmissionDeps{
			Assignments: a.Storage.Assignments,
			Rubrics:     a.Storage.Rubrics,
			Submissions: a.Storage.Submissions,
			Publisher:   a.Bus,
			Retrier:     retry.StoreRetrier(),
			Logger:      a.Log,
			Autograde:   a.Gate(config.FeatureRubricAutograde),
		}),
		RecordActivity: command.NewRecordActivityHandler(a.Storage.Activity, retry.StoreRetrier(), a.Log),
	}
	return nil
}

// openMessaging sets up the event bus and the session store: Redis-backed
// when reachable, in-memory otherwise.
func (a *App) openMessaging(ctx context.Context, cfg config.RedisConfig) error {
	localCfg := messaging.DefaultInMemoryEventBusConfig()
	localCfg.Logger = a.Log

	var sessions session.Store
	if !cfg.Disabled {
		rcfg := redisstore.DefaultConfig()
		rcfg.URL = cfg.URL
		rcfg.Host = cfg.Host
		rcfg.Port = cfg.Port
		rcfg.Password = cfg.Password
		rcfg.DB = cfg.DB
		rcfg.PoolSize = cfg.PoolSize
		rcfg.MinIdleConns = cfg.MinIdleConns
		rcfg.DialTimeout = cfg.DialTimeout
		rcfg.ReadTimeout = cfg.ReadTimeout
		rcfg.WriteTimeout = cfg.WriteTimeout

		client, err := redisstore.NewClient(ctx, rcfg)
		if err != nil {
			a.Log.Warn("redis unavailable, using in-memory bus and sessions", logger.Err(err))
		} else {
			a.onClose("redis", client.Close)
			a.Health.AddCheck("redis", func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			})

			bus, err := messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
				Client:         client,
				ChannelName:    cfg.EventChannel,
				LocalBusConfig: localCfg,
				Logger:         a.Log,
			})
			if err != nil {
				return fmt.Errorf("redis event bus: %w", err)
			}
			a.Bus = bus
			a.Distributed = true
			sessions = redisstore.NewSessionStore(client, redisstore.SessionStoreConfig{
				TTL:    cfg.SessionTTL,
				Logger: a.Log,
			})
		}
	}

	if a.Bus == nil {
		a.Bus = messaging.NewInMemoryEventBus(localCfg)
		sessions = memory.NewSessionStore()
	}
	a.onClose("event bus", a.Bus.Close)

	if a.Config.Features.IsEnabled(config.FeatureSessionSync, nil) {
		sessions = forwardingStore{
			Store:    sessions,
			listener: eventhandler.SessionChangeForwarder(a.Bus, time.Now, a.Log),
		}
	}
	a.Sessions = sessions
	return nil
}

func (a *App) loadCatalog(path string) (analytics.SuggestionCatalog, error) {
	if path == "" {
		return analytics.DefaultCatalog{}, nil
	}
	c, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	a.Log.Info("suggestion catalog loaded", logger.Int("topics", c.Len()))
	return c, nil
}

func (a *App) buildQueries(suggestions analytics.SuggestionCatalog) Queries {
	cfg := a.Config
	deps := query.Dependencies{
		Activity:    a.Storage.Activity,
		Submissions: a.Storage.Submissions,
		Roster:      a.Storage.Roster,
		Catalog:     suggestions,
		Retrier:     retry.StoreRetrier(),
		Logger:      a.Log,
		Location:    cfg.App.Location,
		FanOut:      cfg.Analytics.FanOutConcurrency,
		TopSubjects: cfg.Analytics.TopSubjects,
		DemoJitter:  a.demoJitter(cfg.Analytics.JitterSeed),
	}
	return Queries{
		StudentMetrics:     query.NewGetStudentMetricsHandler(deps),
		ClassMetrics:       query.NewGetClassMetricsHandler(deps),
		ClassInterventions: query.NewGetClassInterventionsHandler(deps),
		WeeklyDigest:       query.NewGetWeeklyDigestHandler(deps),
		LearningGaps:       query.NewGetLearningGapsHandler(deps),
	}
}

// demoJitter hands out a random source for classes where the demo heatmap
// flag is on. A zero seed draws from the clock.
func (a *App) demoJitter(seed int64) func(shared.ClassID) *rand.Rand {
	enabled := a.Gate(config.FeatureHeatmapDemoJitter)
	return func(classID shared.ClassID) *rand.Rand {
		if !enabled(classID) {
			return nil
		}
		s := seed
		if s == 0 {
			s = time.Now().UnixNano()
		}
		return rand.New(rand.NewSource(s))
	}
}

// Gate adapts a feature flag to the per-class predicate the application
// layer takes.
func (a *App) Gate(feature string) func(shared.ClassID) bool {
	flags := a.Config.Features
	return func(classID shared.ClassID) bool {
		return flags.IsEnabled(feature, config.ForClass(classID.String()))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT SUBSCRIPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Subscriptions selects the event handlers a process runs. With a Redis
// bus each handler should run in exactly one process kind.
type Subscriptions struct {
	GradeNotices  bool
	Interventions bool
	Digests       bool
	Delivery      bool
}

// Subscribe registers the selected handlers on the bus.
func (a *App) Subscribe(sub Subscriptions) error {
	ids := service.NewIDGenerator()
	notifier := service.NewBusNotifier(a.Bus, a.Log)
	resolver := service.NewRosterRecipientResolver(a.Storage.Roster)
	retrier := retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(200*time.Millisecond))

	var errs []error
	if sub.GradeNotices {
		h := eventhandler.NewOnSubmissionGradedHandler(notifier, ids, retrier, a.Log)
		errs = append(errs, a.Bus.Subscribe(shared.EventSubmissionGraded, h.Handle))
	}
	if sub.Interventions {
		h := eventhandler.NewOnInterventionRaisedHandler(resolver, notifier, ids, retrier, a.Log,
			eventhandler.DefaultInterventionConfig())
		errs = append(errs, a.Bus.Subscribe(shared.EventInterventionRaised, h.Handle))
	}
	if sub.Digests {
		h := eventhandler.NewOnWeeklyDigestComposedHandler(resolver, notifier, ids, retrier, a.Log)
		errs = append(errs, a.Bus.Subscribe(shared.EventWeeklyDigestComposed, h.Handle))
	}
	if sub.Delivery {
		errs = append(errs, a.Bus.Subscribe(shared.EventNotificationRequested, service.LogDeliveryHandler(a.Log)))
	}
	return errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.Log.Warn("close failed", logger.String("resource", c.name), logger.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION FORWARDING
// ══════════════════════════════════════════════════════════════════════════════

// forwardingStore subscribes a listener to every session it opens.
type forwardingStore struct {
	session.Store
	listener session.Listener
}

func (s forwardingStore) Open(ctx context.Context, sessionID string) (session.Repository, error) {
	repo, err := s.Store.Open(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	repo.Subscribe(s.listener)
	return repo, nil
}
