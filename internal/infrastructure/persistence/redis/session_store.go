package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/classpulse/classpulse/internal/domain/session"
	"github.com/classpulse/classpulse/internal/domain/shared"
	"github.com/classpulse/classpulse/pkg/circuitbreaker"
	"github.com/classpulse/classpulse/pkg/logger"
	"github.com/classpulse/classpulse/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION STORE
// ══════════════════════════════════════════════════════════════════════════════

// SessionStoreConfig configures SessionStore.
type SessionStoreConfig struct {
	// TTL is refreshed on every write. Zero keeps sessions forever.
	TTL time.Duration

	Logger  *logger.Logger
	Breaker *circuitbreaker.Breaker
	Retrier *retry.Retrier
}

// SessionStore keeps each session in a Redis hash and fans changes out over
// Pub/Sub so that every open copy of a session stays current.
type SessionStore struct {
	client  *redis.Client
	ttl     time.Duration
	logger  *logger.Logger
	breaker *circuitbreaker.Breaker
	retrier *retry.Retrier
}

var _ session.Store = (*SessionStore)(nil)

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client *redis.Client, cfg SessionStoreConfig) *SessionStore {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.SessionStoreBreaker(nil)
	}
	if cfg.Retrier == nil {
		cfg.Retrier = retry.CacheRetrier()
	}
	return &SessionStore{
		client:  client,
		ttl:     cfg.TTL,
		logger:  cfg.Logger.With(logger.Component("session_store")),
		breaker: cfg.Breaker,
		retrier: cfg.Retrier,
	}
}

// Open loads the session and starts listening for remote changes.
func (s *SessionStore) Open(ctx context.Context, sessionID string) (session.Repository, error) {
	if sessionID == "" {
		return nil, shared.NewDomainError("session", "Open", shared.ErrInvalidID, "session ID is required")
	}

	repo := &redisSession{
		State:    session.NewState(sessionID),
		store:    s,
		originID: uuid.NewString(),
		done:     make(chan struct{}),
	}

	if err := repo.Load(ctx); err != nil {
		return nil, err
	}

	pubsub := s.client.Subscribe(context.Background(), SessionChannel(sessionID))
	repo.pubsub = pubsub
	repo.wg.Add(1)
	go repo.listen(pubsub.Channel())

	return repo, nil
}

// do runs op through the breaker and retrier.
func (s *SessionStore) do(ctx context.Context, op func(ctx context.Context) error) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			return classifyRedis(op(ctx))
		})
	})
}

// classifyRedis marks network-level failures as retryable. redis.Nil is
// not an error for our purposes.
func classifyRedis(err error) error {
	switch {
	case err == nil, errors.Is(err, redis.Nil):
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, redis.ErrClosed):
		return err
	default:
		return retry.Transient(err)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

type redisSession struct {
	*session.State

	store    *SessionStore
	originID string
	pubsub   *redis.PubSub
	done     chan struct{}
	wg       sync.WaitGroup
}

// changeMessage is what goes over the session channel.
type changeMessage struct {
	Origin string         `json:"origin"`
	Change session.Change `json:"change"`
}

func (r *redisSession) Load(ctx context.Context) error {
	if r.Closed() {
		return shared.ErrSessionClosed
	}

	var raw map[string]string
	err := r.store.do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = r.store.client.HGetAll(ctx, SessionKey(r.SessionID())).Result()
		return err
	})
	if err != nil {
		return shared.WrapError("session", "Load", shared.ErrServiceUnavailable, "failed to load session", err)
	}

	values := make(map[string][]byte, len(raw))
	for k, v := range raw {
		values[k] = []byte(v)
	}
	r.Replace(values)
	return nil
}

func (r *redisSession) Get(_ context.Context, key string) ([]byte, error) {
	if r.Closed() {
		return nil, shared.ErrSessionClosed
	}
	v, ok := r.Lookup(key)
	if !ok {
		return nil, shared.ErrSessionKeyNotFound
	}
	return v, nil
}

func (r *redisSession) Set(ctx context.Context, key string, value []byte) error {
	return r.write(ctx, session.Change{SessionID: r.SessionID(), Key: key, Value: value})
}

func (r *redisSession) Delete(ctx context.Context, key string) error {
	return r.write(ctx, session.Change{SessionID: r.SessionID(), Key: key, Deleted: true})
}

// write persists c, publishes it to other copies and applies it locally.
func (r *redisSession) write(ctx context.Context, c session.Change) error {
	if r.Closed() {
		return shared.ErrSessionClosed
	}
	if c.Key == "" {
		return shared.NewDomainError("session", "Set", shared.ErrEmptyValue, "session key is required")
	}

	msg, err := json.Marshal(changeMessage{Origin: r.originID, Change: c})
	if err != nil {
		return err
	}

	hashKey := SessionKey(r.SessionID())
	err = r.store.do(ctx, func(ctx context.Context) error {
		_, err := r.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if c.Deleted {
				pipe.HDel(ctx, hashKey, c.Key)
			} else {
				pipe.HSet(ctx, hashKey, c.Key, c.Value)
			}
			if r.store.ttl > 0 {
				pipe.Expire(ctx, hashKey, r.store.ttl)
			}
			pipe.Publish(ctx, SessionChannel(r.SessionID()), msg)
			return nil
		})
		return err
	})
	if err != nil {
		return shared.WrapError("session", "Write", shared.ErrServiceUnavailable, "failed to persist session change", err)
	}

	r.Apply(c)
	return nil
}

// Flush rewrites the whole local map and refreshes the TTL.
func (r *redisSession) Flush(ctx context.Context) error {
	if r.Closed() {
		return shared.ErrSessionClosed
	}

	snapshot := r.Snapshot()
	if len(snapshot) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(snapshot))
	for k, v := range snapshot {
		fields[k] = v
	}

	hashKey := SessionKey(r.SessionID())
	err := r.store.do(ctx, func(ctx context.Context) error {
		_, err := r.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hashKey, fields)
			if r.store.ttl > 0 {
				pipe.Expire(ctx, hashKey, r.store.ttl)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return shared.WrapError("session", "Flush", shared.ErrServiceUnavailable, "failed to flush session", err)
	}
	return nil
}

func (r *redisSession) Close() error {
	if !r.MarkClosed() {
		return nil
	}
	close(r.done)
	var err error
	if r.pubsub != nil {
		err = r.pubsub.Close()
	}
	r.wg.Wait()
	return err
}

func (r *redisSession) listen(messages <-chan *redis.Message) {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			r.applyRemote(msg.Payload)
		}
	}
}

// applyRemote applies a change published by another copy of the session.
func (r *redisSession) applyRemote(payload string) {
	var m changeMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		r.store.logger.Warn("invalid session change message",
			logger.String("session_id", r.SessionID()),
			logger.Err(err),
		)
		return
	}
	if m.Origin == r.originID || m.Change.Key == "" {
		return
	}
	r.Apply(m.Change)
}
