package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse/internal/domain/session"
	"github.com/classpulse/classpulse/pkg/logger"
	"github.com/classpulse/classpulse/pkg/retry"
)

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 10, opts.PoolSize)

	cfg.URL = "redis://:secret@cache:6380/2"
	cfg.PoolSize = 4
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 4, opts.PoolSize)

	cfg.URL = "http://not-redis"
	_, err = cfg.Options()
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "classpulse:session:abc", SessionKey("abc"))
	assert.Equal(t, "classpulse:session-changes:abc", SessionChannel("abc"))
}

func TestClassifyRedis(t *testing.T) {
	assert.NoError(t, classifyRedis(nil))
	assert.NoError(t, classifyRedis(redis.Nil))
	assert.False(t, retry.IsTransient(classifyRedis(context.Canceled)))
	assert.False(t, retry.IsTransient(classifyRedis(redis.ErrClosed)))
	assert.True(t, retry.IsTransient(classifyRedis(errors.New("dial tcp: connection refused"))))
}

func newDetachedSession(id string) *redisSession {
	return &redisSession{
		State:    session.NewState(id),
		store:    &SessionStore{logger: logger.Nop()},
		originID: "self",
		done:     make(chan struct{}),
	}
}

func TestApplyRemote(t *testing.T) {
	r := newDetachedSession("s-1")

	var seen []session.Change
	r.Subscribe(func(c session.Change) { seen = append(seen, c) })

	own, _ := json.Marshal(changeMessage{Origin: "self", Change: session.Change{Key: "theme", Value: []byte("dark")}})
	r.applyRemote(string(own))
	assert.Empty(t, seen)

	remote, _ := json.Marshal(changeMessage{Origin: "other", Change: session.Change{Key: "theme", Value: []byte("light")}})
	r.applyRemote(string(remote))
	require.Len(t, seen, 1)
	assert.Equal(t, "s-1", seen[0].SessionID)

	v, err := r.Get(context.Background(), "theme")
	require.NoError(t, err)
	assert.Equal(t, []byte("light"), v)

	r.applyRemote("{broken")
	assert.Len(t, seen, 1)
}

func TestClosedSessionRejectsUse(t *testing.T) {
	r := newDetachedSession("s-1")
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := r.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, r.Set(ctx, "k", []byte("v")))
	assert.Error(t, r.Flush(ctx))
	assert.Error(t, r.Load(ctx))
}
