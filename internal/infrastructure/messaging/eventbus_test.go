package messaging

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/classpulse/internal/domain/shared"
)

var testAt = time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

func syncBus() *InMemoryEventBus {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = false
	return NewInMemoryEventBus(cfg)
}

func TestInMemoryEventBus_DeliversByType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var graded, raised []shared.Event
	require.NoError(t, bus.Subscribe(shared.EventSubmissionGraded, func(e shared.Event) error {
		graded = append(graded, e)
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventInterventionRaised, func(e shared.Event) error {
		raised = append(raised, e)
		return nil
	}))

	ev := shared.NewSubmissionGradedEvent("sub-1", "a-1", "s-1", 42, 50, true, testAt)
	require.NoError(t, bus.Publish(ev))

	require.Len(t, graded, 1)
	assert.Empty(t, raised)
	assert.Equal(t, "sub-1", graded[0].AggregateID())
	assert.Equal(t, 42.0, graded[0].Payload()["grade"])
}

func TestInMemoryEventBus_SubscribeAllSeesEverything(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var seen []shared.EventType
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		seen = append(seen, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewSessionChangedEvent("sess", "theme", false, testAt)))
	require.NoError(t, bus.Publish(shared.NewNotificationRequestedEvent("n-1", "t-1", "grade_posted", "normal", "title", "body", testAt)))

	assert.Equal(t, []shared.EventType{shared.EventSessionChanged, shared.EventNotificationRequested}, seen)
}

func TestInMemoryEventBus_SyncJoinsHandlerErrors(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	boom := errors.New("boom")
	called := 0
	require.NoError(t, bus.Subscribe(shared.EventSessionChanged, func(shared.Event) error {
		called++
		return boom
	}))
	require.NoError(t, bus.Subscribe(shared.EventSessionChanged, func(shared.Event) error {
		called++
		return nil
	}))

	err := bus.Publish(shared.NewSessionChangedEvent("sess", "k", true, testAt))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, called, "a failing handler must not stop the others")

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalPublished)
	assert.Equal(t, int64(2), snap.TotalHandlerExecs)
	assert.Equal(t, int64(1), snap.HandlerFailures)
}

func TestInMemoryEventBus_RecoversPanics(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	require.NoError(t, bus.Subscribe(shared.EventSessionChanged, func(shared.Event) error {
		panic("handler exploded")
	}))

	err := bus.Publish(shared.NewSessionChangedEvent("sess", "k", false, testAt))
	assert.ErrorIs(t, err, ErrHandlerPanic)
}

func TestInMemoryEventBus_Middleware(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var order []string
	bus.Use(func(next shared.EventHandler) shared.EventHandler {
		return func(e shared.Event) error {
			order = append(order, "before")
			err := next(e)
			order = append(order, "after")
			return err
		}
	})
	require.NoError(t, bus.Subscribe(shared.EventSessionChanged, func(shared.Event) error {
		order = append(order, "handler")
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewSessionChangedEvent("sess", "k", false, testAt)))
	assert.Equal(t, []string{"before", "handler", "after"}, order)
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.WorkerPoolSize = 2
	bus := NewInMemoryEventBus(cfg)

	var count atomic.Int64
	var wg sync.WaitGroup
	wg.Add(20)
	require.NoError(t, bus.Subscribe(shared.EventSessionChanged, func(shared.Event) error {
		defer wg.Done()
		count.Add(1)
		return nil
	}))

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(shared.NewSessionChangedEvent("sess", "k", false, testAt)))
	}
	wg.Wait()
	require.NoError(t, bus.Close())

	assert.Equal(t, int64(20), count.Load())
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewSessionChangedEvent("s", "k", false, testAt)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventSessionChanged, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	assert.Error(t, bus.Publish(nil))
	assert.Error(t, bus.Subscribe(shared.EventSessionChanged, nil))
	assert.Error(t, bus.SubscribeAll(nil))
}

func TestRedisEventBus_SkipsOwnMessages(t *testing.T) {
	local := syncBus()
	defer local.Close()

	var got []shared.Event
	require.NoError(t, local.SubscribeAll(func(e shared.Event) error {
		got = append(got, e)
		return nil
	}))

	bus := &RedisEventBus{localBus: local, instanceID: "me", logger: local.logger}

	bus.handleRedisMessage(`{"instance_id":"me","event_type":"session.changed","aggregate_id":"s1","payload":{}}`)
	assert.Empty(t, got)

	bus.handleRedisMessage(`{"instance_id":"other","event_type":"session.changed","aggregate_id":"s2","payload":{"key":"theme"}}`)
	require.Len(t, got, 1)
	assert.Equal(t, shared.EventSessionChanged, got[0].EventType())
	assert.Equal(t, "s2", got[0].AggregateID())
	assert.Equal(t, "theme", got[0].Payload()["key"])

	bus.handleRedisMessage("not json")
	assert.Len(t, got, 1)
}
