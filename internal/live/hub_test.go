package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-monitor-backend/internal/model"
)

type fakeMirror struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (f *fakeMirror) Publish(_ context.Context, ev model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeMirror) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// stalledMirror blocks every publish until released or the context expires.
type stalledMirror struct {
	release chan struct{}
}

func (m *stalledMirror) Publish(ctx context.Context, _ model.Event) error {
	select {
	case <-m.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakePublisher struct {
	channel string
	message interface{}
	err     error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message = message
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func event(id int64) model.Event {
	return model.Event{
		ID:        id,
		AssetID:   "L1-PRESS-01",
		EventType: model.EventTypeStop,
		NewState:  model.StateStopped,
		Timestamp: time.Date(2024, 5, 6, 6, 0, 0, 0, time.UTC),
	}
}

func TestHub_PublishFansOut(t *testing.T) {
	mirror := &fakeMirror{}
	h := NewHub(4, mirror)

	a, cancelA := h.Subscribe()
	defer cancelA()
	b, cancelB := h.Subscribe()
	defer cancelB()
	assert.Equal(t, 2, h.Subscribers())

	h.Publish(event(1))

	for _, ch := range []<-chan model.Event{a, b} {
		select {
		case got := <-ch:
			assert.Equal(t, int64(1), got.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	require.Eventually(t, func() bool { return mirror.count() == 1 }, time.Second, 5*time.Millisecond)
	h.Close()
}

func TestHub_StalledMirrorDoesNotBlockPublish(t *testing.T) {
	mirror := &stalledMirror{release: make(chan struct{})}
	h := NewHub(2, mirror)
	ch, cancel := h.Subscribe()
	defer cancel()

	start := time.Now()
	for i := int64(1); i <= 5; i++ {
		h.Publish(event(i))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// Subscribers still see everything their buffer holds.
	assert.Equal(t, int64(1), (<-ch).ID)
	assert.Equal(t, int64(2), (<-ch).ID)

	close(mirror.release)
	h.Close()
}

func TestHub_CloseDrainsMirrorQueue(t *testing.T) {
	mirror := &fakeMirror{}
	h := NewHub(8, mirror)
	for i := int64(1); i <= 3; i++ {
		h.Publish(event(i))
	}
	h.Close()
	h.Close()
	assert.Equal(t, 3, mirror.count())

	// Publishing after Close is not mirrored and does not panic.
	h.Publish(event(4))
	assert.Equal(t, 3, mirror.count())
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	h := NewHub(1, nil)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(event(1))
	h.Publish(event(2))

	got := <-ch
	assert.Equal(t, int64(1), got.ID)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %d", extra.ID)
	default:
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	h := NewHub(1, nil)
	ch, cancel := h.Subscribe()

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, h.Subscribers())

	// Publishing with no subscribers is a no-op.
	h.Publish(event(3))
}

func TestHub_MirrorErrorsAreNotFatal(t *testing.T) {
	h := NewHub(1, &fakeMirror{err: errors.New("redis down")})
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(event(4))
	assert.Equal(t, int64(4), (<-ch).ID)
	h.Close()
}

func TestRedisMirror_Publish(t *testing.T) {
	pub := &fakePublisher{}
	m := NewRedisMirror(pub, "asset-events")

	require.NoError(t, m.Publish(context.Background(), event(5)))
	assert.Equal(t, "asset-events", pub.channel)

	var decoded model.Event
	require.NoError(t, json.Unmarshal(pub.message.([]byte), &decoded))
	assert.Equal(t, int64(5), decoded.ID)
	assert.Equal(t, "L1-PRESS-01", decoded.AssetID)

	pub.err = errors.New("connection refused")
	assert.Error(t, m.Publish(context.Background(), event(6)))
}

func TestConnect(t *testing.T) {
	client, err := Connect("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", client.Options().Addr)
	client.Close()

	client, err = Connect("redis://localhost:6380/2")
	require.NoError(t, err)
	assert.Equal(t, 2, client.Options().DB)
	client.Close()

	_, err = Connect("redis://%zz")
	assert.Error(t, err)
}
