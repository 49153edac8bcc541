package events

import (
	"context"
	"encoding/json"
	"errors"
	"lifeline/models"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream emulates the slice of the redis streams API the consumer uses:
// group reads against a backlog cursor and ">", plus acks. Unacked backlog
// entries stay pending, the way a real consumer group keeps them in its PEL.
type fakeStream struct {
	redis.Cmdable

	mu         sync.Mutex
	backlog    []redis.XMessage
	live       []redis.XMessage
	cursors    []string
	acked      map[string]bool
	liveServed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{acked: make(map[string]bool)}
}

func (f *fakeStream) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeStream) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	if ctx.Err() != nil {
		return redis.NewXStreamSliceCmdResult(nil, ctx.Err())
	}

	f.mu.Lock()
	cursor := a.Streams[1]
	f.cursors = append(f.cursors, cursor)

	if cursor != ">" {
		var pending []redis.XMessage
		for _, m := range f.backlog {
			if m.ID > cursor && !f.acked[m.ID] {
				pending = append(pending, m)
			}
		}
		f.mu.Unlock()
		return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: a.Streams[0], Messages: pending}}, nil)
	}

	if !f.liveServed {
		f.liveServed = true
		live := f.live
		f.mu.Unlock()
		return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: a.Streams[0], Messages: live}}, nil)
	}
	f.mu.Unlock()

	// Nothing new; a real blocking read would park here.
	time.Sleep(time.Millisecond)
	return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
}

func (f *fakeStream) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.acked[id] = true
	}
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeStream) isAcked(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acked[id]
}

func (f *fakeStream) firstCursor() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cursors) == 0 {
		return ""
	}
	return f.cursors[0]
}

type captureHandler struct {
	mu      sync.Mutex
	events  []string
	failing map[string]bool
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{failing: make(map[string]bool)}
}

func (h *captureHandler) HandleEvent(ctx context.Context, event *models.LifecycleEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failing[event.EventID] {
		return errors.New("dispatch failed")
	}
	h.events = append(h.events, event.EventID)
	return nil
}

func (h *captureHandler) handled() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *captureHandler) setFailing(eventID string, failing bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failing[eventID] = failing
}

func streamEntry(id, eventID string) redis.XMessage {
	payload, _ := json.Marshal(&models.LifecycleEvent{
		EventID:     eventID,
		Kind:        models.EventEmergencyActivated,
		EmergencyID: "em-1",
		UserID:      "user-1",
	})
	return redis.XMessage{ID: id, Values: map[string]interface{}{"event": string(payload)}}
}

func TestConsumerDrainsBacklogBeforeNewEntries(t *testing.T) {
	fake := newFakeStream()
	fake.backlog = []redis.XMessage{streamEntry("1-1", "activated:em-old")}
	fake.live = []redis.XMessage{streamEntry("2-1", "activated:em-new")}
	handler := newCaptureHandler()

	consumer := NewStreamConsumer(fake, "events", "dispatchers", "c1", handler)
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	assert.Eventually(t, func() bool {
		return fake.isAcked("1-1") && fake.isAcked("2-1")
	}, 2*time.Second, 5*time.Millisecond)

	// The pending backlog is read before any new entry.
	assert.Equal(t, "0", fake.firstCursor())
	assert.Equal(t, []string{"activated:em-old", "activated:em-new"}, handler.handled())
}

func TestConsumerRedeliversUnackedEntryOnRestart(t *testing.T) {
	fake := newFakeStream()
	fake.backlog = []redis.XMessage{streamEntry("1-1", "activated:em-1")}
	handler := newCaptureHandler()
	handler.setFailing("activated:em-1", true)

	first := NewStreamConsumer(fake, "events", "dispatchers", "c1", handler)
	require.NoError(t, first.Start())

	// The handler fails, so the entry must stay pending while the consumer
	// moves on to new entries.
	assert.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.liveServed
	}, 2*time.Second, 5*time.Millisecond)
	first.Stop()
	assert.False(t, fake.isAcked("1-1"))
	assert.Empty(t, handler.handled())

	// Restarting the consumer redelivers the pending entry from the backlog.
	handler.setFailing("activated:em-1", false)
	fake.mu.Lock()
	fake.liveServed = false
	fake.mu.Unlock()

	second := NewStreamConsumer(fake, "events", "dispatchers", "c1", handler)
	require.NoError(t, second.Start())
	defer second.Stop()

	assert.Eventually(t, func() bool { return fake.isAcked("1-1") }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"activated:em-1"}, handler.handled())
}

func TestConsumerAcksUndecodablePayload(t *testing.T) {
	fake := newFakeStream()
	fake.backlog = []redis.XMessage{
		{ID: "1-1", Values: map[string]interface{}{"event": "{not json"}},
		{ID: "1-2", Values: map[string]interface{}{"unrelated": "x"}},
	}
	handler := newCaptureHandler()

	consumer := NewStreamConsumer(fake, "events", "dispatchers", "c1", handler)
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	// Poison entries are acked so they cannot wedge the backlog drain.
	assert.Eventually(t, func() bool {
		return fake.isAcked("1-1") && fake.isAcked("1-2")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, handler.handled())
}
