package events

import (
	"context"
	"encoding/json"
	"lifeline/interfaces"
	"lifeline/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// StreamPublisher writes lifecycle events to a Redis stream. Delivery to
// consumers is at-least-once; deduplication happens on the consumer side via
// event IDs.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

var _ interfaces.EventPublisher = (*StreamPublisher)(nil)

func NewStreamPublisher(client *redis.Client, stream string) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: stream,
		maxLen: 10000,
	}
}

func (sp *StreamPublisher) Publish(ctx context.Context, event *models.LifecycleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	id, err := sp.client.XAdd(ctx, &redis.XAddArgs{
		Stream: sp.stream,
		MaxLen: sp.maxLen,
		Approx: true,
		Values: map[string]interface{}{"event": payload},
	}).Result()
	if err != nil {
		logrus.Errorf("Failed to publish %s event for emergency %s: %v", event.Kind, event.EmergencyID, err)
		return err
	}

	logrus.Debugf("Published %s event %s to stream %s (entry %s)", event.Kind, event.EventID, sp.stream, id)
	return nil
}
