package events

import (
	"context"
	"encoding/json"
	"errors"
	"lifeline/models"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Handler processes one lifecycle event. Returning an error leaves the stream
// entry unacknowledged so it is redelivered; handlers must tolerate duplicate
// events.
type Handler interface {
	HandleEvent(ctx context.Context, event *models.LifecycleEvent) error
}

// StreamConsumer reads lifecycle events from a Redis stream through a
// consumer group. Entries are acknowledged only after the handler succeeds.
type StreamConsumer struct {
	client   redis.Cmdable
	stream   string
	group    string
	consumer string
	handler  Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewStreamConsumer(client redis.Cmdable, stream, group, consumer string, handler Handler) *StreamConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamConsumer{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		handler:  handler,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start creates the consumer group if needed and begins the read loop.
func (sc *StreamConsumer) Start() error {
	err := sc.client.XGroupCreateMkStream(sc.ctx, sc.stream, sc.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}

	sc.wg.Add(1)
	go sc.readLoop()

	logrus.Infof("Event consumer started (stream=%s, group=%s, consumer=%s)", sc.stream, sc.group, sc.consumer)
	return nil
}

// Stop ends the read loop and waits for in-flight handling to finish.
func (sc *StreamConsumer) Stop() {
	sc.cancel()
	sc.wg.Wait()
	logrus.Info("Event consumer stopped")
}

func (sc *StreamConsumer) readLoop() {
	defer sc.wg.Done()

	// Reading with ">" only returns never-delivered entries, so anything
	// this consumer read before a crash sits in the group's pending list
	// forever. Start from "0" to redeliver that backlog, then switch to new
	// entries once it is drained.
	cursor := "0"
	for {
		streams, err := sc.client.XReadGroup(sc.ctx, &redis.XReadGroupArgs{
			Group:    sc.group,
			Consumer: sc.consumer,
			Streams:  []string{sc.stream, cursor},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, context.Canceled) || sc.ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				if cursor != ">" {
					cursor = ">"
				}
				continue
			}
			logrus.Errorf("Event stream read failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		delivered := 0
		lastID := ""
		for _, stream := range streams {
			for _, entry := range stream.Messages {
				delivered++
				lastID = entry.ID
				sc.handleEntry(entry)
			}
		}

		if cursor != ">" {
			if delivered == 0 {
				logrus.Infof("Pending backlog drained for consumer %s, reading new entries", sc.consumer)
				cursor = ">"
				continue
			}
			// Advance past entries whose handler failed this pass so a
			// persistently failing event cannot hot-loop the drain; it
			// stays pending and is retried on the next restart.
			cursor = lastID
		}
	}
}

func (sc *StreamConsumer) handleEntry(entry redis.XMessage) {
	raw, ok := entry.Values["event"].(string)
	if !ok {
		logrus.Warnf("Stream entry %s has no event payload, acking", entry.ID)
		sc.ack(entry.ID)
		return
	}

	var event models.LifecycleEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		// A payload that cannot be decoded will never decode; ack it so
		// it does not poison the group.
		logrus.Errorf("Failed to decode stream entry %s: %v", entry.ID, err)
		sc.ack(entry.ID)
		return
	}

	if err := sc.handler.HandleEvent(sc.ctx, &event); err != nil {
		logrus.Errorf("Handler failed for event %s (%s), leaving unacked for redelivery: %v", event.EventID, event.Kind, err)
		return
	}

	sc.ack(entry.ID)
}

func (sc *StreamConsumer) ack(entryID string) {
	if err := sc.client.XAck(context.Background(), sc.stream, sc.group, entryID).Err(); err != nil {
		logrus.Errorf("Failed to ack stream entry %s: %v", entryID, err)
	}
}
