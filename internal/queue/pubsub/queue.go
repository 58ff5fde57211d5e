// Package pubsub backs the job queue with Google Cloud Pub/Sub so accepted
// jobs survive process restarts.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"mpharvester/internal/harvest"
)

// Queue publishes submitted jobs to a topic and hands pulled jobs to the
// dispatcher one at a time. A message is acked only after a dispatcher
// goroutine has taken it, so an unclean shutdown redelivers the job.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	startOnce sync.Once
	items     chan harvest.QueueItem
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewQueue connects to Pub/Sub and verifies the topic and subscription exist.
func NewQueue(ctx context.Context, projectID, topicID, subscriptionID string, logger *zap.Logger) (*Queue, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("check topic %q: %w", topicID, err)
	}
	if !ok {
		client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}

	sub := client.Subscription(subscriptionID)
	ok, err = sub.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("check subscription %q: %w", subscriptionID, err)
	}
	if !ok {
		client.Close()
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", subscriptionID, projectID)
	}

	return NewQueueWithClient(client, topic, sub, logger), nil
}

// NewQueueWithClient builds a Queue from existing handles (tests connect
// them to a fake server).
func NewQueueWithClient(client *pubsub.Client, topic *pubsub.Topic, sub *pubsub.Subscription, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		client: client,
		topic:  topic,
		sub:    sub,
		logger: logger,
		items:  make(chan harvest.QueueItem),
	}
}

// Enqueue publishes the item and waits for the server ack, so a job the
// API accepted is durable before the response goes out.
func (q *Queue) Enqueue(ctx context.Context, item harvest.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"job_id": item.JobID},
	}
	if _, err := q.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish queue item: %w", err)
	}
	return nil
}

// Dequeue blocks until a job arrives or the context ends. The receive pump
// starts on first use.
func (q *Queue) Dequeue(ctx context.Context) (harvest.QueueItem, error) {
	q.startOnce.Do(q.startReceiver)
	select {
	case <-ctx.Done():
		return harvest.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.items:
		if !ok {
			return harvest.QueueItem{}, harvest.ErrQueueClosed
		}
		return item, nil
	}
}

func (q *Queue) startReceiver() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})

	go func() {
		defer close(q.done)
		defer close(q.items)
		err := q.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
			var item harvest.QueueItem
			if err := json.Unmarshal(msg.Data, &item); err != nil {
				// A malformed message never becomes valid; drop it.
				q.logger.Warn("dropping malformed queue message",
					zap.String("message_id", msg.ID), zap.Error(err))
				msg.Ack()
				return
			}
			select {
			case q.items <- item:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Error("queue receiver stopped", zap.Error(err))
		}
	}()
}

// Close stops the receiver, flushes pending publishes, and closes the client.
func (q *Queue) Close() error {
	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
	q.topic.Stop()
	return q.client.Close()
}
