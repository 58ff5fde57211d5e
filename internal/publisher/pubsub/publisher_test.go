package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"mpharvester/internal/publisher/pubsub"
)

func newFakeClient(t *testing.T) *gcppubsub.Client {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	client, err := gcppubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPublisherDeliversJSONPayload(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(t)

	topic, err := client.CreateTopic(ctx, "article-events")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "article-events-sub", gcppubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub := pubsub.NewWithClient(client)

	payload := map[string]string{
		"url":   "https://mp.weixin.qq.com/s/AbC123",
		"title": "test article",
	}
	id, err := pub.Publish(ctx, "article-events", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	received := make(chan *gcppubsub.Message, 1)
	recvCtx, cancel := context.WithCancel(ctx)
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *gcppubsub.Message) {
			msg.Ack()
			received <- msg
			cancel()
		})
	}()

	msg := <-received
	assert.Equal(t, id, msg.ID)

	var got map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, payload, got)
}

func TestPublisherRequiresTopic(t *testing.T) {
	pub := pubsub.NewWithClient(newFakeClient(t))

	_, err := pub.Publish(context.Background(), "", "payload")
	require.Error(t, err)
}

func TestPublisherRejectsUnmarshalablePayload(t *testing.T) {
	pub := pubsub.NewWithClient(newFakeClient(t))

	_, err := pub.Publish(context.Background(), "article-events", make(chan int))
	require.Error(t, err)
}
