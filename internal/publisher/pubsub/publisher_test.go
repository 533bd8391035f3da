package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishSendsJSON(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "crawl-completed")
	require.NoError(t, err)

	pub := New(client)
	defer func() { require.NoError(t, pub.Close()) }()

	id, err := pub.Publish(ctx, "crawl-completed", map[string]any{
		"event":  "crawl.completed",
		"job_id": "job-1",
		"status": "done",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "crawl.completed", msgs[0].Attributes["event"])
	require.Equal(t, "application/json", msgs[0].Attributes["content_type"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	require.Equal(t, "job-1", body["job_id"])
}

func TestPublishMissingTopicFails(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t)
	pub := New(client)
	defer func() { _ = pub.Close() }()

	_, err := pub.Publish(context.Background(), "absent", map[string]any{"k": "v"})
	require.Error(t, err)
}

func TestTopicExists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, _ := newTestClient(t)
	_, err := client.CreateTopic(ctx, "present")
	require.NoError(t, err)
	pub := New(client)

	ok, err := pub.TopicExists(ctx, "present")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = pub.TopicExists(ctx, "absent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPublishUnconfigured(t *testing.T) {
	t.Parallel()
	var pub *Publisher
	_, err := pub.Publish(context.Background(), "t", nil)
	require.ErrorContains(t, err, "not configured")
}

func TestPublishRejectsUnmarshalable(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t)
	pub := New(client)
	_, err := pub.Publish(context.Background(), "t", map[string]any{"bad": make(chan int)})
	require.ErrorContains(t, err, "marshal payload")
}
