package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "covers-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishSendsJSON(t *testing.T) {
	t.Parallel()

	client, srv := newFakeClient(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "covers-published")
	require.NoError(t, err)

	pub := New(client, map[string]string{"source": "lockscreen-covers"})
	defer pub.Close()

	id, err := pub.Publish(ctx, "covers-published", map[string]int{"entries": 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"entries":3}`, string(msgs[0].Data))
	assert.Equal(t, "lockscreen-covers", msgs[0].Attributes["source"])
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil).Publish(context.Background(), "t", "x")
	require.Error(t, err)

	client, _ := newFakeClient(t)
	pub := New(client, nil)
	defer pub.Close()

	_, err = pub.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "covers", func() {})
	require.ErrorContains(t, err, "marshal payload")

	_, err = pub.Publish(context.Background(), "missing-topic", "x")
	require.ErrorContains(t, err, "publish message")
}
