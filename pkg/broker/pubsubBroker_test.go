package broker

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/zoff-tech/go-notify/pkg/config"
)

func TestPubSubBroker_Publish(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	settings := &config.BrokerSettings{Type: "gcp-pubsub", ProjectID: "test-project", Topic: "notification-events"}

	admin, err := pubsub.NewClient(ctx, settings.ProjectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = admin.CreateTopic(ctx, settings.Topic)
	require.NoError(t, err)

	broker, err := NewPubSubClient(ctx, settings, option.WithGRPCConn(conn))
	require.NoError(t, err)

	event := testEvent()
	require.NoError(t, broker.Publish(ctx, event))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "completed", msgs[0].Attributes["event"])
	assert.Equal(t, "job-1", msgs[0].Attributes["job_id"])
	assert.Equal(t, "job-1", msgs[0].OrderingKey)

	var got JobEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, event.Status, got.Status)
}

func TestPubSubBroker_PublishToMissingTopic(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	broker, err := NewPubSubClient(ctx,
		&config.BrokerSettings{ProjectID: "test-project", Topic: "missing"},
		option.WithGRPCConn(conn))
	require.NoError(t, err)

	assert.Error(t, broker.Publish(ctx, testEvent()))
}
