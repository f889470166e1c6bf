package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id1, err := pub.Publish(ctx, "analyze-one", map[string]string{"resultId": "r1"})
	require.NoError(t, err)
	require.Equal(t, "analyze-one-1", id1)
	id2, err := pub.Publish(ctx, "analyze-batch", "payload")
	require.NoError(t, err)
	require.Equal(t, "analyze-batch-1", id2)
	id3, err := pub.Publish(ctx, "analyze-one", map[string]string{"resultId": "r2"})
	require.NoError(t, err)
	require.Equal(t, "analyze-one-2", id3)

	msgs := pub.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "analyze-one", msgs[0].Topic)
	require.Equal(t, "analyze-batch", msgs[1].Topic)
	require.Equal(t, []any{"payload"}, pub.ByTopic("analyze-batch"))

	msgs[0].Topic = "modified"
	require.Equal(t, "analyze-one", pub.Messages()[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	outage := errors.New("broker down")
	pub.FailWith(outage)

	_, err := pub.Publish(context.Background(), "analyze-one", "x")
	require.ErrorIs(t, err, outage)
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	id, err := pub.Publish(context.Background(), "analyze-one", "x")
	require.NoError(t, err)
	require.Equal(t, "analyze-one-1", id)
}
