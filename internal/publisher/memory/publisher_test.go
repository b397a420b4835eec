package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsLifecycleEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "extractor-events", map[string]any{
		"event":     "domain.completed",
		"search_id": "s1",
	})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "extractor-events", map[string]any{
		"event":     "search.completed",
		"search_id": "s1",
	})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	require.Equal(t, []string{"domain.completed", "search.completed"}, pub.Events())

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "extractor-events", msgs[0].Topic)
	require.Equal(t, "domain.completed", msgs[0].Event)

	msgs[0].Topic = "modified"
	require.Equal(t, "extractor-events", pub.Messages()[0].Topic)
}

func TestPublisherHandlesNonMapPayloadAndReset(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "extractor-events", "raw string")
	require.NoError(t, err)
	require.Equal(t, []string{""}, pub.Events())

	pub.Reset()
	require.Empty(t, pub.Messages())
}
