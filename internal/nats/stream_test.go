package nats

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrust/adoption-platform/internal/model"
	"github.com/pawtrust/adoption-platform/pkg/logger"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "adopt.req-1.adoption.approved", EventSubject("req-1", model.EventAdoptionApproved))
	assert.Equal(t, "adopt.req-1.chat.mutual_acceptance", EventSubject("req-1", model.EventMutualAcceptance))
	assert.Equal(t, "adopt.req-1.>", RequestFilter("req-1"))
}

func newTestStreams(t *testing.T) *StreamManager {
	t.Helper()
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("set TEST_NATS_URL to run JetStream tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := Connect(ctx, Config{URL: url}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.NoError(t, client.Ping(ctx))

	streams := NewStreamManager(client)
	require.NoError(t, streams.EnsureStream(ctx))
	return streams
}

func testEvent(requestID string, eventType model.EventType) *model.NegotiationEvent {
	return &model.NegotiationEvent{
		ID:                uuid.Must(uuid.NewV7()).String(),
		Type:              eventType,
		AdoptionRequestID: requestID,
		PetID:             "pet-1",
		CreatedAt:         time.Now().UTC(),
	}
}

func TestPublishAndReplayHistory(t *testing.T) {
	streams := newTestStreams(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// the stream denies purges, so every run uses fresh request ids
	requestID, otherID := uuid.NewString(), uuid.NewString()
	published := []*model.NegotiationEvent{
		testEvent(requestID, model.EventAdoptionRequested),
		testEvent(requestID, model.EventChatCreated),
		testEvent(requestID, model.EventAdoptionApproved),
	}
	var seqs []uint64
	for i, e := range published {
		seq, err := streams.PublishEvent(ctx, e)
		require.NoError(t, err)
		seqs = append(seqs, seq)

		if i == 1 {
			_, err := streams.PublishEvent(ctx, testEvent(otherID, model.EventAdoptionRequested))
			require.NoError(t, err)
		}
	}

	// a retried publish with the same event id is dropped by the server
	dup, err := streams.PublishEvent(ctx, published[0])
	require.NoError(t, err)
	assert.Equal(t, seqs[0], dup)

	history, err := streams.History(ctx, requestID, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, e := range history {
		assert.Equal(t, published[i].ID, e.ID)
		assert.Equal(t, published[i].Type, e.Type)
		assert.Equal(t, seqs[i], e.Sequence)
	}
	assert.Less(t, history[0].Sequence, history[1].Sequence)
	assert.Less(t, history[1].Sequence, history[2].Sequence)

	limited, err := streams.History(ctx, requestID, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, published[0].ID, limited[0].ID)
	assert.Equal(t, published[1].ID, limited[1].ID)

	empty, err := streams.History(ctx, uuid.NewString(), 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
