package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrust/adoption-platform/pkg/logger"
)

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestBroadcastWakesOnlyThatChat(t *testing.T) {
	h := NewHub()
	a1, cancelA1 := h.Subscribe("a")
	defer cancelA1()
	a2, cancelA2 := h.Subscribe("a")
	defer cancelA2()
	b, cancelB := h.Subscribe("b")
	defer cancelB()

	h.ChatUpdated(context.Background(), "a")

	assert.True(t, closed(a1))
	assert.True(t, closed(a2))
	assert.False(t, closed(b))
	assert.Equal(t, 0, h.Waiting("a"))
	assert.Equal(t, 1, h.Waiting("b"))
}

func TestCancelRemovesWaiter(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("a")
	cancel()
	assert.Equal(t, 0, h.Waiting("a"))

	h.Broadcast("a")
	assert.False(t, closed(ch))

	// cancel after broadcast is harmless
	ch2, cancel2 := h.Subscribe("a")
	h.Broadcast("a")
	cancel2()
	assert.True(t, closed(ch2))
}

func TestRedisRelayForwardsAcrossHubs(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis relay tests")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := NewHub(), NewHub()
	pub, err := NewRedisRelay(ctx, addr, "test-adoption-chats", local, logger.NewNop())
	require.NoError(t, err)
	defer pub.Close()
	sub, err := NewRedisRelay(ctx, addr, "test-adoption-chats", remote, logger.NewNop())
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.Start(ctx))

	wake, stop := remote.Subscribe("chat-1")
	defer stop()

	pub.ChatUpdated(ctx, "chat-1")

	select {
	case <-wake:
	case <-time.After(5 * time.Second):
		t.Fatal("remote hub was not woken")
	}
}
