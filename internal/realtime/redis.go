package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pawtrust/adoption-platform/pkg/logger"
)

// RedisRelay fans chat change notifications out to every replica through a
// Redis pub/sub channel. Each replica forwards received ids to its own Hub.
type RedisRelay struct {
	hub     *Hub
	rdb     *goredis.Client
	channel string
	logger  *logger.Logger
}

// NewRedisRelay connects to Redis and verifies the connection.
func NewRedisRelay(ctx context.Context, addr, channel string, hub *Hub, log *logger.Logger) (*RedisRelay, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channel == "" {
		channel = "adoption-chats"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisRelay{
		hub:     hub,
		rdb:     rdb,
		channel: channel,
		logger:  log.Named("redis_relay"),
	}, nil
}

// ChatUpdated wakes local readers and publishes the id for other replicas.
func (r *RedisRelay) ChatUpdated(ctx context.Context, chatID string) {
	r.hub.Broadcast(chatID)
	if err := r.rdb.Publish(ctx, r.channel, chatID).Err(); err != nil {
		r.logger.Warn("failed to publish chat update", zap.String("chat_id", chatID), zap.Error(err))
	}
}

// Start subscribes to the channel and forwards notifications until ctx ends.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)

	// ensures the subscription is live before returning
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				r.hub.Broadcast(m.Payload)
			}
		}
	}()
	return nil
}

// Ping checks the Redis connection.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close releases the Redis client.
func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}
