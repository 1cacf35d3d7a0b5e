package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix namespaces per-device command channels
const ChannelPrefix = "devicelock:commands:"

// Channel returns the pub/sub channel for deviceID
func Channel(deviceID string) string {
	return ChannelPrefix + deviceID
}

// NewRedisClient connects to addr and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Publish notifies a device that commandID is waiting
func Publish(ctx context.Context, client *redis.Client, deviceID, commandID string) error {
	if err := client.Publish(ctx, Channel(deviceID), commandID).Err(); err != nil {
		return fmt.Errorf("failed to publish command notification: %w", err)
	}
	return nil
}

// Handler is invoked with the command id of every notification
type Handler func(ctx context.Context, commandID string)

// Subscription delivers command notifications for one device until closed
type Subscription struct {
	pubsub    *redis.PubSub
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// Subscribe listens on the device's channel. The handler runs on a single
// goroutine so commands execute in publish order.
func Subscribe(ctx context.Context, client *redis.Client, deviceID string, handler Handler, logger *slog.Logger) (*Subscription, error) {
	pubsub := client.Subscribe(ctx, Channel(deviceID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to command channel: %w", err)
	}

	s := &Subscription{
		pubsub: pubsub,
		done:   make(chan struct{}),
		logger: logger,
	}

	loopCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(s.done)
		for msg := range pubsub.Channel() {
			handler(loopCtx, msg.Payload)
		}
	}()

	logger.InfoContext(ctx, "subscribed to remote commands", slog.String("device_id", deviceID))
	return s, nil
}

// Close stops delivery and waits for the handler to return
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
		<-s.done
		s.logger.Info("remote command subscription closed")
	})
	return err
}
