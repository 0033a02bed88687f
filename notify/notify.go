// Package notify delivers outbox notifications to the platform's
// notification fan-out.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// Notification is the payload handed to a Dispatcher.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Dispatcher delivers one notification. Implementations must be safe to call
// again with the same notification ID.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, n Notification) error

func (f DispatcherFunc) Dispatch(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// RedisDispatcher publishes each notification as JSON on
// "<prefix>:<user_id>", where the realtime gateway fans it out.
type RedisDispatcher struct {
	client *redis.Client
	prefix string
}

func NewRedisDispatcher(ctx context.Context, redisURL, prefix string) (*RedisDispatcher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if prefix == "" {
		prefix = "notifications"
	}
	return &RedisDispatcher{client: client, prefix: prefix}, nil
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return d.client.Publish(ctx, d.prefix+":"+n.UserID, payload).Err()
}

func (d *RedisDispatcher) Close() error {
	return d.client.Close()
}

// LogDispatcher only logs. Used when no REDIS_URL is configured.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, n Notification) error {
	log.WithFields(log.Fields{
		"notification_id": n.ID,
		"user_id":         n.UserID,
		"type":            n.Type,
	}).Infof("🔔 %s: %s", n.Title, n.Message)
	return nil
}
