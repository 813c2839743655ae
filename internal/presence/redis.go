// Package presence bridges user online/offline transitions between relay
// instances over Redis pub/sub. The contract stays the one the local
// broadcaster gives: eventual, unordered, best-effort delivery.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
)

const channel = "globalink:presence"

// statusEvent is the pub/sub payload. Origin identifies the publishing
// instance so a bridge can ignore its own messages.
type statusEvent struct {
	Origin   string `json:"origin"`
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// Deliverer receives remote transitions; the signaling broadcaster's local
// fan-out satisfies it.
type Deliverer interface {
	Deliver(userID string, isOnline bool)
}

// Bridge publishes local presence transitions to Redis and replays remote
// ones into the local broadcaster.
type Bridge struct {
	rdb      *redis.Client
	instance string
	log      *logrus.Logger
}

// NewBridge connects a Redis client and verifies connectivity.
func NewBridge(ctx context.Context, addr string, log *logrus.Logger) (*Bridge, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Bridge{rdb: rdb, instance: ksuid.New().String(), log: log}, nil
}

// Publish sends a transition to the shared channel. Best effort: a publish
// failure is logged, never propagated into call handling.
func (b *Bridge) Publish(ctx context.Context, userID string, isOnline bool) {
	data, err := json.Marshal(statusEvent{Origin: b.instance, UserID: userID, IsOnline: isOnline})
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		b.log.WithFields(logrus.Fields{"user_id": userID, "error": err}).
			Warn("presence publish failed")
	}
}

// Run subscribes and replays remote transitions into dst until ctx ends.
func (b *Bridge) Run(ctx context.Context, dst Deliverer) {
	sub := b.rdb.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev statusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.WithField("error", err).Warn("dropping malformed presence event")
				continue
			}
			if ev.Origin == b.instance || ev.UserID == "" {
				continue
			}
			dst.Deliver(ev.UserID, ev.IsOnline)
		}
	}
}

// Close releases the Redis client.
func (b *Bridge) Close() error { return b.rdb.Close() }
