package cachesync

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisBus carries mailbox messages between processes over a Redis channel.
type RedisBus struct {
	rc      *redis.Client
	channel string
	log     *log.Logger
	backoff time.Duration
}

func NewRedisBus(rc *redis.Client, channel string, logger *log.Logger) *RedisBus {
	if rc == nil {
		panic("redis client is not initialized")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	return &RedisBus{rc: rc, channel: channel, log: logger, backoff: time.Second}
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rc.Publish(ctx, b.channel, data).Err()
}

// Subscribe forwards every valid message on the channel to deliver until ctx
// is done, resubscribing when the pub/sub connection drops.
func (b *RedisBus) Subscribe(ctx context.Context, deliver func(Message) bool) {
	for {
		sub := b.rc.Subscribe(ctx, b.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok {
					break recv
				}
				var msg Message
				if err := sonic.UnmarshalString(m.Payload, &msg); err != nil {
					b.log.WithError(err).Error("unable to parse cache message")
					continue
				}
				if err := msg.Validate(); err != nil {
					b.log.WithError(err).WithField("type", msg.Type).Warn("invalid cache message")
					continue
				}
				if !deliver(msg) {
					b.log.WithField("type", msg.Type).Warn("mailbox full, cache message dropped")
				}
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		b.log.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.backoff):
		}
	}
}
