package redisstream

import (
	"context"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// GroupSubscriber is a consumer-group subscriber that owns its Redis client.
// Close shuts down the subscriber and then the client.
type GroupSubscriber struct {
	message.Subscriber
	client    *redis.Client
	closeOnce sync.Once
	closeErr  error
}

func (s *GroupSubscriber) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		err := s.Subscriber.Close()
		if cerr := s.client.Close(); err == nil {
			err = cerr
		}
		s.closeErr = err
	})
	return s.closeErr
}

// BuildGroupSubscriber returns a Redis Streams subscriber bound to the given
// consumer group/name.
func BuildGroupSubscriber(addr, group, consumer string) (*GroupSubscriber, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, NewWatermillLogger(log.Logger))
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redisstream: new subscriber")
	}
	return &GroupSubscriber{Subscriber: sub, client: client}, nil
}

// EnsureGroupAtTail creates the consumer group for a stream at the tail ($)
// if it doesn't exist, so a new watcher does not replay old events.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// BUSYGROUP: group already exists
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "redisstream: create group %s on %s", group, stream)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}

// Watch consumes log events from topic until ctx is done, calling fn for each.
// Messages that fail to decode are acked and skipped.
func Watch(ctx context.Context, sub message.Subscriber, topic string, fn func(ev LogEventMessage) error) error {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "redisstream: subscribe %s", topic)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			ev, err := DecodeLogEvent(msg)
			if err != nil {
				log.Warn().Err(err).Msg("skipping undecodable log event")
				msg.Ack()
				continue
			}
			if err := fn(LogEventMessage{ID: msg.UUID, Event: ev}); err != nil {
				msg.Nack()
				return err
			}
			msg.Ack()
		}
	}
}
