package redisstream

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/threadlog/pkg/persistence/chatstore"
)

const (
	metadataEventType = "event_type"
	metadataKey       = "conversation_key"
)

// EventPublisher forwards conversation log events to a watermill publisher.
// It implements chatstore.LogEventSink.
type EventPublisher struct {
	pub    message.Publisher
	topic  string
	client *redis.Client
}

var _ chatstore.LogEventSink = &EventPublisher{}

// NewEventPublisher wraps an existing publisher. Close closes pub.
func NewEventPublisher(pub message.Publisher, topic string) *EventPublisher {
	if strings.TrimSpace(topic) == "" {
		topic = DefaultTopic
	}
	return &EventPublisher{pub: pub, topic: topic}
}

// BuildEventPublisher constructs a Redis Streams publisher when enabled.
// It returns nil, nil when the stream is disabled.
func BuildEventPublisher(ctx context.Context, s Settings) (*EventPublisher, error) {
	if !s.Enabled {
		return nil, nil
	}
	if strings.TrimSpace(s.Addr) == "" {
		return nil, errors.New("redisstream: addr is empty")
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redisstream: ping %s", s.Addr)
	}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, NewWatermillLogger(log.Logger))
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redisstream: new publisher")
	}
	ep := NewEventPublisher(pub, s.topic())
	ep.client = client
	return ep, nil
}

func (p *EventPublisher) Topic() string {
	if p == nil {
		return ""
	}
	return p.topic
}

// PublishLogEvent sends ev as a JSON watermill message.
func (p *EventPublisher) PublishLogEvent(ctx context.Context, ev chatstore.LogEvent) error {
	if p == nil || p.pub == nil {
		return errors.New("redisstream: publisher is nil")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "redisstream: marshal log event")
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(metadataEventType, string(ev.Type))
	msg.Metadata.Set(metadataKey, ev.Key)
	msg.SetContext(ctx)
	if err := p.pub.Publish(p.topic, msg); err != nil {
		return errors.Wrapf(err, "redisstream: publish %s", p.topic)
	}
	return nil
}

func (p *EventPublisher) Close() error {
	if p == nil {
		return nil
	}
	var first error
	if p.pub != nil {
		first = p.pub.Close()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// DecodeLogEvent parses the payload of a message produced by PublishLogEvent.
func DecodeLogEvent(msg *message.Message) (chatstore.LogEvent, error) {
	var ev chatstore.LogEvent
	if msg == nil {
		return ev, errors.New("redisstream: nil message")
	}
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, errors.Wrapf(err, "redisstream: decode message %s", msg.UUID)
	}
	return ev, nil
}

// LogEventMessage pairs a decoded event with its message id.
type LogEventMessage struct {
	ID    string
	Event chatstore.LogEvent
}
