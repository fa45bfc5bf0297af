package redisstream

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/threadlog/pkg/persistence/chatstore"
)

func newChannel(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func TestEventPublisher_PublishesJSON(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := newChannel(t)
	msgs, err := ch.Subscribe(ctx, DefaultTopic)
	require.NoError(t, err)

	p := NewEventPublisher(ch, "")
	require.Equal(t, DefaultTopic, p.Topic())
	require.NoError(t, p.PublishLogEvent(ctx, chatstore.LogEvent{
		Type:   chatstore.LogEventAppended,
		Key:    "lab11:thread_1",
		Count:  2,
		Length: 2,
	}))

	select {
	case msg := <-msgs:
		msg.Ack()
		require.Equal(t, "appended", msg.Metadata.Get(metadataEventType))
		require.Equal(t, "lab11:thread_1", msg.Metadata.Get(metadataKey))
		ev, err := DecodeLogEvent(msg)
		require.NoError(t, err)
		require.Equal(t, chatstore.LogEventAppended, ev.Type)
		require.Equal(t, 2, ev.Count)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestEventPublisher_WiredIntoStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := newChannel(t)
	msgs, err := ch.Subscribe(ctx, "events")
	require.NoError(t, err)

	s, err := chatstore.NewStore(chatstore.NewInMemoryListBackend(), "",
		chatstore.WithMaxMessages(1),
		chatstore.WithEventSink(NewEventPublisher(ch, "events")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Append(ctx,
		chatstore.NewTextMessage(chatstore.RoleUser, "a"),
		chatstore.NewTextMessage(chatstore.RoleAssistant, "b")))

	var got []chatstore.LogEventType
	for len(got) < 2 {
		select {
		case msg := <-msgs:
			msg.Ack()
			ev, err := DecodeLogEvent(msg)
			require.NoError(t, err)
			require.Equal(t, s.Key(), ev.Key)
			require.NotContains(t, string(msg.Payload), `"a"`)
			got = append(got, ev.Type)
		case <-ctx.Done():
			t.Fatal("timed out waiting for events")
		}
	}
	require.ElementsMatch(t, []chatstore.LogEventType{chatstore.LogEventAppended, chatstore.LogEventTrimmed}, got)
}

func TestWatch_SkipsUndecodableAndStopsOnError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Persistent replays earlier messages to the subscriber Watch creates.
	ch := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ch.Close() })

	require.NoError(t, ch.Publish("w", message.NewMessage("broken", []byte("{broken"))))
	p := NewEventPublisher(ch, "w")
	require.NoError(t, p.PublishLogEvent(ctx, chatstore.LogEvent{Type: chatstore.LogEventCleared, Key: "k"}))

	errStop := errors.New("stop")
	var seen []LogEventMessage
	err := Watch(ctx, ch, "w", func(m LogEventMessage) error {
		seen = append(seen, m)
		return errStop
	})
	require.ErrorIs(t, err, errStop)
	require.Len(t, seen, 1)
	require.Equal(t, chatstore.LogEventCleared, seen[0].Event.Type)
}

func TestBuildEventPublisher_Disabled(t *testing.T) {
	p, err := BuildEventPublisher(context.Background(), Settings{})
	require.NoError(t, err)
	require.Nil(t, p)
	require.NoError(t, p.Close())
}

func TestNewWatermillLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWatermillLogger(zerolog.New(&buf)).With(watermill.LogFields{"topic": "t"})
	l.Info("hello", watermill.LogFields{"n": 1})
	require.Contains(t, buf.String(), `"component":"watermill"`)
	require.Contains(t, buf.String(), `"topic":"t"`)
	require.Contains(t, buf.String(), `"message":"hello"`)
}
