package chatstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestStore_RoundTrip(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, bc.endpoint(t), WithKeyPrefix("lab11"))

			want := []Message{
				NewTextMessage(RoleSystem, "be brief"),
				NewTextMessage(RoleUser, "I live in Lisbon"),
				{
					Role: RoleAssistant,
					Contents: []ContentPart{
						FunctionCallPart("call-1", "get_weather", `{"city":"Lisbon"}`),
					},
				},
				{
					Role:     RoleTool,
					Contents: []ContentPart{FunctionResultPart("call-1", `{"temp":21}`)},
				},
				{
					Role:       RoleAssistant,
					AuthorName: "TravelPlanner",
					MessageID:  "m-5",
					Contents: []ContentPart{
						TextPart("It is sunny."),
						URIPart("https://example.com/map.png", "image/png"),
					},
				},
			}
			require.NoError(t, s.Append(ctx, want[:2]...))
			require.NoError(t, s.Append(ctx, want[2:]...))

			got, err := s.List(ctx)
			require.NoError(t, err)
			requireSameMessages(t, want, got)
			for _, m := range got {
				require.False(t, m.CreatedAt.IsZero())
			}
		})
	}
}

func TestStore_RetentionKeepsNewest(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, bc.endpoint(t), WithMaxMessages(3))

			for i := 0; i < 7; i++ {
				require.NoError(t, s.Append(ctx, NewTextMessage(RoleUser, fmt.Sprintf("m%d", i))))
			}
			got, err := s.List(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"user:m4", "user:m5", "user:m6"}, texts(got))

			// A batch larger than the limit keeps only its own tail.
			batch := make([]Message, 0, 5)
			for i := 7; i < 12; i++ {
				batch = append(batch, NewTextMessage(RoleAssistant, fmt.Sprintf("m%d", i)))
			}
			require.NoError(t, s.Append(ctx, batch...))
			got, err = s.List(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"assistant:m9", "assistant:m10", "assistant:m11"}, texts(got))
		})
	}
}

func TestStore_RetentionScenarioTwoMessages(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, bc.endpoint(t), WithMaxMessages(2))

			require.NoError(t, s.Append(ctx, NewTextMessage(RoleUser, "hello")))
			require.NoError(t, s.Append(ctx, NewTextMessage(RoleAssistant, "hi there")))
			require.NoError(t, s.Append(ctx, NewTextMessage(RoleUser, "how are you")))

			got, err := s.List(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"assistant:hi there", "user:how are you"}, texts(got))
		})
	}
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, bc.endpoint(t))

			got, err := s.List(ctx)
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Empty(t, got)

			require.NoError(t, s.Clear(ctx))
			require.NoError(t, s.Append(ctx, NewTextMessage(RoleUser, "hello")))
			require.NoError(t, s.Clear(ctx))
			require.NoError(t, s.Clear(ctx))

			got, err = s.List(ctx)
			require.NoError(t, err)
			require.Empty(t, got)
		})
	}
}

func TestStore_ReconnectWithoutDataLoss(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			endpoint := bc.endpoint(t)
			s, err := Open(ctx, endpoint, WithKeyPrefix("lab11"), WithMaxMessages(200))
			require.NoError(t, err)

			msgs := []Message{
				NewTextMessage(RoleUser, "A"),
				NewTextMessage(RoleAssistant, "B"),
				NewTextMessage(RoleUser, "C"),
			}
			for _, m := range msgs {
				require.NoError(t, s.Append(ctx, m))
			}
			before, err := s.List(ctx)
			require.NoError(t, err)

			state := s.CaptureState()
			require.NoError(t, s.Close())

			r, err := Restore(ctx, state)
			require.NoError(t, err)
			t.Cleanup(func() { _ = r.Close() })

			require.Equal(t, s.Key(), r.Key())
			require.Equal(t, state, r.CaptureState())
			after, err := r.List(ctx)
			require.NoError(t, err)
			requireSameMessages(t, before, after)
			require.Equal(t, []string{"user:A", "assistant:B", "user:C"}, texts(after))

			require.NoError(t, r.Append(ctx, NewTextMessage(RoleAssistant, "D")))
			after, err = r.List(ctx)
			require.NoError(t, err)
			require.Len(t, after, 4)
		})
	}
}

func TestStore_ConcurrentAppendsAreAllKept(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, bc.endpoint(t))

			var eg errgroup.Group
			for i := 0; i < 20; i++ {
				i := i
				eg.Go(func() error {
					return s.Append(ctx, NewTextMessage(RoleUser, fmt.Sprintf("m%02d", i)))
				})
			}
			require.NoError(t, eg.Wait())

			got, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, got, 20)
			seen := map[string]bool{}
			for _, m := range got {
				seen[m.Text()] = true
			}
			require.Len(t, seen, 20)
		})
	}
}

func TestStore_CorruptedRecordFailsList(t *testing.T) {
	for _, bc := range backendCases() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			endpoint := bc.endpoint(t)
			s := openStore(t, endpoint)
			require.NoError(t, s.Append(ctx, NewTextMessage(RoleUser, "fine")))

			raw, err := OpenListBackend(ctx, endpoint)
			require.NoError(t, err)
			t.Cleanup(func() { _ = raw.Close() })
			_, err = raw.Push(ctx, s.Key(), []byte("{this is not a record"))
			require.NoError(t, err)

			_, err = s.List(ctx)
			require.ErrorIs(t, err, ErrCorruptedLog)
			require.ErrorIs(t, err, ErrMalformedRecord)
			require.True(t, IsRetryable(err))
		})
	}
}

func TestStore_OperationsAfterClose(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memoryEndpoint(t))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Append(ctx, NewTextMessage(RoleUser, "late")), ErrStoreClosed)
	_, err = s.List(ctx)
	require.ErrorIs(t, err, ErrStoreClosed)
	require.ErrorIs(t, s.Clear(ctx), ErrStoreClosed)
	require.ErrorIs(t, s.Ping(ctx), ErrStoreClosed)
	require.ErrorIs(t, s.Close(), ErrStoreClosed)
	require.False(t, IsRetryable(s.Close()))
}

func TestStore_CloseWithoutIO(t *testing.T) {
	b := newFaultyBackend()
	s, err := NewStore(b, "")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Equal(t, 1, b.closeCalls)
}

func TestStore_EmptyAppendIsNoop(t *testing.T) {
	ctx := context.Background()
	b := NewInMemoryListBackend()
	s, err := NewStore(b, "", WithKeyPrefix("p"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Append(ctx))
	keys, err := b.ScanKeys(ctx, "p")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestStore_EncodingFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, memoryEndpoint(t))

	err := s.Append(ctx, NewTextMessage(RoleUser, "ok"), NewTextMessage(Role("narrator"), "bad"))
	require.ErrorIs(t, err, ErrMalformedRecord)

	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStore_InvalidUTF8WritesNothing(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, memoryEndpoint(t))

	err := s.Append(ctx, NewTextMessage(RoleUser, "fine"), NewTextMessage(RoleUser, "caf\xe9"))
	require.ErrorIs(t, err, ErrMalformedRecord)
	require.False(t, IsRetryable(err))

	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStore_CanceledAppendIsNotApplied(t *testing.T) {
	for _, bc := range backendCases()[:2] {
		t.Run(bc.name, func(t *testing.T) {
			s := openStore(t, bc.endpoint(t))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := s.Append(ctx, NewTextMessage(RoleUser, "never"))
			require.Error(t, err)
			require.ErrorIs(t, err, context.Canceled)
			require.ErrorIs(t, err, ErrBackingServiceUnavailable)

			got, err := s.List(context.Background())
			require.NoError(t, err)
			require.Empty(t, got)
		})
	}
}

func TestStore_TrimFailureReportsPendingTrim(t *testing.T) {
	ctx := context.Background()
	b := newFaultyBackend()
	s, err := NewStore(b, "", WithMaxMessages(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Append(ctx, NewTextMessage(RoleUser, "a"), NewTextMessage(RoleUser, "b")))

	b.trimErr = errInjected
	err = s.Append(ctx, NewTextMessage(RoleUser, "c"))
	require.ErrorIs(t, err, ErrTrimPending)
	require.False(t, IsRetryable(err))

	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"user:a", "user:b", "user:c"}, texts(got))

	b.trimErr = nil
	require.NoError(t, s.Append(ctx, NewTextMessage(RoleUser, "d")))
	got, err = s.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"user:c", "user:d"}, texts(got))
}

func TestStore_InvalidOptionsReleaseBackend(t *testing.T) {
	b := newFaultyBackend()
	_, err := NewStore(b, "", WithMaxMessages(0))
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Equal(t, 1, b.closeCalls)

	b = newFaultyBackend()
	_, err = NewStore(b, "", WithKeyPrefix("  "))
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Equal(t, 1, b.closeCalls)
}

func TestStore_PrefixWithSeparatorIsRejected(t *testing.T) {
	ctx := context.Background()
	endpoint := memoryEndpoint(t)

	_, err := Open(ctx, endpoint, WithKeyPrefix("app:team"), WithThreadID("t1"))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Restore(ctx, StoreState{ThreadID: "t1", KeyPrefix: "app:team", ConnectionEndpoint: endpoint})
	require.ErrorIs(t, err, ErrInvalidConfig)

	// The thread id may carry the separator: the prefix still ends at the first one.
	s := openStore(t, endpoint, WithKeyPrefix("app"), WithThreadID("team:t1"))
	require.Equal(t, "app:team:t1", s.Key())
	require.NoError(t, s.Append(ctx, NewTextMessage(RoleUser, "from app")))

	other := openStore(t, endpoint, WithKeyPrefix("app_team"), WithThreadID("t1"))
	got, err := other.List(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStore_MissingEndpoint(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, "  ")
	require.ErrorIs(t, err, ErrMissingConnectionInfo)

	_, err = NewStore(nil, "")
	require.ErrorIs(t, err, ErrMissingConnectionInfo)

	_, err = Factory{KeyPrefix: "lab11"}.NewStore(ctx)
	require.ErrorIs(t, err, ErrMissingConnectionInfo)
	require.False(t, IsRetryable(err))
}

func TestStore_KeyDerivation(t *testing.T) {
	s := openStore(t, memoryEndpoint(t), WithKeyPrefix("lab11"), WithThreadID("thread_abc"))
	require.Equal(t, "lab11:thread_abc", s.Key())

	a := openStore(t, memoryEndpoint(t))
	b := openStore(t, memoryEndpoint(t))
	require.NotEqual(t, a.ThreadID(), b.ThreadID())
	require.Regexp(t, `^chat_messages:thread_[0-9a-f-]{36}$`, a.Key())
}

func TestStore_PublishesEventsWithoutContent(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	fixed := time.UnixMilli(1700000000000)
	s := openStore(t, memoryEndpoint(t), WithMaxMessages(1), WithEventSink(sink), withClock(func() time.Time { return fixed }))

	require.NoError(t, s.Append(ctx, NewTextMessage(RoleUser, "secret"), NewTextMessage(RoleUser, "secret 2")))
	require.NoError(t, s.Clear(ctx))

	events := sink.Events()
	require.Len(t, events, 3)
	require.Equal(t, LogEventAppended, events[0].Type)
	require.Equal(t, 2, events[0].Count)
	require.Equal(t, int64(2), events[0].Length)
	require.Equal(t, LogEventTrimmed, events[1].Type)
	require.Equal(t, 1, events[1].Count)
	require.Equal(t, LogEventCleared, events[2].Type)
	for _, ev := range events {
		require.Equal(t, s.Key(), ev.Key)
		require.Equal(t, s.ThreadID(), ev.ThreadID)
		require.Equal(t, fixed.UnixMilli(), ev.AtMs)
	}

	sink.err = errInjected
	require.NoError(t, s.Append(ctx, NewTextMessage(RoleUser, "still stored")))
}
