package chatstore

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// KeySeparator joins the key prefix and the thread id.
	KeySeparator = ":"
	// DefaultKeyPrefix namespaces keys when the caller does not pick a prefix.
	DefaultKeyPrefix = "chat_messages"
)

// ConversationLog is the persistence contract for one thread's history.
//
// A log is bound to exactly one key for its whole life. Close is terminal:
// every call after it, Close included, fails with ErrStoreClosed.
type ConversationLog interface {
	// Append adds messages to the tail, preserving their order.
	Append(ctx context.Context, msgs ...Message) error
	// List returns the whole history, oldest first.
	List(ctx context.Context) ([]Message, error)
	// Clear deletes the history. Clearing an empty log succeeds.
	Clear(ctx context.Context) error
	// Close releases the backing connection.
	Close() error
	// Key returns the backing-service key of this log.
	Key() string
	// CaptureState returns the metadata needed to reattach to this log.
	CaptureState() StoreState
}

// NewThreadID returns a fresh, globally unique thread identifier.
func NewThreadID() string {
	return "thread_" + uuid.NewString()
}

// ConversationKey derives the backing-service key for a thread.
func ConversationKey(keyPrefix, threadID string) string {
	return keyPrefix + KeySeparator + threadID
}

type storeOptions struct {
	threadID    string
	keyPrefix   string
	maxMessages *int
	sink        LogEventSink
	now         func() time.Time
}

// StoreOption configures a Store at construction.
type StoreOption func(*storeOptions)

// WithThreadID binds the store to an existing thread. Without it a fresh id is generated.
func WithThreadID(threadID string) StoreOption {
	return func(o *storeOptions) { o.threadID = threadID }
}

func WithKeyPrefix(prefix string) StoreOption {
	return func(o *storeOptions) { o.keyPrefix = prefix }
}

// WithMaxMessages sets the retention limit. n must be positive.
func WithMaxMessages(n int) StoreOption {
	return func(o *storeOptions) { o.maxMessages = &n }
}

// WithRetention sets the retention limit from an optional value; nil means unlimited.
func WithRetention(n *int) StoreOption {
	return func(o *storeOptions) {
		if n == nil {
			o.maxMessages = nil
			return
		}
		v := *n
		o.maxMessages = &v
	}
}

// WithEventSink receives append/trim/clear notifications.
func WithEventSink(sink LogEventSink) StoreOption {
	return func(o *storeOptions) { o.sink = sink }
}

func withClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) { o.now = now }
}

func buildStoreOptions(opts []StoreOption) (storeOptions, error) {
	o := storeOptions{keyPrefix: DefaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.threadID = strings.TrimSpace(o.threadID)
	o.keyPrefix = strings.TrimSpace(o.keyPrefix)
	if o.keyPrefix == "" {
		return o, errors.Wrap(ErrInvalidConfig, "key prefix is empty")
	}
	// The first separator in a key ends the prefix, so (a:b, t) and (a, b:t)
	// would share a key.
	if strings.Contains(o.keyPrefix, KeySeparator) {
		return o, errors.Wrapf(ErrInvalidConfig, "key prefix %q contains %q", o.keyPrefix, KeySeparator)
	}
	if o.maxMessages != nil && *o.maxMessages <= 0 {
		return o, errors.Wrapf(ErrInvalidConfig, "max messages must be positive, got %d", *o.maxMessages)
	}
	if o.threadID == "" {
		o.threadID = NewThreadID()
	}
	return o, nil
}

// Store is the ConversationLog engine over a ListBackend.
//
// Store does no in-process locking: ordering is decided by the backing
// service. Two processes appending to the same key interleave in arrival
// order, and the log may briefly exceed the retention limit until one of them
// trims.
type Store struct {
	backend     ListBackend
	endpoint    string
	threadID    string
	keyPrefix   string
	key         string
	maxMessages *int
	sink        LogEventSink
	now         func() time.Time

	mu     sync.Mutex
	closed bool
}

var _ ConversationLog = &Store{}

// NewStore binds backend to a conversation key. The store takes ownership of
// backend: it is closed here if the options are invalid, and by Store.Close
// otherwise. endpoint is recorded for CaptureState and may be empty for
// injected backends, in which case restoring needs an endpoint override.
func NewStore(backend ListBackend, endpoint string, opts ...StoreOption) (*Store, error) {
	if backend == nil {
		return nil, errors.Wrap(ErrMissingConnectionInfo, "conversation log: nil backend")
	}
	o, err := buildStoreOptions(opts)
	if err != nil {
		_ = backend.Close()
		return nil, errors.Wrap(err, "conversation log")
	}
	s := &Store{
		backend:     backend,
		endpoint:    strings.TrimSpace(endpoint),
		threadID:    o.threadID,
		keyPrefix:   o.keyPrefix,
		key:         ConversationKey(o.keyPrefix, o.threadID),
		maxMessages: o.maxMessages,
		sink:        o.sink,
		now:         o.now,
	}
	log.Debug().Str("key", s.key).Msg("conversation log bound")
	return s, nil
}

// Open resolves the backend for endpoint and binds a store to it. Options are
// validated and the endpoint is checked before any connection is made.
func Open(ctx context.Context, endpoint string, opts ...StoreOption) (*Store, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.Wrap(ErrMissingConnectionInfo, "conversation log: no endpoint")
	}
	if _, err := buildStoreOptions(opts); err != nil {
		return nil, errors.Wrap(err, "conversation log")
	}
	backend, err := OpenListBackend(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return NewStore(backend, endpoint, opts...)
}

func (s *Store) Key() string       { return s.key }
func (s *Store) ThreadID() string  { return s.threadID }
func (s *Store) KeyPrefix() string { return s.keyPrefix }
func (s *Store) Endpoint() string  { return s.endpoint }

// MaxMessages returns the retention limit, or nil when unlimited.
func (s *Store) MaxMessages() *int {
	if s.maxMessages == nil {
		return nil
	}
	v := *s.maxMessages
	return &v
}

func (s *Store) checkOpen() error {
	if s == nil {
		return errors.New("conversation log: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Wrapf(ErrStoreClosed, "conversation log %s", s.key)
	}
	return nil
}

// Append encodes every message before writing anything, then pushes them in
// one atomic call. When a retention limit is set and the list grew past it,
// the oldest entries are trimmed in a following call.
func (s *Store) Append(ctx context.Context, msgs ...Message) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	now := s.now()
	items := make([][]byte, len(msgs))
	for i, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		b, err := EncodeMessage(m)
		if err != nil {
			return errors.Wrapf(err, "conversation log: append message %d", i)
		}
		items[i] = b
	}

	length, err := s.backend.Push(ctx, s.key, items...)
	if err != nil {
		return errors.Wrap(err, "conversation log: append")
	}
	log.Debug().Str("key", s.key).Int("count", len(items)).Int64("length", length).Msg("appended messages")
	s.emit(ctx, LogEvent{Type: LogEventAppended, Count: len(items), Length: length})

	if s.maxMessages == nil || length <= int64(*s.maxMessages) {
		return nil
	}
	limit := int64(*s.maxMessages)
	if err := s.backend.Trim(ctx, s.key, -limit, -1); err != nil {
		log.Warn().Err(err).Str("key", s.key).Msg("retention trim failed")
		return withKind(ErrTrimPending, "conversation log: append", err)
	}
	log.Debug().Str("key", s.key).Int64("dropped", length-limit).Msg("trimmed conversation log")
	s.emit(ctx, LogEvent{Type: LogEventTrimmed, Count: int(length - limit), Length: limit})
	return nil
}

// List reads the full history. A record that cannot be decoded fails the
// whole read with ErrCorruptedLog.
func (s *Store) List(ctx context.Context) ([]Message, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	items, err := s.backend.Range(ctx, s.key, 0, -1)
	if err != nil {
		return nil, errors.Wrap(err, "conversation log: list")
	}
	out := make([]Message, 0, len(items))
	for i, item := range items {
		m, err := DecodeMessage(item)
		if err != nil {
			return nil, withKind(ErrCorruptedLog, "conversation log: list record "+strconv.Itoa(i)+" of "+s.key, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Len returns the number of stored messages.
func (s *Store) Len(ctx context.Context) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	n, err := s.backend.Len(ctx, s.key)
	if err != nil {
		return 0, errors.Wrap(err, "conversation log: len")
	}
	return n, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, s.key); err != nil {
		return errors.Wrap(err, "conversation log: clear")
	}
	log.Debug().Str("key", s.key).Msg("cleared conversation log")
	s.emit(ctx, LogEvent{Type: LogEventCleared})
	return nil
}

// Ping checks that the backing service is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return errors.Wrap(s.backend.Ping(ctx), "conversation log: ping")
}

// Close releases the backend. It succeeds once; later calls return ErrStoreClosed.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.Wrapf(ErrStoreClosed, "conversation log %s", s.key)
	}
	s.closed = true
	s.mu.Unlock()

	log.Debug().Str("key", s.key).Msg("closing conversation log")
	if err := s.backend.Close(); err != nil {
		return errors.Wrap(err, "conversation log: close")
	}
	return nil
}

func (s *Store) emit(ctx context.Context, ev LogEvent) {
	if s.sink == nil {
		return
	}
	ev.Key = s.key
	ev.ThreadID = s.threadID
	ev.KeyPrefix = s.keyPrefix
	ev.AtMs = s.now().UnixMilli()
	if err := s.sink.PublishLogEvent(ctx, ev); err != nil {
		log.Warn().Err(err).Str("key", s.key).Str("event", string(ev.Type)).Msg("failed to publish log event")
	}
}
