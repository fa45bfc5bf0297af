package chatstore

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// StoreState is the metadata needed to reattach to a conversation log. It
// never contains message content.
type StoreState struct {
	ThreadID           string `json:"thread_id" yaml:"thread_id"`
	KeyPrefix          string `json:"key_prefix" yaml:"key_prefix"`
	ConnectionEndpoint string `json:"connection_endpoint,omitempty" yaml:"connection_endpoint,omitempty"`
	MaxMessages        *int   `json:"max_messages,omitempty" yaml:"max_messages,omitempty"`
}

// Key returns the conversation key the state points at.
func (st StoreState) Key() string {
	prefix := st.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return ConversationKey(prefix, st.ThreadID)
}

// CaptureState reads only the store's own configuration.
func (s *Store) CaptureState() StoreState {
	return StoreState{
		ThreadID:           s.threadID,
		KeyPrefix:          s.keyPrefix,
		ConnectionEndpoint: s.endpoint,
		MaxMessages:        s.MaxMessages(),
	}
}

type restoreOptions struct {
	endpoint string
	extra    []StoreOption
}

// RestoreOption adjusts Restore.
type RestoreOption func(*restoreOptions)

// WithConnectionEndpoint overrides the endpoint recorded in the state, for
// example when the state was captured on another network.
func WithConnectionEndpoint(endpoint string) RestoreOption {
	return func(o *restoreOptions) { o.endpoint = endpoint }
}

// WithRestoreStoreOptions passes extra options (such as an event sink) to the restored store.
func WithRestoreStoreOptions(opts ...StoreOption) RestoreOption {
	return func(o *restoreOptions) { o.extra = append(o.extra, opts...) }
}

// Restore builds a new store bound to the same key as the one that produced
// state. It fails with ErrMissingConnectionInfo, before any I/O, when neither
// the state nor an override provides an endpoint.
func Restore(ctx context.Context, state StoreState, opts ...RestoreOption) (*Store, error) {
	o := restoreOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	endpoint := strings.TrimSpace(o.endpoint)
	if endpoint == "" {
		endpoint = strings.TrimSpace(state.ConnectionEndpoint)
	}
	if endpoint == "" {
		return nil, errors.Wrap(ErrMissingConnectionInfo, "restore")
	}
	if strings.TrimSpace(state.ThreadID) == "" {
		return nil, errors.Wrap(ErrInvalidConfig, "restore: state has no thread id")
	}
	storeOpts := []StoreOption{
		WithThreadID(state.ThreadID),
		WithRetention(state.MaxMessages),
	}
	if state.KeyPrefix != "" {
		storeOpts = append(storeOpts, WithKeyPrefix(state.KeyPrefix))
	}
	storeOpts = append(storeOpts, o.extra...)
	s, err := Open(ctx, endpoint, storeOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "restore")
	}
	return s, nil
}

// ThreadState is the blob a caller persists for a whole thread. Messages is
// always empty: the history lives only in the backing service.
type ThreadState struct {
	Messages      []Message  `json:"messages" yaml:"messages"`
	StoreMetadata StoreState `json:"store_metadata" yaml:"store_metadata"`
}

// ExportThreadState captures the thread-state blob for log.
func ExportThreadState(l ConversationLog) ThreadState {
	return ThreadState{
		Messages:      []Message{},
		StoreMetadata: l.CaptureState(),
	}
}

// MarshalThreadState renders a thread state as indented JSON.
func MarshalThreadState(ts ThreadState) ([]byte, error) {
	if ts.Messages == nil {
		ts.Messages = []Message{}
	}
	return json.MarshalIndent(ts, "", "  ")
}

// MarshalThreadStateYAML renders a thread state as YAML.
func MarshalThreadStateYAML(ts ThreadState) ([]byte, error) {
	if ts.Messages == nil {
		ts.Messages = []Message{}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(ts); err != nil {
		return nil, errors.Wrap(err, "marshal thread state yaml")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "marshal thread state yaml")
	}
	return buf.Bytes(), nil
}

// UnmarshalThreadState parses a JSON or YAML thread-state blob. Blobs that
// carry inline messages are rejected with ErrInlineMessages.
func UnmarshalThreadState(b []byte) (ThreadState, error) {
	var ts ThreadState
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &ts); err != nil {
			return ThreadState{}, errors.Wrap(err, "unmarshal thread state")
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &ts); err != nil {
			return ThreadState{}, errors.Wrap(err, "unmarshal thread state yaml")
		}
	}
	if len(ts.Messages) > 0 {
		return ThreadState{}, errors.Wrapf(ErrInlineMessages, "unmarshal thread state: %d messages", len(ts.Messages))
	}
	if strings.TrimSpace(ts.StoreMetadata.ThreadID) == "" {
		return ThreadState{}, errors.Wrap(ErrInvalidConfig, "unmarshal thread state: store_metadata.thread_id is empty")
	}
	ts.Messages = []Message{}
	return ts, nil
}

// ImportThreadState reattaches to the log described by a thread-state blob.
func ImportThreadState(ctx context.Context, b []byte, opts ...RestoreOption) (*Store, error) {
	ts, err := UnmarshalThreadState(b)
	if err != nil {
		return nil, err
	}
	return Restore(ctx, ts.StoreMetadata, opts...)
}
