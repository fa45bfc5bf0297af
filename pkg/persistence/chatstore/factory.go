package chatstore

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Factory builds conversation logs that share one endpoint, key prefix and
// retention limit.
type Factory struct {
	Endpoint    string
	KeyPrefix   string
	MaxMessages *int
	Sink        LogEventSink
}

func (f Factory) storeOptions() []StoreOption {
	opts := []StoreOption{WithRetention(f.MaxMessages)}
	if strings.TrimSpace(f.KeyPrefix) != "" {
		opts = append(opts, WithKeyPrefix(f.KeyPrefix))
	}
	if f.Sink != nil {
		opts = append(opts, WithEventSink(f.Sink))
	}
	return opts
}

// NewStore opens a log bound to a fresh thread id. Extra options (for example
// WithThreadID) are applied after the factory defaults.
func (f Factory) NewStore(ctx context.Context, opts ...StoreOption) (*Store, error) {
	if strings.TrimSpace(f.Endpoint) == "" {
		return nil, errors.Wrap(ErrMissingConnectionInfo, "new store")
	}
	all := append(f.storeOptions(), opts...)
	s, err := Open(ctx, f.Endpoint, all...)
	if err != nil {
		return nil, errors.Wrap(err, "new store")
	}
	return s, nil
}

// AttachStore reattaches to the log described by state. The factory endpoint
// is used only when the state has none.
func (f Factory) AttachStore(ctx context.Context, state StoreState, opts ...RestoreOption) (*Store, error) {
	all := make([]RestoreOption, 0, len(opts)+2)
	if strings.TrimSpace(state.ConnectionEndpoint) == "" && strings.TrimSpace(f.Endpoint) != "" {
		all = append(all, WithConnectionEndpoint(f.Endpoint))
	}
	if f.Sink != nil {
		all = append(all, WithRestoreStoreOptions(WithEventSink(f.Sink)))
	}
	all = append(all, opts...)
	s, err := Restore(ctx, state, all...)
	if err != nil {
		return nil, errors.Wrap(err, "attach store")
	}
	return s, nil
}
