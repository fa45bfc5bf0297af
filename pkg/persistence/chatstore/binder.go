package chatstore

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Binder owns the conversation log a caller is currently using and hands it
// over when the caller moves to another thread.
//
// A handover constructs and pings the new log first and closes the previous
// one only afterwards, so a failed switch leaves the caller on its old log.
type Binder struct {
	factory Factory

	mu      sync.Mutex
	current *Store
}

func NewBinder(factory Factory) *Binder {
	return &Binder{factory: factory}
}

// Current returns the bound log, or nil before the first Start/Switch.
func (b *Binder) Current() *Store {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// StartNew binds a log on a fresh thread.
func (b *Binder) StartNew(ctx context.Context, opts ...StoreOption) (*Store, error) {
	return b.handover(ctx, func(ctx context.Context) (*Store, error) {
		return b.factory.NewStore(ctx, opts...)
	})
}

// Switch binds the log described by state.
func (b *Binder) Switch(ctx context.Context, state StoreState, opts ...RestoreOption) (*Store, error) {
	return b.handover(ctx, func(ctx context.Context) (*Store, error) {
		return b.factory.AttachStore(ctx, state, opts...)
	})
}

func (b *Binder) handover(ctx context.Context, build func(context.Context) (*Store, error)) (*Store, error) {
	next, err := build(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "binder: construct next log")
	}
	if err := next.Ping(ctx); err != nil {
		_ = next.Close()
		return nil, errors.Wrap(err, "binder: next log unusable")
	}

	b.mu.Lock()
	prev := b.current
	b.current = next
	b.mu.Unlock()

	if prev != nil && prev != next {
		if err := prev.Close(); err != nil && !errors.Is(err, ErrStoreClosed) {
			log.Warn().Err(err).Str("key", prev.Key()).Msg("failed to close previous conversation log")
		}
	}
	log.Debug().Str("key", next.Key()).Msg("bound conversation log")
	return next, nil
}

// Close closes the bound log, if any. The binder can be reused afterwards.
func (b *Binder) Close() error {
	b.mu.Lock()
	cur := b.current
	b.current = nil
	b.mu.Unlock()
	if cur == nil {
		return nil
	}
	return cur.Close()
}
